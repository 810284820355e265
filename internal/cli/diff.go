package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/juzibot/wechaty/internal/classify"
	"github.com/juzibot/wechaty/internal/diff"
	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/policy"
)

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	Kind   string // classify against this entity kind
	Policy string // CUE policy overriding the built-in important fields
}

// DiffEntry is one changed field.
type DiffEntry struct {
	diff.FieldDifference
	// Class is "important" or "regular"; empty without --kind.
	Class string `json:"class,omitempty"`
}

// DiffResult is the output of the diff command.
type DiffResult struct {
	Kind        string      `json:"kind,omitempty"`
	Differences []DiffEntry `json:"differences"`
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff <old.json> <new.json>",
		Short: "Diff two payload snapshots",
		Long: `Compare two JSON payload snapshots field by field.

Composite values (lists, objects) are compared structurally and reported in
canonical JSON form. With --kind, every difference is also classified as
important (handled by a dedicated field handler) or regular (folded into a
single update event).

Examples:
  wechaty diff old.json new.json
  wechaty diff old.json new.json --kind contact
  wechaty diff old.json new.json --kind contact --policy policy.cue --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "entity kind used to classify differences")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "CUE policy file (requires --kind)")

	return cmd
}

func runDiff(opts *DiffOptions, oldPath, newPath string, cmd *cobra.Command) error {
	if opts.Policy != "" && opts.Kind == "" {
		return NewExitError(ExitCommandError, "--policy requires --kind")
	}

	oldSnap, err := readSnapshot(oldPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read old snapshot", err)
	}
	newSnap, err := readSnapshot(newPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read new snapshot", err)
	}

	var (
		kind       payload.Kind
		classifier *classify.Classifier
	)
	if opts.Kind != "" {
		kind, err = payload.ParseKind(opts.Kind)
		if err != nil || !kind.Known() {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown kind %q", opts.Kind))
		}
		classifier = classify.New(nil)
		if opts.Policy != "" {
			p, err := policy.Load(opts.Policy)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load policy", err)
			}
			classifier = p.Classifier()
		}
	}

	result := DiffResult{Differences: []DiffEntry{}}
	if classifier != nil {
		result.Kind = kind.String()
	}
	for _, d := range diff.Diff(oldSnap, newSnap) {
		entry := DiffEntry{FieldDifference: d}
		if classifier != nil {
			entry.Class = "regular"
			if classifier.IsImportant(kind, d.Key) {
				entry.Class = "important"
			}
		}
		result.Differences = append(result.Differences, entry)
	}

	f := newFormatter(cmd, opts.RootOptions)
	if f.JSON() {
		return f.Success(result)
	}
	return outputDiffText(cmd, result)
}

func readSnapshot(path string) (payload.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return payload.Parse(data)
}

func outputDiffText(cmd *cobra.Command, result DiffResult) error {
	w := cmd.OutOrStdout()
	if len(result.Differences) == 0 {
		fmt.Fprintln(w, "No differences.")
		return nil
	}

	for _, d := range result.Differences {
		line := fmt.Sprintf("%s %s: %s -> %s", diffMarker(d.FieldDifference), d.Key, describeValue(d.OldValue), describeValue(d.NewValue))
		if d.Class != "" {
			line += " [" + d.Class + "]"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

// diffMarker is "+" for an added field, "-" for a removed one and "~"
// otherwise.
func diffMarker(d diff.FieldDifference) string {
	switch {
	case d.OldValue == nil:
		return "+"
	case d.NewValue == nil:
		return "-"
	default:
		return "~"
	}
}

func describeValue(v payload.Value) string {
	if v == nil {
		return "(undefined)"
	}
	return payload.Canonical(v)
}
