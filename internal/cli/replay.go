package cli

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/juzibot/wechaty/internal/harness"
	"github.com/juzibot/wechaty/internal/payload"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string // journal path; only valid with a single scenario
	Filter   string // glob over scenario file names
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name     string                  `json:"name"`
	File     string                  `json:"file"`
	Pass     bool                    `json:"pass"`
	Errors   []string                `json:"errors,omitempty"`
	Passes   []harness.PassTrace     `json:"passes"`
	Reported []harness.ReportedError `json:"reported"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml|dir>...",
		Short: "Replay reconciliation scenarios",
		Long: `Run scenario files against an in-memory backend and check their assertions.

Each scenario seeds the backend and the entity cache, then replays dirty
signals and tag events through the reconciler on a fake clock. The emitted
events are printed per pass; with --db the passes are also journaled.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, unreadable scenario, etc.)

Examples:
  wechaty replay ./scenarios
  wechaty replay ./scenarios --filter "tag_*"
  wechaty replay rename.yaml --db ./journal.db --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "journal passes to this SQLite database")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runReplay(opts *ReplayOptions, paths []string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	var files []string
	for _, p := range paths {
		found, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		files = append(files, found...)
	}

	if opts.Database != "" && len(files) > 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--db needs exactly one scenario, got %d", len(files)))
	}

	result := ReplayResult{Scenarios: []ScenarioResult{}, Total: len(files)}
	if len(files) == 0 {
		if f.JSON() {
			return f.Success(result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	var runOpts []harness.Option
	if opts.Database != "" {
		runOpts = append(runOpts, harness.WithDatabase(opts.Database))
	}
	if opts.Verbose {
		runOpts = append(runOpts, harness.WithLogger(newLogger(f.GetErrWriter(), true)))
	}

	for _, file := range files {
		f.VerboseLog("replaying %s", file)

		s, err := harness.LoadScenario(file)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to load scenario %s", file), err)
		}
		res, err := harness.Run(s, runOpts...)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to run scenario %s", s.Name), err)
		}

		result.Scenarios = append(result.Scenarios, ScenarioResult{
			Name:     s.Name,
			File:     file,
			Pass:     res.Pass,
			Errors:   res.Errors,
			Passes:   res.Passes,
			Reported: res.Reported,
		})
		if res.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if result.Failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_SCENARIO", Message: fmt.Sprintf("%d scenario(s) failed", result.Failed)}
		}
		if err := f.Respond(resp); err != nil {
			return err
		}
	} else {
		outputReplayText(cmd.OutOrStdout(), result, opts.Verbose)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// findScenarioFiles returns path itself when it is a file, or every YAML
// file below it, sorted, when it is a directory. filter applies to base
// names in both cases.
func findScenarioFiles(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var files []string
	if !info.IsDir() {
		files = []string{path}
	} else {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if ext := filepath.Ext(p); ext == ".yaml" || ext == ".yml" {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		slices.Sort(files)
	}

	if filter == "" {
		return files, nil
	}
	var matched []string
	for _, file := range files {
		ok, err := filepath.Match(filter, filepath.Base(file))
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		if ok {
			matched = append(matched, file)
		}
	}
	return matched, nil
}

func outputReplayText(w io.Writer, result ReplayResult, verbose bool) {
	for _, s := range result.Scenarios {
		status := "\u2713"
		if !s.Pass {
			status = "\u2717"
		}
		fmt.Fprintf(w, "%s %s (%d passes)\n", status, s.Name, len(s.Passes))

		if verbose || !s.Pass {
			writePasses(w, s.Passes)
			for _, r := range s.Reported {
				fmt.Fprintf(w, "    reported %s: %s\n", r.Code, r.Message)
			}
		}
		for _, e := range s.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
}

func writePasses(w io.Writer, passes []harness.PassTrace) {
	for _, p := range passes {
		fmt.Fprintf(w, "    [%d] %s %s %s: %s\n", p.Seq, p.Trigger, p.Kind, p.ID, p.Status)
		for _, ev := range p.Events {
			fmt.Fprintf(w, "        %s %s %s\n", ev.Bus, ev.Name, payload.Canonical(ev.Args))
		}
		if p.Error != "" {
			fmt.Fprintf(w, "        error: %s\n", p.Error)
		}
	}
}
