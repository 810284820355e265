package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Kind     string // optional - filter to one entity kind
	ID       string // optional - filter to one entity id
	Status   string // optional - ok, failed or skipped
	Limit    int    // most recent N passes; 0 means all
}

// TraceEvent is one journaled event in the trace output.
type TraceEvent struct {
	Bus  string       `json:"bus"`
	Name string       `json:"name"`
	Args payload.List `json:"args"`
}

// TracePass is one journaled pass in the trace output.
type TracePass struct {
	ID          string       `json:"id"`
	Seq         int64        `json:"seq"`
	Trigger     string       `json:"trigger"`
	Kind        string       `json:"kind"`
	EntityID    string       `json:"entity_id"`
	Status      string       `json:"status"`
	Error       string       `json:"error,omitempty"`
	Differences []string     `json:"differences"`
	StartedAt   time.Time    `json:"started_at"`
	DurationUS  int64        `json:"duration_us"`
	Events      []TraceEvent `json:"events"`
}

// TraceStats holds summary counts for the trace.
type TraceStats struct {
	Passes  int `json:"passes"`
	OK      int `json:"ok"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Events  int `json:"events"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Passes []TracePass `json:"passes"`
	Stats  TraceStats  `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect journaled reconciliation passes",
		Long: `List the reconciliation passes recorded in a journal database.

Each pass shows what triggered it, the entity it refreshed, its outcome and
the fields that changed. With --verbose the emitted events are listed too.

Examples:
  wechaty trace --db ./wechaty.db
  wechaty trace --db ./wechaty.db --kind contact --id c1
  wechaty trace --db ./wechaty.db --status failed --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter to an entity kind")
	cmd.Flags().StringVar(&opts.ID, "id", "", "filter to an entity id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (ok|failed|skipped)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show only the most recent N passes")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	filter, err := traceFilter(opts)
	if err != nil {
		return err
	}

	// Opening would create an empty journal.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	records, err := st.ReadPasses(ctx, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read passes", err)
	}

	result := TraceResult{Passes: make([]TracePass, 0, len(records))}
	for _, rec := range records {
		events, err := st.ReadEvents(ctx, rec.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read events for pass %s", rec.ID), err)
		}
		rec.Events = events
		result.Passes = append(result.Passes, toTracePass(rec))
		result.Stats.add(rec)
	}

	f := newFormatter(cmd, opts.RootOptions)
	if f.JSON() {
		return f.Success(result)
	}
	outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
	return nil
}

func traceFilter(opts *TraceOptions) (store.Filter, error) {
	if opts.Limit < 0 {
		return store.Filter{}, NewExitError(ExitCommandError, "--limit must not be negative")
	}
	f := store.Filter{EntityID: opts.ID, Limit: opts.Limit}

	if opts.Kind != "" {
		kind, err := payload.ParseKind(opts.Kind)
		if err != nil || !kind.Known() {
			return store.Filter{}, NewExitError(ExitCommandError, fmt.Sprintf("unknown kind %q", opts.Kind))
		}
		f.Kind = kind
	}

	switch status := store.PassStatus(opts.Status); status {
	case "", store.StatusOK, store.StatusFailed, store.StatusSkipped:
		f.Status = status
	default:
		return store.Filter{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q: must be ok, failed or skipped", opts.Status))
	}
	return f, nil
}

func toTracePass(rec store.PassRecord) TracePass {
	p := TracePass{
		ID:          rec.ID,
		Seq:         rec.Seq,
		Trigger:     rec.Trigger,
		Kind:        rec.Kind.String(),
		EntityID:    rec.EntityID,
		Status:      string(rec.Status),
		Error:       rec.Error,
		Differences: append([]string{}, rec.ChangedKeys...),
		StartedAt:   rec.StartedAt.UTC(),
		DurationUS:  rec.Duration.Microseconds(),
		Events:      make([]TraceEvent, 0, len(rec.Events)),
	}
	for _, ev := range rec.Events {
		p.Events = append(p.Events, TraceEvent{Bus: string(ev.Bus), Name: ev.Name, Args: ev.Args})
	}
	return p
}

func (s *TraceStats) add(rec store.PassRecord) {
	s.Passes++
	s.Events += len(rec.Events)
	switch rec.Status {
	case store.StatusOK:
		s.OK++
	case store.StatusFailed:
		s.Failed++
	case store.StatusSkipped:
		s.Skipped++
	}
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	if len(result.Passes) == 0 {
		fmt.Fprintln(w, "No passes found.")
		return
	}

	for _, p := range result.Passes {
		fmt.Fprintf(w, "[%d] %s %s %s %s: %s", p.Seq, p.StartedAt.Format(time.RFC3339), p.Trigger, p.Kind, p.EntityID, p.Status)
		if len(p.Differences) > 0 {
			fmt.Fprintf(w, " %v", p.Differences)
		}
		fmt.Fprintln(w)
		if p.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", p.Error)
		}
		if verbose {
			for _, ev := range p.Events {
				fmt.Fprintf(w, "    %s %s %s\n", ev.Bus, ev.Name, payload.Canonical(ev.Args))
			}
		}
	}

	s := result.Stats
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d passes (%d ok, %d failed, %d skipped), %d events\n", s.Passes, s.OK, s.Failed, s.Skipped, s.Events)
}
