package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cordage-io/cordage/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Cycle    string // optional - one resolve cycle
}

// TraceEntry is one journaled event in the timeline.
type TraceEntry struct {
	Seq    int64           `json:"seq"`
	Stage  string          `json:"stage"`
	Event  string          `json:"event"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// CycleSummary is one resolve cycle in the journal overview.
type CycleSummary struct {
	Token   string `json:"token"`
	Events  int    `json:"events"`
	Outcome string `json:"outcome,omitempty"`
}

// TraceResult holds the trace output: either the cycle overview, or one
// cycle's full timeline with its digest.
type TraceResult struct {
	Cycles []CycleSummary `json:"cycles,omitempty"`
	Cycle  string         `json:"cycle,omitempty"`
	Events []TraceEntry   `json:"events,omitempty"`
	Digest string         `json:"digest,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect the resolve journal",
		Long: `Inspect the resolve journal in a SQLite database.

Without --cycle, lists every journaled resolve cycle with its event
count and final outcome. With --cycle, prints that cycle's full stage
timeline and the canonical trace digest, which two journals recording
the same cycle agree on byte for byte.

Examples:
  cordage trace --db ./cordage.db
  cordage trace --db ./cordage.db --cycle 018f3c6a
  cordage trace --db ./cordage.db --cycle 018f3c6a --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Cycle, "cycle", "", "cycle token to trace")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	if opts.Cycle == "" {
		return traceOverview(ctx, opts, st, cmd)
	}
	return traceCycle(ctx, opts, st, cmd)
}

// traceOverview lists every journaled cycle in first-seq order.
func traceOverview(ctx context.Context, opts *TraceOptions, st *store.Store, cmd *cobra.Command) error {
	tokens, err := st.CycleTokens(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list cycles", err)
	}

	result := TraceResult{Cycles: []CycleSummary{}}
	for _, token := range tokens {
		events, err := st.ReadTrace(ctx, store.TraceQuery{CycleToken: token})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read trace", err)
		}
		result.Cycles = append(result.Cycles, CycleSummary{
			Token:   token,
			Events:  len(events),
			Outcome: cycleOutcome(events),
		})
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}

	w := cmd.OutOrStdout()
	if len(result.Cycles) == 0 {
		fmt.Fprintln(w, "No cycles journaled.")
		return nil
	}
	fmt.Fprintf(w, "%d cycle(s) journaled:\n", len(result.Cycles))
	for _, c := range result.Cycles {
		fmt.Fprintf(w, "  %s  events=%d  outcome=%s\n", c.Token, c.Events, c.Outcome)
	}
	return nil
}

// traceCycle prints one cycle's timeline and digest.
func traceCycle(ctx context.Context, opts *TraceOptions, st *store.Store, cmd *cobra.Command) error {
	events, err := st.ReadTrace(ctx, store.TraceQuery{CycleToken: opts.Cycle})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}

	if len(events) == 0 {
		if opts.Format == "json" {
			return outputTraceJSON(cmd, TraceResult{Cycle: opts.Cycle, Events: []TraceEntry{}})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "No events found for cycle: %s\n", opts.Cycle)
		return nil
	}

	digest, err := st.TraceDigest(ctx, opts.Cycle)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compute digest", err)
	}

	result := TraceResult{
		Cycle:  opts.Cycle,
		Events: make([]TraceEntry, 0, len(events)),
		Digest: digest,
	}
	for _, e := range events {
		entry := TraceEntry{Seq: e.Seq, Stage: e.Stage, Event: e.Event}
		if e.Detail != "" {
			entry.Detail = json.RawMessage(e.Detail)
		}
		result.Events = append(result.Events, entry)
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

// cycleOutcome extracts the terminal event of a cycle, preferring the apply
// outcome over lifecycle markers.
func cycleOutcome(events []store.Event) string {
	outcome := ""
	for _, e := range events {
		switch e.Stage {
		case "apply":
			outcome = e.Event
		case "cycle":
			if e.Event != "started" && outcome == "" {
				outcome = e.Event
			}
		}
	}
	if outcome == "" {
		return "incomplete"
	}
	return outcome
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs one cycle's timeline as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintf(w, "Trace for cycle: %s\n", result.Cycle)
	fmt.Fprintln(w)

	for _, e := range result.Events {
		fmt.Fprintf(w, "  [%d] %s/%s\n", e.Seq, e.Stage, e.Event)
		if verbose && len(e.Detail) > 0 {
			fmt.Fprintf(w, "       detail: %s\n", string(e.Detail))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Events: %d\n", len(result.Events))
	fmt.Fprintf(w, "Digest: %s\n", result.Digest)
	return nil
}
