package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cordage-io/cordage/internal/deploy"
	"github.com/cordage-io/cordage/internal/engine"
	"github.com/cordage-io/cordage/internal/graph"
	"github.com/cordage-io/cordage/internal/model"
)

// PlanInstance is one row of the planned instance pool.
type PlanInstance struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Model     string `json:"model"`
	Host      string `json:"host,omitempty"`
	Composite bool   `json:"composite,omitempty"`
}

// PlanLaunch is one deployment the plan would start.
type PlanLaunch struct {
	Deployment string   `json:"deployment"`
	Host       string   `json:"host"`
	Instances  []uint64 `json:"instances"`
}

// PlanConnection is one dataflow pair the plan would establish.
type PlanConnection struct {
	Src    string `json:"src"`
	Sink   string `json:"sink"`
	Policy string `json:"policy"`
}

// PlanResult holds the outcome of one dry-run resolve.
type PlanResult struct {
	Instances   []PlanInstance   `json:"instances"`
	Launches    []PlanLaunch     `json:"launches"`
	Connections []PlanConnection `json:"connections"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <stack-dir>",
		Short: "Resolve a stack once and print the resulting change-set",
		Long: `Run one resolve cycle against a simulated transport and print what it
would do: the instance pool after merging, the deployments to launch,
and the connections to establish with their derived policies.

Nothing outside the process is touched; the command is a dry run of the
same pipeline the resident engine executes.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runPlan(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	stack, err := LoadStack(dir)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	if len(stack.Requirements) == 0 {
		_ = formatter.Error(ErrCodeNoProfile, "stack has no profile; nothing to plan", nil)
		return NewExitError(ExitCommandError, "stack has no profile; nothing to plan")
	}

	formatter.VerboseLog("Loaded %d CUE file(s), %d requirement(s)", stack.FileCount, len(stack.Requirements))

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	sim := deploy.NewSimTransport()
	eng := engine.New(stack.Catalog, sim, engine.WithLogger(logger))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	eng.Enqueue(engine.RequirementsEvent(stack.Requirements))
	eng.Enqueue(engine.TickEvent())
	if err := eng.Drain(ctx); err != nil {
		_ = formatter.Error(resolveErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "resolve failed", err)
	}

	result := buildPlanResult(eng)

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return outputPlanText(cmd.OutOrStdout(), result)
}

// resolveErrorCode maps resolve failures to CLI error codes. Specification
// errors keep their own codes so scripted callers can tell a missing model
// from a bad bus reference.
func resolveErrorCode(err error) string {
	var se *engine.SpecificationError
	if errors.As(err, &se) {
		return string(se.Code)
	}
	if engine.IsAllocationError(err) {
		return "unresolved"
	}
	return ErrCodeResolve
}

// buildPlanResult reads the resolved world out of the engine. The
// connection list is recomputed from the reconciler so it reflects exactly
// the diff a resident engine would push next.
func buildPlanResult(eng *engine.Engine) PlanResult {
	var result PlanResult

	pool := eng.Pool()
	for _, id := range pool.IDs() {
		in, ok := pool.Instance(id)
		if !ok {
			continue
		}
		result.Instances = append(result.Instances, PlanInstance{
			ID:        uint64(in.ID),
			Name:      in.Name,
			Model:     in.Model,
			Host:      in.Host,
			Composite: in.Composite,
		})
	}

	for _, dep := range eng.Manager().Deployments() {
		launch := PlanLaunch{Deployment: dep.Name, Host: dep.Host}
		for _, id := range dep.Instances {
			launch.Instances = append(launch.Instances, uint64(id))
		}
		sort.Slice(launch.Instances, func(i, j int) bool { return launch.Instances[i] < launch.Instances[j] })
		result.Launches = append(result.Launches, launch)
	}

	changes, _ := eng.Reconciler().ComputeChanges(pool, pool.IDs())
	type pendingPair struct {
		key    graph.EdgeKey
		pair   graph.PortPair
		policy model.Policy
	}
	var pairs []pendingPair
	for key, mapping := range changes.New {
		for pair, policy := range mapping {
			pairs = append(pairs, pendingPair{key, pair, policy})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.key.Src != b.key.Src {
			return a.key.Src < b.key.Src
		}
		if a.key.Sink != b.key.Sink {
			return a.key.Sink < b.key.Sink
		}
		if a.pair.SrcPort != b.pair.SrcPort {
			return a.pair.SrcPort < b.pair.SrcPort
		}
		return a.pair.SinkPort < b.pair.SinkPort
	})
	for _, p := range pairs {
		result.Connections = append(result.Connections, PlanConnection{
			Src:    fmt.Sprintf("%d.%s", p.key.Src, p.pair.SrcPort),
			Sink:   fmt.Sprintf("%d.%s", p.key.Sink, p.pair.SinkPort),
			Policy: p.policy.String(),
		})
	}

	return result
}

// outputPlanText renders the plan for humans.
func outputPlanText(w io.Writer, result PlanResult) error {
	fmt.Fprintln(w, "Instances:")
	if len(result.Instances) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, in := range result.Instances {
		switch {
		case in.Composite:
			fmt.Fprintf(w, "  [%d] %s  model=%s  (composite)\n", in.ID, in.Name, in.Model)
		case in.Host != "":
			fmt.Fprintf(w, "  [%d] %s  model=%s  host=%s\n", in.ID, in.Name, in.Model, in.Host)
		default:
			fmt.Fprintf(w, "  [%d] %s  model=%s\n", in.ID, in.Name, in.Model)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Launches:")
	if len(result.Launches) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, l := range result.Launches {
		fmt.Fprintf(w, "  %s on %s: instances %v\n", l.Deployment, l.Host, l.Instances)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Connections:")
	if len(result.Connections) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, c := range result.Connections {
		fmt.Fprintf(w, "  %s -> %s  %s\n", c.Src, c.Sink, c.Policy)
	}

	return nil
}
