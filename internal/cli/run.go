package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cordage-io/cordage/internal/deploy"
	"github.com/cordage-io/cordage/internal/engine"
	"github.com/cordage-io/cordage/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Tick     time.Duration

	// TokenGenerator overrides the cycle token source (for testing).
	// If nil, defaults to UUIDv7Generator.
	TokenGenerator engine.TokenGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <stack-dir>",
		Short: "Run the resident control loop",
		Long: `Run the resolve loop against a simulated transport.

The engine loads the catalog and profile from the stack directory, opens
the SQLite journal (creating it if missing), warm-starts from any prior
journal contents, and then resolves on every tick until interrupted.

Example:
  cordage run --db ./cordage.db ./stack
  cordage run --db /tmp/demo.db ./stack --tick 100ms --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().DurationVar(&opts.Tick, "tick", 200*time.Millisecond, "resolve tick interval")

	return cmd
}

func runEngine(opts *RunOptions, dir string, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("loading stack", "dir", dir)
	stack, err := LoadStack(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load stack", err)
	}
	if len(stack.Requirements) == 0 {
		return NewExitError(ExitCommandError, "stack has no profile; nothing to run")
	}
	slog.Info("stack loaded",
		"models", len(stack.Catalog.ModelNames()),
		"deployments", len(stack.Catalog.DeploymentNames()),
		"requirements", len(stack.Requirements))

	slog.Info("opening journal", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing journal", "error", closeErr)
		}
	}()

	sim := deploy.NewSimTransport()
	engOpts := []engine.Option{engine.WithLogger(logger), engine.WithStore(st)}
	if opts.TokenGenerator != nil {
		engOpts = append(engOpts, engine.WithTokenGenerator(opts.TokenGenerator))
	}
	eng := engine.New(stack.Catalog, sim, engOpts...)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if err := eng.WarmStart(ctx); err != nil {
		return WrapExitError(ExitCommandError, "warm start failed", err)
	}
	// The simulated transport boots empty every time, so replay the
	// journaled pairs into it; otherwise the adopted Actual graph would
	// describe connections the transport does not have.
	records, err := st.ListConnections(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journaled connections", err)
	}
	for _, rec := range records {
		sim.SeedConnection(rec.Src, rec.Sink, rec.Policy)
	}

	eng.Enqueue(engine.RequirementsEvent(stack.Requirements))

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	// Pump: steps the simulated transport and feeds its observations back
	// into the event queue, then fires the resolve tick.
	go func() {
		ticker := time.NewTicker(opts.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sim.Step()
				if started := sim.DrainStarted(); len(started) > 0 {
					slog.Debug("deployments started", "count", len(started))
				}
				for _, id := range sim.DrainStopped() {
					eng.Enqueue(engine.StopEvent(id))
				}
				eng.Enqueue(engine.TickEvent())
			}
		}
	}()

	slog.Info("engine starting", "db", opts.Database, "stack", dir, "tick", opts.Tick)
	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Press Ctrl-C to stop.")

	err = eng.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("engine stopped gracefully")
	return nil
}
