package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/juzibot/wechaty/internal/bus"
	"github.com/juzibot/wechaty/internal/clock"
	"github.com/juzibot/wechaty/internal/config"
	"github.com/juzibot/wechaty/internal/entity"
	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/policy"
	"github.com/juzibot/wechaty/internal/puppet"
	"github.com/juzibot/wechaty/internal/reconcile"
	"github.com/juzibot/wechaty/internal/store"
)

const (
	redisPingTimeout = 3 * time.Second
	shutdownTimeout  = 5 * time.Second
	drainTimeout     = 30 * time.Second
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	Database   string // overrides the configured journal path
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the reconciler against a Redis backend",
		Long: `Start the reconciliation loop.

Dirty signals are read from a Redis pub/sub channel and payloads from Redis
keys. Every refreshed entity is diffed against its cached payload and the
changes are emitted as events. Passes are journaled to SQLite when a
database is configured.

Environment:
  WECHATY_PUPPET_PAYLOAD_SYNC_GAP        wait between convergence polls (ms or duration)
  WECHATY_PUPPET_PAYLOAD_SYNC_MAX_RETRY  convergence polls before giving up

Examples:
  wechaty run
  wechaty run --config ./wechaty.yaml
  wechaty run --config ./wechaty.yaml --db ./wechaty.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconciler(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (overrides config)")

	return cmd
}

func runReconciler(opts *RunOptions, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, redisPingTimeout)
	err = client.Ping(pingCtx).Err()
	pingCancel()
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to reach redis at %s", cfg.Redis.Addr), err)
	}
	logger.Info("redis connected", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)

	backend := puppet.NewRedis(client, puppet.RedisOptions{
		Channel:   cfg.Redis.Channel,
		KeyPrefix: cfg.Redis.KeyPrefix,
		Logger:    logger.With("component", "puppet.redis"),
	})

	poolOpts := []entity.PoolOption{
		entity.WithRetryPolicy(cfg.RetryPolicy()),
		entity.WithPoolLogger(logger.With("component", "entity.pool")),
	}
	if lim := cfg.Limiter(); lim != nil {
		poolOpts = append(poolOpts, entity.WithRateLimit(lim))
	}
	pool := entity.NewPool(backend, poolOpts...)

	reconcileLogger := logger.With("component", "reconcile")
	orchOpts := []reconcile.Option{
		reconcile.WithLogger(reconcileLogger),
		reconcile.WithSyncGap(cfg.Sync.Gap),
		reconcile.WithSyncMaxRetry(cfg.Sync.MaxRetry),
		reconcile.WithResolveConcurrency(cfg.Resolve.Concurrency),
		reconcile.WithMaxInFlight(cfg.Reconcile.MaxInFlight),
		reconcile.WithErrorReporter(func(err error) {
			reconcileLogger.Error("reconcile error", "code", reconcile.CodeOf(err), "error", err)
		}),
	}
	if cfg.Reconcile.SerializePasses {
		orchOpts = append(orchOpts, reconcile.WithSerializedPasses())
	}

	if cfg.Policy != "" {
		p, err := policy.Load(cfg.Policy)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load policy", err)
		}
		orchOpts = append(orchOpts, reconcile.WithClassifier(p.Classifier()))
		logger.Info("policy loaded", "path", cfg.Policy)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	orchOpts = append(orchOpts, reconcile.WithMetrics(reconcile.NewMetrics(reg)))
	if cfg.Metrics.Addr != "" {
		srv := newMetricsServer(cfg.Metrics.Addr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
		defer shutdownWithTimeout(logger, "metrics server", srv.Shutdown)
		logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
	}

	tracer, shutdownTracing, err := setupTracing(ctx, cfg.Tracing)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}
	defer shutdownWithTimeout(logger, "tracing", shutdownTracing)
	orchOpts = append(orchOpts, reconcile.WithTracer(tracer))

	if cfg.Database != "" {
		st, err := store.Open(cfg.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		last, err := st.LastSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		orchOpts = append(orchOpts, reconcile.WithJournal(st), reconcile.WithSeq(clock.NewSeqAt(last)))
		logger.Info("journal ready", "path", cfg.Database, "last_seq", last)
	}

	global := bus.New()
	global.On(reconcile.EventDirty, func(args ...any) {
		logger.Debug("entity reconciled", "args", payload.Canonical(reconcile.DescribeArgs(args)))
	})
	orch := reconcile.New(pool, global, orchOpts...)

	// Intake stops on the first signal; Run keeps ctx alive while the queue
	// drains.
	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go handleSignals(ctx, sigChan, func() {
		stopListening()
		orch.Stop()
	}, cancel, drainTimeout, logger)

	go func() {
		if err := orch.Listen(listenCtx, backend); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("listener stopped", "error", err)
		}
		// Drain what was queued, then let Run return.
		orch.Stop()
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "Reconciler started. Listening for dirty signals...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "reconciler error", err)
	}

	logger.Info("reconciler stopped gracefully")
	return nil
}

// handleSignals calls stop on the first signal so queued passes drain. A
// second signal, or a drain that outlasts timeout, cancels ctx and aborts
// the passes still in flight.
func handleSignals(ctx context.Context, sigs <-chan os.Signal, stop func(), cancel context.CancelFunc, timeout time.Duration, logger *slog.Logger) {
	select {
	case sig := <-sigs:
		logger.Info("received signal, draining queued passes", "signal", sig)
		stop()
	case <-ctx.Done():
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case sig := <-sigs:
		logger.Warn("received second signal, aborting", "signal", sig)
	case <-timer.C:
		logger.Warn("drain timed out, aborting", "timeout", timeout)
	case <-ctx.Done():
		return
	}
	cancel()
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return config.Config{}, err
		}
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func shutdownWithTimeout(logger *slog.Logger, what string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "component", what, "error", err)
	}
}
