package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/psantana5/fold-orchestrator/pkg/api"
	"github.com/psantana5/fold-orchestrator/pkg/artifacts"
	"github.com/psantana5/fold-orchestrator/pkg/auth"
	"github.com/psantana5/fold-orchestrator/pkg/cleanup"
	"github.com/psantana5/fold-orchestrator/pkg/config"
	"github.com/psantana5/fold-orchestrator/pkg/credibility"
	"github.com/psantana5/fold-orchestrator/pkg/directory"
	"github.com/psantana5/fold-orchestrator/pkg/engine"
	"github.com/psantana5/fold-orchestrator/pkg/evaluate"
	"github.com/psantana5/fold-orchestrator/pkg/logging"
	"github.com/psantana5/fold-orchestrator/pkg/metrics"
	"github.com/psantana5/fold-orchestrator/pkg/middleware"
	"github.com/psantana5/fold-orchestrator/pkg/organic"
	"github.com/psantana5/fold-orchestrator/pkg/ratelimit"
	"github.com/psantana5/fold-orchestrator/pkg/reward"
	"github.com/psantana5/fold-orchestrator/pkg/scheduler"
	"github.com/psantana5/fold-orchestrator/pkg/shutdown"
	"github.com/psantana5/fold-orchestrator/pkg/store"
	tlsutil "github.com/psantana5/fold-orchestrator/pkg/tls"
	"github.com/psantana5/fold-orchestrator/pkg/tracing"
)

const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the validator",
	Long: `Start the scheduler loops, the inspection API and, when organic.enabled is
set, the organic intake process.

The process exits with status 3 when no job was created within
scheduler.liveness_window so that the process manager restarts it.`,
	RunE: runValidator,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runValidator(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, "validator")
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	tp, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	logger.Info("Opening job store", map[string]interface{}{"type": cfg.Store.Type})
	st, err := store.NewStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	blobs, err := artifacts.NewStore(ctx, cfg.Artifacts)
	if err != nil {
		st.Close()
		return fmt.Errorf("failed to open artifact store: %w", err)
	}

	eng := engine.NewHTTPEngine(cfg.Engine)
	cred := credibility.NewRegistry(cfg.Credibility)
	scores := reward.NewScores(cfg.Reward.Alpha)
	m := metrics.New()

	deps := scheduler.Deps{
		Store:       st,
		Directory:   directory.NewHTTPDirectory(cfg.Directory, logger.WithField("component", "directory")),
		Engine:      eng,
		Artifacts:   blobs,
		Pipeline:    evaluate.NewPipeline(cfg.Evaluate, evaluate.NewDefaultRegistry(eng, blobs), cred, nil, logger.WithField("component", "evaluate")),
		Calculator:  reward.NewCalculator(reward.NewDefaultRegistry(cfg.Reward), reward.HistoryPolicy{Threshold: cfg.Reward.HistoryThreshold}),
		Credibility: cred,
		Scores:      scores,
		Metrics:     m,
		Tracing:     tp,
		Logger:      logger.WithField("component", "scheduler"),
	}

	var supervisor *organic.Supervisor
	if cfg.Organic.Enabled {
		supervisor = startOrganic(ctx, cfg, logger)
		if supervisor != nil {
			deps.Organic = supervisor.Receiver()
		}
	}

	validator, err := scheduler.New(cfg.Scheduler, deps)
	if err != nil {
		st.Close()
		return err
	}

	srv, err := newAPIServer(cfg, st, scores, m, tp, logger)
	if err != nil {
		st.Close()
		return err
	}
	go func() {
		logger.Info("Starting API server", map[string]interface{}{
			"addr": cfg.API.ListenAddr,
			"tls":  srv.TLSConfig != nil,
		})
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server failed", map[string]interface{}{"error": err.Error()})
			cancel(fmt.Errorf("api server: %w", err))
		}
	}()

	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		cleanup.NewManager(cfg.Cleanup, st, logger.WithField("component", "cleanup")).Run(ctx)
	}()

	var runErr error
	loopsDone := make(chan struct{})
	go func() {
		defer close(loopsDone)
		runErr = validator.Run(ctx)
		if runErr != nil {
			cancel(runErr)
		}
	}()

	// Hooks run in reverse registration order
	sm := shutdown.New(shutdownTimeout, logger)
	sm.Register("store", shutdown.CloseResource(st, "store"))
	sm.Register("tracing", tp.Shutdown)
	if supervisor != nil {
		sm.Register("organic", func(context.Context) error { return supervisor.Stop() })
	}
	sm.Register("cleanup", shutdown.WaitFor(cleanupDone, "cleanup"))
	sm.Register("scheduler", shutdown.WaitFor(loopsDone, "scheduler"))
	sm.Register("loops", func(context.Context) error {
		cancel(nil)
		return nil
	})
	sm.Register("api", shutdown.StopHTTPServer(srv, "api"))

	logger.Info("Validator started, press Ctrl+C to stop")
	reason := sm.Wait(ctx)
	failed := sm.Shutdown()

	<-loopsDone
	if runErr != nil {
		return runErr
	}
	if reason != nil && !errors.Is(reason, context.Canceled) {
		return reason
	}
	if failed > 0 {
		return fmt.Errorf("%d shutdown steps failed", failed)
	}
	return nil
}

// startOrganic launches the intake child. Organic ingestion is optional, so
// a failed start is logged and the validator runs synthetic jobs only.
func startOrganic(ctx context.Context, cfg *config.Config, logger *logging.Logger) *organic.Supervisor {
	args := []string{"organic"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if logLevel != "" {
		args = append(args, "--log-level", logLevel)
	}

	supervisor := organic.NewSupervisor(organic.SupervisorConfig{
		Args:        args,
		GracePeriod: cfg.Organic.GracePeriod,
		Buffer:      cfg.Organic.Buffer,
	}, logger.WithField("component", "organic"))

	if err := supervisor.Start(ctx); err != nil {
		logger.Error("Failed to start organic intake, continuing without it", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	go func() {
		select {
		case <-supervisor.Exited():
			if ctx.Err() == nil {
				logger.Warn("Organic intake exited, organic jobs are no longer accepted")
			}
		case <-ctx.Done():
		}
	}()
	return supervisor
}

func newAPIServer(cfg *config.Config, st store.Store, scores *reward.Scores, m *metrics.Metrics, tp *tracing.Provider, logger *logging.Logger) (*http.Server, error) {
	keys := auth.NewKeySet()
	for name, hash := range cfg.API.Keys {
		if err := keys.AddHash(name, hash); err != nil {
			return nil, fmt.Errorf("api key %q: %w", name, err)
		}
	}
	if keys.Len() == 0 {
		logger.Warn("No API keys configured, inspection API is unauthenticated")
	}

	apiLogger := logger.WithField("component", "api")
	r := mux.NewRouter()
	r.Use(middleware.Recover(apiLogger))
	r.Use(middleware.RequestLogger(apiLogger, "/health", cfg.API.MetricsPath))
	r.Use(tracing.HTTPMiddleware(tp))
	r.Use(auth.Middleware(keys, "/health", cfg.API.MetricsPath))
	if cfg.API.RateLimit > 0 {
		limiter := ratelimit.NewLimiter(cfg.API.RateLimit, cfg.API.RateBurst)
		r.Use(limiter.Middleware(ratelimit.IPKeyFunc))
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				limiter.CleanupOldLimiters(time.Hour)
			}
		}()
	}

	api.NewInspectHandler(st, scores, apiLogger).RegisterRoutes(r)
	r.Handle(cfg.API.MetricsPath, metrics.NewExporter(st, m)).Methods("GET")

	srv := &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if cfg.TLS.Enabled() {
		tlsConfig, err := tlsutil.ServerConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		srv.TLSConfig = tlsConfig
	}
	return srv, nil
}
