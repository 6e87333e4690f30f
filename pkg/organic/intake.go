package organic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/fold-orchestrator/pkg/ipc"
	"github.com/psantana5/fold-orchestrator/pkg/logging"
	"github.com/psantana5/fold-orchestrator/pkg/ratelimit"
)

// IntakeConfig configures the intake process
type IntakeConfig struct {
	ListenAddr    string        `mapstructure:"listen_addr"`
	QueueSize     int           `mapstructure:"queue_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	RateLimit     float64       `mapstructure:"rate_limit"` // requests per second per client
	RateBurst     int           `mapstructure:"rate_burst"`
}

// DefaultIntakeConfig returns the intake defaults
func DefaultIntakeConfig() IntakeConfig {
	return IntakeConfig{
		ListenAddr:    ":8090",
		QueueSize:     1000,
		FlushInterval: 500 * time.Millisecond,
		RateLimit:     5,
		RateBurst:     10,
	}
}

// RunIntake serves the intake API and forwards batches to out until ctx is
// cancelled. It is the body of the intake child process.
func RunIntake(ctx context.Context, config IntakeConfig, out io.Writer, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := NewQueue(config.QueueSize)
	limiter := ratelimit.NewLimiter(config.RateLimit, config.RateBurst)
	handler := NewIntakeHandler(queue, limiter, logger)

	r := mux.NewRouter()
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              config.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	forwarder := NewForwarder(queue, ipc.NewSender(out), config.FlushInterval, logger)
	fwdDone := make(chan struct{})
	go func() {
		defer close(fwdDone)
		forwarder.Run(ctx)
	}()

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := limiter.CleanupOldLimiters(time.Hour); n > 0 {
					logger.Debug("Pruned idle rate limiters", map[string]interface{}{"count": n})
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Organic intake listening", map[string]interface{}{"addr": config.ListenAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("intake server: %w", err)
		}
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Intake server shutdown error", map[string]interface{}{"error": err.Error()})
	}
	<-fwdDone
	return nil
}
