// Package scheduler runs the validator control loops: job creation, job
// update, reward application, directory resync, organic drain and the
// liveness monitor. Every loop shares one root context and exits at its
// next wake point once that context ends.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psantana5/fold-orchestrator/pkg/artifacts"
	"github.com/psantana5/fold-orchestrator/pkg/credibility"
	"github.com/psantana5/fold-orchestrator/pkg/directory"
	"github.com/psantana5/fold-orchestrator/pkg/engine"
	"github.com/psantana5/fold-orchestrator/pkg/evaluate"
	"github.com/psantana5/fold-orchestrator/pkg/ipc"
	"github.com/psantana5/fold-orchestrator/pkg/logging"
	"github.com/psantana5/fold-orchestrator/pkg/metrics"
	"github.com/psantana5/fold-orchestrator/pkg/reward"
	"github.com/psantana5/fold-orchestrator/pkg/store"
	"github.com/psantana5/fold-orchestrator/pkg/tracing"
)

// ErrStalled is the cancellation cause set by the liveness monitor
var ErrStalled = errors.New("no job created within the liveness window")

// BatchSource yields organic batches without blocking
type BatchSource interface {
	Poll() (ipc.Result, bool)
}

// Deps are the collaborators a Validator drives. Organic and Tracing may be nil.
type Deps struct {
	Store       store.Store
	Directory   directory.Directory
	Engine      engine.Engine
	Artifacts   artifacts.Store
	Pipeline    *evaluate.Pipeline
	Calculator  *reward.Calculator
	Credibility *credibility.Registry
	Scores      *reward.Scores
	Catalog     Catalog
	Organic     BatchSource
	Metrics     *metrics.Metrics
	Tracing     *tracing.Provider
	Logger      *logging.Logger
}

// Validator owns the scheduler loops
type Validator struct {
	config Config
	Deps

	nowFunc     func() time.Time
	lastCreated atomic.Int64 // unix nanos
	stateMu     sync.Mutex
}

// New creates a validator. Missing metrics and logger are replaced with
// private instances.
func New(config Config, deps Deps) (*Validator, error) {
	if deps.Store == nil || deps.Directory == nil || deps.Pipeline == nil || deps.Calculator == nil {
		return nil, fmt.Errorf("scheduler: store, directory, pipeline and calculator are required")
	}
	if deps.Credibility == nil {
		deps.Credibility = credibility.NewRegistry(credibility.DefaultConfig())
	}
	if deps.Scores == nil {
		deps.Scores = reward.NewScores(reward.DefaultConfig().Alpha)
	}
	if deps.Catalog == nil {
		deps.Catalog = NewStaticCatalog(config.Tasks, time.Now().UnixNano())
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewLogger(logging.INFO, false)
	}

	v := &Validator{
		config:  config.withDefaults(),
		Deps:    deps,
		nowFunc: time.Now,
	}
	v.lastCreated.Store(time.Now().UnixNano())
	return v, nil
}

// SetClock overrides the time source
func (v *Validator) SetClock(now func() time.Time) {
	v.nowFunc = now
	v.lastCreated.Store(now().UnixNano())
}

// LastCreated returns when a job was last created
func (v *Validator) LastCreated() time.Time {
	return time.Unix(0, v.lastCreated.Load())
}

func (v *Validator) markCreated() {
	v.lastCreated.Store(v.nowFunc().UnixNano())
}

// Run starts every loop and blocks until ctx ends or the liveness monitor
// requests a restart. It returns an error wrapping ErrStalled in the latter
// case and nil on a normal shutdown.
func (v *Validator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if err := v.LoadState(); err != nil {
		v.Logger.Warn("Failed to load validator state, starting fresh", map[string]interface{}{
			"path":  v.config.StatePath,
			"error": err.Error(),
		})
	}
	v.SyncDirectory(ctx)

	v.Logger.Info("Starting validator", map[string]interface{}{
		"queue_size":        v.config.QueueSize,
		"update_loop":       v.config.UpdateLoopPeriod.String(),
		"reward_interval":   v.config.RewardInterval.String(),
		"liveness_window":   v.config.LivenessWindow.String(),
		"organic_enabled":   v.Organic != nil,
		"catalog_task_size": len(v.config.Tasks),
	})

	var wg sync.WaitGroup
	start := func(name string, interval time.Duration, immediate bool, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.every(ctx, name, interval, immediate, fn)
		}()
	}

	start("creation", v.config.CreationInterval, true, v.CreateJobs)
	start("update", v.config.UpdateLoopPeriod, false, v.UpdateJobs)
	start("reward", v.config.RewardInterval, false, v.ApplyRewards)
	start("sync", v.config.SyncInterval, false, v.SyncDirectory)
	if v.Organic != nil {
		start("organic-drain", v.config.DrainInterval, true, v.DrainOrganic)
	}
	start("monitor", v.config.MonitorInterval, false, func(ctx context.Context) {
		if err := v.CheckLiveness(); err != nil {
			cancel(err)
		}
	})

	<-ctx.Done()
	wg.Wait()

	if err := v.SaveState(); err != nil {
		v.Logger.Error("Failed to save validator state", map[string]interface{}{"error": err.Error()})
	}

	if cause := context.Cause(ctx); errors.Is(cause, ErrStalled) {
		return cause
	}
	v.Logger.Info("Validator stopped")
	return nil
}

// every runs fn on each tick until ctx ends. A panic in fn is logged and
// the loop keeps going.
func (v *Validator) every(ctx context.Context, name string, interval time.Duration, immediate bool, fn func(context.Context)) {
	log := v.Logger.WithField("loop", name)
	log.Info("Loop started", map[string]interface{}{"interval": interval.String()})

	run := func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Loop iteration panicked", map[string]interface{}{
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				})
			}
		}()
		fn(ctx)
	}

	if immediate {
		run()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Loop stopped")
			return
		case <-ticker.C:
			run()
		}
	}
}

// SyncDirectory refreshes the worker roster and makes sure every worker has
// a credibility record and a score
func (v *Validator) SyncDirectory(ctx context.Context) {
	workers, err := v.Directory.Refresh(ctx)
	if err != nil {
		v.Logger.Warn("Directory refresh failed, keeping previous roster", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	ids := make([]string, 0, len(workers))
	for _, w := range workers {
		ids = append(ids, w.ID)
	}
	v.Credibility.EnsureWorkers(ids)
	v.Scores.Ensure(ids)
	v.Logger.Debug("Directory synced", map[string]interface{}{"workers": len(ids)})
}
