package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/psantana5/fold-orchestrator/pkg/artifacts"
	"github.com/psantana5/fold-orchestrator/pkg/engine"
	"github.com/psantana5/fold-orchestrator/pkg/errdefs"
	"github.com/psantana5/fold-orchestrator/pkg/models"
	"go.opentelemetry.io/otel/attribute"
)

// extraInputPrefix is the Event.Extra key holding the artifact prefix of a
// job's inputs
const extraInputPrefix = "input_prefix"

// CreateJobs tops the active queue up to QueueSize with synthetic jobs
func (v *Validator) CreateJobs(ctx context.Context) {
	active, err := v.Store.GetQueue(ctx, false)
	if err != nil {
		v.storeError("get_queue", err)
		return
	}
	if len(active) >= v.config.QueueSize {
		v.Logger.Debug("Job queue is full", map[string]interface{}{"active": len(active)})
		return
	}

	if v.config.SampleSize > 0 {
		workers, err := v.Directory.ListEligible(ctx)
		if err != nil {
			v.Logger.Error("Failed to list eligible workers", map[string]interface{}{"error": err.Error()})
			return
		}
		if need := v.config.SampleSize * v.config.QueueSize; need > len(workers) {
			v.Logger.Error("Not enough eligible workers for the configured queue", map[string]interface{}{
				"sample_size": v.config.SampleSize,
				"queue_size":  v.config.QueueSize,
				"eligible":    len(workers),
			})
			return
		}
	}

	k := v.config.QueueSize - len(active)
	v.Logger.Info("Creating synthetic jobs", map[string]interface{}{"count": k, "active": len(active)})
	for i := 0; i < k; i++ {
		if ctx.Err() != nil {
			return
		}
		exclude, err := v.Store.AllTaskIDs(ctx)
		if err != nil {
			v.storeError("all_task_ids", err)
			return
		}
		taskID, err := v.Catalog.Next(exclude)
		if errors.Is(err, ErrCatalogExhausted) {
			v.Logger.Warn("Task catalog exhausted", map[string]interface{}{"active": len(exclude)})
			return
		}
		if err != nil {
			v.Logger.Error("Failed to pick task", map[string]interface{}{"error": err.Error()})
			return
		}

		job := v.newJob(taskID, models.TaskTypeSyntheticMD)
		if _, err := v.addJob(ctx, job, ""); err != nil {
			continue
		}
		v.Metrics.JobsCreated.WithLabelValues("synthetic").Inc()
	}
}

// newJob builds an active job with the configured defaults
func (v *Validator) newJob(taskID, taskType string) *models.Job {
	return &models.Job{
		TaskID:         taskID,
		TaskType:       taskType,
		Priority:       v.config.DefaultPriority,
		UpdateInterval: v.config.UpdateInterval,
		MaxLifetime:    v.config.MaxLifetime,
		Active:         true,
		Workers:        []string{},
	}
}

// addJob prepares job and inserts it. A job whose preparation fails is
// still inserted, already finalized as failed, so the failure is visible.
func (v *Validator) addJob(ctx context.Context, job *models.Job, source string) (string, error) {
	ctx, span := v.Tracing.StartSpan(ctx, "scheduler.add_job",
		attribute.String("task_id", job.TaskID),
		attribute.String("task_type", job.TaskType),
		attribute.Bool("organic", job.IsOrganic),
	)
	defer span.End()

	log := v.Logger.WithFields(map[string]interface{}{"task_id": job.TaskID, "task_type": job.TaskType})

	if err := v.prepareJob(ctx, job, source); err != nil {
		log.Error("Job preparation failed", map[string]interface{}{"error": err.Error()})
		job.Fail(v.nowFunc(), err.Error())
	}

	jobID, err := v.Store.Enqueue(ctx, job)
	if err != nil {
		v.storeError("enqueue", err)
		return "", err
	}
	if job.Failed {
		v.Metrics.JobsFinalized.WithLabelValues("failed").Inc()
	}
	v.markCreated()
	log.Info("Job inserted", map[string]interface{}{"job_id": jobID, "failed": job.Failed})
	return jobID, nil
}

// prepareJob runs the engine setup for job and uploads its inputs
func (v *Validator) prepareJob(ctx context.Context, job *models.Job, source string) error {
	if v.Engine == nil {
		return nil
	}

	setupCtx, cancel := context.WithTimeout(ctx, v.config.SetupTimeout)
	defer cancel()

	res, err := v.Engine.Setup(setupCtx, engine.SetupRequest{
		TaskID:   job.TaskID,
		TaskType: job.TaskType,
		Source:   source,
		Config:   job.Config,
	})
	if err != nil {
		return fmt.Errorf("setup %s: %w", job.TaskID, err)
	}

	job.Event.InitEnergy = res.InitEnergy
	if len(res.Config) > 0 {
		if job.Config == nil {
			job.Config = make(map[string]interface{}, len(res.Config))
		}
		for k, val := range res.Config {
			job.Config[k] = val
		}
	}
	if res.InitEnergy > 0 {
		return fmt.Errorf("initial energy is positive: %g", res.InitEnergy)
	}

	if v.Artifacts == nil || len(res.Inputs) == 0 {
		return nil
	}

	prefix := artifacts.InputPrefix(job.TaskType, job.TaskID, v.nowFunc())
	names := make([]string, 0, len(res.Inputs))
	for name := range res.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	links := make(map[string]string, len(names))
	for _, name := range names {
		url, err := v.Artifacts.Put(ctx, res.Inputs[name], path.Join(prefix, name))
		if err != nil {
			return fmt.Errorf("upload input %s: %w", name, err)
		}
		links[name] = url
	}
	job.Event.InputLinks = links
	if job.Event.Extra == nil {
		job.Event.Extra = make(map[string]interface{})
	}
	job.Event.Extra[extraInputPrefix] = prefix
	return nil
}

// storeError logs a store failure and counts it
func (v *Validator) storeError(op string, err error) {
	v.Metrics.StoreErrors.WithLabelValues(op).Inc()
	fields := map[string]interface{}{"op": op, "error": err.Error()}
	var pe *errdefs.PersistenceError
	if errors.As(err, &pe) && pe.JobID != "" {
		fields["job_id"] = pe.JobID
	}
	v.Logger.Error("Job store operation failed", fields)
}
