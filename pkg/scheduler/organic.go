package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/psantana5/fold-orchestrator/pkg/ipc"
	"github.com/psantana5/fold-orchestrator/pkg/models"
)

// DrainOrganic turns every pending organic batch into jobs. A bad batch or
// a failing item is logged and the rest are still processed.
func (v *Validator) DrainOrganic(ctx context.Context) {
	if v.Organic == nil {
		return
	}
	for ctx.Err() == nil {
		res, ok := v.Organic.Poll()
		if !ok {
			return
		}
		if res.Err != nil {
			if errors.Is(res.Err, ipc.ErrClosed) {
				v.Logger.Warn("Organic channel closed, draining disabled")
				v.Organic = nil
				return
			}
			v.Metrics.OrganicBatches.WithLabelValues("rejected").Inc()
			v.Logger.Error("Failed to decode organic batch", map[string]interface{}{"error": res.Err.Error()})
			continue
		}

		v.Metrics.OrganicBatches.WithLabelValues("accepted").Inc()
		v.Logger.Info("Received organic jobs", map[string]interface{}{
			"items":   len(res.Batch.Items),
			"sent_at": res.Batch.SentAt,
		})
		added := 0
		for _, req := range res.Batch.Items {
			if _, err := v.addJob(ctx, v.organicJob(req), req.Source); err != nil {
				continue
			}
			v.Metrics.JobsCreated.WithLabelValues("organic").Inc()
			added++
		}
		v.Logger.Info("Added organic jobs", map[string]interface{}{"added": added})
	}
}

// organicJob converts a submitted request into a job
func (v *Validator) organicJob(req models.JobRequest) *models.Job {
	job := v.newJob(strings.ToLower(strings.TrimSpace(req.TaskID)), models.TaskTypeOrganicMD)
	job.IsOrganic = true
	job.Submitter = req.Submitter
	job.Source = req.Source
	if req.Priority > 0 {
		job.Priority = req.Priority
	}
	if req.UpdateIntervalSeconds > 0 {
		job.UpdateInterval = time.Duration(req.UpdateIntervalSeconds) * time.Second
	}
	if req.MaxLifetimeSeconds > 0 {
		job.MaxLifetime = time.Duration(req.MaxLifetimeSeconds) * time.Second
	}
	if len(req.Config) > 0 {
		job.Config = make(map[string]interface{}, len(req.Config))
		for k, val := range req.Config {
			job.Config[k] = val
		}
	}
	return job
}
