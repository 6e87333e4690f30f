package scheduler

import (
	"context"
	"time"

	"github.com/psantana5/fold-orchestrator/pkg/models"
)

// ApplyRewards folds the rewards of every finalized, unarchived job into the
// score vector, then garbage-collects their inputs and archives them.
// Archiving is what keeps a job from being rewarded twice, so no time
// checkpoint is kept: FinalizedAt is taken before evaluation and may lag
// behind a concurrent pass.
func (v *Validator) ApplyRewards(ctx context.Context) {
	jobs, err := v.Store.GetInactiveSince(ctx, time.Time{})
	if err != nil {
		v.storeError("get_inactive_since", err)
		return
	}

	if len(jobs) == 0 {
		v.Logger.Debug("No inactive jobs to reward")
		return
	}
	v.Logger.Info("Applying rewards", map[string]interface{}{"jobs": len(jobs)})

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		v.rewardJob(ctx, job)
	}

	if err := v.SaveState(); err != nil {
		v.Logger.Error("Failed to save validator state", map[string]interface{}{"error": err.Error()})
	}
}

func (v *Validator) rewardJob(ctx context.Context, job *models.Job) {
	log := v.Logger.WithFields(map[string]interface{}{"job_id": job.JobID, "task_id": job.TaskID})

	if job.ComputedRewards == nil {
		log.Warn("Finalized job has no computed rewards")
	} else {
		v.Scores.Update(job.Workers, job.ComputedRewards)
		for _, w := range job.Workers {
			v.Metrics.WorkerScore.WithLabelValues(w).Set(v.Scores.Get(w))
		}
		v.Metrics.JobsRewarded.Inc()
	}

	if prefix, ok := job.Event.Extra[extraInputPrefix].(string); ok && prefix != "" && v.Artifacts != nil {
		if err := v.Artifacts.DeletePrefix(ctx, prefix); err != nil {
			log.Warn("Failed to delete job inputs", map[string]interface{}{
				"prefix": prefix,
				"error":  err.Error(),
			})
		}
	}

	if err := v.Store.Archive(ctx, job.JobID); err != nil {
		v.storeError("archive", err)
		return
	}
	log.Info("Job rewarded and archived", map[string]interface{}{"workers": len(job.Workers)})
}
