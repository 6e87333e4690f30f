package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/psantana5/fold-orchestrator/pkg/artifacts"
	"github.com/psantana5/fold-orchestrator/pkg/evaluate"
	"github.com/psantana5/fold-orchestrator/pkg/models"
	"github.com/psantana5/fold-orchestrator/pkg/reward"
	"github.com/psantana5/fold-orchestrator/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// UpdateJobs runs one update cycle for every ready job, in queue order
func (v *Validator) UpdateJobs(ctx context.Context) {
	jobs, err := v.Store.GetQueue(ctx, true)
	if err != nil {
		v.storeError("get_queue", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	v.Logger.Info("Updating jobs", map[string]interface{}{"ready": len(jobs)})
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		v.UpdateJob(ctx, job)
	}
}

// UpdateJob queries the eligible workers for one job, evaluates their
// answers and persists the result. Errors never escape the job.
func (v *Validator) UpdateJob(ctx context.Context, job *models.Job) {
	start := time.Now()
	ctx, span := v.Tracing.StartSpan(ctx, "scheduler.update_job",
		attribute.String("job_id", job.JobID),
		attribute.String("task_id", job.TaskID),
	)
	defer span.End()

	log := v.Logger.WithFields(map[string]interface{}{"job_id": job.JobID, "task_id": job.TaskID})

	workers, err := v.Directory.ListEligible(ctx)
	if err != nil {
		log.Error("Failed to list eligible workers", map[string]interface{}{"error": err.Error()})
		workers = nil
	}
	workers = v.sample(workers)

	responses := v.dispatch(ctx, job, workers)
	tracing.AddEvent(ctx, "dispatched", attribute.Int("workers", len(responses)))

	now := v.nowFunc()
	result, err := v.Pipeline.Run(ctx, job, responses)
	if err != nil {
		log.Error("Evaluation failed", map[string]interface{}{"error": err.Error()})
		tracing.SetError(ctx, err)
		job.Fail(now, err.Error())
		v.Metrics.JobsFinalized.WithLabelValues("failed").Inc()
		v.persist(ctx, job)
		return
	}

	v.recordCycle(job, responses, result, now, time.Since(start))

	reward.ApplyCredibility(result.Outcomes, job.TaskType, v.Credibility, v.Scores)
	for _, o := range result.Outcomes {
		v.Metrics.Audits.WithLabelValues(o.Reason).Inc()
	}
	v.Credibility.ResetCycleLogs()

	if best, ok := bestAccepted(result); ok {
		if job.ImproveBest(best.Accepted, best.Worker, now) {
			log.Info("New best outcome", map[string]interface{}{
				"worker": best.Worker,
				"loss":   best.Accepted,
			})
		}
	}

	decision, err := v.Calculator.Compute(job)
	if err != nil {
		log.Error("Reward computation failed", map[string]interface{}{"error": err.Error()})
		job.ComputedRewards = make([]float64, len(job.Workers))
	} else {
		job.Workers = decision.Workers
		job.ComputedRewards = decision.Rewards
		job.Event.Workers = append([]string(nil), decision.Workers...)
		job.Event.Energies = append([]float64(nil), decision.Energies...)
		if decision.FromHistory {
			log.Warn("All energies zero, rewarding historical best", map[string]interface{}{
				"best_worker": job.BestWorker,
				"best_loss":   job.BestLoss,
			})
		}
	}

	job.UpdatedAt = now
	job.UpdatedCount++

	if job.Expired(now) {
		job.Event.OutputLinks = outputLinks(job.Event.Outcomes)
		job.Finalize(now, "")
		v.Metrics.JobsFinalized.WithLabelValues("expired").Inc()
		log.Info("Job finalized", map[string]interface{}{
			"best_worker": job.BestWorker,
			"best_loss":   job.BestLoss,
			"updates":     job.UpdatedCount,
		})
	}

	v.persist(ctx, job)
	v.Metrics.Cycles.Inc()
	v.Metrics.CycleDuration.Observe(time.Since(start).Seconds())
}

// sample picks at most SampleSize workers at random
func (v *Validator) sample(workers []models.Worker) []models.Worker {
	n := v.config.SampleSize
	if n <= 0 || len(workers) <= n {
		return workers
	}
	picked := append([]models.Worker(nil), workers...)
	rand.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	return picked[:n]
}

// dispatch sends the job to every worker concurrently under one shared
// timeout. The responses are index-aligned with workers.
func (v *Validator) dispatch(ctx context.Context, job *models.Job, workers []models.Worker) []evaluate.Response {
	ctx, cancel := context.WithTimeout(ctx, v.config.DispatchTimeout)
	defer cancel()

	responses := make([]evaluate.Response, len(workers))
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w models.Worker) {
			defer wg.Done()
			req := models.WorkerRequest{
				JobID:     job.JobID,
				TaskID:    job.TaskID,
				TaskType:  job.TaskType,
				Config:    job.Config,
				UploadURL: v.uploadURL(ctx, job.JobID, w.ID),
			}
			body, err := v.Directory.Dispatch(ctx, w, req)
			responses[i] = evaluate.Response{Worker: w.ID, Body: body, Err: err}
			v.Metrics.Dispatches.WithLabelValues(responseStatus(err)).Inc()
		}(i, w)
	}
	wg.Wait()
	return responses
}

// uploadURL presigns the location a worker uploads its outputs to. A
// failure leaves the worker without an upload URL.
func (v *Validator) uploadURL(ctx context.Context, jobID, worker string) string {
	if v.Artifacts == nil {
		return ""
	}
	url, err := v.Artifacts.PresignPut(ctx, artifacts.OutputPrefix(jobID, worker)+"trajectory", v.config.DispatchTimeout)
	if err != nil {
		v.Logger.Warn("Failed to presign upload", map[string]interface{}{
			"job_id": jobID,
			"worker": worker,
			"error":  err.Error(),
		})
		return ""
	}
	return url
}

// recordCycle rewrites job.Event for this cycle and appends a summary.
// Input links and extension fields survive from the previous event.
func (v *Validator) recordCycle(job *models.Job, responses []evaluate.Response, result *evaluate.Result, now time.Time, elapsed time.Duration) {
	event := models.Event{
		Queried:        make([]string, 0, len(responses)),
		ResponseStatus: make([]string, 0, len(responses)),
		Workers:        make([]string, 0, len(responses)),
		Energies:       make([]float64, 0, len(responses)),
		Outcomes:       result.Outcomes,
		InputLinks:     job.Event.InputLinks,
		InitEnergy:     job.Event.InitEnergy,
		StepSeconds:    elapsed.Seconds(),
		Extra:          job.Event.Extra,
	}
	for i, resp := range responses {
		event.Queried = append(event.Queried, resp.Worker)
		event.ResponseStatus = append(event.ResponseStatus, responseStatus(resp.Err))
		if resp.Err != nil {
			continue
		}
		event.Workers = append(event.Workers, resp.Worker)
		event.Energies = append(event.Energies, result.Energies[i])
	}
	job.Event = event
	job.Workers = append([]string(nil), event.Workers...)

	summary := models.CycleSummary{
		At:        now,
		Queried:   len(event.Queried),
		Responded: len(event.Workers),
		Accepted:  len(result.Accepted()),
	}
	if best, ok := bestAccepted(result); ok {
		summary.BestEnergy = best.Accepted
	}
	job.History = append(job.History, summary)
}

// persist writes job back. A failure is logged and the loop moves on.
func (v *Validator) persist(ctx context.Context, job *models.Job) {
	if err := v.Store.Update(ctx, job); err != nil {
		v.storeError("update", err)
	}
}

// bestAccepted returns the accepted outcome with the lowest energy
func bestAccepted(result *evaluate.Result) (models.WorkerOutcome, bool) {
	var best models.WorkerOutcome
	found := false
	for _, o := range result.Accepted() {
		if o.Accepted == 0 {
			continue
		}
		if !found || o.Accepted < best.Accepted {
			best = o
			found = true
		}
	}
	return best, found
}

// outputLinks collects the artifact references of every processed worker
func outputLinks(outcomes []models.WorkerOutcome) []map[string]string {
	links := make([]map[string]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Reason == models.ReasonSkip && len(o.Artifacts) == 0 {
			continue
		}
		l := make(map[string]string, len(o.Artifacts)+1)
		for k, val := range o.Artifacts {
			l[k] = val
		}
		l["worker"] = o.Worker
		links = append(links, l)
	}
	return links
}

func responseStatus(err error) string {
	switch {
	case err == nil:
		return models.ResponseOK
	case errors.Is(err, context.DeadlineExceeded):
		return models.ResponseTimeout
	default:
		return models.ResponseError
	}
}
