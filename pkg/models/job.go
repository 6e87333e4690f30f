package models

import (
	"time"
)

// Task types select the evaluation and reward strategy for a job.
const (
	TaskTypeSyntheticMD = "SyntheticMD"
	TaskTypeOrganicMD   = "OrganicMD"
)

// Audit reason codes recorded per scanned worker.
const (
	ReasonValid              = "valid"
	ReasonSkip               = "skip"
	ReasonTooLargeDifference = "too-large-difference"
	ReasonIntegrityViolation = "integrity-violation"
)

// Response status values recorded per queried worker.
const (
	ResponseOK      = "ok"
	ResponseTimeout = "timeout"
	ResponseError   = "error"
)

// Job status as seen by the inspection API. It is derived, never stored.
type JobStatus string

const (
	JobStatusActive   JobStatus = "active"
	JobStatusInactive JobStatus = "inactive"
	JobStatusFailed   JobStatus = "failed"
	JobStatusAll      JobStatus = "all"
)

// Job is the unit of work iteratively queried across workers
type Job struct {
	RecordID int64  `json:"record_id"`
	JobID    string `json:"job_id"`

	TaskID         string                 `json:"task_id"`
	TaskType       string                 `json:"task_type"`
	Priority       float64                `json:"priority"`
	Config         map[string]interface{} `json:"config,omitempty"`
	UpdateInterval time.Duration          `json:"update_interval"`
	MaxLifetime    time.Duration          `json:"max_lifetime"`

	// Workers is the assignment for the latest cycle. Event.Workers,
	// Event.Energies and ComputedRewards are index-aligned with it.
	Workers []string `json:"workers"`

	Active   bool `json:"active"`
	Failed   bool `json:"failed"`
	Archived bool `json:"archived"`

	Event   Event          `json:"event"`
	History []CycleSummary `json:"history,omitempty"`

	BestLoss   float64    `json:"best_loss"`
	BestWorker string     `json:"best_worker,omitempty"`
	BestLossAt *time.Time `json:"best_loss_at,omitempty"`

	ComputedRewards []float64 `json:"computed_rewards"`

	IsOrganic bool   `json:"is_organic"`
	Submitter string `json:"submitter,omitempty"`
	Source    string `json:"source,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinalizedAt  *time.Time `json:"finalized_at,omitempty"`
	UpdatedCount int        `json:"updated_count"`
}

// Event is the structured per-cycle record of a job. Fields that are
// worker-indexed are aligned with either Queried or Workers as documented.
type Event struct {
	Queried        []string `json:"queried,omitempty"`
	ResponseStatus []string `json:"response_status,omitempty"` // aligned with Queried

	// Workers are the cycle's responders, plus the historical best worker
	// when it is credited. That worker carries the job's best loss.
	Workers  []string  `json:"workers,omitempty"`
	Energies []float64 `json:"energies"` // aligned with Workers

	// Outcomes holds one entry per scanned worker, in scan order.
	Outcomes []WorkerOutcome `json:"outcomes,omitempty"`

	InputLinks  map[string]string   `json:"input_links,omitempty"`
	OutputLinks []map[string]string `json:"output_links,omitempty"`

	InitEnergy    float64 `json:"init_energy,omitempty"`
	StepSeconds   float64 `json:"step_seconds,omitempty"`
	FailureReason string  `json:"failure_reason,omitempty"`

	// Extra is reserved for forward-compatible fields.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// WorkerOutcome is the audit record for one worker in one cycle
type WorkerOutcome struct {
	Worker          string            `json:"worker"`
	Reported        float64           `json:"reported"`
	Accepted        float64           `json:"accepted"`
	Checked         []float64         `json:"checked,omitempty"`
	Valid           bool              `json:"valid"`
	Duplicate       bool              `json:"duplicate"`
	Reason          string            `json:"reason"`
	Artifacts       map[string]string `json:"artifacts,omitempty"`
	ParseSeconds    float64           `json:"parse_seconds,omitempty"`
	ValidateSeconds float64           `json:"validate_seconds,omitempty"`
}

// CycleSummary is appended once per update cycle
type CycleSummary struct {
	At         time.Time `json:"at"`
	Queried    int       `json:"queried"`
	Responded  int       `json:"responded"`
	Accepted   int       `json:"accepted"`
	BestEnergy float64   `json:"best_energy"`
}

// JobRequest is an externally submitted (organic) job request
type JobRequest struct {
	TaskID    string                 `json:"task_id" validate:"required,min=4,max=16,alphanum"`
	Source    string                 `json:"source" validate:"omitempty,oneof=rcsb pdbe"`
	Config    map[string]interface{} `json:"config,omitempty"`
	Priority  float64                `json:"priority,omitempty" validate:"gte=0,lte=100"`
	Submitter string                 `json:"submitter" validate:"required,max=128"`

	UpdateIntervalSeconds int `json:"update_interval_seconds,omitempty" validate:"gte=0"`
	MaxLifetimeSeconds    int `json:"max_lifetime_seconds,omitempty" validate:"gte=0"`
}

// Status derives the inspection status of a job
func (j *Job) Status() JobStatus {
	switch {
	case j.Active:
		return JobStatusActive
	case j.Failed:
		return JobStatusFailed
	default:
		return JobStatusInactive
	}
}

// HasBest reports whether a verified best outcome has been recorded
func (j *Job) HasBest() bool {
	return j.BestWorker != ""
}

// ImproveBest records loss as the job's best outcome when it beats the
// current best. Zero losses are never recorded. Returns true on improvement.
func (j *Job) ImproveBest(loss float64, worker string, now time.Time) bool {
	if loss == 0 || worker == "" {
		return false
	}
	if j.HasBest() && loss >= j.BestLoss {
		return false
	}
	j.BestLoss = loss
	j.BestWorker = worker
	at := now
	j.BestLossAt = &at
	return true
}

// ReadyAt returns when the job is next due for an update cycle
func (j *Job) ReadyAt() time.Time {
	return j.UpdatedAt.Add(j.UpdateInterval)
}

// Expired reports whether the job has outlived its maximum lifetime
func (j *Job) Expired(now time.Time) bool {
	if j.MaxLifetime <= 0 {
		return false
	}
	return now.Sub(j.CreatedAt) >= j.MaxLifetime
}

// Finalize marks the job inactive. A nil reward vector is replaced by an
// all-zero vector and reason is recorded as the failure reason.
func (j *Job) Finalize(now time.Time, reason string) {
	j.Active = false
	at := now
	j.FinalizedAt = &at
	if j.ComputedRewards == nil {
		j.ComputedRewards = make([]float64, len(j.Workers))
		if reason == "" {
			reason = "finalized without rewards"
		}
	}
	if reason != "" {
		j.Event.FailureReason = reason
	}
}

// Fail finalizes the job as failed with an all-zero reward vector
func (j *Job) Fail(now time.Time, reason string) {
	j.Failed = true
	j.ComputedRewards = make([]float64, len(j.Workers))
	j.Finalize(now, reason)
}

// Clone returns a copy of the job that shares no slices or maps with j.
// Config values are copied one level deep.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Config = cloneMap(j.Config)
	c.Workers = cloneStrings(j.Workers)
	c.History = append([]CycleSummary(nil), j.History...)
	c.ComputedRewards = cloneFloats(j.ComputedRewards)
	if j.BestLossAt != nil {
		t := *j.BestLossAt
		c.BestLossAt = &t
	}
	if j.FinalizedAt != nil {
		t := *j.FinalizedAt
		c.FinalizedAt = &t
	}
	c.Event = j.Event.Clone()
	return &c
}

// Clone returns a deep copy of the event
func (e Event) Clone() Event {
	c := e
	c.Queried = cloneStrings(e.Queried)
	c.ResponseStatus = cloneStrings(e.ResponseStatus)
	c.Workers = cloneStrings(e.Workers)
	c.Energies = cloneFloats(e.Energies)
	if e.Outcomes != nil {
		c.Outcomes = make([]WorkerOutcome, len(e.Outcomes))
		for i, o := range e.Outcomes {
			o.Checked = cloneFloats(o.Checked)
			o.Artifacts = cloneStringMap(o.Artifacts)
			c.Outcomes[i] = o
		}
	}
	c.InputLinks = cloneStringMap(e.InputLinks)
	if e.OutputLinks != nil {
		c.OutputLinks = make([]map[string]string, len(e.OutputLinks))
		for i, l := range e.OutputLinks {
			c.OutputLinks[i] = cloneStringMap(l)
		}
	}
	c.Extra = cloneMap(e.Extra)
	return c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}

func cloneFloats(f []float64) []float64 {
	if f == nil {
		return nil
	}
	return append(make([]float64, 0, len(f)), f...)
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
