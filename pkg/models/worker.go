package models

import (
	"time"
)

// Worker represents a remote worker in the network roster
type Worker struct {
	ID       string            `json:"id"`
	Address  string            `json:"address"`
	Stake    float64           `json:"stake"`
	Serving  bool              `json:"serving"`
	Labels   map[string]string `json:"labels,omitempty"`
	LastSeen time.Time         `json:"last_seen,omitempty"`
}

// WorkerRequest is the payload posted to a worker for one update cycle
type WorkerRequest struct {
	JobID     string                 `json:"job_id"`
	TaskID    string                 `json:"task_id"`
	TaskType  string                 `json:"task_type"`
	Config    map[string]interface{} `json:"config,omitempty"`
	UploadURL string                 `json:"upload_url,omitempty"`
}

// WorkerResponse is the raw result a worker returns for one cycle.
// Energies is the worker's reported energy trajectory; the last value is
// the reported final energy.
type WorkerResponse struct {
	Worker              string            `json:"-"`
	Energies            []float64         `json:"energies"`
	CheckpointURL       string            `json:"checkpoint_url,omitempty"`
	CheckpointSignature string            `json:"checkpoint_signature,omitempty"`
	Seed                int64             `json:"seed,omitempty"`
	Artifacts           map[string]string `json:"artifacts,omitempty"`
}

// Eligible reports whether the worker may receive jobs under the given
// stake limit. Workers above the limit are validators, not workers.
func (w *Worker) Eligible(maxStake float64) bool {
	if !w.Serving {
		return false
	}
	if maxStake > 0 && w.Stake > maxStake {
		return false
	}
	return true
}
