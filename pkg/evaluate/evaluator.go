// Package evaluate turns raw worker responses into audited, ranked outcomes.
package evaluate

import (
	"context"
	"fmt"
	"sync"

	"github.com/psantana5/fold-orchestrator/pkg/models"
)

// Parsed is the result of the static pass over one worker response
type Parsed struct {
	Worker              string
	Reported            float64
	Trajectory          []float64
	CheckpointURL       string
	CheckpointSignature string
	Seed                int64
	Artifacts           map[string]string
}

// Audit is the result of independently recomputing one worker's outcome
type Audit struct {
	Checked   []float64
	Reason    string
	Artifacts map[string]string
}

// Evaluator implements the task-type specific steps of the pipeline.
// Parse must be deterministic and free of side effects.
type Evaluator interface {
	Parse(job *models.Job, resp *models.WorkerResponse) (*Parsed, error)
	Audit(ctx context.Context, job *models.Job, parsed *Parsed) (*Audit, error)
}

// Registry maps task types to evaluators
type Registry struct {
	evaluators map[string]Evaluator
	mu         sync.RWMutex
}

// NewRegistry creates an empty evaluator registry
func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[string]Evaluator)}
}

// Register binds an evaluator to a task type, replacing any previous one
func (r *Registry) Register(taskType string, e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[taskType] = e
}

// Get returns the evaluator for a task type
func (r *Registry) Get(taskType string) (Evaluator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.evaluators[taskType]
	if !ok {
		return nil, fmt.Errorf("no evaluator registered for task type %q", taskType)
	}
	return e, nil
}
