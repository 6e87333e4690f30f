// Package engine is the client for the simulation service that prepares
// task inputs and independently recomputes worker results.
package engine

import (
	"context"
)

// SetupRequest asks the engine to prepare a task
type SetupRequest struct {
	TaskID   string                 `json:"task_id"`
	TaskType string                 `json:"task_type"`
	Source   string                 `json:"source,omitempty"`
	Config   map[string]interface{} `json:"config,omitempty"`
}

// SetupResult holds the prepared inputs of a task.
// Inputs maps file names to file contents.
type SetupResult struct {
	InitEnergy  float64                `json:"init_energy"`
	StepSeconds float64                `json:"step_seconds,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Inputs      map[string][]byte      `json:"inputs,omitempty"`
}

// RecomputeRequest asks the engine to rerun a worker's simulation from its
// declared checkpoint and seed.
type RecomputeRequest struct {
	JobID         string                 `json:"job_id"`
	TaskID        string                 `json:"task_id"`
	TaskType      string                 `json:"task_type"`
	Worker        string                 `json:"worker"`
	Seed          int64                  `json:"seed"`
	CheckpointURL string                 `json:"checkpoint_url,omitempty"`
	Config        map[string]interface{} `json:"config,omitempty"`
}

// RecomputeResult is the energy series the engine computed
type RecomputeResult struct {
	Energies  []float64         `json:"energies"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// Engine prepares tasks and recomputes worker results
type Engine interface {
	Setup(ctx context.Context, req SetupRequest) (*SetupResult, error)
	Recompute(ctx context.Context, req RecomputeRequest) (*RecomputeResult, error)
}
