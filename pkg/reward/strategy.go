// Package reward converts finalized outcome vectors into per-worker rewards
// and folds them into a persistent score vector.
package reward

import (
	"fmt"
	"sync"
)

// Strategy computes a reward vector from an energy vector. Zero energies
// mark workers without a valid outcome. Implementations must be pure.
type Strategy interface {
	Rewards(energies []float64, priority float64) []float64
}

// RankStrategy gives the lowest non-zero energy TopReward and splits the
// remainder evenly between the other non-zero energies. The vector is
// scaled by priority.
type RankStrategy struct {
	TopReward float64
}

// Rewards implements Strategy
func (s RankStrategy) Rewards(energies []float64, priority float64) []float64 {
	rewards := make([]float64, len(energies))

	best := -1
	others := 0
	for i, e := range energies {
		if e == 0 {
			continue
		}
		others++
		if best < 0 || e < energies[best] {
			best = i
		}
	}
	if best < 0 {
		return rewards
	}
	others--

	share := 0.0
	if others > 0 {
		share = (1 - s.TopReward) / float64(others)
	}
	for i, e := range energies {
		switch {
		case i == best:
			rewards[i] = s.TopReward * priority
		case e != 0:
			rewards[i] = share * priority
		}
	}
	return rewards
}

// Registry maps task types to reward strategies
type Registry struct {
	strategies map[string]Strategy
	mu         sync.RWMutex
}

// NewRegistry creates an empty strategy registry
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register binds a strategy to a task type
func (r *Registry) Register(taskType string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[taskType] = s
}

// Get returns the strategy for a task type
func (r *Registry) Get(taskType string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[taskType]
	if !ok {
		return nil, fmt.Errorf("no reward strategy registered for task type %q", taskType)
	}
	return s, nil
}
