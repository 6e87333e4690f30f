package reward

import (
	"sort"
	"sync"

	"github.com/psantana5/fold-orchestrator/pkg/models"
)

// Scores is the process-wide per-worker score vector. It is safe for
// concurrent use.
type Scores struct {
	alpha  float64
	values map[string]float64
	mu     sync.RWMutex
}

// NewScores creates an empty score vector with EMA smoothing factor alpha
func NewScores(alpha float64) *Scores {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultConfig().Alpha
	}
	return &Scores{alpha: alpha, values: make(map[string]float64)}
}

// Update folds one job's rewards into the vector:
// score = alpha*reward + (1-alpha)*score for every known worker, where
// workers absent from the job receive a reward of zero.
func (s *Scores) Update(workers []string, rewards []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scattered := make(map[string]float64, len(workers))
	for i, w := range workers {
		if i < len(rewards) {
			scattered[w] += rewards[i]
		}
		if _, ok := s.values[w]; !ok {
			s.values[w] = 0
		}
	}
	for w, v := range s.values {
		s.values[w] = s.alpha*scattered[w] + (1-s.alpha)*v
	}
}

// Halve immediately halves a worker's score
func (s *Scores) Halve(worker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[worker] = 0.5 * s.values[worker]
}

// Get returns a worker's score
func (s *Scores) Get(worker string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[worker]
}

// Ensure adds workers with a zero score if they are unknown
func (s *Scores) Ensure(workers []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range workers {
		if _, ok := s.values[w]; !ok {
			s.values[w] = 0
		}
	}
}

// WorkerScore is one entry of a score listing
type WorkerScore struct {
	Worker string  `json:"worker" yaml:"worker"`
	Score  float64 `json:"score" yaml:"score"`
}

// List returns all scores ordered by descending score
func (s *Scores) List() []WorkerScore {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]WorkerScore, 0, len(s.values))
	for w, v := range s.values {
		list = append(list, WorkerScore{Worker: w, Score: v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return list[i].Worker < list[j].Worker
	})
	return list
}

// Snapshot returns a copy of the score map
func (s *Scores) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[string]float64, len(s.values))
	for w, v := range s.values {
		snap[w] = v
	}
	return snap
}

// Restore replaces the score map
func (s *Scores) Restore(snap map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = make(map[string]float64, len(snap))
	for w, v := range snap {
		s.values[w] = v
	}
}

// OutcomeRecorder receives credibility samples
type OutcomeRecorder interface {
	RecordOutcome(worker, taskType string, passed bool)
}

// ApplyCredibility records a credibility sample for every outcome that was
// not skipped. Integrity violations also halve the worker's score.
func ApplyCredibility(outcomes []models.WorkerOutcome, taskType string, cred OutcomeRecorder, scores *Scores) {
	for _, o := range outcomes {
		if o.Reason == models.ReasonSkip {
			continue
		}
		if o.Reason == models.ReasonIntegrityViolation {
			scores.Halve(o.Worker)
		}
		cred.RecordOutcome(o.Worker, taskType, o.Reason == models.ReasonValid)
	}
}
