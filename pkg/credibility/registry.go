// Package credibility tracks per-worker, per-task-type trust and derives how
// often each worker's results are re-verified.
package credibility

import (
	"sort"
	"sync"
)

// Config holds registry tuning
type Config struct {
	Window     int     `mapstructure:"window"`      // samples kept per record
	MinSamples int     `mapstructure:"min_samples"` // samples before trust is earned
	Floor      float64 `mapstructure:"floor"`       // lowest validation probability
}

// DefaultConfig returns the default registry configuration
func DefaultConfig() Config {
	return Config{
		Window:     50,
		MinSamples: 5,
		Floor:      0.1,
	}
}

// Record is the credibility state for one (worker, task type) pair
type Record struct {
	Samples     []float64 `json:"samples"`
	Probability float64   `json:"probability"`
}

// Sample is one outcome recorded during the current cycle
type Sample struct {
	Worker   string
	TaskType string
	Passed   bool
}

// Registry holds credibility records. It is safe for concurrent use.
type Registry struct {
	config  Config
	records map[string]map[string]*Record // worker -> task type -> record
	cycle   []Sample
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry(config Config) *Registry {
	def := DefaultConfig()
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.MinSamples <= 0 {
		config.MinSamples = def.MinSamples
	}
	if config.Floor <= 0 || config.Floor > 1 {
		config.Floor = def.Floor
	}
	return &Registry{
		config:  config,
		records: make(map[string]map[string]*Record),
	}
}

// ValidationProbability returns the chance in (0,1] that the worker's next
// result for taskType is audited. Unknown workers are always audited.
func (r *Registry) ValidationProbability(worker, taskType string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.lookup(worker, taskType)
	if rec == nil {
		return 1.0
	}
	return rec.Probability
}

// RecordOutcome appends a pass/fail sample and recomputes the probability
func (r *Registry) RecordOutcome(worker, taskType string, passed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.ensure(worker, taskType)
	sample := 0.0
	if passed {
		sample = 1.0
	}
	rec.Samples = append(rec.Samples, sample)
	if over := len(rec.Samples) - r.config.Window; over > 0 {
		rec.Samples = append([]float64(nil), rec.Samples[over:]...)
	}
	rec.Probability = r.probability(rec.Samples)

	r.cycle = append(r.cycle, Sample{Worker: worker, TaskType: taskType, Passed: passed})
}

// CycleSamples returns the samples recorded since the last ResetCycleLogs
func (r *Registry) CycleSamples() []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Sample(nil), r.cycle...)
}

// ResetCycleLogs clears per-cycle bookkeeping
func (r *Registry) ResetCycleLogs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycle = r.cycle[:0]
}

// EnsureWorkers creates empty records for workers seen on a directory resync
// so that they show up in snapshots before their first sample.
func (r *Registry) EnsureWorkers(workers []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range workers {
		if _, ok := r.records[w]; !ok {
			r.records[w] = make(map[string]*Record)
		}
	}
}

// Workers returns the known worker IDs, sorted
func (r *Registry) Workers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// probability maps a sample history to an audit probability.
// Below MinSamples every result is audited; above it the probability falls
// linearly with the pass rate but never below Floor.
func (r *Registry) probability(samples []float64) float64 {
	if len(samples) < r.config.MinSamples {
		return 1.0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	passRate := sum / float64(len(samples))
	return 1.0 - (1.0-r.config.Floor)*passRate
}

func (r *Registry) lookup(worker, taskType string) *Record {
	byTask, ok := r.records[worker]
	if !ok {
		return nil
	}
	return byTask[taskType]
}

func (r *Registry) ensure(worker, taskType string) *Record {
	byTask, ok := r.records[worker]
	if !ok {
		byTask = make(map[string]*Record)
		r.records[worker] = byTask
	}
	rec, ok := byTask[taskType]
	if !ok {
		rec = &Record{Probability: 1.0}
		byTask[taskType] = rec
	}
	return rec
}
