package credibility

// Snapshot is the serializable registry state
type Snapshot struct {
	Records map[string]map[string]Record `json:"records"`
}

// Snapshot returns a deep copy of all records
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{Records: make(map[string]map[string]Record, len(r.records))}
	for worker, byTask := range r.records {
		tasks := make(map[string]Record, len(byTask))
		for taskType, rec := range byTask {
			tasks[taskType] = Record{
				Samples:     append([]float64(nil), rec.Samples...),
				Probability: rec.Probability,
			}
		}
		snap.Records[worker] = tasks
	}
	return snap
}

// Restore replaces the registry state with snap. Probabilities are
// recomputed under the current configuration and histories are trimmed to
// the current window.
func (r *Registry) Restore(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[string]map[string]*Record, len(snap.Records))
	for worker, byTask := range snap.Records {
		tasks := make(map[string]*Record, len(byTask))
		for taskType, rec := range byTask {
			samples := rec.Samples
			if over := len(samples) - r.config.Window; over > 0 {
				samples = samples[over:]
			}
			samples = append([]float64(nil), samples...)
			tasks[taskType] = &Record{Samples: samples, Probability: r.probability(samples)}
		}
		r.records[worker] = tasks
	}
	r.cycle = nil
}
