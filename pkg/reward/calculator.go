package reward

import (
	"strings"

	"github.com/psantana5/fold-orchestrator/pkg/models"
)

// Config holds reward tuning
type Config struct {
	TopReward        float64            `mapstructure:"top_reward"`
	TopRewards       map[string]float64 `mapstructure:"top_rewards"` // per task type override
	HistoryThreshold float64            `mapstructure:"history_threshold"`
	Alpha            float64            `mapstructure:"alpha"`
}

// DefaultConfig returns the default reward configuration
func DefaultConfig() Config {
	return Config{
		TopReward:        0.8,
		HistoryThreshold: 0,
		Alpha:            0.1,
	}
}

// HistoryPolicy decides whether a job whose current cycle produced no valid
// outcome may still be rewarded from its historical best
type HistoryPolicy struct {
	Threshold float64
}

// Allows reports whether the job's recorded best beats the threshold
func (p HistoryPolicy) Allows(job *models.Job) bool {
	return job.HasBest() && job.BestLoss < p.Threshold
}

// Decision is the result of computing rewards for one job.
// Workers and Rewards are index-aligned.
type Decision struct {
	Workers     []string
	Energies    []float64
	Rewards     []float64
	Applied     bool
	FromHistory bool
}

// Calculator selects a strategy per task type and applies the history rule
type Calculator struct {
	registry *Registry
	policy   HistoryPolicy
}

// NewCalculator creates a calculator
func NewCalculator(registry *Registry, policy HistoryPolicy) *Calculator {
	return &Calculator{registry: registry, policy: policy}
}

// NewDefaultRegistry registers the rank strategy for the built-in task types
func NewDefaultRegistry(config Config) *Registry {
	r := NewRegistry()
	for _, taskType := range []string{models.TaskTypeSyntheticMD, models.TaskTypeOrganicMD} {
		top := config.TopReward
		for name, v := range config.TopRewards {
			// config keys arrive lowercased
			if strings.EqualFold(name, taskType) {
				top = v
			}
		}
		r.Register(taskType, RankStrategy{TopReward: top})
	}
	return r
}

// Compute derives the reward vector for job from its latest energies.
// When every energy is zero the result is all-zero unless the history
// policy allows rewarding the job's best worker, who is then appended to the
// assignment if absent.
func (c *Calculator) Compute(job *models.Job) (*Decision, error) {
	workers := append([]string(nil), job.Workers...)
	energies := make([]float64, len(workers))
	copy(energies, job.Event.Energies)

	d := &Decision{Workers: workers, Energies: energies}
	if allZero(energies) {
		if !c.policy.Allows(job) {
			d.Rewards = make([]float64, len(workers))
			return d, nil
		}
		idx := indexOf(workers, job.BestWorker)
		if idx < 0 {
			d.Workers = append(d.Workers, job.BestWorker)
			d.Energies = append(d.Energies, 0)
			idx = len(d.Workers) - 1
		}
		d.Energies[idx] = job.BestLoss
		d.FromHistory = true
	}

	strategy, err := c.registry.Get(job.TaskType)
	if err != nil {
		return nil, err
	}
	d.Rewards = strategy.Rewards(d.Energies, job.Priority)
	d.Applied = true
	return d, nil
}

func allZero(values []float64) bool {
	for _, v := range values {
		if v != 0 {
			return false
		}
	}
	return true
}

func indexOf(values []string, v string) int {
	for i, s := range values {
		if s == v {
			return i
		}
	}
	return -1
}
