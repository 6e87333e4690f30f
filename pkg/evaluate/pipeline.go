package evaluate

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/psantana5/fold-orchestrator/pkg/errdefs"
	"github.com/psantana5/fold-orchestrator/pkg/logging"
	"github.com/psantana5/fold-orchestrator/pkg/models"
)

// Config holds the pipeline thresholds
type Config struct {
	TopK               int     `mapstructure:"top_k"`
	EnergyWindow       int     `mapstructure:"energy_window"`
	AnomalyThreshold   float64 `mapstructure:"anomaly_threshold"`   // percent
	DuplicateThreshold float64 `mapstructure:"duplicate_threshold"` // absolute
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	return Config{
		TopK:               5,
		EnergyWindow:       10,
		AnomalyThreshold:   500,
		DuplicateThreshold: 1e-4,
	}
}

// Credibility supplies audit probabilities
type Credibility interface {
	ValidationProbability(worker, taskType string) float64
}

// Sampler draws uniformly from [0,1)
type Sampler func() float64

// Response is one worker's answer for a cycle. Err is set when the worker
// could not be reached.
type Response struct {
	Worker string
	Body   *models.WorkerResponse
	Err    error
}

// Result is the output of one pipeline run.
// Energies is index-aligned with the responses passed to Run.
type Result struct {
	Outcomes []models.WorkerOutcome
	Energies []float64
}

// Accepted returns the outcomes that are valid and not duplicates
func (r *Result) Accepted() []models.WorkerOutcome {
	accepted := make([]models.WorkerOutcome, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Valid && !o.Duplicate {
			accepted = append(accepted, o)
		}
	}
	return accepted
}

// Pipeline runs the static pass, ranking and sequential audit over one
// cycle's worker responses
type Pipeline struct {
	config      Config
	evaluators  *Registry
	credibility Credibility
	sample      Sampler
	logger      *logging.Logger
}

// NewPipeline creates a pipeline. A nil sampler uses math/rand.
func NewPipeline(config Config, evaluators *Registry, credibility Credibility, sample Sampler, logger *logging.Logger) *Pipeline {
	def := DefaultConfig()
	if config.TopK <= 0 {
		config.TopK = def.TopK
	}
	if config.EnergyWindow <= 0 {
		config.EnergyWindow = def.EnergyWindow
	}
	if config.AnomalyThreshold <= 0 {
		config.AnomalyThreshold = def.AnomalyThreshold
	}
	if config.DuplicateThreshold <= 0 {
		config.DuplicateThreshold = def.DuplicateThreshold
	}
	if sample == nil {
		sample = rand.Float64
	}
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	return &Pipeline{
		config:      config,
		evaluators:  evaluators,
		credibility: credibility,
		sample:      sample,
		logger:      logger,
	}
}

type candidate struct {
	index        int
	parsed       *Parsed
	parseSeconds float64
}

// Run evaluates the responses for one cycle of job. Per-worker failures are
// logged and isolated; only a missing evaluator for the job's task type is
// returned as an error.
func (p *Pipeline) Run(ctx context.Context, job *models.Job, responses []Response) (*Result, error) {
	evaluator, err := p.evaluators.Get(job.TaskType)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Outcomes: make([]models.WorkerOutcome, 0),
		Energies: make([]float64, len(responses)),
	}
	log := p.logger.WithFields(map[string]interface{}{"job_id": job.JobID, "task_id": job.TaskID})

	candidates := p.staticPass(job, evaluator, responses, log)

	// Lower reported outcomes rank first; ties keep response order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].parsed.Reported < candidates[j].parsed.Reported
	})

	unique := make([]float64, 0, p.config.TopK)
	for _, c := range candidates {
		if ctx.Err() != nil {
			log.Warn("Evaluation cancelled", map[string]interface{}{"error": ctx.Err().Error()})
			break
		}

		outcome, ok := p.auditOne(ctx, job, evaluator, c, log)
		if !ok {
			continue
		}

		if outcome.Valid {
			outcome.Duplicate = isDuplicate(outcome.Accepted, unique, p.config.DuplicateThreshold)
			if !outcome.Duplicate {
				unique = append(unique, outcome.Accepted)
				result.Energies[c.index] = outcome.Accepted
			}
		}
		result.Outcomes = append(result.Outcomes, outcome)

		if len(unique) == p.config.TopK {
			break
		}
	}

	return result, nil
}

// staticPass parses every reachable response. Unreachable, unparsable and
// zero-valued responses are dropped for this cycle.
func (p *Pipeline) staticPass(job *models.Job, evaluator Evaluator, responses []Response, log *logging.Logger) []candidate {
	candidates := make([]candidate, 0, len(responses))
	for i, resp := range responses {
		if resp.Err != nil || resp.Body == nil {
			continue
		}

		if resp.Body.Worker == "" {
			resp.Body.Worker = resp.Worker
		}
		start := time.Now()
		parsed, err := evaluator.Parse(job, resp.Body)
		if err != nil {
			log.Warn("Failed to parse worker response", map[string]interface{}{
				"worker": resp.Worker,
				"error":  err.Error(),
			})
			continue
		}
		if parsed.Reported == 0 {
			continue
		}
		parsed.Worker = resp.Worker
		candidates = append(candidates, candidate{
			index:        i,
			parsed:       parsed,
			parseSeconds: time.Since(start).Seconds(),
		})
	}
	return candidates
}

// auditOne audits or trusts one candidate and applies the anomaly check.
// It returns false when the worker must be left out of the cycle entirely.
func (p *Pipeline) auditOne(ctx context.Context, job *models.Job, evaluator Evaluator, c candidate, log *logging.Logger) (models.WorkerOutcome, bool) {
	parsed := c.parsed
	outcome := models.WorkerOutcome{
		Worker:       parsed.Worker,
		Reported:     parsed.Reported,
		Artifacts:    copyArtifacts(parsed.Artifacts),
		ParseSeconds: c.parseSeconds,
	}

	start := time.Now()
	probability := p.credibility.ValidationProbability(parsed.Worker, job.TaskType)
	if p.sample() >= probability {
		outcome.Checked = append([]float64(nil), parsed.Trajectory...)
		outcome.Accepted = parsed.Reported
		outcome.Reason = models.ReasonSkip
	} else {
		audit, err := evaluator.Audit(ctx, job, parsed)
		outcome.ValidateSeconds = time.Since(start).Seconds()
		if err != nil {
			var iv *errdefs.IntegrityViolation
			if errors.As(err, &iv) {
				log.Warn("Checkpoint integrity violation", map[string]interface{}{
					"worker": parsed.Worker,
					"error":  err.Error(),
				})
				outcome.Reason = models.ReasonIntegrityViolation
				return outcome, true
			}
			// An unverifiable result is left out of Outcomes on purpose, so
			// the worker gets no credibility sample and no reward this cycle.
			log.Error("Failed to audit worker", map[string]interface{}{
				"worker": parsed.Worker,
				"error":  err.Error(),
			})
			return outcome, false
		}
		outcome.Checked = audit.Checked
		outcome.Accepted = median(tail(audit.Checked, p.config.EnergyWindow))
		outcome.Reason = audit.Reason
		for k, v := range audit.Artifacts {
			if outcome.Artifacts == nil {
				outcome.Artifacts = make(map[string]string)
			}
			outcome.Artifacts[k] = v
		}
	}
	outcome.ValidateSeconds = time.Since(start).Seconds()
	outcome.Valid = outcome.Accepted != 0

	if outcome.Valid && p.anomalous(outcome.Accepted, outcome.Reported) {
		log.Warn("Energy difference too large", map[string]interface{}{
			"worker":   parsed.Worker,
			"reported": outcome.Reported,
			"accepted": outcome.Accepted,
		})
		outcome.Valid = false
		outcome.Reason = models.ReasonTooLargeDifference
	}
	return outcome, true
}

// anomalous reports whether accepted deviates from reported by strictly
// more than the anomaly threshold, in percent of the reported value
func (p *Pipeline) anomalous(accepted, reported float64) bool {
	percent := math.Abs((accepted-reported)/reported) * 100
	return percent > p.config.AnomalyThreshold
}

// isDuplicate reports whether v lies strictly closer than threshold to any
// already accepted value
func isDuplicate(v float64, accepted []float64, threshold float64) bool {
	for _, a := range accepted {
		if math.Abs(v-a) < threshold {
			return true
		}
	}
	return false
}

func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func copyArtifacts(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
