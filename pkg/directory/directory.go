// Package directory tracks the worker roster and dispatches job cycles to
// individual workers.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/psantana5/fold-orchestrator/pkg/errdefs"
	"github.com/psantana5/fold-orchestrator/pkg/logging"
	"github.com/psantana5/fold-orchestrator/pkg/models"
	"github.com/psantana5/fold-orchestrator/pkg/retry"
	"github.com/psantana5/fold-orchestrator/pkg/tracing"
)

// Directory is the view of the worker network the scheduler needs
type Directory interface {
	// ListEligible returns the cached workers that may receive jobs
	ListEligible(ctx context.Context) ([]models.Worker, error)
	// Dispatch sends one cycle of a job to a worker
	Dispatch(ctx context.Context, worker models.Worker, req models.WorkerRequest) (*models.WorkerResponse, error)
	// Refresh reloads the roster and returns every known worker
	Refresh(ctx context.Context) ([]models.Worker, error)
}

// Config holds directory settings
type Config struct {
	RegistryURL string          `mapstructure:"registry_url"`
	Token       string          `mapstructure:"token"`
	Static      []models.Worker `mapstructure:"static"`
	MaxStake    float64         `mapstructure:"max_stake"`
	// RequestTimeout bounds a single dispatch; the cycle timeout from ctx
	// applies on top of it.
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	Retry           retry.Config  `mapstructure:"-"`
}

// DefaultConfig returns the directory defaults
func DefaultConfig() Config {
	return Config{
		MaxStake:        10000,
		RequestTimeout:  5 * time.Minute,
		BreakerFailures: 3,
		BreakerTimeout:  time.Minute,
		Retry:           retry.DefaultConfig(),
	}
}

// HTTPDirectory loads the roster from a registry endpoint (or static config)
// and dispatches over HTTP, one circuit breaker per worker
type HTTPDirectory struct {
	config     Config
	httpClient *http.Client
	logger     *logging.Logger

	mu       sync.RWMutex
	roster   []models.Worker
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewHTTPDirectory creates a directory. The static roster, if any, is
// available immediately.
func NewHTTPDirectory(config Config, logger *logging.Logger) *HTTPDirectory {
	def := DefaultConfig()
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = def.RequestTimeout
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = def.BreakerFailures
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = def.BreakerTimeout
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = def.Retry
	}
	config.RegistryURL = strings.TrimRight(config.RegistryURL, "/")

	d := &HTTPDirectory{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		logger:     logger,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
	d.roster = normalize(config.Static)
	return d
}

// ListEligible returns serving workers within the stake limit
func (d *HTTPDirectory) ListEligible(ctx context.Context) ([]models.Worker, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	eligible := make([]models.Worker, 0, len(d.roster))
	for _, w := range d.roster {
		if w.Eligible(d.config.MaxStake) {
			eligible = append(eligible, w)
		}
	}
	return eligible, nil
}

// Refresh reloads the roster from the registry. Without a registry the
// static roster is returned. On failure the previous roster is kept.
func (d *HTTPDirectory) Refresh(ctx context.Context) ([]models.Worker, error) {
	if d.config.RegistryURL == "" {
		d.mu.RLock()
		defer d.mu.RUnlock()
		return append([]models.Worker(nil), d.roster...), nil
	}

	var workers []models.Worker
	err := retry.Do(ctx, d.config.Retry, func() error {
		var err error
		workers, err = d.fetchRoster(ctx)
		if err != nil && !retry.IsRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("refresh worker roster: %w", err)
	}

	workers = normalize(workers)
	now := time.Now()
	for i := range workers {
		workers[i].LastSeen = now
	}

	d.mu.Lock()
	d.roster = workers
	known := make(map[string]bool, len(workers))
	for _, w := range workers {
		known[w.ID] = true
	}
	for id := range d.breakers {
		if !known[id] {
			delete(d.breakers, id)
		}
	}
	d.mu.Unlock()

	d.logger.Info("Worker roster refreshed", map[string]interface{}{"workers": len(workers)})
	return append([]models.Worker(nil), workers...), nil
}

func (d *HTTPDirectory) fetchRoster(ctx context.Context) ([]models.Worker, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.config.RegistryURL+"/workers", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	d.authorize(req)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("registry returned status %d: %s", resp.StatusCode, string(body))
	}

	var workers []models.Worker
	if err := json.NewDecoder(resp.Body).Decode(&workers); err != nil {
		return nil, fmt.Errorf("failed to decode roster: %w", err)
	}
	return workers, nil
}

// Dispatch posts the request to the worker. Transport failures, non-200
// replies and an open breaker are TransportErrors; an undecodable body is a
// ParseError.
func (d *HTTPDirectory) Dispatch(ctx context.Context, worker models.Worker, req models.WorkerRequest) (*models.WorkerResponse, error) {
	cb := d.breaker(worker.ID)

	out, err := cb.Execute(func() (interface{}, error) {
		return d.post(ctx, worker, req)
	})
	if err != nil {
		var parseErr *errdefs.ParseError
		if errors.As(err, &parseErr) {
			return nil, err
		}
		return nil, &errdefs.TransportError{Worker: worker.ID, Err: err}
	}

	resp := out.(*models.WorkerResponse)
	resp.Worker = worker.ID
	return resp, nil
}

func (d *HTTPDirectory) post(ctx context.Context, worker models.Worker, in models.WorkerRequest) (*models.WorkerResponse, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(worker.Address, "/") + "/job"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	d.authorize(req)
	tracing.InjectHTTPHeaders(ctx, req)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("worker returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	var out models.WorkerResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &errdefs.ParseError{Worker: worker.ID, Reason: "invalid json", Err: err}
	}
	return &out, nil
}

func (d *HTTPDirectory) authorize(req *http.Request) {
	if d.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.config.Token)
	}
}

func (d *HTTPDirectory) breaker(workerID string) *gobreaker.CircuitBreaker {
	d.mu.RLock()
	cb, ok := d.breakers[workerID]
	d.mu.RUnlock()
	if ok {
		return cb
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[workerID]; ok {
		return cb
	}

	failures := d.config.BreakerFailures
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        workerID,
		MaxRequests: 1,
		Timeout:     d.config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A malformed reply still means the worker is reachable
		IsSuccessful: func(err error) bool {
			var parseErr *errdefs.ParseError
			return err == nil || errors.As(err, &parseErr)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("Worker circuit breaker changed state", map[string]interface{}{
				"worker": name,
				"from":   from.String(),
				"to":     to.String(),
			})
		},
	})
	d.breakers[workerID] = cb
	return cb
}

// BreakerState returns the breaker state for a worker
func (d *HTTPDirectory) BreakerState(workerID string) gobreaker.State {
	return d.breaker(workerID).State()
}

// normalize drops entries without id and sorts by id
func normalize(workers []models.Worker) []models.Worker {
	out := make([]models.Worker, 0, len(workers))
	seen := make(map[string]bool, len(workers))
	for _, w := range workers {
		if w.ID == "" || seen[w.ID] {
			continue
		}
		seen[w.ID] = true
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
