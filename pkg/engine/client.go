package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the engine client settings
type Config struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HTTPEngine talks JSON over HTTP to the simulation service
type HTTPEngine struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPEngine creates a new engine client
func NewHTTPEngine(config Config) *HTTPEngine {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPEngine{
		baseURL: strings.TrimRight(config.URL, "/"),
		token:   config.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Setup prepares the inputs of a task
func (e *HTTPEngine) Setup(ctx context.Context, req SetupRequest) (*SetupResult, error) {
	var result SetupResult
	if err := e.post(ctx, "/setup", req, &result); err != nil {
		return nil, fmt.Errorf("setup %s: %w", req.TaskID, err)
	}
	return &result, nil
}

// Recompute reruns a worker's simulation
func (e *HTTPEngine) Recompute(ctx context.Context, req RecomputeRequest) (*RecomputeResult, error) {
	var result RecomputeResult
	if err := e.post(ctx, "/recompute", req, &result); err != nil {
		return nil, fmt.Errorf("recompute %s for %s: %w", req.TaskID, req.Worker, err)
	}
	if len(result.Energies) == 0 {
		return nil, fmt.Errorf("recompute %s for %s: empty energy series", req.TaskID, req.Worker)
	}
	return &result, nil
}

func (e *HTTPEngine) post(ctx context.Context, path string, in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
