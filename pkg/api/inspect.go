// Package api exposes the read-only inspection endpoints of the validator.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/fold-orchestrator/pkg/logging"
	"github.com/psantana5/fold-orchestrator/pkg/models"
	"github.com/psantana5/fold-orchestrator/pkg/reward"
	"github.com/psantana5/fold-orchestrator/pkg/store"
)

// ScoreSource provides the current per-worker score vector
type ScoreSource interface {
	List() []reward.WorkerScore
}

// JobSummary is the list view of a job
type JobSummary struct {
	JobID        string           `json:"job_id" yaml:"job_id"`
	TaskID       string           `json:"task_id" yaml:"task_id"`
	TaskType     string           `json:"task_type" yaml:"task_type"`
	Status       models.JobStatus `json:"status" yaml:"status"`
	Priority     float64          `json:"priority" yaml:"priority"`
	Workers      int              `json:"workers" yaml:"workers"`
	BestLoss     float64          `json:"best_loss" yaml:"best_loss"`
	BestWorker   string           `json:"best_worker,omitempty" yaml:"best_worker,omitempty"`
	IsOrganic    bool             `json:"is_organic" yaml:"is_organic"`
	Submitter    string           `json:"submitter,omitempty" yaml:"submitter,omitempty"`
	UpdatedCount int              `json:"updated_count" yaml:"updated_count"`
	CreatedAt    time.Time        `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" yaml:"updated_at"`
}

// JobList is the response of GET /jobs
type JobList struct {
	Jobs     []JobSummary `json:"jobs" yaml:"jobs"`
	Total    int          `json:"total" yaml:"total"`
	Page     int          `json:"page" yaml:"page"`
	PageSize int          `json:"page_size" yaml:"page_size"`
}

// SubmitterTasks is the response of GET /submitters/{id}/tasks
type SubmitterTasks struct {
	Submitter string   `json:"submitter" yaml:"submitter"`
	TaskIDs   []string `json:"task_ids" yaml:"task_ids"`
}

// Summarize builds the list view of a job
func Summarize(job *models.Job) JobSummary {
	return JobSummary{
		JobID:        job.JobID,
		TaskID:       job.TaskID,
		TaskType:     job.TaskType,
		Status:       job.Status(),
		Priority:     job.Priority,
		Workers:      len(job.Workers),
		BestLoss:     job.BestLoss,
		BestWorker:   job.BestWorker,
		IsOrganic:    job.IsOrganic,
		Submitter:    job.Submitter,
		UpdatedCount: job.UpdatedCount,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

// InspectHandler serves the inspection API
type InspectHandler struct {
	store  store.Store
	scores ScoreSource
	logger *logging.Logger
}

// NewInspectHandler creates a new inspection handler
func NewInspectHandler(s store.Store, scores ScoreSource, logger *logging.Logger) *InspectHandler {
	return &InspectHandler{store: s, scores: scores, logger: logger}
}

// RegisterRoutes registers the inspection routes
func (h *InspectHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/submitters/{id}/tasks", h.SubmitterTasks).Methods("GET")
	r.HandleFunc("/scores", h.Scores).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// ListJobs handles GET /jobs?status=&q=&page=&page_size=
func (h *InspectHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	status := models.JobStatus(strings.ToLower(query.Get("status")))
	switch status {
	case "", models.JobStatusAll, models.JobStatusActive, models.JobStatusInactive, models.JobStatusFailed:
	default:
		http.Error(w, "Invalid status, expected active, inactive, failed or all", http.StatusBadRequest)
		return
	}

	page, err := intParam(query.Get("page"))
	if err != nil {
		http.Error(w, "Invalid page", http.StatusBadRequest)
		return
	}
	pageSize, err := intParam(query.Get("page_size"))
	if err != nil {
		http.Error(w, "Invalid page_size", http.StatusBadRequest)
		return
	}

	filter := store.JobFilter{
		Status:   status,
		TaskID:   strings.ToLower(strings.TrimSpace(query.Get("q"))),
		Page:     page,
		PageSize: pageSize,
	}.Normalize()

	jobs, total, err := h.store.SearchJobs(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to search jobs", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to search jobs", http.StatusInternalServerError)
		return
	}

	resp := JobList{
		Jobs:     make([]JobSummary, 0, len(jobs)),
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, Summarize(job))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id}
func (h *InspectHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to load job", map[string]interface{}{"job_id": id, "error": err.Error()})
		http.Error(w, "Failed to load job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// SubmitterTasks handles GET /submitters/{id}/tasks
func (h *InspectHandler) SubmitterTasks(w http.ResponseWriter, r *http.Request) {
	submitter := mux.Vars(r)["id"]

	ids, err := h.store.TaskIDsBySubmitter(r.Context(), submitter)
	if err != nil {
		h.logger.Error("Failed to list submitter tasks", map[string]interface{}{
			"submitter": submitter,
			"error":     err.Error(),
		})
		http.Error(w, "Failed to list tasks", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, SubmitterTasks{Submitter: submitter, TaskIDs: ids})
}

// Scores handles GET /scores
func (h *InspectHandler) Scores(w http.ResponseWriter, r *http.Request) {
	scores := []reward.WorkerScore{}
	if h.scores != nil {
		scores = append(scores, h.scores.List()...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scores": scores})
}

// Health handles GET /health
func (h *InspectHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.HealthCheck(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
