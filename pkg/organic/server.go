package organic

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/psantana5/fold-orchestrator/pkg/logging"
	"github.com/psantana5/fold-orchestrator/pkg/models"
	"github.com/psantana5/fold-orchestrator/pkg/ratelimit"
)

// IntakeHandler accepts organic job submissions over HTTP
type IntakeHandler struct {
	queue    *Queue
	validate *validator.Validate
	limiter  *ratelimit.Limiter
	logger   *logging.Logger
}

// NewIntakeHandler creates a new intake handler
func NewIntakeHandler(queue *Queue, limiter *ratelimit.Limiter, logger *logging.Logger) *IntakeHandler {
	return &IntakeHandler{
		queue:    queue,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		limiter:  limiter,
		logger:   logger,
	}
}

// RegisterRoutes registers the intake routes
func (h *IntakeHandler) RegisterRoutes(r *mux.Router) {
	submit := r.PathPrefix("/organic").Subrouter()
	if h.limiter != nil {
		submit.Use(h.limiter.Middleware(ratelimit.IPKeyFunc))
	}
	submit.HandleFunc("/jobs", h.SubmitJob).Methods("POST")

	r.HandleFunc("/health", h.Health).Methods("GET")
}

// SubmitJob validates a job request and queues it for the scheduler
func (h *IntakeHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req models.JobRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req.TaskID = strings.ToLower(strings.TrimSpace(req.TaskID))
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	if err := h.queue.Add(req); err != nil {
		h.logger.Warn("Rejected organic job", map[string]interface{}{
			"task_id": req.TaskID,
			"error":   err.Error(),
		})
		http.Error(w, "Intake queue is full, retry later", http.StatusServiceUnavailable)
		return
	}

	h.logger.Info("Queued organic job", map[string]interface{}{
		"task_id":   req.TaskID,
		"submitter": req.Submitter,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"task_id": req.TaskID,
		"status":  "queued",
		"pending": h.queue.Len(),
	})
}

// Health reports the intake queue depth
func (h *IntakeHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"pending": h.queue.Len(),
	})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return "Invalid request: " + strings.Join(parts, ", ")
}
