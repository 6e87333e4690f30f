package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/fold-orchestrator/pkg/models"
	"github.com/psantana5/fold-orchestrator/pkg/store"
)

// Exporter serves store-derived gauges followed by the registered instruments
type Exporter struct {
	store     store.Store
	metrics   *Metrics
	startTime time.Time
}

// NewExporter creates a new Prometheus exporter for the validator
func NewExporter(s store.Store, m *Metrics) *Exporter {
	return &Exporter{store: s, metrics: m, startTime: time.Now()}
}

// ServeHTTP serves Prometheus-compatible metrics at /metrics
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	active, err := e.store.GetQueue(ctx, false)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error collecting job metrics: %v", err), http.StatusInternalServerError)
		return
	}
	ready, err := e.store.GetQueue(ctx, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error collecting job metrics: %v", err), http.StatusInternalServerError)
		return
	}

	byType := map[string]int{
		models.TaskTypeSyntheticMD: 0,
		models.TaskTypeOrganicMD:   0,
	}
	for _, job := range active {
		byType[job.TaskType]++
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))

	fmt.Fprintf(w, "# HELP fold_validator_uptime_seconds Validator uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE fold_validator_uptime_seconds gauge\n")
	fmt.Fprintf(w, "fold_validator_uptime_seconds %.0f\n", time.Since(e.startTime).Seconds())

	fmt.Fprintf(w, "\n# HELP fold_active_jobs Number of active jobs\n")
	fmt.Fprintf(w, "# TYPE fold_active_jobs gauge\n")
	fmt.Fprintf(w, "fold_active_jobs %d\n", len(active))

	fmt.Fprintf(w, "\n# HELP fold_ready_jobs Active jobs due for an update cycle\n")
	fmt.Fprintf(w, "# TYPE fold_ready_jobs gauge\n")
	fmt.Fprintf(w, "fold_ready_jobs %d\n", len(ready))

	fmt.Fprintf(w, "\n# HELP fold_active_jobs_by_type Active jobs by task type\n")
	fmt.Fprintf(w, "# TYPE fold_active_jobs_by_type gauge\n")
	for taskType, count := range byType {
		fmt.Fprintf(w, "fold_active_jobs_by_type{task_type=\"%s\"} %d\n", taskType, count)
	}
	fmt.Fprintf(w, "\n")

	if e.metrics == nil {
		return
	}

	families, err := e.metrics.Registry.Gather()
	if err != nil {
		fmt.Fprintf(w, "# Error gathering metrics: %v\n", err)
		return
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, format)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			fmt.Fprintf(w, "# Error encoding metric %s: %v\n", mf.GetName(), err)
		}
	}
	w.Write(buf.Bytes())
}
