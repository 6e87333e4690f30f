package organic

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/fold-orchestrator/pkg/ipc"
	"github.com/psantana5/fold-orchestrator/pkg/logging"
	"github.com/psantana5/fold-orchestrator/pkg/models"
	"github.com/psantana5/fold-orchestrator/pkg/ratelimit"
)

func quietLogger() *logging.Logger {
	return logging.NewLogger(logging.ERROR, false)
}

func newTestRouter(queue *Queue, limiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()
	NewIntakeHandler(queue, limiter, quietLogger()).RegisterRoutes(r)
	return r
}

func postJob(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/organic/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestQueue(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Add(models.JobRequest{TaskID: "1ubq"}))
	require.NoError(t, q.Add(models.JobRequest{TaskID: "2abc"}))
	assert.ErrorIs(t, q.Add(models.JobRequest{TaskID: "3xyz"}), ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	items := q.Drain()
	require.Len(t, items, 2)
	assert.Equal(t, "1ubq", items[0].TaskID)
	assert.Equal(t, "2abc", items[1].TaskID)
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Drain())
}

func TestSubmitJob(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid", `{"task_id":"1UBQ","source":"rcsb","submitter":"lab-7"}`, http.StatusAccepted},
		{"missing submitter", `{"task_id":"1ubq"}`, http.StatusBadRequest},
		{"short task id", `{"task_id":"1u","submitter":"lab-7"}`, http.StatusBadRequest},
		{"bad source", `{"task_id":"1ubq","source":"pdb","submitter":"lab-7"}`, http.StatusBadRequest},
		{"priority out of range", `{"task_id":"1ubq","submitter":"lab-7","priority":101}`, http.StatusBadRequest},
		{"unknown field", `{"task_id":"1ubq","submitter":"lab-7","owner":"x"}`, http.StatusBadRequest},
		{"not json", `task_id=1ubq`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(10)
			rec := postJob(newTestRouter(queue, nil), tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus == http.StatusAccepted {
				items := queue.Drain()
				require.Len(t, items, 1)
				assert.Equal(t, "1ubq", items[0].TaskID)
			} else {
				assert.Equal(t, 0, queue.Len())
			}
		})
	}
}

func TestSubmitJobQueueFull(t *testing.T) {
	queue := NewQueue(1)
	r := newTestRouter(queue, nil)

	body := `{"task_id":"1ubq","submitter":"lab-7"}`
	assert.Equal(t, http.StatusAccepted, postJob(r, body).Code)
	assert.Equal(t, http.StatusServiceUnavailable, postJob(r, body).Code)
}

func TestSubmitJobRateLimited(t *testing.T) {
	queue := NewQueue(10)
	r := newTestRouter(queue, ratelimit.NewLimiter(0.001, 1))

	body := `{"task_id":"1ubq","submitter":"lab-7"}`
	assert.Equal(t, http.StatusAccepted, postJob(r, body).Code)
	assert.Equal(t, http.StatusTooManyRequests, postJob(r, body).Code)

	// Health is not rate limited
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

type recordingSender struct {
	mu      sync.Mutex
	batches [][]models.JobRequest
	err     error
}

func (s *recordingSender) Send(items []models.JobRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, items)
	return nil
}

func TestForwarderFlush(t *testing.T) {
	queue := NewQueue(10)
	sender := &recordingSender{}
	f := NewForwarder(queue, sender, time.Hour, quietLogger())

	assert.Equal(t, 0, f.Flush())
	assert.Empty(t, sender.batches)

	require.NoError(t, queue.Add(models.JobRequest{TaskID: "1ubq"}))
	require.NoError(t, queue.Add(models.JobRequest{TaskID: "2abc"}))
	assert.Equal(t, 2, f.Flush())
	require.Len(t, sender.batches, 1)
	assert.Len(t, sender.batches[0], 2)
}

func TestForwarderDropsOnSendFailure(t *testing.T) {
	queue := NewQueue(10)
	sender := &recordingSender{err: errors.New("broken pipe")}
	f := NewForwarder(queue, sender, time.Hour, quietLogger())

	require.NoError(t, queue.Add(models.JobRequest{TaskID: "1ubq"}))
	assert.Equal(t, 0, f.Flush())
	assert.Equal(t, 0, queue.Len())
}

func TestForwarderOverChannel(t *testing.T) {
	var buf bytes.Buffer
	queue := NewQueue(10)
	f := NewForwarder(queue, ipc.NewSender(&buf), time.Hour, quietLogger())

	require.NoError(t, queue.Add(models.JobRequest{TaskID: "1ubq", Submitter: "lab-7"}))
	require.Equal(t, 1, f.Flush())

	batch, err := ipc.ReadBatch(&buf)
	require.NoError(t, err)
	assert.Equal(t, ipc.Version, batch.Version)
	require.Len(t, batch.Items, 1)
	assert.Equal(t, "lab-7", batch.Items[0].Submitter)
}

func TestHealth(t *testing.T) {
	queue := NewQueue(10)
	require.NoError(t, queue.Add(models.JobRequest{TaskID: "1ubq"}))

	rec := httptest.NewRecorder()
	newTestRouter(queue, nil).ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["pending"])
}
