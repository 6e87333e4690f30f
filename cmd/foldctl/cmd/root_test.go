package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/fold-orchestrator/pkg/api"
)

func withServer(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	prevURL, prevKey, prevCA := apiURL, apiKey, caFile
	apiURL, apiKey, caFile = srv.URL+"/", "secret", ""
	t.Cleanup(func() { apiURL, apiKey, caFile = prevURL, prevKey, prevCA })
}

func withOutput(t *testing.T, format string) {
	t.Helper()
	prev := outputFormat
	outputFormat = format
	t.Cleanup(func() { outputFormat = prev })
}

func TestGetJSONSendsBearerKey(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/jobs", r.URL.Path)
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		json.NewEncoder(w).Encode(api.JobList{Total: 3, Page: 1})
	})

	var out api.JobList
	require.NoError(t, getJSON("/jobs?status=active", &out))
	assert.Equal(t, 3, out.Total)
}

func TestGetJSONStatusHandling(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","error":"db down"}`))
		default:
			http.Error(w, "Job not found", http.StatusNotFound)
		}
	})

	var missing map[string]interface{}
	err := getJSON("/jobs/nope", &missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "Job not found")

	var health healthResponse
	require.NoError(t, getJSON("/health", &health, http.StatusServiceUnavailable))
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "db down", health.Error)
}

func TestPrintStructured(t *testing.T) {
	value := api.SubmitterTasks{Submitter: "lab-a", TaskIDs: []string{"1ubq"}}

	t.Run("table is left to caller", func(t *testing.T) {
		withOutput(t, "table")
		var buf bytes.Buffer
		done, err := printStructured(&buf, value)
		assert.False(t, done)
		assert.NoError(t, err)
		assert.Zero(t, buf.Len())
	})

	t.Run("json", func(t *testing.T) {
		withOutput(t, "json")
		var buf bytes.Buffer
		done, err := printStructured(&buf, value)
		require.True(t, done)
		require.NoError(t, err)

		var decoded api.SubmitterTasks
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, value, decoded)
	})

	t.Run("yaml", func(t *testing.T) {
		withOutput(t, "yaml")
		var buf bytes.Buffer
		done, err := printStructured(&buf, value)
		require.True(t, done)
		require.NoError(t, err)

		var decoded api.SubmitterTasks
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, value, decoded)
	})

	t.Run("unknown", func(t *testing.T) {
		withOutput(t, "xml")
		done, err := printStructured(&bytes.Buffer{}, value)
		assert.True(t, done)
		assert.Error(t, err)
	})
}

func TestFormatLoss(t *testing.T) {
	assert.Equal(t, "-", formatLoss(0))
	assert.Equal(t, "-12.500", formatLoss(-12.5))
	assert.Equal(t, "abcdefgh", shortID("abcdefgh-1234"))
	assert.Equal(t, "abc", shortID("abc"))
}
