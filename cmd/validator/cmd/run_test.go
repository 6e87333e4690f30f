package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/fold-orchestrator/pkg/auth"
	"github.com/psantana5/fold-orchestrator/pkg/config"
	"github.com/psantana5/fold-orchestrator/pkg/logging"
	"github.com/psantana5/fold-orchestrator/pkg/metrics"
	"github.com/psantana5/fold-orchestrator/pkg/reward"
	"github.com/psantana5/fold-orchestrator/pkg/store"
)

func TestAPIServerRoutes(t *testing.T) {
	key, hash, err := auth.GenerateAPIKey()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.API.Keys = map[string]string{"ops": hash}
	cfg.API.RateLimit = 0

	scores := reward.NewScores(0.5)
	scores.Ensure([]string{"w1"})

	srv, err := newAPIServer(&cfg, store.NewMemoryStore(), scores, metrics.New(), nil, logging.NewLogger(logging.ERROR, false))
	require.NoError(t, err)
	assert.Nil(t, srv.TLSConfig)

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	get := func(path, bearer string) int {
		req, err := http.NewRequest("GET", ts.URL+path, nil)
		require.NoError(t, err)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get("/health", ""))
	assert.Equal(t, http.StatusOK, get("/metrics", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/jobs", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/scores", "wrong"))
	assert.Equal(t, http.StatusOK, get("/jobs", key))
	assert.Equal(t, http.StatusOK, get("/scores", key))
	assert.Equal(t, http.StatusNotFound, get("/jobs/missing", key))
}

func TestAPIServerRejectsBadKeyHash(t *testing.T) {
	cfg := config.Default()
	cfg.API.Keys = map[string]string{"ops": "not-a-hash"}

	_, err := newAPIServer(&cfg, store.NewMemoryStore(), nil, metrics.New(), nil, logging.NewLogger(logging.ERROR, false))
	assert.Error(t, err)
}
