package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/fold-orchestrator/pkg/logging"
	"github.com/psantana5/fold-orchestrator/pkg/models"
	"github.com/psantana5/fold-orchestrator/pkg/store"
)

func TestCleanupNow(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	add := func(taskID string, finalizedAgo time.Duration, archived bool) string {
		at := now.Add(-finalizedAgo)
		id, err := s.Enqueue(ctx, &models.Job{
			TaskID:          taskID,
			FinalizedAt:     &at,
			ComputedRewards: []float64{},
		})
		require.NoError(t, err)
		if archived {
			require.NoError(t, s.Archive(ctx, id))
		}
		return id
	}

	old := add("1ubq", 10*24*time.Hour, true)
	recent := add("2abc", time.Hour, true)
	unarchived := add("3xyz", 10*24*time.Hour, false)

	config := DefaultConfig()
	m := NewManager(config, s, logging.NewLogger(logging.ERROR, false))
	m.nowFunc = func() time.Time { return now }

	assert.Equal(t, 1, m.CleanupNow(ctx))

	_, err := s.GetJob(ctx, old)
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	_, err = s.GetJob(ctx, recent)
	assert.NoError(t, err)
	_, err = s.GetJob(ctx, unarchived)
	assert.NoError(t, err)

	stats := m.GetStats()
	assert.EqualValues(t, 1, stats.TotalJobsDeleted)
	assert.Equal(t, now, stats.LastCleanupTime)
}

type failingStore struct{}

func (failingStore) DeleteArchivedBefore(ctx context.Context, before time.Time) (int, error) {
	return 0, errors.New("database is locked")
}

func (failingStore) Vacuum() error { return errors.New("database is locked") }

func TestFailuresLeaveStatsUntouched(t *testing.T) {
	m := NewManager(DefaultConfig(), failingStore{}, logging.NewLogger(logging.ERROR, false))
	assert.Equal(t, 0, m.CleanupNow(context.Background()))
	m.VacuumNow()

	stats := m.GetStats()
	assert.Zero(t, stats.TotalVacuumRuns)
	assert.True(t, stats.LastCleanupTime.IsZero())
}

func TestRunDisabled(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = false
	m := NewManager(config, store.NewMemoryStore(), logging.NewLogger(logging.ERROR, false))

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled manager did not return")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	config := DefaultConfig()
	config.InitialDelay = time.Millisecond
	m := NewManager(config, store.NewMemoryStore(), logging.NewLogger(logging.ERROR, false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return !m.GetStats().LastCleanupTime.IsZero() }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
}
