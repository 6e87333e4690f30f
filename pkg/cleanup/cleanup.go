// Package cleanup deletes archived jobs past their retention window and
// keeps the database compact.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/psantana5/fold-orchestrator/pkg/logging"
)

// Config defines retention policies and cleanup intervals
type Config struct {
	Enabled         bool          `mapstructure:"enabled"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"interval"`
	VacuumInterval  time.Duration `mapstructure:"vacuum_interval"`
	InitialDelay    time.Duration `mapstructure:"initial_delay"`
}

// DefaultConfig returns the cleanup defaults
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Retention:       7 * 24 * time.Hour,
		CleanupInterval: 24 * time.Hour,
		VacuumInterval:  7 * 24 * time.Hour,
		InitialDelay:    5 * time.Minute,
	}
}

// Store is the subset of the job store used for retention
type Store interface {
	DeleteArchivedBefore(ctx context.Context, before time.Time) (int, error)
	Vacuum() error
}

// Stats tracks cleanup operations
type Stats struct {
	LastCleanupTime     time.Time
	LastVacuumTime      time.Time
	TotalJobsDeleted    int64
	TotalVacuumRuns     int64
	LastCleanupDuration time.Duration
	LastVacuumDuration  time.Duration
}

// Manager runs periodic retention cleanup and vacuum
type Manager struct {
	config  Config
	store   Store
	logger  *logging.Logger
	nowFunc func() time.Time
	wg      sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// NewManager creates a new cleanup manager
func NewManager(config Config, store Store, logger *logging.Logger) *Manager {
	return &Manager{config: config, store: store, logger: logger, nowFunc: time.Now}
}

// Run starts the cleanup and vacuum loops and blocks until ctx ends
func (m *Manager) Run(ctx context.Context) {
	if !m.config.Enabled {
		m.logger.Info("Cleanup manager disabled")
		return
	}

	m.logger.Info("Starting cleanup manager", map[string]interface{}{
		"retention": m.config.Retention.String(),
		"interval":  m.config.CleanupInterval.String(),
	})

	m.wg.Add(2)
	go m.cleanupLoop(ctx)
	go m.vacuumLoop(ctx)
	m.wg.Wait()
}

func (m *Manager) cleanupLoop(ctx context.Context) {
	defer m.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(m.config.InitialDelay):
	}
	m.CleanupNow(ctx)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupNow(ctx)
		}
	}
}

func (m *Manager) vacuumLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.VacuumInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.VacuumNow()
		}
	}
}

// CleanupNow deletes archived jobs finalized before the retention cutoff
func (m *Manager) CleanupNow(ctx context.Context) int {
	start := time.Now()
	cutoff := m.nowFunc().Add(-m.config.Retention)

	deleted, err := m.store.DeleteArchivedBefore(ctx, cutoff)
	if err != nil {
		m.logger.Error("Job cleanup failed", map[string]interface{}{"error": err.Error()})
		return 0
	}

	duration := time.Since(start)
	m.mu.Lock()
	m.stats.LastCleanupTime = m.nowFunc()
	m.stats.LastCleanupDuration = duration
	m.stats.TotalJobsDeleted += int64(deleted)
	m.mu.Unlock()

	m.logger.Info("Job cleanup complete", map[string]interface{}{
		"deleted":  deleted,
		"cutoff":   cutoff.Format(time.RFC3339),
		"duration": duration.String(),
	})
	return deleted
}

// VacuumNow performs database maintenance
func (m *Manager) VacuumNow() {
	start := time.Now()
	if err := m.store.Vacuum(); err != nil {
		m.logger.Error("Database vacuum failed", map[string]interface{}{"error": err.Error()})
		return
	}

	duration := time.Since(start)
	m.mu.Lock()
	m.stats.LastVacuumTime = m.nowFunc()
	m.stats.LastVacuumDuration = duration
	m.stats.TotalVacuumRuns++
	m.mu.Unlock()

	m.logger.Info("Database vacuum complete", map[string]interface{}{"duration": duration.String()})
}

// GetStats returns current cleanup statistics
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
