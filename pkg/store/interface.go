package store

import (
	"context"
	"errors"
	"time"

	"github.com/psantana5/fold-orchestrator/pkg/models"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
	errDuplicateJob        = errors.New("duplicate job id")
)

// Store defines the interface for job persistence.
// Memory, SQLite and PostgreSQL implement this interface.
type Store interface {
	// Queue operations
	Enqueue(ctx context.Context, job *models.Job) (string, error)
	GetQueue(ctx context.Context, ready bool) ([]*models.Job, error)
	// GetInactiveSince returns unarchived inactive jobs finalized after since.
	// A zero since returns all of them.
	GetInactiveSince(ctx context.Context, since time.Time) ([]*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	AllTaskIDs(ctx context.Context) ([]string, error)

	// Inspection
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	SearchJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	TaskIDsBySubmitter(ctx context.Context, submitter string) ([]string, error)

	// Retention
	Archive(ctx context.Context, jobID string) error
	DeleteArchivedBefore(ctx context.Context, before time.Time) (int, error)

	// Lifecycle
	Close() error
	HealthCheck() error
	Vacuum() error
}

// JobFilter selects jobs for the inspection API.
// Results are ordered newest first.
type JobFilter struct {
	Status   models.JobStatus
	TaskID   string // substring match
	Page     int    // 1-based
	PageSize int
}

// Normalize fills defaults and clamps the page bounds
func (f JobFilter) Normalize() JobFilter {
	if f.Status == "" {
		f.Status = models.JobStatusAll
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 50
	}
	if f.PageSize > 500 {
		f.PageSize = 500
	}
	return f
}

// Offset returns the number of rows to skip
func (f JobFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Config holds database configuration
type Config struct {
	Type string `mapstructure:"type"` // "memory", "sqlite" or "postgres"
	DSN  string `mapstructure:"dsn"`

	// PostgreSQL specific
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// SQLite specific
	Path string `mapstructure:"path"`
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "validator.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}

// matchesStatus reports whether job belongs to the requested status bucket
func matchesStatus(job *models.Job, status models.JobStatus) bool {
	switch status {
	case models.JobStatusAll, "":
		return true
	default:
		return job.Status() == status
	}
}

// prepareInsert stamps identity and timestamps on a job about to be stored
func prepareInsert(job *models.Job, now time.Time) {
	if job.JobID == "" {
		job.JobID = newJobID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
}
