package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/psantana5/fold-orchestrator/pkg/errdefs"
	"github.com/psantana5/fold-orchestrator/pkg/models"
)

// PostgreSQLStore implements Store using PostgreSQL
type PostgreSQLStore struct {
	sqlJobs
}

// NewPostgreSQLStore creates a new PostgreSQL store
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	dsn := config.DSN
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}

	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}

	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(1 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{sqlJobs: sqlJobs{db: db, dollar: true}}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates tables if they don't exist
func (s *PostgreSQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		record_id BIGSERIAL PRIMARY KEY,
		job_id TEXT NOT NULL UNIQUE,
		task_id TEXT NOT NULL,
		task_type TEXT NOT NULL,
		submitter TEXT NOT NULL DEFAULT '',
		is_organic BOOLEAN NOT NULL DEFAULT false,
		active BOOLEAN NOT NULL,
		failed BOOLEAN NOT NULL DEFAULT false,
		archived BOOLEAN NOT NULL DEFAULT false,
		created_at BIGINT NOT NULL,
		ready_at BIGINT NOT NULL,
		finalized_at BIGINT,
		data JSONB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_active_ready ON jobs(active, ready_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_finalized ON jobs(active, archived, finalized_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_task_id ON jobs(task_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_submitter ON jobs(submitter);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Enqueue inserts a new job and returns its assigned ID
func (s *PostgreSQLStore) Enqueue(ctx context.Context, job *models.Job) (string, error) {
	prepareInsert(job, s.now())
	args, err := insertArgs(job)
	if err != nil {
		return "", errdefs.Persistence("enqueue", job.JobID, err)
	}

	var recordID int64
	err = s.db.QueryRowContext(ctx, s.bind(insertJobSQL+` RETURNING record_id`), args...).Scan(&recordID)
	if err != nil {
		return "", errdefs.Persistence("enqueue", job.JobID, err)
	}
	job.RecordID = recordID
	return job.JobID, nil
}

// GetQueue returns active jobs ordered by record ID
func (s *PostgreSQLStore) GetQueue(ctx context.Context, ready bool) ([]*models.Job, error) {
	return s.getQueue(ctx, ready)
}

// GetInactiveSince returns unarchived inactive jobs finalized after since
func (s *PostgreSQLStore) GetInactiveSince(ctx context.Context, since time.Time) ([]*models.Job, error) {
	return s.getInactiveSince(ctx, since)
}

// Update overwrites the stored job
func (s *PostgreSQLStore) Update(ctx context.Context, job *models.Job) error {
	return s.update(ctx, job)
}

// AllTaskIDs returns the task IDs of all active jobs
func (s *PostgreSQLStore) AllTaskIDs(ctx context.Context) ([]string, error) {
	return s.allTaskIDs(ctx)
}

// GetJob retrieves a job by ID
func (s *PostgreSQLStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.getJob(ctx, jobID)
}

// SearchJobs returns one page of matching jobs and the total match count
func (s *PostgreSQLStore) SearchJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	return s.searchJobs(ctx, filter)
}

// TaskIDsBySubmitter returns the distinct task IDs submitted by submitter
func (s *PostgreSQLStore) TaskIDsBySubmitter(ctx context.Context, submitter string) ([]string, error) {
	return s.taskIDsBySubmitter(ctx, submitter)
}

// Archive marks a finalized job as archived
func (s *PostgreSQLStore) Archive(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET archived = true, data = jsonb_set(data, '{archived}', 'true')
		WHERE job_id = $1
	`, jobID)
	if err != nil {
		return errdefs.Persistence("archive", jobID, err)
	}
	return nil
}

// DeleteArchivedBefore removes archived jobs finalized before the cutoff
func (s *PostgreSQLStore) DeleteArchivedBefore(ctx context.Context, before time.Time) (int, error) {
	return s.deleteArchivedBefore(ctx, before)
}

// Close closes the database connection
func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies database connectivity
func (s *PostgreSQLStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Vacuum runs VACUUM ANALYZE on the jobs table
func (s *PostgreSQLStore) Vacuum() error {
	_, err := s.db.Exec("VACUUM ANALYZE jobs")
	return err
}
