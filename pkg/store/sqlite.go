package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/psantana5/fold-orchestrator/pkg/errdefs"
	"github.com/psantana5/fold-orchestrator/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the job store
type SQLiteStore struct {
	sqlJobs
	mu sync.Mutex
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// - _journal_mode=WAL: readers do not block the update loop's writes
	// - _busy_timeout=10000: wait up to 10 seconds when the database is locked
	// - _txlock=immediate: take the write lock at transaction start
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_cache_size=-8000&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{sqlJobs: sqlJobs{db: db}}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		record_id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		task_id TEXT NOT NULL,
		task_type TEXT NOT NULL,
		submitter TEXT NOT NULL DEFAULT '',
		is_organic BOOLEAN NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL,
		failed BOOLEAN NOT NULL DEFAULT 0,
		archived BOOLEAN NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		ready_at INTEGER NOT NULL,
		finalized_at INTEGER,
		data TEXT NOT NULL
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
func (s *SQLiteStore) Enqueue(ctx context.Context, job *models.Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepareInsert(job, s.now())
	args, err := insertArgs(job)
	if err != nil {
		return "", errdefs.Persistence("enqueue", job.JobID, err)
	}

	result, err := s.db.ExecContext(ctx, insertJobSQL, args...)
	if err != nil {
		return "", errdefs.Persistence("enqueue", job.JobID, err)
	}
	recordID, err := result.LastInsertId()
	if err != nil {
		return "", errdefs.Persistence("enqueue", job.JobID, err)
	}
	job.RecordID = recordID
	return job.JobID, nil
}

// GetQueue returns active jobs ordered by record ID
func (s *SQLiteStore) GetQueue(ctx context.Context, ready bool) ([]*models.Job, error) {
	return s.getQueue(ctx, ready)
}

// GetInactiveSince returns unarchived inactive jobs finalized after since
func (s *SQLiteStore) GetInactiveSince(ctx context.Context, since time.Time) ([]*models.Job, error) {
	return s.getInactiveSince(ctx, since)
}

// Update overwrites the stored job
func (s *SQLiteStore) Update(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, job)
}

// AllTaskIDs returns the task IDs of all active jobs
func (s *SQLiteStore) AllTaskIDs(ctx context.Context) ([]string, error) {
	return s.allTaskIDs(ctx)
}

// GetJob retrieves a job by ID
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.getJob(ctx, jobID)
}

// SearchJobs returns one page of matching jobs and the total match count
func (s *SQLiteStore) SearchJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	return s.searchJobs(ctx, filter)
}

// TaskIDsBySubmitter returns the distinct task IDs submitted by submitter
func (s *SQLiteStore) TaskIDsBySubmitter(ctx context.Context, submitter string) ([]string, error) {
	return s.taskIDsBySubmitter(ctx, submitter)
}

// Archive marks a finalized job as archived
func (s *SQLiteStore) Archive(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archive(ctx, jobID)
}

// DeleteArchivedBefore removes archived jobs finalized before the cutoff
func (s *SQLiteStore) DeleteArchivedBefore(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteArchivedBefore(ctx, before)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

// Vacuum reclaims space left by deleted jobs
func (s *SQLiteStore) Vacuum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("VACUUM")
	return err
}
