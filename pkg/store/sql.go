package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/fold-orchestrator/pkg/errdefs"
	"github.com/psantana5/fold-orchestrator/pkg/models"
)

// sqlJobs holds the queries shared by the SQLite and PostgreSQL stores.
// Jobs are persisted as a JSON document next to the indexed columns the
// queue queries filter on. Timestamps are stored as Unix nanoseconds.
type sqlJobs struct {
	db      *sql.DB
	dollar  bool // rewrite ? placeholders to $n
	nowFunc func() time.Time
}

const jobColumns = `record_id, data`

func (s *sqlJobs) bind(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlJobs) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now()
}

// SetClock overrides the time source used for readiness checks
func (s *sqlJobs) SetClock(now func() time.Time) {
	s.nowFunc = now
}

func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func (s *sqlJobs) scanJobs(rows *sql.Rows) ([]*models.Job, error) {
	defer rows.Close()

	jobs := make([]*models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var recordID int64
	var data string
	if err := row.Scan(&recordID, &data); err != nil {
		return nil, err
	}

	var job models.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %d: %w", recordID, err)
	}
	job.RecordID = recordID
	return &job, nil
}

func (s *sqlJobs) getQueue(ctx context.Context, ready bool) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE active = ?`
	args := []interface{}{true}
	if ready {
		query += ` AND ready_at <= ?`
		args = append(args, s.now().UnixNano())
	}
	query += ` ORDER BY record_id ASC`

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, errdefs.Persistence("get queue", "", err)
	}
	jobs, err := s.scanJobs(rows)
	if err != nil {
		return nil, errdefs.Persistence("get queue", "", err)
	}
	return jobs, nil
}

func (s *sqlJobs) getInactiveSince(ctx context.Context, since time.Time) ([]*models.Job, error) {
	// the zero time is outside the UnixNano range
	lower := int64(math.MinInt64)
	if !since.IsZero() {
		lower = since.UnixNano()
	}
	rows, err := s.db.QueryContext(ctx, s.bind(`
		SELECT `+jobColumns+` FROM jobs
		WHERE active = ? AND archived = ? AND finalized_at > ?
		ORDER BY record_id ASC
	`), false, false, lower)
	if err != nil {
		return nil, errdefs.Persistence("get inactive", "", err)
	}
	jobs, err := s.scanJobs(rows)
	if err != nil {
		return nil, errdefs.Persistence("get inactive", "", err)
	}
	return jobs, nil
}

func (s *sqlJobs) update(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errdefs.Persistence("update", job.JobID, fmt.Errorf("failed to marshal job: %w", err))
	}

	result, err := s.db.ExecContext(ctx, s.bind(`
		UPDATE jobs SET
			task_id = ?, task_type = ?, submitter = ?, is_organic = ?,
			active = ?, failed = ?, archived = ?,
			ready_at = ?, finalized_at = ?, data = ?
		WHERE job_id = ?
	`), job.TaskID, job.TaskType, job.Submitter, job.IsOrganic,
		job.Active, job.Failed, job.Archived,
		job.ReadyAt().UnixNano(), nullableNanos(job.FinalizedAt), string(data),
		job.JobID)
	if err != nil {
		return errdefs.Persistence("update", job.JobID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errdefs.Persistence("update", job.JobID, err)
	}
	if rowsAffected == 0 {
		return errdefs.Persistence("update", job.JobID, ErrJobNotFound)
	}
	return nil
}

func (s *sqlJobs) allTaskIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`SELECT task_id FROM jobs WHERE active = ? ORDER BY record_id ASC`), true)
	if err != nil {
		return nil, errdefs.Persistence("task ids", "", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errdefs.Persistence("task ids", "", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqlJobs) getJob(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`), jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, errdefs.Persistence("get", jobID, err)
	}
	return job, nil
}

func statusClause(status models.JobStatus) (string, []interface{}) {
	switch status {
	case models.JobStatusActive:
		return `active = ?`, []interface{}{true}
	case models.JobStatusFailed:
		return `active = ? AND failed = ?`, []interface{}{false, true}
	case models.JobStatusInactive:
		return `active = ? AND failed = ?`, []interface{}{false, false}
	default:
		return `1 = 1`, nil
	}
}

func (s *sqlJobs) searchJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	filter = filter.Normalize()

	where, args := statusClause(filter.Status)
	if filter.TaskID != "" {
		where += ` AND task_id LIKE ?`
		args = append(args, "%"+filter.TaskID+"%")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.bind(`SELECT COUNT(*) FROM jobs WHERE `+where), args...).Scan(&total); err != nil {
		return nil, 0, errdefs.Persistence("search", "", err)
	}

	pageArgs := append(append([]interface{}{}, args...), filter.PageSize, filter.Offset())
	rows, err := s.db.QueryContext(ctx, s.bind(`
		SELECT `+jobColumns+` FROM jobs WHERE `+where+`
		ORDER BY record_id DESC LIMIT ? OFFSET ?
	`), pageArgs...)
	if err != nil {
		return nil, 0, errdefs.Persistence("search", "", err)
	}
	jobs, err := s.scanJobs(rows)
	if err != nil {
		return nil, 0, errdefs.Persistence("search", "", err)
	}
	return jobs, total, nil
}

func (s *sqlJobs) taskIDsBySubmitter(ctx context.Context, submitter string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`
		SELECT DISTINCT task_id FROM jobs
		WHERE is_organic = ? AND submitter = ?
		ORDER BY task_id ASC
	`), true, submitter)
	if err != nil {
		return nil, errdefs.Persistence("submitter tasks", "", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errdefs.Persistence("submitter tasks", "", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqlJobs) archive(ctx context.Context, jobID string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return errdefs.Persistence("archive", jobID, err)
	}
	job.Archived = true
	return s.update(ctx, job)
}

func (s *sqlJobs) deleteArchivedBefore(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, s.bind(`
		DELETE FROM jobs WHERE archived = ? AND finalized_at < ?
	`), true, before.UnixNano())
	if err != nil {
		return 0, errdefs.Persistence("delete archived", "", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errdefs.Persistence("delete archived", "", err)
	}
	return int(n), nil
}

func insertArgs(job *models.Job) ([]interface{}, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return []interface{}{
		job.JobID, job.TaskID, job.TaskType, job.Submitter, job.IsOrganic,
		job.Active, job.Failed, job.Archived,
		job.CreatedAt.UnixNano(), job.ReadyAt().UnixNano(), nullableNanos(job.FinalizedAt),
		string(data),
	}, nil
}

const insertJobSQL = `
	INSERT INTO jobs
	(job_id, task_id, task_type, submitter, is_organic, active, failed, archived,
	 created_at, ready_at, finalized_at, data)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
