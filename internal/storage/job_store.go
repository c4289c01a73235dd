package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/daygrid/daygrid/internal/core"
)

// JobStore is the durable sync job queue. Jobs are ordered by priority
// (lower first) then by scheduled time. Status transitions go through
// single-row compare-and-set updates, so a job can only be claimed by one
// worker and terminal jobs stay immutable.
type JobStore struct {
	db *DB
}

// NewJobStore creates a new job store
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

// Enqueue adds a pending job for a connection
func (s *JobStore) Enqueue(connID core.ConnectionID, op core.JobOp, payload map[string]any, priority, maxAttempts int) (*core.SyncJob, error) {
	now := time.Now().UTC()
	job := &core.SyncJob{
		ID:           core.JobID(uuid.New().String()),
		ConnectionID: connID,
		Op:           op,
		Payload:      payload,
		Priority:     priority,
		Status:       core.JobPending,
		ScheduledAt:  now,
		MaxAttempts:  maxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	data, _ := json.Marshal(job.Payload)

	_, err := s.db.conn.Exec(`
		INSERT INTO sync_jobs (
		    id, connection_id, op, payload, priority, status, scheduled_at,
		    started_at, completed_at, attempts, max_attempts, last_error,
		    created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.ConnectionID, job.Op, string(data), job.Priority,
		job.Status, job.ScheduledAt, nil, nil, job.Attempts, job.MaxAttempts,
		"", job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return job, nil
}

// DequeueNext returns the next due pending job for a connection:
// lowest priority value first, oldest scheduled time second. Returns nil
// when nothing is due.
func (s *JobStore) DequeueNext(connID core.ConnectionID) (*core.SyncJob, error) {
	job, err := scanJob(s.db.conn.QueryRow(`
		SELECT id, connection_id, op, payload, priority, status, scheduled_at,
		       started_at, completed_at, attempts, max_attempts, last_error,
		       created_at, updated_at
		FROM sync_jobs
		WHERE connection_id = ? AND status = ? AND scheduled_at <= ?
		ORDER BY priority ASC, scheduled_at ASC
		LIMIT 1
	`, connID, core.JobPending, time.Now().UTC()))

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// MarkRunning claims a pending job. The WHERE clause is the compare-and-set:
// a job already claimed, cancelled or finished cannot be claimed again.
func (s *JobStore) MarkRunning(job *core.SyncJob) error {
	now := time.Now().UTC()

	res, err := s.db.conn.Exec(`
		UPDATE sync_jobs SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, core.JobRunning, now, now, job.ID, core.JobPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrJobImmutable
	}

	job.Status = core.JobRunning
	job.StartedAt = &now
	job.UpdatedAt = now
	return nil
}

// MarkCompleted transitions a running job to completed
func (s *JobStore) MarkCompleted(job *core.SyncJob) error {
	now := time.Now().UTC()

	res, err := s.db.conn.Exec(`
		UPDATE sync_jobs SET status = ?, completed_at = ?, last_error = '', updated_at = ?
		WHERE id = ? AND status = ?
	`, core.JobCompleted, now, now, job.ID, core.JobRunning)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrJobImmutable
	}

	job.Status = core.JobCompleted
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

// MarkFailed records a failed attempt. While attempts remain the job goes
// back to pending with exponential backoff (base * 2^(attempts-1), capped);
// otherwise it becomes terminally failed. Returns true when the job will
// be retried.
func (s *JobStore) MarkFailed(job *core.SyncJob, errText string, backoffBase, backoffCap time.Duration) (bool, error) {
	now := time.Now().UTC()
	job.Attempts++
	job.LastError = errText

	if job.Attempts < job.MaxAttempts {
		delay := backoffBase << uint(job.Attempts-1)
		if backoffCap > 0 && delay > backoffCap {
			delay = backoffCap
		}
		nextRun := now.Add(delay)

		res, err := s.db.conn.Exec(`
			UPDATE sync_jobs SET status = ?, scheduled_at = ?, attempts = ?, last_error = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, core.JobPending, nextRun, job.Attempts, errText, now, job.ID, core.JobRunning)
		if err != nil {
			return false, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, core.ErrJobImmutable
		}

		job.Status = core.JobPending
		job.ScheduledAt = nextRun
		job.UpdatedAt = now
		return true, nil
	}

	res, err := s.db.conn.Exec(`
		UPDATE sync_jobs SET status = ?, completed_at = ?, attempts = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, core.JobFailed, now, job.Attempts, errText, now, job.ID, core.JobRunning)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, core.ErrJobImmutable
	}

	job.Status = core.JobFailed
	job.CompletedAt = &now
	job.UpdatedAt = now
	return false, nil
}

// MarkFailedTerminal fails a running job immediately, with no retry.
// Used for malformed payloads and fatal connection errors where backoff
// cannot help.
func (s *JobStore) MarkFailedTerminal(job *core.SyncJob, errText string) error {
	now := time.Now().UTC()
	job.Attempts++
	job.LastError = errText

	res, err := s.db.conn.Exec(`
		UPDATE sync_jobs SET status = ?, completed_at = ?, attempts = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, core.JobFailed, now, job.Attempts, errText, now, job.ID, core.JobRunning)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrJobImmutable
	}

	job.Status = core.JobFailed
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

// Cancel cancels a job. Only pending jobs can be cancelled; running jobs
// always run to completion or failure.
func (s *JobStore) Cancel(id core.JobID) error {
	now := time.Now().UTC()

	res, err := s.db.conn.Exec(`
		UPDATE sync_jobs SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, core.JobCancelled, now, now, id, core.JobPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrJobImmutable
	}
	return nil
}

// Get returns a job by ID
func (s *JobStore) Get(id core.JobID) (*core.SyncJob, error) {
	job, err := scanJob(s.db.conn.QueryRow(`
		SELECT id, connection_id, op, payload, priority, status, scheduled_at,
		       started_at, completed_at, attempts, max_attempts, last_error,
		       created_at, updated_at
		FROM sync_jobs WHERE id = ?
	`, id))

	if err == sql.ErrNoRows {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListByConnection returns recent jobs for a connection, newest first
func (s *JobStore) ListByConnection(connID core.ConnectionID, limit int) ([]*core.SyncJob, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, connection_id, op, payload, priority, status, scheduled_at,
		       started_at, completed_at, attempts, max_attempts, last_error,
		       created_at, updated_at
		FROM sync_jobs WHERE connection_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, connID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*core.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// PendingCount returns how many jobs are waiting for a connection
func (s *JobStore) PendingCount(connID core.ConnectionID) (int, error) {
	var count int
	err := s.db.conn.QueryRow(`
		SELECT COUNT(*) FROM sync_jobs WHERE connection_id = ? AND status = ?
	`, connID, core.JobPending).Scan(&count)
	return count, err
}

func scanJob(row rowScanner) (*core.SyncJob, error) {
	job := &core.SyncJob{}
	var payload, lastError sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.ConnectionID, &job.Op, &payload, &job.Priority,
		&job.Status, &job.ScheduledAt, &startedAt, &completedAt,
		&job.Attempts, &job.MaxAttempts, &lastError,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.LastError = lastError.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if payload.Valid && payload.String != "" {
		json.Unmarshal([]byte(payload.String), &job.Payload)
	}

	return job, nil
}
