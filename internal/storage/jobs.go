package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/copperbooks/recon/internal/common"
	"github.com/copperbooks/recon/internal/model"
	"github.com/copperbooks/recon/internal/service"
)

const jobColumns = `id, queue, type, payload, status, attempts, max_attempts,
	COALESCE(last_error, ''), COALESCE(result, ''), run_at, created_at, started_at, finished_at`

// EnqueueJob inserts a new waiting job. Re-enqueueing an existing id is a
// duplicate error, not an update.
func (s *SQLiteStorage) EnqueueJob(ctx context.Context, job *model.Job) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateJob(job); err != nil {
		return err
	}

	runAt := job.RunAt
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, queue, type, payload, status, attempts, max_attempts, run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Queue, job.Type, string(job.Payload), string(model.JobWaiting), 0, job.MaxAttempts, runAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("job %s: %w", job.ID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// ClaimJob moves the oldest runnable waiting job on the queue to active and
// returns it. Returns (nil, nil) when nothing is runnable. The select and
// the status flip run in one transaction so two workers never claim the
// same job.
func (s *SQLiteStorage) ClaimJob(ctx context.Context, queue string) (*model.Job, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(queue, "queue"); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE queue = ? AND status = 'waiting' AND run_at <= ?
		ORDER BY run_at ASC, created_at ASC
		LIMIT 1
	`, queue, now)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'active', attempts = attempts + 1, started_at = ?
		WHERE id = ? AND status = 'waiting'
	`, now, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check claim of job %s: %w", job.ID, err)
	}
	if affected == 0 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim of job %s: %w", job.ID, err)
	}

	job.Status = model.JobActive
	job.Attempts++
	job.StartedAt = &now
	return job, nil
}

// CompleteJob marks an active job completed and records its result.
func (s *SQLiteStorage) CompleteJob(ctx context.Context, id string, result string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', result = ?, finished_at = ?
		WHERE id = ? AND status = 'active'
	`, result, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check completion of job %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// FailJob records a failed attempt. When runAt is non-nil the job goes back
// to waiting for that time; otherwise it is terminally failed.
func (s *SQLiteStorage) FailJob(ctx context.Context, id string, lastError string, runAt *time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	var res sql.Result
	var err error
	if runAt != nil {
		res, err = s.db.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'waiting', last_error = ?, run_at = ?
			WHERE id = ? AND status = 'active'
		`, lastError, runAt.UTC(), id)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'failed', last_error = ?, finished_at = ?
			WHERE id = ? AND status = 'active'
		`, lastError, time.Now().UTC(), id)
	}
	if err != nil {
		return fmt.Errorf("failed to fail job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check failure of job %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// ListFailedJobs returns the most recent terminally failed jobs.
func (s *SQLiteStorage) ListFailedJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'failed'
		ORDER BY finished_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectJobs(rows)
}

// QueueDepths returns a per-queue, per-status job count for the operator
// board.
func (s *SQLiteStorage) QueueDepths(ctx context.Context) ([]model.QueueDepth, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT queue, status, COUNT(*)
		FROM jobs
		GROUP BY queue, status
		ORDER BY queue ASC, status ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue depths: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var depths []model.QueueDepth
	for rows.Next() {
		var d model.QueueDepth
		var status string
		if err := rows.Scan(&d.Queue, &status, &d.Count); err != nil {
			return nil, fmt.Errorf("failed to scan queue depth: %w", err)
		}
		d.Status = model.JobStatus(status)
		depths = append(depths, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue depths: %w", err)
	}
	return depths, nil
}

// ReclaimStalledJobs recovers active jobs abandoned by a dead worker. Rows
// whose attempt started before now minus olderThan go back to waiting when
// attempts remain; exhausted rows are failed terminally so a job that
// repeatedly kills its worker cannot loop forever.
func (s *SQLiteStorage) ReclaimStalledJobs(ctx context.Context, queue string, olderThan time.Duration) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(queue, "queue"); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)

	failedRes, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', last_error = 'worker lost: attempt never settled', finished_at = ?
		WHERE queue = ? AND status = 'active' AND started_at <= ? AND attempts >= max_attempts
	`, now, queue, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stalled jobs: %w", err)
	}
	failed, err := failedRes.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count failed stalled jobs: %w", err)
	}

	requeuedRes, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'waiting', run_at = ?
		WHERE queue = ? AND status = 'active' AND started_at <= ?
	`, now, queue, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stalled jobs: %w", err)
	}
	requeued, err := requeuedRes.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count requeued stalled jobs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit stalled job reclaim: %w", err)
	}
	return failed + requeued, nil
}

// PruneJobs enforces retention on finished jobs: first by age, then by
// count, keeping the most recently finished.
func (s *SQLiteStorage) PruneJobs(ctx context.Context, queue string, completed, failed service.Retention) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(queue, "queue"); err != nil {
		return err
	}

	if err := s.pruneStatus(ctx, queue, model.JobCompleted, completed); err != nil {
		return err
	}
	return s.pruneStatus(ctx, queue, model.JobFailed, failed)
}

func (s *SQLiteStorage) pruneStatus(ctx context.Context, queue string, status model.JobStatus, policy service.Retention) error {
	if policy.Age > 0 {
		cutoff := time.Now().UTC().Add(-policy.Age)
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE queue = ? AND status = ? AND finished_at < ?
		`, queue, string(status), cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune %s jobs by age: %w", status, err)
		}
	}

	if policy.Count > 0 {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE queue = ? AND status = ? AND id NOT IN (
				SELECT id FROM jobs
				WHERE queue = ? AND status = ?
				ORDER BY finished_at DESC
				LIMIT ?
			)
		`, queue, string(status), queue, string(status), policy.Count)
		if err != nil {
			return fmt.Errorf("failed to prune %s jobs by count: %w", status, err)
		}
	}

	return nil
}

func scanJob(row rowScanner) (*model.Job, error) {
	var job model.Job
	var payload, status string
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(
		&job.ID, &job.Queue, &job.Type, &payload, &status,
		&job.Attempts, &job.MaxAttempts, &job.LastError, &job.Result,
		&job.RunAt, &job.CreatedAt, &startedAt, &finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	job.Payload = []byte(payload)
	job.Status = model.JobStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]model.Job, error) {
	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
