package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned when a job lookup misses.
var ErrJobNotFound = errors.New("sync job not found")

// EnqueueJob inserts a pending sync job, coalescing with an existing pending
// job for the same module and direction. It returns the effective job ID and
// whether the request was coalesced onto an existing job.
func (s *Store) EnqueueJob(ctx context.Context, job *SyncJob) (string, bool, error) {
	// Coalesce: a second request for work that has not started yet is
	// redundant — the pending job will pick up the same changes.
	var existing string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM sync_jobs WHERE module_id = ? AND direction = ? AND status = ? LIMIT 1",
		job.ModuleID, string(job.Direction), string(JobPending)).Scan(&existing)
	switch {
	case err == nil:
		return existing, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", false, fmt.Errorf("store: coalesce lookup: %w", err)
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	if job.RunAt.IsZero() {
		job.RunAt = time.Now()
	}
	job.Status = JobPending
	now := time.Now()
	job.CreatedAt = now

	const q = `
		INSERT INTO sync_jobs (id, module_id, direction, priority, attempts, max_attempts, status, run_at, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		job.ID, job.ModuleID, string(job.Direction), job.Priority, job.MaxAttempts,
		string(JobPending), formatTime(job.RunAt), formatTime(now)); err != nil {
		return "", false, fmt.Errorf("store: enqueue job for module %q: %w", job.ModuleID, err)
	}
	return job.ID, false, nil
}

const jobColumns = `id, module_id, direction, priority, attempts, max_attempts, status, run_at, last_error, created_at, started_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*SyncJob, error) {
	var (
		j           SyncJob
		runAt       string
		createdAt   string
		startedAt   sql.NullString
		completedAt sql.NullString
	)
	if err := row.Scan(&j.ID, &j.ModuleID, (*string)(&j.Direction), &j.Priority, &j.Attempts,
		&j.MaxAttempts, (*string)(&j.Status), &runAt, &j.LastError, &createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	var err error
	if j.RunAt, err = parseTime(runAt); err != nil {
		return nil, fmt.Errorf("parsing run_at: %w", err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if j.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if j.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parsing completed_at: %w", err)
	}
	return &j, nil
}

// JobByID returns a single job, or ErrJobNotFound.
func (s *Store) JobByID(ctx context.Context, id string) (*SyncJob, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM sync_jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: job by id %q: %w", id, err)
	}
	return j, nil
}

// ClaimDueJobs atomically claims up to limit due pending jobs, honoring the
// single-writer-per-module rule: a module with a running job is skipped.
// Claimed jobs transition to running with their attempt count incremented.
// Candidates are ordered by priority (highest first) then scheduled run time.
func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]SyncJob, error) {
	const candidatesQ = `
		SELECT ` + jobColumns + ` FROM sync_jobs
		WHERE status = ? AND run_at <= ?
		ORDER BY priority DESC, run_at ASC, created_at ASC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, candidatesQ, string(JobPending), formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("store: query due jobs: %w", err)
	}

	var candidates []SyncJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan due job: %w", err)
		}
		candidates = append(candidates, *j)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("store: iterate due jobs: %w", err)
	}
	rows.Close()

	// Claim each candidate with a conditional update. The NOT EXISTS guard
	// enforces at most one running job per module; the status predicate
	// makes the claim atomic against concurrent workers.
	const claimQ = `
		UPDATE sync_jobs
		SET status = ?, started_at = ?, attempts = attempts + 1
		WHERE id = ? AND status = ?
		  AND NOT EXISTS (
			SELECT 1 FROM sync_jobs r WHERE r.module_id = sync_jobs.module_id AND r.status = ?
		  )`

	var claimed []SyncJob
	seen := make(map[string]bool) // modules claimed this batch
	for _, j := range candidates {
		if seen[j.ModuleID] {
			continue
		}
		res, err := s.db.ExecContext(ctx, claimQ,
			string(JobRunning), formatTime(now), j.ID, string(JobPending), string(JobRunning))
		if err != nil {
			return claimed, fmt.Errorf("store: claim job %q: %w", j.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return claimed, fmt.Errorf("store: claim job rows affected: %w", err)
		}
		if n == 0 {
			continue // lost the race or module busy
		}
		j.Status = JobRunning
		j.Attempts++
		started := now
		j.StartedAt = &started
		seen[j.ModuleID] = true
		claimed = append(claimed, j)
	}
	return claimed, nil
}

// CompleteJob marks a running job as successful.
func (s *Store) CompleteJob(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sync_jobs SET status = ?, completed_at = ?, last_error = '' WHERE id = ? AND status = ?",
		string(JobSuccess), formatTime(now), id, string(JobRunning))
	if err != nil {
		return fmt.Errorf("store: complete job %q: %w", id, err)
	}
	return requireRow(res, ErrJobNotFound, id)
}

// FailJob records a failed attempt and decides the job's next state: a
// retryable failure with budget left is rescheduled with exponential backoff
// (2^attempts seconds); anything else dead-letters with the error preserved.
// The resulting status is returned.
func (s *Store) FailJob(ctx context.Context, job *SyncJob, errMsg string, retryable bool, now time.Time) (JobStatus, error) {
	if retryable && job.Attempts < job.MaxAttempts {
		delay := time.Duration(1<<uint(job.Attempts)) * time.Second
		res, err := s.db.ExecContext(ctx,
			"UPDATE sync_jobs SET status = ?, run_at = ?, last_error = ? WHERE id = ? AND status = ?",
			string(JobPending), formatTime(now.Add(delay)), errMsg, job.ID, string(JobRunning))
		if err != nil {
			return "", fmt.Errorf("store: reschedule job %q: %w", job.ID, err)
		}
		if err := requireRow(res, ErrJobNotFound, job.ID); err != nil {
			return "", err
		}
		return JobPending, nil
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE sync_jobs SET status = ?, completed_at = ?, last_error = ? WHERE id = ? AND status = ?",
		string(JobDeadLetter), formatTime(now), errMsg, job.ID, string(JobRunning))
	if err != nil {
		return "", fmt.Errorf("store: dead-letter job %q: %w", job.ID, err)
	}
	if err := requireRow(res, ErrJobNotFound, job.ID); err != nil {
		return "", err
	}
	return JobDeadLetter, nil
}

// ListJobs returns jobs filtered by status (all statuses when empty),
// newest first.
func (s *Store) ListJobs(ctx context.Context, status JobStatus) ([]SyncJob, error) {
	query := "SELECT " + jobColumns + " FROM sync_jobs"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []SyncJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// RunningJobs returns the count of running jobs for a module.
func (s *Store) RunningJobs(ctx context.Context, moduleID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_jobs WHERE module_id = ? AND status = ?",
		moduleID, string(JobRunning)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count running jobs: %w", err)
	}
	return n, nil
}

// RequeueJob resets a dead-lettered job to pending with a fresh attempt
// budget. This is an operator action.
func (s *Store) RequeueJob(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = ?, attempts = 0, run_at = ?, started_at = NULL, completed_at = NULL
		 WHERE id = ? AND status = ?`,
		string(JobPending), formatTime(now), id, string(JobDeadLetter))
	if err != nil {
		return fmt.Errorf("store: requeue job %q: %w", id, err)
	}
	return requireRow(res, ErrJobNotFound, id)
}

// RequeueStale recovers jobs stuck in running longer than staleAfter. This
// is the recovery path for a process that died between claiming a job and
// committing its result. A stale job with attempt budget left goes back to
// pending with its attempt count preserved; one whose claim already consumed
// the last attempt dead-letters instead, so the attempt count can never
// climb past the budget through repeated crash-claim cycles. Both ID lists
// are returned so callers can log them.
func (s *Store) RequeueStale(ctx context.Context, staleAfter time.Duration, now time.Time) (requeued, deadLettered []string, err error) {
	cutoff := formatTime(now.Add(-staleAfter))

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, attempts, max_attempts FROM sync_jobs WHERE status = ? AND started_at IS NOT NULL AND started_at < ?",
		string(JobRunning), cutoff)
	if err != nil {
		return nil, nil, fmt.Errorf("store: query stale jobs: %w", err)
	}
	type stale struct {
		id                    string
		attempts, maxAttempts int
	}
	var found []stale
	for rows.Next() {
		var st stale
		if err := rows.Scan(&st.id, &st.attempts, &st.maxAttempts); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("store: scan stale job: %w", err)
		}
		found = append(found, st)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, fmt.Errorf("store: iterate stale jobs: %w", err)
	}
	rows.Close()

	for _, st := range found {
		if st.attempts >= st.maxAttempts {
			if _, err := s.db.ExecContext(ctx,
				"UPDATE sync_jobs SET status = ?, started_at = NULL, completed_at = ?, last_error = ? WHERE id = ? AND status = ?",
				string(JobDeadLetter), formatTime(now), "stale running job, attempt budget exhausted", st.id, string(JobRunning)); err != nil {
				return requeued, deadLettered, fmt.Errorf("store: dead-letter stale job %q: %w", st.id, err)
			}
			deadLettered = append(deadLettered, st.id)
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			"UPDATE sync_jobs SET status = ?, started_at = NULL, run_at = ?, last_error = ? WHERE id = ? AND status = ?",
			string(JobPending), formatTime(now), "requeued: stale running job", st.id, string(JobRunning)); err != nil {
			return requeued, deadLettered, fmt.Errorf("store: requeue stale job %q: %w", st.id, err)
		}
		requeued = append(requeued, st.id)
	}
	return requeued, deadLettered, nil
}

// DeleteCompletedBefore garbage-collects successful jobs completed before the
// cutoff. It returns the number of rows removed.
func (s *Store) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM sync_jobs WHERE status = ? AND completed_at IS NOT NULL AND completed_at < ?",
		string(JobSuccess), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("store: gc completed jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: gc rows affected: %w", err)
	}
	return n, nil
}
