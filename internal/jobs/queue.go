// Package jobs queues pipeline runs in SQLite and drains them with a
// polling worker, so runs can be requested without holding a connection
// open for the length of six backend calls.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"scenecraft/internal/domain"
	"scenecraft/internal/idgen"
	"scenecraft/internal/repo"
)

type Queue struct {
	DB  *sql.DB
	Now func() time.Time
}

func (q *Queue) now() time.Time {
	if q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

const jobColumns = `id, scene_id, status, attempts, next_attempt_at, lease_owner, lease_expires_at, last_error, outcome, created_at, updated_at`

func scanJob(scan func(dest ...any) error) (domain.Job, error) {
	var (
		j                       domain.Job
		next, created, updated  int64
		owner, lastErr, outcome sql.NullString
		leaseExpires            sql.NullInt64
	)
	if err := scan(&j.ID, &j.SceneID, &j.Status, &j.Attempts, &next, &owner, &leaseExpires, &lastErr, &outcome, &created, &updated); err != nil {
		return domain.Job{}, err
	}
	j.NextAttemptAt = time.UnixMilli(next).UTC()
	j.LeaseOwner = owner.String
	if leaseExpires.Valid {
		t := time.UnixMilli(leaseExpires.Int64).UTC()
		j.LeaseExpiresAt = &t
	}
	j.LastError = lastErr.String
	j.Outcome = outcome.String
	j.CreatedAt = time.UnixMilli(created).UTC()
	j.UpdatedAt = time.UnixMilli(updated).UTC()
	return j, nil
}

// Enqueue schedules a pipeline run for sceneID, due immediately.
func (q *Queue) Enqueue(ctx context.Context, sceneID string) (domain.Job, error) {
	sceneID = strings.TrimSpace(sceneID)
	if sceneID == "" {
		return domain.Job{}, fmt.Errorf("scene id is required")
	}
	var exists int
	err := q.DB.QueryRowContext(ctx, `SELECT 1 FROM scenes WHERE id=?`, sceneID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, fmt.Errorf("scene %s: %w", sceneID, repo.ErrNotFound)
	}
	if err != nil {
		return domain.Job{}, err
	}
	id, err := idgen.JobID()
	if err != nil {
		return domain.Job{}, err
	}
	now := q.now()
	ms := now.UnixMilli()
	if _, err := q.DB.ExecContext(ctx, `INSERT INTO jobs(id, scene_id, status, attempts, next_attempt_at, created_at, updated_at)
VALUES (?,?,?,0,?,?,?)`, id, sceneID, domain.JobQueued, ms, ms, ms); err != nil {
		return domain.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return q.Get(ctx, id)
}

func (q *Queue) Get(ctx context.Context, id string) (domain.Job, error) {
	row := q.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, repo.ErrNotFound
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// List returns jobs newest first, optionally filtered by status and scene.
func (q *Queue) List(ctx context.Context, status domain.JobStatus, sceneID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	if sceneID != "" {
		clauses = append(clauses, "scene_id=?")
		args = append(args, sceneID)
	}
	args = append(args, limit)
	rows, err := q.DB.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE `+strings.Join(clauses, " AND ")+`
ORDER BY created_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Claim claims up to limit due jobs for owner. A queued job is due once
// next_attempt_at has passed; a leased job is due again once its lease
// lapses, which recovers work from a worker that died mid-run.
func (q *Queue) Claim(ctx context.Context, owner string, limit int, ttl time.Duration) ([]domain.Job, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, fmt.Errorf("owner is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be greater than zero")
	}
	now := q.now()
	nowMS := now.UnixMilli()
	expires := now.Add(ttl).UnixMilli()

	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("start lease transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM jobs
WHERE (status=? AND next_attempt_at <= ?) OR (status=? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
ORDER BY next_attempt_at ASC, created_at ASC, id ASC
LIMIT ?`, domain.JobQueued, nowMS, domain.JobLeased, nowMS, limit)
	if err != nil {
		return nil, fmt.Errorf("select lease candidates: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan lease candidate: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate lease candidates: %w", err)
	}
	_ = rows.Close()

	leased := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `UPDATE jobs
SET status=?, attempts=attempts+1, lease_owner=?, lease_expires_at=?, updated_at=?
WHERE id=? AND ((status=? AND next_attempt_at <= ?) OR (status=? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?))`,
			domain.JobLeased, owner, expires, nowMS, id, domain.JobQueued, nowMS, domain.JobLeased, nowMS)
		if err != nil {
			return nil, fmt.Errorf("lease job %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			continue
		}
		j, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id).Scan)
		if err != nil {
			return nil, fmt.Errorf("scan leased job %s: %w", id, err)
		}
		leased = append(leased, j)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease transaction: %w", err)
	}
	return leased, nil
}

var ErrLeaseLost = errors.New("job lease no longer held")

// Complete marks a leased job succeeded.
func (q *Queue) Complete(ctx context.Context, id, owner, outcome string) error {
	return q.settle(ctx, id, owner, domain.JobSucceeded, "", outcome, time.Time{})
}

// Retry returns a leased job to the queue, due at the given time.
func (q *Queue) Retry(ctx context.Context, id, owner, lastErr, outcome string, at time.Time) error {
	return q.settle(ctx, id, owner, domain.JobQueued, lastErr, outcome, at)
}

// Fail marks a leased job permanently failed.
func (q *Queue) Fail(ctx context.Context, id, owner, lastErr, outcome string) error {
	return q.settle(ctx, id, owner, domain.JobFailed, lastErr, outcome, time.Time{})
}

func (q *Queue) settle(ctx context.Context, id, owner string, to domain.JobStatus, lastErr, outcome string, next time.Time) error {
	now := q.now()
	nextMS := now.UnixMilli()
	if !next.IsZero() {
		nextMS = next.UTC().UnixMilli()
	}
	res, err := q.DB.ExecContext(ctx, `UPDATE jobs
SET status=?, lease_owner=NULL, lease_expires_at=NULL, last_error=?, outcome=?, next_attempt_at=?, updated_at=?
WHERE id=? AND status=? AND lease_owner=?`,
		to, nullable(lastErr), nullable(outcome), nextMS, now.UnixMilli(), id, domain.JobLeased, owner)
	if err != nil {
		return fmt.Errorf("settle job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("settle job %s: %w", id, ErrLeaseLost)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
