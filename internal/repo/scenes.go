package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"scenecraft/internal/domain"
	"scenecraft/internal/events"
)

const sceneColumns = `id,project_id,title,heading,synopsis,script,duration_seconds,status,version,lease_held,lease_holder,lease_expires_at,approved_by,approved_at,created_at,updated_at`

func scanScene(row rowScanner) (domain.Scene, error) {
	var (
		s          domain.Scene
		leaseHeld  int
		holder     sql.NullString
		expires    sql.NullInt64
		approvedBy sql.NullString
		approvedAt sql.NullString
	)
	err := row.Scan(&s.ID, &s.ProjectID, &s.Title, &s.Heading, &s.Synopsis, &s.Script, &s.DurationSeconds,
		&s.Status, &s.Version, &leaseHeld, &holder, &expires, &approvedBy, &approvedAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Lease.Held = leaseHeld == 1
	if holder.Valid {
		s.Lease.Holder = holder.String
	}
	if expires.Valid {
		exp := fromMillis(expires.Int64)
		s.Lease.ExpiresAt = &exp
	}
	if approvedBy.Valid {
		s.ApprovedBy = approvedBy.String
	}
	if approvedAt.Valid {
		at, err := parseTime(approvedAt.String)
		if err != nil {
			return s, err
		}
		s.ApprovedAt = &at
	}
	return s, nil
}

// InsertScene writes a new scene. Lease columns start empty.
func (r Repo) InsertScene(ctx context.Context, tx *sql.Tx, s domain.Scene) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO scenes(id,project_id,title,heading,synopsis,script,duration_seconds,status,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Title, s.Heading, s.Synopsis, s.Script, s.DurationSeconds, s.Status, s.Version, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetScene(ctx context.Context, id string) (domain.Scene, error) {
	return getScene(ctx, r.DB, id)
}

func (r Repo) GetSceneTx(ctx context.Context, tx *sql.Tx, id string) (domain.Scene, error) {
	return getScene(ctx, tx, id)
}

func getScene(ctx context.Context, q querier, id string) (domain.Scene, error) {
	return scanScene(q.QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE id=?`, id))
}

func (r Repo) ListScenes(ctx context.Context, projectID string) ([]domain.Scene, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Scene
	for rows.Next() {
		s, err := scanScene(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateScene persists content, status and approval fields. Lease columns are
// owned by the lease operations below and are left alone.
func (r Repo) UpdateScene(ctx context.Context, tx *sql.Tx, s domain.Scene) error {
	var approvedAt any
	if s.ApprovedAt != nil {
		approvedAt = formatTime(*s.ApprovedAt)
	}
	res, err := tx.ExecContext(ctx, `UPDATE scenes SET title=?, heading=?, synopsis=?, script=?, duration_seconds=?, status=?, version=?, approved_by=?, approved_at=?, updated_at=? WHERE id=?`,
		s.Title, s.Heading, s.Synopsis, s.Script, s.DurationSeconds, s.Status, s.Version, nullable(s.ApprovedBy), approvedAt, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TryAcquireSceneLease is a single compare-and-swap: it takes the lease only
// on a draft scene when none is held or the held one has lapsed at now. A
// false result does not say which condition failed; re-read the scene.
func (r Repo) TryAcquireSceneLease(ctx context.Context, ex events.Execer, sceneID, holder string, expiresAt, now time.Time) (bool, error) {
	res, err := ex.ExecContext(ctx, `UPDATE scenes SET lease_held=1, lease_holder=?, lease_expires_at=? WHERE id=? AND status='draft' AND (lease_held=0 OR lease_expires_at <= ?)`,
		holder, toMillis(expiresAt), sceneID, toMillis(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseSceneLease clears the lease if holder still owns it. A holder whose
// lease lapsed and was taken over cannot clear the new owner's lease.
func (r Repo) ReleaseSceneLease(ctx context.Context, ex events.Execer, sceneID, holder string) (bool, error) {
	res, err := ex.ExecContext(ctx, `UPDATE scenes SET lease_held=0, lease_holder=NULL, lease_expires_at=NULL WHERE id=? AND lease_holder=?`,
		sceneID, holder)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
