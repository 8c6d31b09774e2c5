package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"scenecraft/internal/events"
)

const eventColumns = `seq,id,ts,type,project_id,entity_id,actor,payload_json`

func scanEntry(row rowScanner) (events.Entry, error) {
	var (
		seq                        int64
		id, ts, typ, actor         string
		projectID, entityID, payld sql.NullString
	)
	if err := row.Scan(&seq, &id, &ts, &typ, &projectID, &entityID, &actor, &payld); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return events.Entry{}, ErrNotFound
		}
		return events.Entry{}, err
	}
	at, err := parseTime(ts)
	if err != nil {
		return events.Entry{}, fmt.Errorf("event %s: %w", id, err)
	}
	var payload []byte
	if payld.Valid {
		payload = []byte(payld.String)
	}
	return events.RestoreEntry(seq, id, typ, projectID.String, entityID.String, actor, payload, at), nil
}

type EventFilters struct {
	ProjectID string
	EntityID  string
	Type      string
	// Cursor pages backwards: only entries with seq below it are returned.
	Cursor int64
	Limit  int
}

func (f EventFilters) where() (string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// ListEntries returns entries newest first.
func (r Repo) ListEntries(ctx context.Context, f EventFilters) ([]events.Entry, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	where, args := f.where()
	if f.Cursor > 0 {
		where += " AND seq<?"
		args = append(args, f.Cursor)
	}
	args = append(args, f.Limit)
	return r.queryEntries(ctx, fmt.Sprintf(`SELECT %s FROM events %s ORDER BY seq DESC LIMIT ?`, eventColumns, where), args...)
}

// EntriesAfter returns entries with seq greater than cursor in append order.
func (r Repo) EntriesAfter(ctx context.Context, cursor int64, projectID string, limit int) ([]events.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	where, args := EventFilters{ProjectID: projectID}.where()
	where += " AND seq>?"
	args = append(args, cursor, limit)
	return r.queryEntries(ctx, fmt.Sprintf(`SELECT %s FROM events %s ORDER BY seq ASC LIMIT ?`, eventColumns, where), args...)
}

func (r Repo) GetEntry(ctx context.Context, id string) (events.Entry, error) {
	return scanEntry(r.DB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id=?`, id))
}

func (r Repo) CountEntries(ctx context.Context, f EventFilters) (int, error) {
	where, args := f.where()
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events `+where, args...).Scan(&n)
	return n, err
}

// LatestEntrySeq returns the most recent seq for a project, 0 when empty.
func (r Repo) LatestEntrySeq(ctx context.Context, projectID string) (int64, error) {
	var seq int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM events WHERE project_id=?`, projectID).Scan(&seq)
	return seq, err
}

func (r Repo) queryEntries(ctx context.Context, query string, args ...any) ([]events.Entry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []events.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
