package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

// Append inserts one entry for evt. Existing rows are never touched: a second
// append of the same event fails on the primary key.
func (w Writer) Append(ctx context.Context, ex Execer, evt Event, projectID, entityID, actor string) (Entry, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	entry, err := NewEntry(evt, projectID, entityID, actor, now())
	if err != nil {
		return Entry{}, err
	}
	res, err := ex.ExecContext(ctx, `INSERT INTO events(id,ts,type,project_id,entity_id,actor,payload_json) VALUES (?,?,?,?,?,?,?)`,
		entry.id, entry.ts.Format(time.RFC3339Nano), entry.typ, nullable(projectID), nullable(entityID), actor, string(entry.payload))
	if err != nil {
		return Entry{}, fmt.Errorf("append %s: %w", entry.typ, err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		entry.seq = seq
	}
	return entry, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
