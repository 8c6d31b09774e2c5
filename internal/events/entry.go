package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Entry is one record of the append-only log. Fields are fixed at
// construction; Payload hands out a copy.
type Entry struct {
	seq       int64
	id        string
	typ       string
	projectID string
	entityID  string
	actor     string
	payload   []byte
	ts        time.Time
}

// NewEntry wraps evt. The entry identity is the event identity.
func NewEntry(evt Event, projectID, entityID, actor string, now time.Time) (Entry, error) {
	if evt == nil {
		return Entry{}, errors.New("nil event")
	}
	if evt.EventID() == "" {
		return Entry{}, fmt.Errorf("event %s has no identity", TypeTag(evt))
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal event payload: %w", err)
	}
	return Entry{
		id:        evt.EventID(),
		typ:       TypeTag(evt),
		projectID: projectID,
		entityID:  entityID,
		actor:     actor,
		payload:   data,
		ts:        now.UTC(),
	}, nil
}

// RestoreEntry rebuilds an entry read back from storage.
func RestoreEntry(seq int64, id, typ, projectID, entityID, actor string, payload []byte, ts time.Time) Entry {
	var p []byte
	if len(payload) > 0 {
		p = append([]byte(nil), payload...)
	}
	return Entry{seq: seq, id: id, typ: typ, projectID: projectID, entityID: entityID, actor: actor, payload: p, ts: ts}
}

func (e Entry) Seq() int64           { return e.seq }
func (e Entry) ID() string           { return e.id }
func (e Entry) Type() string         { return e.typ }
func (e Entry) ProjectID() string    { return e.projectID }
func (e Entry) EntityID() string     { return e.entityID }
func (e Entry) Actor() string        { return e.actor }
func (e Entry) Timestamp() time.Time { return e.ts }

func (e Entry) Payload() []byte {
	if e.payload == nil {
		return nil
	}
	return append([]byte(nil), e.payload...)
}
