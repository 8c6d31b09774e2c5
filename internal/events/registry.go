package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

var (
	ErrUnregisteredType = errors.New("unregistered event type")
	ErrTypeMismatch     = errors.New("event type mismatch")
)

// registry is the closed set of replayable events. New event types must be
// added here or their entries fail to replay.
var registry = register(
	SceneCreated{},
	SceneUpdated{},
	SceneSubmittedForReview{},
	SceneApproved{},
	SceneRevisionRequested{},
	SceneLeaseAcquired{},
	SceneLeaseReleased{},
	ProjectCreated{},
	ProjectBudgetCapSet{},
	ProjectSpendRecorded{},
	ProjectSpendReconciled{},
	ProposalCreated{},
	ProposalApplied{},
	ProposalDismissed{},
	PipelineRunStarted{},
	PipelineRunCompleted{},
	PipelineRunAborted{},
)

func register(protos ...Event) map[string]reflect.Type {
	out := make(map[string]reflect.Type, len(protos))
	for _, p := range protos {
		t := reflect.TypeOf(p)
		if _, dup := out[t.Name()]; dup {
			panic("events: duplicate registration of " + t.Name())
		}
		out[t.Name()] = t
	}
	return out
}

// TypeTag is the stored type tag of an event: its runtime type name.
func TypeTag(evt Event) string {
	t := reflect.TypeOf(evt)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// Registered lists the registered type tags in sorted order.
func Registered() []string {
	out := make([]string, 0, len(registry))
	for tag := range registry {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func IsRegistered(tag string) bool {
	_, ok := registry[tag]
	return ok
}

// Replay decodes an entry into its concrete event type. ok is false when
// the entry carries no payload.
func Replay(e Entry) (Event, bool, error) {
	if len(e.payload) == 0 {
		return nil, false, nil
	}
	t, ok := registry[e.typ]
	if !ok {
		return nil, false, fmt.Errorf("replay %s: %w: %s", e.id, ErrUnregisteredType, e.typ)
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(e.payload, ptr.Interface()); err != nil {
		return nil, false, fmt.Errorf("replay %s: decode %s: %w", e.id, e.typ, err)
	}
	return ptr.Elem().Interface().(Event), true, nil
}

// ReplayAs decodes an entry as T. ok is false when the entry carries no payload.
func ReplayAs[T Event](e Entry) (T, bool, error) {
	var out T
	if len(e.payload) == 0 {
		return out, false, nil
	}
	if want := TypeTag(out); want != e.typ {
		return out, false, fmt.Errorf("replay %s as %s: %w: stored %s", e.id, want, ErrTypeMismatch, e.typ)
	}
	if err := json.Unmarshal(e.payload, &out); err != nil {
		return out, false, fmt.Errorf("replay %s: decode %s: %w", e.id, e.typ, err)
	}
	return out, true, nil
}
