package events_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"scenecraft/internal/events"
)

var now = time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

func samples() []events.Event {
	exp := now.Add(5 * time.Minute)
	return []events.Event{
		events.SceneCreated{Meta: events.NewMeta(now), SceneID: "s", ProjectID: "p", Title: "t", Version: 1, CreatedBy: "a"},
		events.SceneUpdated{Meta: events.NewMeta(now), SceneID: "s", NewVersion: 2, Fields: []string{"title", "script"}, UpdatedBy: "a"},
		events.SceneSubmittedForReview{Meta: events.NewMeta(now), SceneID: "s", Version: 2, SubmittedBy: "a"},
		events.SceneApproved{Meta: events.NewMeta(now), SceneID: "s", Version: 2, ApprovedBy: "b"},
		events.SceneRevisionRequested{Meta: events.NewMeta(now), SceneID: "s", Feedback: "more", RequestedBy: "b"},
		events.SceneLeaseAcquired{Meta: events.NewMeta(now), SceneID: "s", Holder: "pipeline:x", ExpiresAt: exp},
		events.SceneLeaseReleased{Meta: events.NewMeta(now), SceneID: "s", Holder: "pipeline:x"},
		events.ProjectCreated{Meta: events.NewMeta(now), ProjectID: "p", Title: "t", BudgetCapUSD: 10},
		events.ProjectBudgetCapSet{Meta: events.NewMeta(now), ProjectID: "p", PreviousCapUSD: 10, CapUSD: 12.5},
		events.ProjectSpendRecorded{Meta: events.NewMeta(now), ProjectID: "p", ProposalID: "x", AmountUSD: 0.02, TotalUSD: 0.04},
		events.ProjectSpendReconciled{Meta: events.NewMeta(now), ProjectID: "p", PreviousUSD: 0.02, ReconciledUSD: 0.04},
		events.ProposalCreated{Meta: events.NewMeta(now), ProposalID: "x", SceneID: "s", RunID: "r", Role: "writer", Summary: "sum", TokensUsed: 42, CostUSD: 0.02},
		events.ProposalApplied{Meta: events.NewMeta(now), ProposalID: "x", SceneID: "s", AppliedBy: "b"},
		events.ProposalDismissed{Meta: events.NewMeta(now), ProposalID: "x", SceneID: "s", DismissedBy: "b", Reason: "off tone"},
		events.PipelineRunStarted{Meta: events.NewMeta(now), RunID: "r", SceneID: "s", Holder: "pipeline:r", Stages: []string{"writer"}},
		events.PipelineRunCompleted{Meta: events.NewMeta(now), RunID: "r", SceneID: "s", Proposals: 6, SpendUSD: 0.12},
		events.PipelineRunAborted{Meta: events.NewMeta(now), RunID: "r", SceneID: "s", Outcome: "failed", Stage: "editor", Reason: "boom"},
	}
}

func TestEveryEventRoundTrips(t *testing.T) {
	all := samples()
	if len(all) != len(events.Registered()) {
		t.Fatalf("samples cover %d events, registry has %d", len(all), len(events.Registered()))
	}
	for _, evt := range all {
		tag := events.TypeTag(evt)
		if !events.IsRegistered(tag) {
			t.Fatalf("%s not registered", tag)
		}
		entry, err := events.NewEntry(evt, "p", "s", "tester", now)
		if err != nil {
			t.Fatalf("%s: %v", tag, err)
		}
		if entry.ID() != evt.EventID() {
			t.Fatalf("%s: entry id %s != event id %s", tag, entry.ID(), evt.EventID())
		}
		if entry.Type() != tag {
			t.Fatalf("type tag %s want %s", entry.Type(), tag)
		}
		got, ok, err := events.Replay(entry)
		if err != nil || !ok {
			t.Fatalf("%s replay: %v %v", tag, ok, err)
		}
		if !reflect.DeepEqual(got, evt) {
			t.Fatalf("%s round trip:\n got %#v\nwant %#v", tag, got, evt)
		}
	}
}

func TestReplayAs(t *testing.T) {
	evt := events.SceneApproved{Meta: events.NewMeta(now), SceneID: "s", Version: 3, ApprovedBy: "b"}
	entry, err := events.NewEntry(evt, "p", "s", "b", now)
	if err != nil {
		t.Fatal(err)
	}
	got, ok, err := events.ReplayAs[events.SceneApproved](entry)
	if err != nil || !ok || !reflect.DeepEqual(got, evt) {
		t.Fatalf("ReplayAs = %#v %v %v", got, ok, err)
	}
	if _, _, err := events.ReplayAs[events.SceneUpdated](entry); !errors.Is(err, events.ErrTypeMismatch) {
		t.Fatalf("mismatched ReplayAs: %v", err)
	}
	empty := events.RestoreEntry(1, "id", "SceneApproved", "p", "s", "b", nil, now)
	if _, ok, err := events.ReplayAs[events.SceneApproved](empty); ok || err != nil {
		t.Fatalf("empty payload: %v %v", ok, err)
	}
}

func TestReplayUnregisteredTag(t *testing.T) {
	entry := events.RestoreEntry(1, "id", "CharacterRenamed", "p", "c", "a", []byte(`{"id":"id"}`), now)
	if _, ok, err := events.Replay(entry); ok || !errors.Is(err, events.ErrUnregisteredType) {
		t.Fatalf("unregistered replay: %v %v", ok, err)
	}
	blank := events.RestoreEntry(2, "id2", "CharacterRenamed", "p", "c", "a", nil, now)
	if _, ok, err := events.Replay(blank); ok || err != nil {
		t.Fatalf("absent payload: %v %v", ok, err)
	}
}

func TestEntryPayloadIsCopied(t *testing.T) {
	evt := events.SceneLeaseReleased{Meta: events.NewMeta(now), SceneID: "s", Holder: "h"}
	entry, err := events.NewEntry(evt, "p", "s", "h", now)
	if err != nil {
		t.Fatal(err)
	}
	p := entry.Payload()
	for i := range p {
		p[i] = 'x'
	}
	got, ok, err := events.Replay(entry)
	if err != nil || !ok || !reflect.DeepEqual(got, evt) {
		t.Fatalf("entry mutated through Payload(): %v %v", ok, err)
	}
}

func TestNewEntryRequiresIdentity(t *testing.T) {
	if _, err := events.NewEntry(events.SceneCreated{}, "p", "s", "a", now); err == nil {
		t.Fatal("expected error for event without id")
	}
}
