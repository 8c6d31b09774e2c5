package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"

	"scenecraft/internal/db"
	"scenecraft/internal/domain"
	"scenecraft/internal/events"
	"scenecraft/internal/migrate"
	"scenecraft/internal/repo"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	ts := fixedNow.Format(time.RFC3339)
	err = r.WithTx(ctx, func(tx *sql.Tx) error {
		if err := r.InsertProject(ctx, tx, domain.Project{ID: "proj-1", Title: "Pilot", CreatedAt: ts}); err != nil {
			return err
		}
		return r.InsertScene(ctx, tx, domain.Scene{ID: "scene-1", ProjectID: "proj-1", Title: "Opening", Status: domain.StatusDraft, Version: 1, CreatedAt: ts, UpdatedAt: ts})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return r, ctx
}

func TestSceneLeaseCASAgainstSQLite(t *testing.T) {
	r, ctx := newTestRepo(t)
	ttl := 5 * time.Minute

	ok, err := r.TryAcquireSceneLease(ctx, r.DB, "scene-1", "a", fixedNow.Add(ttl), fixedNow)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	ok, err = r.TryAcquireSceneLease(ctx, r.DB, "scene-1", "b", fixedNow.Add(time.Minute+ttl), fixedNow.Add(time.Minute))
	if err != nil || ok {
		t.Fatalf("acquire over live lease = %v, %v", ok, err)
	}
	s, err := r.GetScene(ctx, "scene-1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Lease.Holder != "a" || !s.Lease.ExpiresAt.Equal(fixedNow.Add(ttl)) {
		t.Fatalf("lease changed by failed acquire: %+v", s.Lease)
	}
	if !s.IsCurrentlyLeased(fixedNow.Add(time.Minute)) || s.IsCurrentlyLeased(fixedNow.Add(ttl)) {
		t.Fatal("lease liveness mismatch")
	}

	later := fixedNow.Add(ttl + time.Second)
	ok, err = r.TryAcquireSceneLease(ctx, r.DB, "scene-1", "b", later.Add(ttl), later)
	if err != nil || !ok {
		t.Fatalf("acquire over lapsed lease = %v, %v", ok, err)
	}
	// the stale holder cannot clear the new lease
	if released, err := r.ReleaseSceneLease(ctx, r.DB, "scene-1", "a"); err != nil || released {
		t.Fatalf("stale release = %v, %v", released, err)
	}
	if released, err := r.ReleaseSceneLease(ctx, r.DB, "scene-1", "b"); err != nil || !released {
		t.Fatalf("release = %v, %v", released, err)
	}
	s, _ = r.GetScene(ctx, "scene-1")
	if s.Lease.Held || s.Lease.Holder != "" || s.Lease.ExpiresAt != nil {
		t.Fatalf("lease not cleared: %+v", s.Lease)
	}
}

func TestUpdateSceneLeavesLeaseAlone(t *testing.T) {
	r, ctx := newTestRepo(t)
	if ok, err := r.TryAcquireSceneLease(ctx, r.DB, "scene-1", "a", fixedNow.Add(time.Minute), fixedNow); err != nil || !ok {
		t.Fatalf("acquire = %v, %v", ok, err)
	}
	s, _ := r.GetScene(ctx, "scene-1")
	s.Title = "Renamed"
	s.Version = 2
	if err := r.WithTx(ctx, func(tx *sql.Tx) error { return r.UpdateScene(ctx, tx, s) }); err != nil {
		t.Fatal(err)
	}
	got, _ := r.GetScene(ctx, "scene-1")
	if got.Title != "Renamed" || got.Version != 2 || got.Lease.Holder != "a" {
		t.Fatalf("unexpected scene %+v", got)
	}
	if _, err := r.GetScene(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing scene: %v", err)
	}
}

func TestSceneLeaseOnlyOnDraft(t *testing.T) {
	r, ctx := newTestRepo(t)
	for _, status := range []domain.Status{domain.StatusReview, domain.StatusApproved} {
		if _, err := r.DB.ExecContext(ctx, `UPDATE scenes SET status=? WHERE id='scene-1'`, string(status)); err != nil {
			t.Fatal(err)
		}
		ok, err := r.TryAcquireSceneLease(ctx, r.DB, "scene-1", "a", fixedNow.Add(time.Minute), fixedNow)
		if err != nil || ok {
			t.Fatalf("acquire on %s scene = %v, %v", status, ok, err)
		}
		s, _ := r.GetScene(ctx, "scene-1")
		if s.Lease.Held {
			t.Fatalf("%s scene leased: %+v", status, s.Lease)
		}
	}
}

func TestProposalsKeepInsertOrderAndSpendSums(t *testing.T) {
	r, ctx := newTestRepo(t)
	roles := domain.Roles()
	err := r.WithTx(ctx, func(tx *sql.Tx) error {
		for i, role := range roles {
			p := domain.Proposal{
				ID: "prop-" + string(role), SceneID: "scene-1", ProjectID: "proj-1", RunID: "run-1", Role: role,
				Summary: "s", Status: domain.ProposalPending, CostUSD: 0.01 * float64(i+1),
				CreatedAt: fixedNow.Format(time.RFC3339),
			}
			if err := r.InsertProposal(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.ListProposals(ctx, repo.ProposalFilters{SceneID: "scene-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(roles) {
		t.Fatalf("got %d proposals", len(got))
	}
	for i, p := range got {
		if p.Role != roles[i] {
			t.Fatalf("position %d: role %s want %s", i, p.Role, roles[i])
		}
	}
	sum, err := r.SumProposalCosts(ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if sum < 0.2099 || sum > 0.2101 {
		t.Fatalf("sum = %v", sum)
	}

	var flipped bool
	err = r.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		flipped, err = r.SetProposalStatus(ctx, tx, "prop-writer", domain.ProposalApplied)
		return err
	})
	if err != nil || !flipped {
		t.Fatalf("apply = %v, %v", flipped, err)
	}
	err = r.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		flipped, err = r.SetProposalStatus(ctx, tx, "prop-writer", domain.ProposalDismissed)
		return err
	})
	if err != nil || flipped {
		t.Fatalf("terminal flip repeated = %v, %v", flipped, err)
	}
}

func TestEventLogAppendOnly(t *testing.T) {
	r, ctx := newTestRepo(t)
	w := events.Writer{Now: func() time.Time { return fixedNow }}

	var appended []events.Event
	for i := 0; i < 5; i++ {
		evt := events.SceneUpdated{
			Meta:       events.NewMeta(fixedNow.Add(time.Duration(i) * time.Second)),
			SceneID:    "scene-1",
			NewVersion: i + 2,
			Fields:     []string{"title"},
			UpdatedBy:  "alice",
		}
		entry, err := w.Append(ctx, r.DB, evt, "proj-1", "scene-1", "alice")
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if entry.ID() != evt.ID {
			t.Fatalf("entry id %s != event id %s", entry.ID(), evt.ID)
		}
		n, err := r.CountEntries(ctx, repo.EventFilters{ProjectID: "proj-1"})
		if err != nil {
			t.Fatal(err)
		}
		if n != i+1 {
			t.Fatalf("after %d appends count=%d", i+1, n)
		}
		appended = append(appended, evt)
	}

	// duplicate identity is rejected, count unchanged
	if _, err := w.Append(ctx, r.DB, appended[0], "proj-1", "scene-1", "alice"); err == nil {
		t.Fatal("duplicate append succeeded")
	}
	if n, _ := r.CountEntries(ctx, repo.EventFilters{ProjectID: "proj-1"}); n != 5 {
		t.Fatalf("count after duplicate = %d", n)
	}

	// rows cannot be rewritten or removed
	if _, err := r.DB.ExecContext(ctx, `UPDATE events SET actor='mallory'`); err == nil {
		t.Fatal("update of events succeeded")
	}
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM events`); err == nil {
		t.Fatal("delete of events succeeded")
	}

	entries, err := r.EntriesAfter(ctx, 0, "proj-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, e := range entries {
		got, ok, err := events.Replay(e)
		if err != nil || !ok {
			t.Fatalf("replay %d: %v %v", i, ok, err)
		}
		if !reflect.DeepEqual(got, appended[i]) {
			t.Fatalf("replay %d mismatch:\n got %#v\nwant %#v", i, got, appended[i])
		}
		if e.Actor() != "alice" || e.EntityID() != "scene-1" || !e.Timestamp().Equal(fixedNow) {
			t.Fatalf("entry %d fields: %+v", i, e)
		}
	}

	page, err := r.ListEntries(ctx, repo.EventFilters{ProjectID: "proj-1", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID() != appended[4].EventID() {
		t.Fatalf("newest-first page mismatch")
	}
	next, err := r.ListEntries(ctx, repo.EventFilters{ProjectID: "proj-1", Limit: 2, Cursor: page[1].Seq()})
	if err != nil {
		t.Fatal(err)
	}
	if len(next) != 2 || next[0].ID() != appended[2].EventID() {
		t.Fatalf("cursor page mismatch")
	}
}
