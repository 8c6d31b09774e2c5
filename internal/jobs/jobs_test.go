package jobs_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"scenecraft/internal/db"
	"scenecraft/internal/domain"
	"scenecraft/internal/jobs"
	"scenecraft/internal/migrate"
	"scenecraft/internal/pipeline"
	"scenecraft/internal/repo"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newQueue(t *testing.T) (*jobs.Queue, *clock) {
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
	ts := "2024-03-01T09:00:00Z"
	err = r.WithTx(ctx, func(tx *sql.Tx) error {
		if err := r.InsertProject(ctx, tx, domain.Project{ID: "proj-1", Title: "Pilot", CreatedAt: ts}); err != nil {
			return err
		}
		return r.InsertScene(ctx, tx, domain.Scene{ID: "scene-1", ProjectID: "proj-1", Title: "Open", Status: domain.StatusDraft, Version: 1, CreatedAt: ts, UpdatedAt: ts})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	c := &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	return &jobs.Queue{DB: conn, Now: c.Now}, c
}

type scriptedRunner struct {
	results []error
	calls   int
}

func (r *scriptedRunner) Run(_ context.Context, sceneID string) (pipeline.Result, error) {
	i := r.calls
	r.calls++
	if i >= len(r.results) {
		i = len(r.results) - 1
	}
	err := r.results[i]
	res := pipeline.Result{RunID: "run_x", SceneID: sceneID, Outcome: pipeline.OutcomeSucceeded}
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrLocked):
		res.Outcome = pipeline.OutcomeLocked
	default:
		res.Outcome = pipeline.OutcomeFailed
	}
	return res, err
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEnqueueRequiresScene(t *testing.T) {
	q, _ := newQueue(t)
	if _, err := q.Enqueue(context.Background(), "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	job, err := q.Enqueue(context.Background(), "scene-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobQueued || job.Attempts != 0 || job.ID[:4] != "job_" {
		t.Fatalf("job = %+v", job)
	}
}

func TestLeaseIsExclusiveUntilItLapses(t *testing.T) {
	q, c := newQueue(t)
	ctx := context.Background()
	job, err := q.Enqueue(ctx, "scene-1")
	if err != nil {
		t.Fatal(err)
	}
	got, err := q.Claim(ctx, "w1", 5, time.Minute)
	if err != nil || len(got) != 1 || got[0].ID != job.ID || got[0].Attempts != 1 {
		t.Fatalf("first lease = %+v, %v", got, err)
	}
	if again, _ := q.Claim(ctx, "w2", 5, time.Minute); len(again) != 0 {
		t.Fatalf("second worker leased %d jobs", len(again))
	}
	c.Advance(2 * time.Minute)
	again, err := q.Claim(ctx, "w2", 5, time.Minute)
	if err != nil || len(again) != 1 || again[0].LeaseOwner != "w2" || again[0].Attempts != 2 {
		t.Fatalf("lease after lapse = %+v, %v", again, err)
	}
	if err := q.Complete(ctx, job.ID, "w1", "succeeded"); !errors.Is(err, jobs.ErrLeaseLost) {
		t.Fatalf("stale owner complete: %v", err)
	}
}

func TestWorkerRequeuesLockedScene(t *testing.T) {
	q, c := newQueue(t)
	ctx := context.Background()
	job, _ := q.Enqueue(ctx, "scene-1")
	runner := &scriptedRunner{results: []error{&pipeline.LockedError{SceneID: "scene-1", Holder: "alice"}, nil}}
	w := jobs.NewWorker(q, runner, jobs.Config{Owner: "w1", RetryDelay: 30 * time.Second, MaxAttempts: 3}, quietLogger())

	if n, err := w.ProcessDue(ctx); err != nil || n != 1 {
		t.Fatalf("first pass = %d, %v", n, err)
	}
	got, _ := q.Get(ctx, job.ID)
	if got.Status != domain.JobQueued || got.Outcome != string(pipeline.OutcomeLocked) || got.LastError == "" {
		t.Fatalf("after locked = %+v", got)
	}
	if !got.NextAttemptAt.Equal(c.Now().Add(30 * time.Second)) {
		t.Fatalf("next attempt = %v", got.NextAttemptAt)
	}
	if n, _ := w.ProcessDue(ctx); n != 0 {
		t.Fatal("job ran before its retry delay")
	}

	c.Advance(31 * time.Second)
	if n, err := w.ProcessDue(ctx); err != nil || n != 1 {
		t.Fatalf("second pass = %d, %v", n, err)
	}
	got, _ = q.Get(ctx, job.ID)
	if got.Status != domain.JobSucceeded || got.Attempts != 2 || got.LeaseOwner != "" {
		t.Fatalf("after success = %+v", got)
	}
}

func TestWorkerFailsBudgetAndExhaustedJobs(t *testing.T) {
	q, c := newQueue(t)
	ctx := context.Background()
	budgetJob, _ := q.Enqueue(ctx, "scene-1")
	runner := &scriptedRunner{results: []error{&pipeline.BudgetExceededError{Stage: domain.RoleWriter, Cap: 1}}}
	w := jobs.NewWorker(q, runner, jobs.Config{Owner: "w1", RetryDelay: time.Second, MaxAttempts: 2}, quietLogger())
	if _, err := w.ProcessDue(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := q.Get(ctx, budgetJob.ID); got.Status != domain.JobFailed {
		t.Fatalf("budget job = %+v", got)
	}

	flaky, _ := q.Enqueue(ctx, "scene-1")
	runner.results = []error{&pipeline.StageFailedError{Stage: domain.RoleEditor, Err: errors.New("boom")}}
	runner.calls = 0
	for i := 0; i < 2; i++ {
		if _, err := w.ProcessDue(ctx); err != nil {
			t.Fatal(err)
		}
		c.Advance(2 * time.Second)
	}
	got, _ := q.Get(ctx, flaky.ID)
	if got.Status != domain.JobFailed || got.Attempts != 2 {
		t.Fatalf("exhausted job = %+v", got)
	}
	failed, err := q.List(ctx, domain.JobFailed, "", 0)
	if err != nil || len(failed) != 2 {
		t.Fatalf("failed list = %d, %v", len(failed), err)
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	q, _ := newQueue(t)
	w := jobs.NewWorker(q, &scriptedRunner{results: []error{nil}}, jobs.Config{PollInterval: 10 * time.Millisecond}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
