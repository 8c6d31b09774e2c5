package scenecraftsdk_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scenecraft/internal/app"
	"scenecraft/internal/server"
	scenecraftsdk "scenecraft/sdk/go"
)

func newClient(t *testing.T) (*scenecraftsdk.Client, *app.Services) {
	t.Helper()
	svc, err := app.Open(context.Background(), app.Options{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	h, err := server.New(server.Config{
		Engine:   svc.Engine,
		Pipeline: svc.Orchestrator,
		Queue:    svc.Queue,
		Auth:     server.AuthConfig{JWTSecret: "sdk-secret"},
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Close()
	})
	token, err := server.SignToken("sdk-secret", "sdk-user", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	c := scenecraftsdk.New(srv.URL, "")
	c.BearerToken = token
	return c, svc
}

func TestClientDrivesSceneThroughPipeline(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)

	p, err := c.CreateProject(ctx, "Pilot", "A heist at dawn", 0)
	if err != nil {
		t.Fatal(err)
	}
	c.ProjectID = p.ID
	s, err := c.CreateScene(ctx, scenecraftsdk.SceneInput{Title: "Cold open", DurationSeconds: 60})
	if err != nil {
		t.Fatal(err)
	}
	script := "INT. VAN - NIGHT"
	if s, err = c.UpdateScene(ctx, s.ID, scenecraftsdk.SceneEdit{Script: &script}); err != nil || s.Script != script {
		t.Fatalf("update: %+v %v", s, err)
	}

	res, err := c.RunPipeline(ctx, s.ID)
	if err != nil || res.Outcome != "succeeded" || len(res.Proposals) != 6 {
		t.Fatalf("run: %+v %v", res, err)
	}
	props, err := c.Proposals(ctx, s.ID, "pending", res.RunID)
	if err != nil || len(props) != 6 {
		t.Fatalf("proposals: %d %v", len(props), err)
	}
	if _, err := c.ApplyProposal(ctx, props[0].ID); err != nil {
		t.Fatal(err)
	}
	if _, err := c.DismissProposal(ctx, props[0].ID, "again"); err == nil {
		t.Fatal("expected conflict")
	} else if apiErr, ok := err.(*scenecraftsdk.APIError); !ok || apiErr.StatusCode != http.StatusConflict || apiErr.Code != "proposal_not_pending" {
		t.Fatalf("err = %v", err)
	}

	b, err := c.Budget(ctx)
	if err != nil || !b.Unlimited || b.SpendUSD <= 0 {
		t.Fatalf("budget: %+v %v", b, err)
	}
	if s, err = c.SubmitScene(ctx, s.ID); err != nil || s.Status != "review" {
		t.Fatalf("submit: %+v %v", s, err)
	}
	if s, err = c.ApproveScene(ctx, s.ID); err != nil || s.ApprovedBy != "sdk-user" {
		t.Fatalf("approve: %+v %v", s, err)
	}

	page, err := c.EventsPage(ctx, 5, "")
	if err != nil || len(page.Items) != 5 || page.NextCursor == "" {
		t.Fatalf("events: %+v %v", page, err)
	}
}

func TestClientReportsLockedScene(t *testing.T) {
	ctx := context.Background()
	c, svc := newClient(t)
	p, err := c.CreateProject(ctx, "Pilot", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	c.ProjectID = p.ID
	s, err := c.CreateScene(ctx, scenecraftsdk.SceneInput{Title: "Cold open"})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	if ok, err := svc.Repo.TryAcquireSceneLease(ctx, svc.DB, s.ID, "elsewhere", now.Add(time.Hour), now); err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}
	_, err = c.RunPipeline(ctx, s.ID)
	if !scenecraftsdk.IsLocked(err) {
		t.Fatalf("err = %v", err)
	}

	job, err := c.EnqueuePipeline(ctx, s.ID)
	if err != nil || job.Status != "queued" {
		t.Fatalf("enqueue: %+v %v", job, err)
	}
	if got, err := c.Job(ctx, job.ID); err != nil || got.ID != job.ID {
		t.Fatalf("job: %+v %v", got, err)
	}
}
