package app_test

import (
	"context"
	"os"
	"testing"
	"time"

	"scenecraft/internal/app"
	"scenecraft/internal/config"
	"scenecraft/internal/domain"
	"scenecraft/internal/engine"
)

func TestOpenRunsPipelineOnDefaults(t *testing.T) {
	ctx := context.Background()
	svc, err := app.Open(ctx, app.Options{Workspace: t.TempDir(), Now: func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	if len(svc.Orchestrator.Stages) != len(domain.Roles()) {
		t.Fatalf("stages = %d", len(svc.Orchestrator.Stages))
	}
	if _, err := app.ResolveProject(ctx, svc.Repo, ""); err == nil {
		t.Fatal("expected error with no projects")
	}
	p, err := svc.Engine.CreateProject(ctx, engine.ProjectCreateOptions{Title: "Pilot", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if got, err := app.ResolveProject(ctx, svc.Repo, ""); err != nil || got != p.ID {
		t.Fatalf("resolve = %q, %v", got, err)
	}
	s, err := svc.Engine.CreateScene(ctx, engine.SceneCreateOptions{ProjectID: p.ID, Title: "Cold open", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := svc.Orchestrator.Run(ctx, s.ID)
	if err != nil || len(res.Proposals) != 6 {
		t.Fatalf("run: %v, %d proposals", err, len(res.Proposals))
	}
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	yml := "pipeline:\n  lease_ttl: 90s\n  retry:\n    max_attempts: 4\n"
	if err := os.WriteFile(config.Path(dir), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	svc, err := app.Open(context.Background(), app.Options{Workspace: dir})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	if svc.Orchestrator.LeaseTTL != 90*time.Second {
		t.Fatalf("lease ttl = %v", svc.Orchestrator.LeaseTTL)
	}
	if p := app.RetryPolicy(svc.Config); p.MaxAttempts != 4 || p.InitialDelay != time.Second {
		t.Fatalf("retry policy = %+v", p)
	}
}
