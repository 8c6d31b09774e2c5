package telemetry_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"scenecraft/internal/telemetry"
)

func TestSetupIsNoopWithoutEndpoint(t *testing.T) {
	t.Setenv(telemetry.EnvEndpoint, "")
	shutdown, err := telemetry.Setup(context.Background(), "scenecraft-test")
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestSetupDisabledFlagWins(t *testing.T) {
	t.Setenv(telemetry.EnvEndpoint, "http://127.0.0.1:1/v1/traces")
	t.Setenv(telemetry.EnvEnabled, "FALSE")
	shutdown, err := telemetry.Setup(context.Background(), "scenecraft-test")
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestSetupExportsSpans(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/traces" {
			hits.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	t.Setenv(telemetry.EnvEndpoint, srv.URL+"/v1/traces")
	t.Setenv(telemetry.EnvEnabled, "")

	ctx := context.Background()
	shutdown, err := telemetry.Setup(ctx, "scenecraft-test")
	if err != nil {
		t.Fatal(err)
	}
	_, span := telemetry.Tracer().Start(ctx, "probe")
	span.End()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if hits.Load() == 0 {
		t.Fatal("no spans exported")
	}
}
