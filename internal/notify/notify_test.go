package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"scenecraft/internal/config"
	"scenecraft/internal/domain"
	"scenecraft/internal/notify"
)

var (
	scope    = notify.Scope{ProjectID: "proj-1", SceneID: "scene-1", RunID: "run-1"}
	fixedNow = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
)

func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNATSPublishesPerSceneSubjects(t *testing.T) {
	url := startTestNATS(t)
	pub, err := notify.NewNATS(url, "sc")
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer nc.Close()
	ch := make(chan *nats.Msg, 8)
	sub, err := nc.ChanSubscribe("sc.proj-1.scene-1.>", ch)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	c := notify.NewChannel(pub, quietLogger())
	c.Now = fixedNow
	ctx := context.Background()
	c.Locked(ctx, scope, "pipeline:run-1", fixedNow().Add(5*time.Minute))
	c.ProposalCreated(ctx, scope, domain.Proposal{ID: "p-1", Role: domain.RoleWriter, Summary: "tighten"})
	c.Unlocked(ctx, scope)
	if err := pub.Flush(); err != nil {
		t.Fatal(err)
	}

	wantSubjects := []string{"sc.proj-1.scene-1.locked", "sc.proj-1.scene-1.proposal_created", "sc.proj-1.scene-1.unlocked"}
	for i, want := range wantSubjects {
		select {
		case msg := <-ch:
			if msg.Subject != want {
				t.Fatalf("message %d subject %s want %s", i, msg.Subject, want)
			}
			var got notify.Message
			if err := json.Unmarshal(msg.Data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.SceneID != "scene-1" || got.RunID != "run-1" || !got.At.Equal(fixedNow()) {
				t.Fatalf("unexpected message %+v", got)
			}
			if i == 0 && (got.LockedBy != "pipeline:run-1" || got.Until == nil) {
				t.Fatalf("locked message missing holder: %+v", got)
			}
			if i == 1 && (got.Proposal == nil || got.Proposal.ID != "p-1" || got.Stage != "writer") {
				t.Fatalf("proposal message %+v", got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestSubjectTokens(t *testing.T) {
	got := notify.Subject("sc", notify.Message{Kind: notify.KindStageStarted, ProjectID: "a.b", SceneID: "c d"})
	if got != "sc.a_b.c_d.stage_started" {
		t.Fatalf("subject %s", got)
	}
}

type capture struct {
	mu      sync.Mutex
	kinds   []string
	headers []http.Header
}

func (c *capture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg notify.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode: %v", err)
		}
		c.mu.Lock()
		c.kinds = append(c.kinds, string(msg.Kind))
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()
	}
}

func TestWebhookFiltersAndSigns(t *testing.T) {
	all, filtered := &capture{}, &capture{}
	allSrv := httptest.NewServer(all.handler(t))
	defer allSrv.Close()
	filteredSrv := httptest.NewServer(filtered.handler(t))
	defer filteredSrv.Close()
	disabled := false

	wh := notify.NewWebhook([]config.WebhookConfig{
		{URL: allSrv.URL, Secret: "s3cret"},
		{URL: filteredSrv.URL, Events: []string{"stage_failed", " unlocked "}},
		{URL: "http://127.0.0.1:1/never", Enabled: &disabled},
	})
	c := notify.NewChannel(wh, quietLogger())
	ctx := context.Background()
	c.StageStarted(ctx, scope, "writer")
	c.StageFailed(ctx, scope, "writer", "backend down")
	c.Unlocked(ctx, scope)

	if strings.Join(all.kinds, ",") != "stage_started,stage_failed,unlocked" {
		t.Fatalf("unfiltered hook got %v", all.kinds)
	}
	if strings.Join(filtered.kinds, ",") != "stage_failed,unlocked" {
		t.Fatalf("filtered hook got %v", filtered.kinds)
	}
	h := all.headers[0]
	if h.Get("X-Scenecraft-Secret") != "s3cret" || h.Get("X-Scenecraft-Event") != "stage_started" || h.Get("X-Scenecraft-Project") != "proj-1" {
		t.Fatalf("headers %v", h)
	}
	if h.Get("X-Scenecraft-Delivery") == "" {
		t.Fatal("missing delivery id")
	}
	if filtered.headers[0].Get("X-Scenecraft-Secret") != "" {
		t.Fatal("secret sent to hook without one")
	}
}

func TestWebhookFailureIsReturnedBySinkButSwallowedByChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()
	wh := notify.NewWebhook([]config.WebhookConfig{{URL: srv.URL}})
	if err := wh.Send(context.Background(), notify.Message{Kind: notify.KindUnlocked}); err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("expected status error, got %v", err)
	}
	// must not panic or block
	notify.NewChannel(wh, quietLogger()).Unlocked(context.Background(), scope)
}

type failing struct{ err error }

func (f failing) Send(context.Context, notify.Message) error { return f.err }
func (f failing) Close() error                              { return nil }

func TestMultiJoinsErrors(t *testing.T) {
	a, b := errors.New("a down"), errors.New("b down")
	m := notify.Multi{failing{a}, notify.Noop{}, failing{b}}
	err := m.Send(context.Background(), notify.Message{})
	if !errors.Is(err, a) || !errors.Is(err, b) {
		t.Fatalf("joined error %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	sink, err := notify.FromConfig(config.NotifyConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sink.(notify.Noop); !ok {
		t.Fatalf("empty config gave %T", sink)
	}
	url := startTestNATS(t)
	sink, err = notify.FromConfig(config.NotifyConfig{NATSURL: url, Webhooks: []config.WebhookConfig{{URL: "http://127.0.0.1:1"}}})
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()
	if m, ok := sink.(notify.Multi); !ok || len(m) != 2 {
		t.Fatalf("expected two sinks, got %T", sink)
	}
}
