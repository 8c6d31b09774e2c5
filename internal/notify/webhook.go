package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"scenecraft/internal/config"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts each message as JSON to the configured endpoints.
type Webhook struct {
	hooks  []config.WebhookConfig
	client *http.Client
}

func NewWebhook(hooks []config.WebhookConfig) *Webhook {
	var active []config.WebhookConfig
	for _, h := range hooks {
		if h.Enabled != nil && !*h.Enabled {
			continue
		}
		if strings.TrimSpace(h.URL) == "" {
			continue
		}
		active = append(active, h)
	}
	return &Webhook{hooks: active, client: &http.Client{Timeout: defaultWebhookTimeout}}
}

func (w *Webhook) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, hook := range w.hooks {
		if !newEventFilter(hook.Events).match(string(msg.Kind)) {
			continue
		}
		if err := w.post(ctx, hook, msg); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", hook.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (w *Webhook) Close() error { return nil }

func (w *Webhook) post(ctx context.Context, hook config.WebhookConfig, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	client := w.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Scenecraft-Event", string(msg.Kind))
	req.Header.Set("X-Scenecraft-Delivery", uuid.NewString())
	req.Header.Set("X-Scenecraft-Project", msg.ProjectID)
	req.Header.Set("X-Scenecraft-Scene", msg.SceneID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Scenecraft-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(kinds []string) eventFilter {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		if key := strings.TrimSpace(k); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(kind string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[kind]
	return ok
}
