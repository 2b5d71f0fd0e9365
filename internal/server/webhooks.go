package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"citescope/internal/config"
	"citescope/internal/domain"
	"citescope/internal/logger"
	"citescope/internal/repo"
	"citescope/internal/telemetry"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher polls the event log after a per-hook cursor and POSTs
// new events to each configured URL.
type WebhookDispatcher struct {
	Repo      repo.Repo
	Webhooks  []config.WebhookConfig
	Logger    logger.Logger
	Telemetry *telemetry.Provider
	Interval  time.Duration

	client  *http.Client
	mu      sync.Mutex
	cursors map[int]int64
}

// StartWebhookDispatcher runs a dispatcher until ctx is done. It returns nil
// when no webhook is configured.
func StartWebhookDispatcher(ctx context.Context, r repo.Repo, hooks []config.WebhookConfig, log logger.Logger, tel *telemetry.Provider) *WebhookDispatcher {
	if len(hooks) == 0 || r.DB == nil {
		return nil
	}
	d := NewWebhookDispatcher(r, hooks, log, tel)
	go d.run(ctx)
	return d
}

func NewWebhookDispatcher(r repo.Repo, hooks []config.WebhookConfig, log logger.Logger, tel *telemetry.Provider) *WebhookDispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &WebhookDispatcher{
		Repo:      r,
		Webhooks:  hooks,
		Logger:    log,
		Telemetry: tel,
		Interval:  defaultWebhookInterval,
		client:    &http.Client{Timeout: defaultWebhookTimeout},
		cursors:   make(map[int]int64),
	}
}

func (d *WebhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchAll delivers pending events to every enabled hook once.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for i, hook := range d.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	events, err := d.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor, "")
	if err != nil {
		d.Logger.Warn("webhook: fetch events failed", logger.Error(err))
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		err := d.postEvent(ctx, hook, evt)
		d.Telemetry.WebhookDelivery(err)
		if err != nil {
			// retried from the same cursor on the next tick
			d.Logger.Warn("webhook: delivery failed", logger.String("url", hook.URL), logger.Int64("event_id", evt.ID), logger.Error(err))
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

// cursorFor starts new hooks at the latest event so history is not replayed.
func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.Repo.LatestEventID(ctx, "")
	if err != nil {
		d.Logger.Warn("webhook: init cursor failed", logger.Error(err))
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

// SetCursor positions hook idx after event id.
func (d *WebhookDispatcher) SetCursor(idx int, id int64) { d.setCursor(idx, id) }

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	JobID      string          `json:"job_id"`
	Stage      int             `json:"stage"`
	StageName  string          `json:"stage_name"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	body := webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		JobID:      evt.JobID,
		Stage:      evt.Stage,
		StageName:  domain.Stage(evt.Stage).Name(),
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Citescope-Event", evt.Type)
	req.Header.Set("X-Citescope-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-Citescope-Job", evt.JobID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Citescope-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
