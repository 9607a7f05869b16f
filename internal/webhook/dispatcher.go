package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sydlexius/media-reaper/internal/event"
	"github.com/sydlexius/media-reaper/internal/version"
)

const (
	maxRetries     = 3
	requestTimeout = 10 * time.Second
)

// Dispatcher turns bus events into notifications and delivers them to the
// configured webhooks.
type Dispatcher struct {
	webhooks   []Webhook
	httpClient *http.Client
	backoff    time.Duration
	logger     *slog.Logger

	wg sync.WaitGroup
}

// NewDispatcher creates a webhook dispatcher. httpClient may be nil.
func NewDispatcher(webhooks []Webhook, httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Dispatcher{
		webhooks:   webhooks,
		httpClient: httpClient,
		backoff:    time.Second,
		logger:     logger.With(slog.String("component", "webhook-dispatcher")),
	}
}

// Subscribe registers the dispatcher for every connection event.
func (d *Dispatcher) Subscribe(bus *event.Bus) {
	for _, t := range []event.Type{
		event.ConnectionCreated, event.ConnectionUpdated,
		event.ConnectionDeleted, event.ConnectionProbed,
	} {
		bus.Subscribe(t, d.HandleEvent)
	}
}

// HandleEvent is an event.Handler. Deliveries run in their own goroutines.
func (d *Dispatcher) HandleEvent(e event.Event) {
	name, ok := notificationFor(e)
	if !ok {
		return
	}
	n := Notification{Event: name, ConnectionID: e.ConnectionID, Timestamp: e.Timestamp, Data: e.Data}

	for i := range d.webhooks {
		w := d.webhooks[i]
		if !w.Wants(name) {
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(&w, n)
		}()
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// notificationFor maps an event to a notification name. Probe events only
// notify on a change between healthy and unhealthy.
func notificationFor(e event.Event) (string, bool) {
	switch e.Type {
	case event.ConnectionCreated:
		return NotifyCreated, true
	case event.ConnectionUpdated:
		return NotifyUpdated, true
	case event.ConnectionDeleted:
		return NotifyDeleted, true
	case event.ConnectionProbed:
		prev, _ := e.Data["previousStatus"].(string)
		cur, _ := e.Data["status"].(string)
		switch {
		case cur == "unhealthy" && prev != "unhealthy":
			return NotifyUnhealthy, true
		case cur == "healthy" && prev == "unhealthy":
			return NotifyRecovered, true
		}
	}
	return "", false
}

func (d *Dispatcher) deliver(w *Webhook, n Notification) {
	body, contentType := formatPayload(w, n)

	var lastErr error
	for attempt := range maxRetries {
		if attempt > 0 {
			time.Sleep(d.backoff << uint(attempt-1))
		}

		lastErr = d.send(w.URL, body, contentType)
		if lastErr == nil {
			d.logger.Debug("webhook delivered", "webhook", w.Name, "event", n.Event, "attempt", attempt+1)
			return
		}
		d.logger.Warn("webhook delivery failed", "webhook", w.Name, "event", n.Event, "attempt", attempt+1, "error", lastErr)
	}

	d.logger.Error("webhook delivery exhausted retries", "webhook", w.Name, "event", n.Event, "error", lastErr)
}

func (d *Dispatcher) send(target string, body []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "media-reaper/"+version.Version)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		// url.Error repeats the URL, which may carry a token.
		return fmt.Errorf("sending request: %w", unwrapURLError(err))
	}
	defer resp.Body.Close()        //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
