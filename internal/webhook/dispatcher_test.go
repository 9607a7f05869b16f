package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sydlexius/media-reaper/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recorder struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (rec *recorder) server(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		rec.mu.Lock()
		rec.bodies = append(rec.bodies, body)
		rec.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (rec *recorder) all() []map[string]any {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]map[string]any(nil), rec.bodies...)
}

func probed(prev, cur string) event.Event {
	return event.Event{
		Type:         event.ConnectionProbed,
		ConnectionID: "c1",
		Timestamp:    time.Now().UTC(),
		Data: map[string]any{
			"name": "Sonarr", "previousStatus": prev, "status": cur,
			"message": "connection failed: connection refused",
		},
	}
}

func TestNotificationFor(t *testing.T) {
	tests := []struct {
		name string
		e    event.Event
		want string
		ok   bool
	}{
		{"created", event.Event{Type: event.ConnectionCreated}, NotifyCreated, true},
		{"deleted", event.Event{Type: event.ConnectionDeleted}, NotifyDeleted, true},
		{"first probe fails", probed("unknown", "unhealthy"), NotifyUnhealthy, true},
		{"goes down", probed("healthy", "unhealthy"), NotifyUnhealthy, true},
		{"still down", probed("unhealthy", "unhealthy"), "", false},
		{"recovers", probed("unhealthy", "healthy"), NotifyRecovered, true},
		{"first probe ok", probed("unknown", "healthy"), "", false},
		{"still up", probed("healthy", "healthy"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := notificationFor(tt.e)
			if got != tt.want || ok != tt.ok {
				t.Errorf("notificationFor = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestDispatcher_GenericWebhook(t *testing.T) {
	var rec recorder
	srv := rec.server(t, http.StatusOK)

	d := NewDispatcher([]Webhook{{Name: "ops", URL: srv.URL, Type: TypeGeneric}}, srv.Client(), testLogger())
	d.HandleEvent(probed("healthy", "unhealthy"))
	d.Wait()

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("received %d payloads, want 1", len(got))
	}
	if got[0]["event"] != NotifyUnhealthy || got[0]["connectionId"] != "c1" {
		t.Errorf("payload = %+v", got[0])
	}
}

func TestDispatcher_FiltersByEvent(t *testing.T) {
	var rec recorder
	srv := rec.server(t, http.StatusOK)

	d := NewDispatcher([]Webhook{
		{Name: "down-only", URL: srv.URL, Events: []string{NotifyUnhealthy}},
	}, srv.Client(), testLogger())
	d.HandleEvent(event.Event{Type: event.ConnectionCreated, ConnectionID: "c1"})
	d.HandleEvent(probed("unhealthy", "healthy"))
	d.HandleEvent(probed("healthy", "healthy"))
	d.Wait()

	if n := len(rec.all()); n != 0 {
		t.Errorf("received %d payloads, want 0", n)
	}
}

func TestDispatcher_Formats(t *testing.T) {
	tests := []struct {
		typ   string
		check func(t *testing.T, body map[string]any)
	}{
		{TypeDiscord, func(t *testing.T, body map[string]any) {
			embeds, _ := body["embeds"].([]any)
			if len(embeds) != 1 {
				t.Fatalf("embeds = %v", body["embeds"])
			}
			embed := embeds[0].(map[string]any)
			if !strings.Contains(embed["title"].(string), "Sonarr is unreachable") {
				t.Errorf("title = %v", embed["title"])
			}
		}},
		{TypeSlack, func(t *testing.T, body map[string]any) {
			if text, _ := body["text"].(string); !strings.Contains(text, "connection refused") {
				t.Errorf("text = %q", text)
			}
		}},
		{TypeGotify, func(t *testing.T, body map[string]any) {
			if body["priority"] != float64(8) {
				t.Errorf("priority = %v", body["priority"])
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			var rec recorder
			srv := rec.server(t, http.StatusOK)
			d := NewDispatcher([]Webhook{{Name: tt.typ, URL: srv.URL, Type: tt.typ}}, srv.Client(), testLogger())
			d.HandleEvent(probed("healthy", "unhealthy"))
			d.Wait()

			got := rec.all()
			if len(got) != 1 {
				t.Fatalf("received %d payloads", len(got))
			}
			tt.check(t, got[0])
		})
	}
}

func TestDispatcher_RetriesOnFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher([]Webhook{{Name: "flaky", URL: srv.URL}}, srv.Client(), testLogger())
	d.backoff = time.Millisecond
	d.HandleEvent(event.Event{Type: event.ConnectionDeleted, ConnectionID: "c1"})
	d.Wait()

	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestDispatcher_Subscribe(t *testing.T) {
	var rec recorder
	srv := rec.server(t, http.StatusOK)
	d := NewDispatcher([]Webhook{{Name: "all", URL: srv.URL}}, srv.Client(), testLogger())

	bus := event.NewBus(testLogger(), 8)
	d.Subscribe(bus)
	bus.Publish(event.Event{Type: event.ConnectionCreated, ConnectionID: "c1"})
	bus.Stop()
	bus.Run(t.Context())
	d.Wait()

	if got := rec.all(); len(got) != 1 || got[0]["event"] != NotifyCreated {
		t.Errorf("payloads = %+v", got)
	}
}

func TestWebhookValidate(t *testing.T) {
	tests := []struct {
		name string
		w    Webhook
		ok   bool
	}{
		{"valid", Webhook{Name: "a", URL: "https://hooks.example.com/x", Type: TypeSlack, Events: []string{NotifyRecovered}}, true},
		{"default type", Webhook{Name: "a", URL: "http://gotify:80/message"}, true},
		{"no name", Webhook{URL: "https://h"}, false},
		{"relative url", Webhook{Name: "a", URL: "/hook"}, false},
		{"bad type", Webhook{Name: "a", URL: "https://h", Type: "teams"}, false},
		{"bad event", Webhook{Name: "a", URL: "https://h", Events: []string{"scan.completed"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.w.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
