package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sydlexius/media-reaper/internal/prober"
	"github.com/sydlexius/media-reaper/internal/registry"
)

func newSonarrServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/system/status" || r.Header.Get("X-Api-Key") != testAPIKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"appName":"Sonarr","version":"4.0.5.1710"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConnectionLifecycle(t *testing.T) {
	env := setupTestRouter(t, "")
	srv := newSonarrServer(t)

	w := env.do(t, http.MethodPost, "/api/connections", env.token, map[string]any{
		"name": "Sonarr", "type": "sonarr", "url": srv.URL + "/", "apiKey": testAPIKey,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), testAPIKey) {
		t.Fatalf("create response leaks key: %s", w.Body.String())
	}
	created := decodeBody[registry.ConnectionView](t, w)
	if created.MaskedAPIKey != "********cdef" || created.URL != srv.URL || created.Status != "unknown" {
		t.Errorf("created = %+v", created)
	}

	w = env.do(t, http.MethodGet, "/api/connections", env.token, nil)
	if list := decodeBody[[]registry.ConnectionView](t, w); len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("list = %+v", list)
	}

	w = env.do(t, http.MethodPost, "/api/connections/"+created.ID+"/test", env.token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("test status = %d", w.Code)
	}
	if res := decodeBody[prober.Result](t, w); !res.Success || res.Version != "4.0.5.1710" {
		t.Errorf("test result = %+v", res)
	}

	w = env.do(t, http.MethodGet, "/api/connections/"+created.ID, env.token, nil)
	got := decodeBody[registry.ConnectionView](t, w)
	if got.Status != "healthy" || got.LastCheckedAt == nil {
		t.Errorf("after probe = %+v", got)
	}

	// An empty apiKey keeps the stored key.
	w = env.do(t, http.MethodPut, "/api/connections/"+created.ID, env.token, map[string]any{
		"name": "Sonarr HD", "apiKey": "",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}
	updated := decodeBody[registry.ConnectionView](t, w)
	if updated.Name != "Sonarr HD" || updated.MaskedAPIKey != created.MaskedAPIKey {
		t.Errorf("updated = %+v", updated)
	}

	w = env.do(t, http.MethodDelete, "/api/connections/"+created.ID, env.token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}

	for _, rt := range []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/api/connections/" + created.ID, nil},
		{http.MethodPut, "/api/connections/" + created.ID, map[string]any{"name": "x"}},
		{http.MethodDelete, "/api/connections/" + created.ID, nil},
		{http.MethodPost, "/api/connections/" + created.ID + "/test", nil},
	} {
		if w := env.do(t, rt.method, rt.path, env.token, rt.body); w.Code != http.StatusNotFound {
			t.Errorf("%s after delete: status = %d, want 404", rt.method, w.Code)
		}
	}
}

func TestCreateConnectionErrors(t *testing.T) {
	env := setupTestRouter(t, "")
	tests := []struct {
		name   string
		body   any
		status int
		msg    string
	}{
		{"malformed json", "{", http.StatusBadRequest, "invalid request body"},
		{"empty body", "", http.StatusBadRequest, "invalid request body"},
		{"missing name", map[string]any{"type": "sonarr", "url": "http://h", "apiKey": "k"}, http.StatusBadRequest, ""},
		{"bad url", map[string]any{"name": "a", "type": "sonarr", "url": "ftp://h", "apiKey": "k"}, http.StatusBadRequest, ""},
		{"unsupported type", map[string]any{"name": "a", "type": "plex", "url": "http://h", "apiKey": "k"}, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/connections", env.token, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			msg := decodeBody[map[string]string](t, w)["error"]
			if msg == "" || (tt.msg != "" && msg != tt.msg) {
				t.Errorf("error = %q", msg)
			}
		})
	}
}

func TestCreateDuplicateName(t *testing.T) {
	env := setupTestRouter(t, "")
	body := map[string]any{"name": "Emby", "type": "emby", "url": "http://emby:8096", "apiKey": "k"}
	if w := env.do(t, http.MethodPost, "/api/connections", env.token, body); w.Code != http.StatusCreated {
		t.Fatalf("first create status = %d", w.Code)
	}
	body["name"] = "EMBY"
	if w := env.do(t, http.MethodPost, "/api/connections", env.token, body); w.Code != http.StatusBadRequest {
		t.Errorf("duplicate create status = %d, want 400", w.Code)
	}
}

func TestTestUnsavedEndpoint(t *testing.T) {
	env := setupTestRouter(t, "")
	srv := newSonarrServer(t)

	w := env.do(t, http.MethodPost, "/api/connections/test", env.token, map[string]any{
		"type": "sonarr", "url": srv.URL, "apiKey": "wrong-key",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	res := decodeBody[prober.Result](t, w)
	if res.Success || !strings.HasPrefix(res.Message, "HTTP 401") {
		t.Errorf("result = %+v", res)
	}
	if strings.Contains(w.Body.String(), "wrong-key") {
		t.Error("response echoes credential")
	}

	w = env.do(t, http.MethodPost, "/api/connections/test", env.token, map[string]any{
		"type": "lidarr", "url": srv.URL, "apiKey": "k",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unsupported type status = %d", w.Code)
	}

	if w = env.do(t, http.MethodGet, "/api/connections", env.token, nil); strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("test unsaved persisted something: %s", w.Body.String())
	}
}
