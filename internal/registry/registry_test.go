package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/sydlexius/media-reaper/internal/connection"
	"github.com/sydlexius/media-reaper/internal/database"
	"github.com/sydlexius/media-reaper/internal/encryption"
	"github.com/sydlexius/media-reaper/internal/prober"
)

const testKey = "0123456789abcdef0123456789abcdef"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	key, _ := encryption.GenerateKey()
	enc, err := encryption.NewEncryptor(key)
	if err != nil {
		t.Fatal(err)
	}
	store := connection.NewStore(db, enc, testLogger())
	return New(store, prober.New(store, testLogger(), prober.Options{}), nil, testLogger())
}

func strPtr(s string) *string { return &s }

func TestCreateMasksKey(t *testing.T) {
	r := setupTestRegistry(t)
	v, err := r.Create(context.Background(), CreateInput{
		Name: "Sonarr", Type: "sonarr", URL: "http://sonarr:8989", APIKey: testKey,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v.MaskedAPIKey != "********cdef" {
		t.Errorf("MaskedAPIKey = %q", v.MaskedAPIKey)
	}
	if v.Status != "unknown" || !v.Enabled {
		t.Errorf("defaults not applied: %+v", v)
	}

	b, _ := json.Marshal(v)
	if strings.Contains(string(b), testKey) {
		t.Errorf("serialized view leaks key: %s", b)
	}
	for _, field := range []string{`"maskedApiKey"`, `"lastCheckedAt":null`, `"createdAt"`, `"updatedAt"`} {
		if !strings.Contains(string(b), field) {
			t.Errorf("serialized view missing %s: %s", field, b)
		}
	}
}

func TestListGetRoundTrip(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	created, err := r.Create(ctx, CreateInput{Name: "Emby", Type: "emby", URL: "http://emby:8096/", APIKey: "abc"})
	if err != nil {
		t.Fatal(err)
	}

	list, err := r.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("List = %+v", list)
	}
	if list[0].URL != "http://emby:8096" {
		t.Errorf("URL = %q", list[0].URL)
	}
	if list[0].MaskedAPIKey != encryption.MaskMarker {
		t.Errorf("short key masked as %q", list[0].MaskedAPIKey)
	}

	got, err := r.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Emby" || got.Type != "emby" {
		t.Errorf("Get = %+v", got)
	}
}

func TestUpdatePreservesKeyWhenAbsent(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()
	created, _ := r.Create(ctx, CreateInput{Name: "Radarr", Type: "radarr", URL: "http://radarr", APIKey: testKey})

	v, err := r.Update(ctx, created.ID, UpdateInput{Name: strPtr("Radarr 4K")})
	if err != nil {
		t.Fatal(err)
	}
	if v.MaskedAPIKey != created.MaskedAPIKey {
		t.Errorf("MaskedAPIKey changed: %q -> %q", created.MaskedAPIKey, v.MaskedAPIKey)
	}

	v, err = r.Update(ctx, created.ID, UpdateInput{APIKey: strPtr("fedcba9876543210")})
	if err != nil {
		t.Fatal(err)
	}
	if v.MaskedAPIKey != "********3210" {
		t.Errorf("MaskedAPIKey = %q after key change", v.MaskedAPIKey)
	}
}

func TestErrorTranslation(t *testing.T) {
	r := setupTestRegistry(t)
	ctx := context.Background()

	_, err := r.Create(ctx, CreateInput{Name: "", Type: "sonarr", URL: "http://h", APIKey: "k"})
	if KindOf(err) != KindValidation {
		t.Errorf("empty name kind = %q (%v)", KindOf(err), err)
	}

	_, err = r.Create(ctx, CreateInput{Name: "x", Type: "plex", URL: "http://h", APIKey: "k"})
	if KindOf(err) != KindUnsupportedType {
		t.Errorf("bad type kind = %q (%v)", KindOf(err), err)
	}

	_, err = r.Update(ctx, "missing", UpdateInput{})
	if KindOf(err) != KindNotFound {
		t.Errorf("update missing kind = %q", KindOf(err))
	}
	if err := r.Delete(ctx, "missing"); KindOf(err) != KindNotFound {
		t.Errorf("delete missing kind = %q", KindOf(err))
	}
	if _, err := r.TestSaved(ctx, "missing"); KindOf(err) != KindNotFound {
		t.Errorf("test missing kind = %q", KindOf(err))
	}
	if _, err := r.TestUnsaved(ctx, TestInput{Type: "emby", URL: "nope", APIKey: "k"}); KindOf(err) != KindValidation {
		t.Errorf("test unsaved bad url kind = %q", KindOf(err))
	}
}

type failingStore struct{ Store }

func (failingStore) List(context.Context) ([]connection.Connection, error) {
	return nil, fmt.Errorf("listing connections: %w: %w", connection.ErrStorage, errors.New("disk I/O error at /data/reaper.db"))
}

func TestStorageErrorIsGeneric(t *testing.T) {
	r := New(failingStore{}, nil, nil, testLogger())
	_, err := r.List(context.Background())
	if KindOf(err) != KindStorage {
		t.Fatalf("kind = %q", KindOf(err))
	}
	if strings.Contains(err.Error(), "/data") || strings.Contains(err.Error(), "disk") {
		t.Errorf("storage detail leaked: %q", err.Error())
	}
	if !errors.Is(err, connection.ErrStorage) {
		t.Error("cause not preserved")
	}
}

func TestTestSavedThroughRegistry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != testKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"appName":"Radarr","version":"5.9.1"}`))
	}))
	defer srv.Close()

	r := setupTestRegistry(t)
	ctx := context.Background()
	created, _ := r.Create(ctx, CreateInput{Name: "Radarr", Type: "radarr", URL: srv.URL, APIKey: testKey})

	res, err := r.TestSaved(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Version != "5.9.1" {
		t.Errorf("result = %+v", res)
	}

	v, _ := r.Get(ctx, created.ID)
	if v.Status != "healthy" || v.LastCheckedAt == nil {
		t.Errorf("status not recorded: %+v", v)
	}

	res, err = r.TestUnsaved(ctx, TestInput{Type: "radarr", URL: srv.URL, APIKey: "wrong"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Message != "HTTP 401 Unauthorized" {
		t.Errorf("unsaved result = %+v", res)
	}
}
