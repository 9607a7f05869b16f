package radarr

import (
	"errors"
	"os"
	"testing"

	"github.com/sydlexius/media-reaper/internal/connection"
)

func TestBuildProbeRequest(t *testing.T) {
	key := "0123456789abcdef"
	req, err := New().BuildProbeRequest("http://radarr.local/base/", key)
	if err != nil {
		t.Fatal(err)
	}
	if req.Method != "GET" {
		t.Errorf("Method = %q", req.Method)
	}
	if req.Target != "http://radarr.local/base/api/v3/system/status" {
		t.Errorf("Target = %q", req.Target)
	}
	if got := req.Header.Get("X-Api-Key"); got != key {
		t.Errorf("X-Api-Key = %q", got)
	}
	if key != "0123456789abcdef" {
		t.Error("key mutated")
	}
}

func TestParseProbeResponse(t *testing.T) {
	body, err := os.ReadFile("testdata/system_status.json")
	if err != nil {
		t.Fatal(err)
	}
	id, err := New().ParseProbeResponse(body)
	if err != nil {
		t.Fatalf("ParseProbeResponse: %v", err)
	}
	if id.AppName != "Radarr" {
		t.Errorf("AppName = %q, want Radarr", id.AppName)
	}
	if id.Version != "5.9.1.9070" {
		t.Errorf("Version = %q, want 5.9.1.9070", id.Version)
	}
}

func TestParseProbeResponse_DefaultAppName(t *testing.T) {
	id, err := New().ParseProbeResponse([]byte(`{"version":"1.0.0"}`))
	if err != nil {
		t.Fatal(err)
	}
	if id.AppName != "Radarr" {
		t.Errorf("AppName = %q, want Radarr", id.AppName)
	}
}

func TestParseProbeResponse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"html", "<html><body>Unauthorized</body></html>"},
		{"no version", `{"appName":"Radarr"}`},
		{"wrong shape", `["a","b"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().ParseProbeResponse([]byte(tt.body))
			if !errors.Is(err, connection.ErrMalformedResponse) {
				t.Errorf("err = %v, want ErrMalformedResponse", err)
			}
		})
	}
}
