// Package sonarr probes Sonarr instances through the v3 system status API.
package sonarr

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sydlexius/media-reaper/internal/connection"
)

const statusPath = "/api/v3/system/status"

var _ connection.Adapter = (*Adapter)(nil)

// Adapter implements connection.Adapter for Sonarr.
type Adapter struct{}

// New returns a Sonarr adapter.
func New() *Adapter { return &Adapter{} }

// Type returns connection.TypeSonarr.
func (*Adapter) Type() connection.Type { return connection.TypeSonarr }

// BuildProbeRequest targets the system status endpoint with the key in X-Api-Key.
func (*Adapter) BuildProbeRequest(baseURL, apiKey string) (connection.ProbeRequest, error) {
	header := http.Header{}
	header.Set("X-Api-Key", apiKey)
	header.Set("Accept", "application/json")
	return connection.ProbeRequest{
		Method: http.MethodGet,
		Target: strings.TrimRight(baseURL, "/") + statusPath,
		Header: header,
	}, nil
}

// ParseProbeResponse extracts app name and version from a status body.
func (*Adapter) ParseProbeResponse(body []byte) (connection.Identity, error) {
	var status SystemStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return connection.Identity{}, fmt.Errorf("%w: decoding system status: %w", connection.ErrMalformedResponse, err)
	}
	if status.Version == "" {
		return connection.Identity{}, fmt.Errorf("%w: system status has no version", connection.ErrMalformedResponse)
	}
	name := status.AppName
	if name == "" {
		name = "Sonarr"
	}
	return connection.Identity{AppName: name, Version: status.Version}, nil
}
