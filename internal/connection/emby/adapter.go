// Package emby probes Emby servers.
package emby

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sydlexius/media-reaper/internal/connection"
)

// infoPath requires a valid token, unlike /System/Info/Public.
const infoPath = "/System/Info"

var _ connection.Adapter = (*Adapter)(nil)

// Adapter implements connection.Adapter for Emby.
type Adapter struct{}

// New returns an Emby adapter.
func New() *Adapter { return &Adapter{} }

// Type returns connection.TypeEmby.
func (*Adapter) Type() connection.Type { return connection.TypeEmby }

// BuildProbeRequest targets /System/Info with the key in X-Emby-Token.
func (*Adapter) BuildProbeRequest(baseURL, apiKey string) (connection.ProbeRequest, error) {
	header := http.Header{}
	header.Set("X-Emby-Token", apiKey)
	header.Set("Accept", "application/json")
	return connection.ProbeRequest{
		Method: http.MethodGet,
		Target: strings.TrimRight(baseURL, "/") + infoPath,
		Header: header,
	}, nil
}

// ParseProbeResponse reports the server as "Emby (<ServerName>)".
func (*Adapter) ParseProbeResponse(body []byte) (connection.Identity, error) {
	var info SystemInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return connection.Identity{}, fmt.Errorf("%w: decoding system info: %w", connection.ErrMalformedResponse, err)
	}
	if info.Version == "" {
		return connection.Identity{}, fmt.Errorf("%w: system info has no version", connection.ErrMalformedResponse)
	}
	name := "Emby"
	if info.ServerName != "" {
		name = "Emby (" + info.ServerName + ")"
	}
	return connection.Identity{AppName: name, Version: info.Version}, nil
}
