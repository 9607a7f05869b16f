package connection

import "net/http"

// ProbeRequest is a fully described outbound reachability check.
type ProbeRequest struct {
	Method string
	Target string
	Header http.Header
}

// Identity is what a healthy service reports about itself.
type Identity struct {
	AppName string
	Version string
}

// Adapter knows how to probe one service type. Implementations are pure:
// they perform no I/O and never retain the API key.
type Adapter interface {
	Type() Type
	BuildProbeRequest(baseURL, apiKey string) (ProbeRequest, error)
	ParseProbeResponse(body []byte) (Identity, error)
}
