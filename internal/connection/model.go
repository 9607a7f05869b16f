package connection

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Type identifies the kind of external service a connection points at.
type Type string

// Supported connection types.
const (
	TypeSonarr Type = "sonarr"
	TypeRadarr Type = "radarr"
	TypeEmby   Type = "emby"
)

// Types lists every supported connection type in display order.
var Types = []Type{TypeSonarr, TypeRadarr, TypeEmby}

// ParseType converts s to a Type. Unknown values return ErrUnsupportedType.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeSonarr, TypeRadarr, TypeEmby:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
	}
}

// Status is the reachability state recorded by the last saved probe.
type Status string

// Connection statuses.
const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Connection is a persisted connection record. The API key is only ever
// held in encrypted form; use Store.DecryptAPIKey for a transient plaintext.
type Connection struct {
	ID              string
	Name            string
	Type            Type
	URL             string
	EncryptedAPIKey string
	Enabled         bool
	Status          Status
	LastCheckedAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewConnection holds the fields needed to create a connection.
// Enabled defaults to true when nil.
type NewConnection struct {
	Name    string
	Type    string
	URL     string
	APIKey  string
	Enabled *bool
}

// Patch describes a partial update. Nil fields are left unchanged; a nil
// APIKey keeps the stored secret.
type Patch struct {
	Name    *string
	Type    *string
	URL     *string
	APIKey  *string
	Enabled *bool
}

// Probe carries the unsaved inputs of a connectivity test.
type Probe struct {
	Type   string
	URL    string
	APIKey string
}

// Validate checks the probe inputs and returns the parsed type and
// normalized URL.
func (p Probe) Validate() (Type, string, error) {
	t, err := validateType(p.Type)
	if err != nil {
		return "", "", err
	}
	u, err := NormalizeURL(p.URL)
	if err != nil {
		return "", "", err
	}
	if err := validateAPIKey(p.APIKey); err != nil {
		return "", "", err
	}
	return t, u, nil
}

func (n NewConnection) validate() (name string, t Type, u string, err error) {
	if name, err = validateName(n.Name); err != nil {
		return "", "", "", err
	}
	if t, err = validateType(n.Type); err != nil {
		return "", "", "", err
	}
	if u, err = NormalizeURL(n.URL); err != nil {
		return "", "", "", err
	}
	if err = validateAPIKey(n.APIKey); err != nil {
		return "", "", "", err
	}
	return name, t, u, nil
}

// NormalizeURL validates raw as an absolute http(s) URL without a query or
// fragment and trims any trailing slash.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{Field: "url", Message: "url is required"}
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" {
		return "", &ValidationError{Field: "url", Message: "url must be an absolute http or https URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Field: "url", Message: "url scheme must be http or https"}
	}
	if strings.ContainsAny(raw, "?#") {
		return "", &ValidationError{Field: "url", Message: "url must not contain a query or fragment"}
	}
	return strings.TrimRight(raw, "/"), nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &ValidationError{Field: "name", Message: "name is required"}
	}
	return name, nil
}

func validateType(s string) (Type, error) {
	t, err := ParseType(s)
	if err != nil {
		return "", &ValidationError{
			Field:   "type",
			Message: fmt.Sprintf("type must be one of: sonarr, radarr, emby (got %q)", s),
			Err:     err,
		}
	}
	return t, nil
}

func validateAPIKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return &ValidationError{Field: "apiKey", Message: "api key is required"}
	}
	return nil
}
