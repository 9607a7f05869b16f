// Package prober performs live reachability checks against connections.
//
// A probe is a single HTTP request built by the connection type's adapter
// and bounded by a timeout. Failures are reported as a Result, never as an
// error; errors are reserved for lookup, validation and storage problems.
package prober

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sydlexius/media-reaper/internal/connection"
	"github.com/sydlexius/media-reaper/internal/connection/emby"
	"github.com/sydlexius/media-reaper/internal/connection/radarr"
	"github.com/sydlexius/media-reaper/internal/connection/sonarr"
	"github.com/sydlexius/media-reaper/internal/event"
	"github.com/sydlexius/media-reaper/internal/metrics"
)

const (
	// DefaultTimeout bounds a probe when Options.Timeout is zero.
	DefaultTimeout = 10 * time.Second

	maxBodyBytes  = 1 << 20
	maxExcerptLen = 200

	msgMalformed = "malformed response"
)

// Result is the outcome of a probe.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	AppName string `json:"appName,omitempty"`
	Version string `json:"version,omitempty"`
}

// Store is the subset of connection.Store the prober needs.
type Store interface {
	Get(ctx context.Context, id string) (*connection.Connection, error)
	DecryptAPIKey(c *connection.Connection) (string, error)
	RecordProbeResult(ctx context.Context, id string, success bool) (connection.Status, error)
}

// Options configures a Prober. Zero values select defaults.
type Options struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Bus        *event.Bus
}

// Prober runs probes. It is safe for concurrent use.
type Prober struct {
	store   Store
	client  *http.Client
	timeout time.Duration
	metrics *metrics.Metrics
	bus     *event.Bus
	logger  *slog.Logger
}

// New creates a Prober.
func New(store Store, logger *slog.Logger, opts Options) *Prober {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Prober{
		store:   store,
		client:  opts.HTTPClient,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		bus:     opts.Bus,
		logger:  logger.With(slog.String("component", "prober")),
	}
}

// AdapterFor returns the adapter for t. Every supported type is handled
// here; anything else is ErrUnsupportedType.
func AdapterFor(t connection.Type) (connection.Adapter, error) {
	switch t {
	case connection.TypeSonarr:
		return sonarr.New(), nil
	case connection.TypeRadarr:
		return radarr.New(), nil
	case connection.TypeEmby:
		return emby.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", connection.ErrUnsupportedType, t)
	}
}

// TestSaved probes a stored connection and records the outcome. If ctx is
// cancelled while the probe is in flight nothing is recorded and ctx.Err()
// is returned.
func (p *Prober) TestSaved(ctx context.Context, id string) (Result, error) {
	c, err := p.store.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}

	apiKey, err := p.store.DecryptAPIKey(c)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", connection.ErrStorage, err)
	}

	res := p.TestRaw(ctx, c.Type, c.URL, apiKey)
	if err := ctx.Err(); err != nil {
		p.logger.Debug("probe abandoned, caller cancelled", "id", id)
		return Result{}, err
	}

	previous, err := p.store.RecordProbeResult(ctx, id, res.Success)
	if err != nil {
		return Result{}, err
	}

	status := connection.StatusUnhealthy
	if res.Success {
		status = connection.StatusHealthy
	}
	p.bus.Publish(event.Event{
		Type:         event.ConnectionProbed,
		ConnectionID: id,
		Data: map[string]any{
			"name":           c.Name,
			"type":           string(c.Type),
			"success":        res.Success,
			"message":        res.Message,
			"version":        res.Version,
			"status":         string(status),
			"previousStatus": string(previous),
		},
	})
	return res, nil
}

// TestUnsaved validates the inputs and probes them without touching storage.
func (p *Prober) TestUnsaved(ctx context.Context, in connection.Probe) (Result, error) {
	t, u, err := in.Validate()
	if err != nil {
		return Result{}, err
	}
	return p.TestRaw(ctx, t, u, in.APIKey), nil
}

// TestRaw performs one probe. It does not retry.
func (p *Prober) TestRaw(ctx context.Context, t connection.Type, baseURL, apiKey string) Result {
	start := time.Now()
	res := p.probe(ctx, t, baseURL, apiKey)
	p.metrics.ObserveProbe(string(t), res.Success, time.Since(start))

	p.logger.Debug("probe completed",
		"type", string(t),
		"url", baseURL,
		"success", res.Success,
		"message", res.Message,
		"duration", time.Since(start),
	)
	return res
}

func (p *Prober) probe(ctx context.Context, t connection.Type, baseURL, apiKey string) Result {
	adapter, err := AdapterFor(t)
	if err != nil {
		return failure(err.Error())
	}

	pr, err := adapter.BuildProbeRequest(baseURL, apiKey)
	if err != nil {
		return failure(scrub(fmt.Sprintf("building request: %v", err), apiKey))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, pr.Method, pr.Target, nil)
	if err != nil {
		return failure(scrub(fmt.Sprintf("invalid request: %v", err), apiKey))
	}
	req.Header = pr.Header

	resp, err := p.client.Do(req) //nolint:gosec // target built from a validated connection URL
	if err != nil {
		return failure(scrub(p.transportMessage(ctx, err), apiKey))
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return failure(scrub(p.transportMessage(ctx, err), apiKey))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		if ex := excerpt(body); ex != "" {
			msg += ": " + ex
		}
		return failure(scrub(strings.TrimSpace(msg), apiKey))
	}

	id, err := adapter.ParseProbeResponse(body)
	if err != nil {
		p.logger.Debug("unparsable probe response", "type", string(t), "error", err)
		return failure(msgMalformed)
	}
	return Result{Success: true, AppName: id.AppName, Version: id.Version}
}

func (p *Prober) transportMessage(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("timed out after %s", p.timeout)
	}
	if errors.Is(err, context.Canceled) {
		return "request cancelled"
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		err = ue.Err
	}
	return "connection failed: " + err.Error()
}

func failure(msg string) Result {
	return Result{Success: false, Message: msg}
}

// excerpt collapses whitespace and truncates body for an error message.
func excerpt(body []byte) string {
	s := strings.Join(strings.Fields(string(body)), " ")
	r := []rune(s)
	if len(r) > maxExcerptLen {
		return string(r[:maxExcerptLen]) + "..."
	}
	return s
}

func scrub(msg, secret string) string {
	if secret == "" {
		return msg
	}
	return strings.ReplaceAll(msg, secret, "[redacted]")
}
