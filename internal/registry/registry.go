// Package registry is the entry point for connection management. It joins
// the store and the prober, masks credentials on every outbound record and
// translates internal failures into a small error taxonomy.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sydlexius/media-reaper/internal/connection"
	"github.com/sydlexius/media-reaper/internal/event"
	"github.com/sydlexius/media-reaper/internal/prober"
)

// ConnectionView is the outward representation of a connection.
type ConnectionView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	URL           string     `json:"url"`
	MaskedAPIKey  string     `json:"maskedApiKey"`
	Enabled       bool       `json:"enabled"`
	Status        string     `json:"status"`
	LastCheckedAt *time.Time `json:"lastCheckedAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// CreateInput is the payload for Create.
type CreateInput struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	URL     string `json:"url"`
	APIKey  string `json:"apiKey"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// UpdateInput is the payload for Update. Nil fields are left unchanged.
type UpdateInput struct {
	Name    *string `json:"name,omitempty"`
	Type    *string `json:"type,omitempty"`
	URL     *string `json:"url,omitempty"`
	APIKey  *string `json:"apiKey,omitempty"`
	Enabled *bool   `json:"enabled,omitempty"`
}

// TestInput is the payload for TestUnsaved.
type TestInput struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	APIKey string `json:"apiKey"`
}

// Store is the subset of connection.Store used by the registry.
type Store interface {
	List(ctx context.Context) ([]connection.Connection, error)
	Get(ctx context.Context, id string) (*connection.Connection, error)
	Create(ctx context.Context, in connection.NewConnection) (*connection.Connection, error)
	Update(ctx context.Context, id string, p connection.Patch) (*connection.Connection, error)
	Delete(ctx context.Context, id string) error
	MaskedAPIKey(c *connection.Connection) string
}

// Prober is the subset of prober.Prober used by the registry.
type Prober interface {
	TestSaved(ctx context.Context, id string) (prober.Result, error)
	TestUnsaved(ctx context.Context, in connection.Probe) (prober.Result, error)
}

// Registry implements the connection management operations.
type Registry struct {
	store  Store
	prober Prober
	bus    *event.Bus
	logger *slog.Logger
}

// New creates a Registry. bus may be nil.
func New(store Store, p Prober, bus *event.Bus, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		prober: p,
		bus:    bus,
		logger: logger.With(slog.String("component", "registry")),
	}
}

// List returns every connection with masked keys.
func (r *Registry) List(ctx context.Context) ([]ConnectionView, error) {
	conns, err := r.store.List(ctx)
	if err != nil {
		return nil, r.translate("list", err)
	}
	views := make([]ConnectionView, 0, len(conns))
	for i := range conns {
		views = append(views, r.view(&conns[i]))
	}
	return views, nil
}

// Get returns one connection.
func (r *Registry) Get(ctx context.Context, id string) (ConnectionView, error) {
	c, err := r.store.Get(ctx, id)
	if err != nil {
		return ConnectionView{}, r.translate("get", err)
	}
	return r.view(c), nil
}

// Create stores a new connection.
func (r *Registry) Create(ctx context.Context, in CreateInput) (ConnectionView, error) {
	c, err := r.store.Create(ctx, connection.NewConnection{
		Name:    in.Name,
		Type:    in.Type,
		URL:     in.URL,
		APIKey:  in.APIKey,
		Enabled: in.Enabled,
	})
	if err != nil {
		return ConnectionView{}, r.translate("create", err)
	}
	r.logger.Info("connection created", "id", c.ID, "name", c.Name, "type", string(c.Type))
	r.publish(event.ConnectionCreated, c)
	return r.view(c), nil
}

// Update applies a partial update.
func (r *Registry) Update(ctx context.Context, id string, in UpdateInput) (ConnectionView, error) {
	c, err := r.store.Update(ctx, id, connection.Patch{
		Name:    in.Name,
		Type:    in.Type,
		URL:     in.URL,
		APIKey:  in.APIKey,
		Enabled: in.Enabled,
	})
	if err != nil {
		return ConnectionView{}, r.translate("update", err)
	}
	r.logger.Info("connection updated", "id", c.ID, "credential_changed", in.APIKey != nil)
	r.publish(event.ConnectionUpdated, c)
	return r.view(c), nil
}

// Delete removes a connection.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return r.translate("delete", err)
	}
	r.logger.Info("connection deleted", "id", id)
	r.bus.Publish(event.Event{Type: event.ConnectionDeleted, ConnectionID: id})
	return nil
}

// TestSaved probes a stored connection and records the outcome.
func (r *Registry) TestSaved(ctx context.Context, id string) (prober.Result, error) {
	res, err := r.prober.TestSaved(ctx, id)
	if err != nil {
		return prober.Result{}, r.translate("test", err)
	}
	return res, nil
}

// TestUnsaved probes the given inputs without storing anything.
func (r *Registry) TestUnsaved(ctx context.Context, in TestInput) (prober.Result, error) {
	res, err := r.prober.TestUnsaved(ctx, connection.Probe{Type: in.Type, URL: in.URL, APIKey: in.APIKey})
	if err != nil {
		return prober.Result{}, r.translate("test", err)
	}
	return res, nil
}

func (r *Registry) view(c *connection.Connection) ConnectionView {
	return ConnectionView{
		ID:            c.ID,
		Name:          c.Name,
		Type:          string(c.Type),
		URL:           c.URL,
		MaskedAPIKey:  r.store.MaskedAPIKey(c),
		Enabled:       c.Enabled,
		Status:        string(c.Status),
		LastCheckedAt: c.LastCheckedAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func (r *Registry) publish(t event.Type, c *connection.Connection) {
	r.bus.Publish(event.Event{
		Type:         t,
		ConnectionID: c.ID,
		Data:         map[string]any{"type": string(c.Type), "enabled": c.Enabled},
	})
}

// translate maps an internal error to an *Error, logging anything that is
// not the caller's fault.
func (r *Registry) translate(op string, err error) error {
	var ve *connection.ValidationError
	switch {
	case errors.Is(err, connection.ErrUnsupportedType):
		return &Error{Kind: KindUnsupportedType, Message: unsupportedMessage(err), Err: err}
	case errors.As(err, &ve):
		return &Error{Kind: KindValidation, Message: ve.Message, Field: ve.Field, Err: err}
	case errors.Is(err, connection.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: "connection not found", Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindCancelled, Message: "request cancelled", Err: err}
	default:
		r.logger.Error("connection operation failed", "op", op, "error", err)
		return &Error{Kind: KindStorage, Message: "internal storage error", Err: err}
	}
}

func unsupportedMessage(err error) string {
	var ve *connection.ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return "type must be one of: sonarr, radarr, emby"
}
