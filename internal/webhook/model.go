// Package webhook notifies external endpoints about connection lifecycle
// changes and reachability transitions.
package webhook

import (
	"fmt"
	"net/url"
	"slices"
)

// Webhook types.
const (
	TypeGeneric = "generic"
	TypeDiscord = "discord"
	TypeSlack   = "slack"
	TypeGotify  = "gotify"
)

// Notification names a webhook can subscribe to.
const (
	NotifyCreated   = "connection.created"
	NotifyUpdated   = "connection.updated"
	NotifyDeleted   = "connection.deleted"
	NotifyUnhealthy = "connection.unhealthy"
	NotifyRecovered = "connection.recovered"
)

var (
	types         = []string{TypeGeneric, TypeDiscord, TypeSlack, TypeGotify}
	notifications = []string{NotifyCreated, NotifyUpdated, NotifyDeleted, NotifyUnhealthy, NotifyRecovered}
)

// Webhook is a configured notification endpoint. The URL may embed a
// token and is never logged.
type Webhook struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Type   string   `yaml:"type"`
	Events []string `yaml:"events"`
}

// Validate checks the webhook definition. An empty Type means generic and
// empty Events means every notification.
func (w Webhook) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("webhook name is required")
	}
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook %q: url must be an absolute http or https URL", w.Name)
	}
	if w.Type != "" && !slices.Contains(types, w.Type) {
		return fmt.Errorf("webhook %q: unknown type %q", w.Name, w.Type)
	}
	for _, e := range w.Events {
		if !slices.Contains(notifications, e) {
			return fmt.Errorf("webhook %q: unknown event %q", w.Name, e)
		}
	}
	return nil
}

// Wants reports whether the webhook subscribes to notification n.
func (w Webhook) Wants(n string) bool {
	return len(w.Events) == 0 || slices.Contains(w.Events, n)
}
