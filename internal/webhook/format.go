package webhook

import (
	"encoding/json"
	"fmt"
	"time"
)

// Notification is one message about a connection.
type Notification struct {
	Event        string         `json:"event"`
	ConnectionID string         `json:"connectionId"`
	Timestamp    time.Time      `json:"timestamp"`
	Data         map[string]any `json:"data,omitempty"`
}

// formatPayload returns the request body and content-type for a webhook delivery.
func formatPayload(w *Webhook, n Notification) ([]byte, string) {
	switch w.Type {
	case TypeDiscord:
		return formatDiscord(n)
	case TypeSlack:
		return formatSlack(n)
	case TypeGotify:
		return formatGotify(n)
	default:
		return formatGeneric(n)
	}
}

func formatGeneric(n Notification) ([]byte, string) {
	body, _ := json.Marshal(n)
	return body, "application/json"
}

func formatDiscord(n Notification) ([]byte, string) {
	color := 3447003 // blue
	switch n.Event {
	case NotifyUnhealthy:
		color = 15158332 // red
	case NotifyRecovered:
		color = 3066993 // green
	}
	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       title(n),
				"description": describe(n),
				"color":       color,
				"timestamp":   n.Timestamp.UTC().Format(time.RFC3339),
			},
		},
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func formatSlack(n Notification) ([]byte, string) {
	payload := map[string]any{
		"text": fmt.Sprintf("*%s*\n%s", title(n), describe(n)),
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func formatGotify(n Notification) ([]byte, string) {
	priority := 2
	if n.Event == NotifyUnhealthy {
		priority = 8
	}
	payload := map[string]any{
		"title":    title(n),
		"message":  describe(n),
		"priority": priority,
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func title(n Notification) string {
	name, _ := n.Data["name"].(string)
	if name == "" {
		name = n.ConnectionID
	}
	switch n.Event {
	case NotifyUnhealthy:
		return fmt.Sprintf("media-reaper: %s is unreachable", name)
	case NotifyRecovered:
		return fmt.Sprintf("media-reaper: %s is reachable again", name)
	default:
		return fmt.Sprintf("media-reaper: %s", n.Event)
	}
}

func describe(n Notification) string {
	if msg, ok := n.Data["message"].(string); ok && msg != "" {
		return msg
	}
	if v, ok := n.Data["version"].(string); ok && v != "" {
		return "version " + v
	}
	b, _ := json.Marshal(n.Data)
	return string(b)
}
