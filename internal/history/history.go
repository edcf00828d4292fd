// Package history fans supervisor events out to the log and to durable sinks.
package history

import (
	"context"
	"log/slog"
	"net/url"
	"time"
)

// EventType defines the kind of supervision event.
type EventType string

const (
	EventLaunch        EventType = "launch"
	EventLaunchFailed  EventType = "launch_failed"
	EventTerminate     EventType = "terminate"
	EventRogue         EventType = "rogue"
	EventQuarantine    EventType = "quarantine"
	EventReset         EventType = "reset"
	EventLayoutChanged EventType = "layout_changed"
	EventLayoutInvalid EventType = "layout_invalid"
	EventStale         EventType = "stale"
	EventOverrun       EventType = "overrun"
)

// Event is one timestamped, leveled supervision record.
type Event struct {
	Type       EventType  `json:"type"`
	Level      slog.Level `json:"level"`
	OccurredAt time.Time  `json:"occurred_at"`
	Tile       string     `json:"tile,omitempty"`
	PID        int        `json:"pid,omitempty"`
	Source     string     `json:"source,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Message    string     `json:"message"`
}

// Attrs renders the event as slog attributes (without the message).
func (e Event) Attrs() []slog.Attr {
	attrs := []slog.Attr{slog.String("event", string(e.Type))}
	if e.Tile != "" {
		attrs = append(attrs, slog.String("tile", e.Tile))
	}
	if e.PID != 0 {
		attrs = append(attrs, slog.Int("pid", e.PID))
	}
	if e.Source != "" {
		attrs = append(attrs, slog.String("source", e.Source))
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}
	return attrs
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// RedactSource strips credentials from a stream URL. UniFi Protect RTSP
// URLs often embed them, and events leave the host.
func RedactSource(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.User == nil {
		return source
	}
	u.User = url.User("xxxxx")
	return u.String()
}
