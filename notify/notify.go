// Package notify delivers request events to RabbitMQ, WebSocket clients and logs.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/warp/driver-requests/requests"
)

// Envelope is the wire form of every event.
type Envelope struct {
	Type string          `json:"type"`
	At   time.Time       `json:"sent_at"`
	Data json.RawMessage `json:"data"`
}

// Encode wraps e in an Envelope and marshals it.
func Encode(e requests.Event, now time.Time) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: e.EventType(), At: now.UTC(), Data: data})
}

// DriverOf returns the driver an event concerns.
func DriverOf(e requests.Event) string {
	switch ev := e.(type) {
	case requests.RequestCreated:
		return ev.DriverID
	case requests.DayOffAutoApproved:
		return ev.DriverID
	case requests.RequestResponded:
		return ev.DriverID
	}
	return ""
}

// Multi publishes to every notifier and joins their errors.
type Multi []requests.Notifier

func (m Multi) Publish(ctx context.Context, e requests.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes every event to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Publish(ctx context.Context, e requests.Event) error {
	l.Logger.InfoContext(ctx, "event published",
		"event", e.EventType(), "driver_id", DriverOf(e))
	return nil
}
