package authflow

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Event is one analytics/audit record emitted by the SDK. Components tag
// events with the correlation id of the flow that produced them so backend
// logs can be stitched together per sign-in attempt.
type Event struct {
	Name          string         `json:"name"`
	Category      string         `json:"category,omitempty"`
	Params        map[string]any `json:"params,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Time          time.Time      `json:"time"`
}

// Logger is the analytics sink the SDK reports events to. Implementations
// must not block; slow sinks should buffer or drop.
type Logger interface {
	Log(evt Event)
}

// NopLogger discards all events.
type NopLogger struct{}

func (NopLogger) Log(Event) {}

// ConsoleLogger writes events through slog for development use.
type ConsoleLogger struct {
	l *slog.Logger
}

// NewConsoleLogger creates a ConsoleLogger. A nil logger uses slog.Default.
func NewConsoleLogger(l *slog.Logger) *ConsoleLogger {
	if l == nil {
		l = slog.Default()
	}
	return &ConsoleLogger{l: l}
}

func (c *ConsoleLogger) Log(evt Event) {
	attrs := []any{"name", evt.Name}
	if evt.Category != "" {
		attrs = append(attrs, "category", evt.Category)
	}
	if evt.CorrelationID != "" {
		attrs = append(attrs, "correlationId", evt.CorrelationID)
	}
	for k, v := range evt.Params {
		attrs = append(attrs, k, v)
	}
	c.l.Info("auth event", attrs...)
}

// HTTPLogger posts events to a backend collection endpoint. Delivery is
// fire-and-forget: failures are logged locally and never propagate to the
// auth flow.
type HTTPLogger struct {
	Endpoint string
	Client   *http.Client
}

func (h *HTTPLogger) Log(evt Event) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	go func() {
		body, err := json.Marshal(evt)
		if err != nil {
			slog.Warn("event encode failed", "name", evt.Name, "err", err)
			return
		}
		resp, err := client.Post(h.Endpoint, "application/json", bytes.NewReader(body))
		if err != nil {
			slog.Warn("event delivery failed", "name", evt.Name, "err", err)
			return
		}
		resp.Body.Close()
	}()
}

// MultiLogger fans events out to several sinks.
type MultiLogger []Logger

func (m MultiLogger) Log(evt Event) {
	for _, l := range m {
		l.Log(evt)
	}
}

// StampEvent fills in the event time if unset and returns the event.
// Loggers receive already-stamped events from SDK components.
func StampEvent(evt Event) Event {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	return evt
}
