// Package alerts turns bus events into operator notifications. Sinks
// are best-effort: a failed delivery is logged and never propagates
// into the trading loop.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/meridianlabs/tokensniper/internal/events"
)

// Severity of a notification.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityFatal = "fatal"
)

// Sink delivers one notification. Implementations must be safe for
// concurrent use.
type Sink interface {
	Notify(ctx context.Context, severity, title string, payload map[string]any)
}

// LogSink writes notifications to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink backed by the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("alerts")}
}

func (s *LogSink) Notify(_ context.Context, severity, title string, payload map[string]any) {
	fields := make([]zap.Field, 0, len(payload)+1)
	fields = append(fields, zap.String("severity", severity))
	for k, v := range payload {
		fields = append(fields, zap.Any(k, v))
	}
	switch severity {
	case SeverityFatal:
		s.logger.Error(title, fields...)
	case SeverityWarn:
		s.logger.Warn(title, fields...)
	default:
		s.logger.Info(title, fields...)
	}
}

// WebhookSink POSTs notifications as JSON to an HTTP endpoint. Delivery
// failures are logged and swallowed.
type WebhookSink struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookSink creates a sink targeting the given URL.
func NewWebhookSink(url string, logger *zap.Logger) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("webhook"),
	}
}

func (s *WebhookSink) Notify(ctx context.Context, severity, title string, payload map[string]any) {
	body := map[string]any{
		"severity": severity,
		"title":    title,
		"time":     time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range payload {
		body[k] = v
	}

	buf, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("failed to encode alert", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(buf))
	if err != nil {
		s.logger.Error("failed to build alert request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("alert delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.logger.Warn("alert endpoint returned error",
			zap.Int("status", resp.StatusCode))
	}
}

// MultiSink fans a notification out to several sinks.
type MultiSink []Sink

func (m MultiSink) Notify(ctx context.Context, severity, title string, payload map[string]any) {
	for _, s := range m {
		s.Notify(ctx, severity, title, payload)
	}
}

// Notifier subscribes to the event bus and routes selected events to a
// sink with the appropriate severity.
type Notifier struct {
	sink Sink
}

// NewNotifier wires the notifier onto the bus. Subscriptions live for
// the lifetime of the bus.
func NewNotifier(bus *events.Bus, sink Sink) *Notifier {
	n := &Notifier{sink: sink}
	bus.Subscribe(events.PositionOpened, events.HandlerFunc(n.onOpened))
	bus.Subscribe(events.PositionClosed, events.HandlerFunc(n.onClosed))
	bus.Subscribe(events.PositionStuck, events.HandlerFunc(n.onStuck))
	bus.Subscribe(events.CapacityDenied, events.HandlerFunc(n.onDenied))
	bus.Subscribe(events.FeedDisconnected, events.HandlerFunc(n.onFeedDown))
	return n
}

func (n *Notifier) onOpened(ctx context.Context, ev events.Event) {
	e, ok := ev.(events.PositionOpenedEvent)
	if !ok {
		return
	}
	n.sink.Notify(ctx, SeverityInfo, "position opened", map[string]any{
		"asset":       e.AssetID,
		"chain":       e.Chain,
		"entry_price": e.EntryPrice,
		"size":        e.Size,
	})
}

func (n *Notifier) onClosed(ctx context.Context, ev events.Event) {
	e, ok := ev.(events.PositionClosedEvent)
	if !ok {
		return
	}
	n.sink.Notify(ctx, SeverityInfo, "position closed", map[string]any{
		"asset":       e.AssetID,
		"chain":       e.Chain,
		"reason":      e.Reason,
		"entry_price": e.EntryPrice,
		"close_price": e.ClosePrice,
		"pnl_percent": fmt.Sprintf("%.2f", e.PnLPercent),
	})
}

func (n *Notifier) onStuck(ctx context.Context, ev events.Event) {
	e, ok := ev.(events.PositionStuckEvent)
	if !ok {
		return
	}
	n.sink.Notify(ctx, SeverityFatal, "position stuck, manual intervention required", map[string]any{
		"asset": e.AssetID,
		"chain": e.Chain,
		"error": e.Err,
	})
}

func (n *Notifier) onDenied(ctx context.Context, ev events.Event) {
	e, ok := ev.(events.CapacityDeniedEvent)
	if !ok {
		return
	}
	n.sink.Notify(ctx, SeverityWarn, "entry denied by risk limits", map[string]any{
		"asset":  e.AssetID,
		"chain":  e.Chain,
		"reason": e.Reason,
	})
}

func (n *Notifier) onFeedDown(ctx context.Context, ev events.Event) {
	e, ok := ev.(events.FeedDisconnectedEvent)
	if !ok {
		return
	}
	n.sink.Notify(ctx, SeverityWarn, "feed disconnected", map[string]any{
		"feed":  e.Feed,
		"error": e.Err,
	})
}
