// Package notify delivers downstream notifications produced by topic
// transforms and the worker. Every sink is best-effort from the caller's view.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/metrics"
)

// Notification types
const (
	TypeNewOrder          = "new_order"
	TypeOrderStatusUpdate = "order_status_update"
	TypeNewProduct        = "new_product"
	TypeLowStockAlert     = "low_stock_alert"
	TypeNewCustomer       = "new_customer"
	TypeDeadLetter        = "webhook_dead_letter"
)

// Notification is one outbound message. Section names the JSON key holding
// Data, e.g. "order" for {"type":"new_order","order":{...}}.
type Notification struct {
	Type    string
	Section string
	Data    any
	SentAt  time.Time
}

// MarshalJSON renders the flat automation-webhook body
func (n Notification) MarshalJSON() ([]byte, error) {
	body := map[string]any{"type": n.Type}
	if n.Section != "" {
		body[n.Section] = n.Data
	}
	if !n.SentAt.IsZero() {
		body["sentAt"] = n.SentAt.UTC().Format(time.RFC3339)
	}
	return json.Marshal(body)
}

// Notifier sends a notification somewhere
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Noop drops every notification
type Noop struct{}

func (Noop) Notify(context.Context, Notification) error { return nil }

type sink struct {
	name     string
	notifier Notifier
}

// Multi fans a notification out to every registered sink
type Multi struct {
	sinks []sink
}

func NewMulti() *Multi {
	return &Multi{}
}

// Add registers a named sink and returns m for chaining
func (m *Multi) Add(name string, n Notifier) *Multi {
	m.sinks = append(m.sinks, sink{name: name, notifier: n})
	return m
}

// Len returns the number of sinks
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Notify calls every sink even when one fails and joins the errors
func (m *Multi) Notify(ctx context.Context, n Notification) error {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}

	var errs []error
	for _, s := range m.sinks {
		if err := s.notifier.Notify(ctx, n); err != nil {
			metrics.NotificationsSent.WithLabelValues(n.Type, s.name, "error").Inc()
			errs = append(errs, errors.New(s.name+": "+err.Error()))
			continue
		}
		metrics.NotificationsSent.WithLabelValues(n.Type, s.name, "ok").Inc()
	}
	return errors.Join(errs...)
}

// BestEffort sends n and only logs a failure
func BestEffort(ctx context.Context, logger *slog.Logger, notifier Notifier, n Notification) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, n); err != nil {
		logger.Warn("Notification failed",
			slog.String("type", n.Type),
			slog.Any("error", err),
		)
	}
}
