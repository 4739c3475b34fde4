package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher is the subset of rabbitmq.Client used for notifications
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// RabbitNotifier publishes notifications to an exchange, routed by
// "<prefix>.<type>" so consumers can bind per notification type
type RabbitNotifier struct {
	publisher Publisher
	prefix    string
}

func NewRabbitNotifier(publisher Publisher, prefix string) *RabbitNotifier {
	if prefix == "" {
		prefix = "magnolia.notifications"
	}
	return &RabbitNotifier{publisher: publisher, prefix: prefix}
}

func (r *RabbitNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return r.publisher.PublishWithRetry(ctx, r.prefix+"."+n.Type, body, "application/json")
}
