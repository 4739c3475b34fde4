package worker

import (
	"context"
	"sort"
	"sync"

	"github.com/cuongbtq/magnolia-webhooks/internal/domain"
)

// HandlerFunc applies the business transform for one job. Returning an error
// wrapped with domain.NewPermanentError fails the job without automatic retry.
type HandlerFunc func(ctx context.Context, job *domain.Job) error

// Registry maps topics to their transforms
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds handler to topic, replacing any earlier binding
func (r *Registry) Register(topic string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = handler
}

// Lookup returns the handler for topic
func (r *Registry) Lookup(topic string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[topic]
	return h, ok
}

// Topics lists the registered topics in sorted order
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}
