package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/domain"
)

// MemoryStore keeps everything in process memory behind a single mutex.
// It backs the memory storage driver and the package tests.
type MemoryStore struct {
	mu sync.Mutex

	jobs   map[string]*domain.Job
	active map[string]string // idempotency key -> job id
	seq    map[string]int    // job id -> insertion order
	next   int

	events []domain.WebhookEvent

	customers map[string]domain.Customer
	orders    map[string]domain.Order
	products  map[string]domain.Product
	inventory map[string]domain.InventoryLevel
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*domain.Job),
		active:    make(map[string]string),
		seq:       make(map[string]int),
		customers: make(map[string]domain.Customer),
		orders:    make(map[string]domain.Order),
		products:  make(map[string]domain.Product),
		inventory: make(map[string]domain.InventoryLevel),
	}
}

func (s *MemoryStore) EnqueueJob(_ context.Context, job *domain.Job, event *domain.WebhookEvent) (*domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := false
	stored, ok := s.activeJob(job.Topic, job.ExternalID)
	if !ok {
		if _, exists := s.jobs[job.ID]; exists {
			return nil, false, fmt.Errorf("duplicate job id %s", job.ID)
		}
		stored = cloneJob(job)
		stored.State = domain.JobStateQueued
		s.jobs[stored.ID] = stored
		s.active[stored.Key()] = stored.ID
		s.seq[stored.ID] = s.next
		s.next++
		created = true
	}

	if event != nil {
		ev := *event
		ev.JobID = stored.ID
		ev.RetryCount = stored.TotalAttempts
		s.events = append(s.events, ev)
	}

	return cloneJob(stored), created, nil
}

func (s *MemoryStore) ClaimNext(_ context.Context, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *domain.Job
	for _, job := range s.jobs {
		if job.State != domain.JobStateQueued || job.NextAttemptAt.After(now) {
			continue
		}
		if oldest == nil || s.before(job, oldest) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, domain.ErrNoJobAvailable
	}

	claimedAt := now
	oldest.State = domain.JobStateInFlight
	oldest.LastAttemptAt = &claimedAt
	oldest.UpdatedAt = now

	return cloneJob(oldest), nil
}

func (s *MemoryStore) FinishJob(_ context.Context, job *domain.Job, event *domain.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok || stored.State != domain.JobStateInFlight {
		return fmt.Errorf("finish job %s: %w", job.ID, domain.ErrJobNotFound)
	}

	stored.State = job.State
	stored.Attempts = job.Attempts
	stored.TotalAttempts = job.TotalAttempts
	stored.LastError = job.LastError
	stored.NextAttemptAt = job.NextAttemptAt
	stored.CompletedAt = copyTime(job.CompletedAt)
	stored.UpdatedAt = job.UpdatedAt

	if !stored.IsActive() && s.active[stored.Key()] == stored.ID {
		delete(s.active, stored.Key())
	}

	if event != nil {
		s.events = append(s.events, *event)
	}
	return nil
}

func (s *MemoryStore) RequeueJob(_ context.Context, jobID string, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || !job.IsRetryable() {
		return nil, domain.ErrJobNotRetryable
	}
	if holder, held := s.active[job.Key()]; held && holder != job.ID {
		return nil, domain.ErrJobNotRetryable
	}

	job.State = domain.JobStateQueued
	job.Attempts = 0
	job.NextAttemptAt = now
	job.UpdatedAt = now
	s.active[job.Key()] = job.ID

	return cloneJob(job), nil
}

func (s *MemoryStore) ReleaseStale(_ context.Context, cutoff, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for _, job := range s.jobs {
		if job.State != domain.JobStateInFlight || job.LastAttemptAt == nil || !job.LastAttemptAt.Before(cutoff) {
			continue
		}
		job.State = domain.JobStateQueued
		job.NextAttemptAt = now
		job.UpdatedAt = now
		released++
	}
	return released, nil
}

func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) ListFailedJobs(_ context.Context, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failed []domain.Job
	for _, job := range s.jobs {
		if job.IsRetryable() {
			failed = append(failed, *cloneJob(job))
		}
	}
	sort.Slice(failed, func(i, j int) bool {
		if failed[i].UpdatedAt.Equal(failed[j].UpdatedAt) {
			return s.seq[failed[i].ID] > s.seq[failed[j].ID]
		}
		return failed[i].UpdatedAt.After(failed[j].UpdatedAt)
	})

	limit = clampLimit(limit, 50, 500)
	if len(failed) > limit {
		failed = failed[:limit]
	}
	return failed, nil
}

func (s *MemoryStore) QueueStats(_ context.Context, doneSince time.Time) (*domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &domain.QueueStats{ByTopic: make(map[string]domain.TopicStats)}
	for _, job := range s.jobs {
		switch job.State {
		case domain.JobStateQueued:
			stats.Queued++
		case domain.JobStateInFlight:
			stats.InFlight++
		case domain.JobStateFailed:
			stats.Failed++
		case domain.JobStateDead:
			stats.Dead++
		case domain.JobStateDone:
			if job.CompletedAt == nil || job.CompletedAt.Before(doneSince) {
				continue
			}
			stats.DoneLast24h++
		}
		topic := stats.ByTopic[job.Topic]
		if topic == nil {
			topic = make(domain.TopicStats)
			stats.ByTopic[job.Topic] = topic
		}
		topic[job.State]++
	}
	return stats, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) RecordEvent(_ context.Context, event *domain.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *event)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, filter domain.EventFilter) ([]domain.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// events are appended in time order; walk backwards for newest first
	var result []domain.WebhookEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if filter.Topic != "" && ev.Topic != filter.Topic {
			continue
		}
		if filter.ExternalID != "" && ev.ExternalID != filter.ExternalID {
			continue
		}
		if filter.Status != "" && ev.Status != filter.Status {
			continue
		}
		result = append(result, ev)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Cursor != nil {
		start := len(result)
		for i, ev := range result {
			if ev.ID == filter.Cursor.ID {
				start = i + 1
				break
			}
		}
		result = result[start:]
	}

	limit := clampLimit(filter.Limit, 50, 500)
	if len(result) > limit+1 {
		result = result[:limit+1]
	}
	return result, nil
}

func (s *MemoryStore) UpsertCustomer(_ context.Context, customer *domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *customer
	c.Tags = append([]string(nil), customer.Tags...)
	if existing, ok := s.customers[c.ShopifyCustomerID]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	s.customers[c.ShopifyCustomerID] = c
	return nil
}

func (s *MemoryStore) UpsertOrder(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.orders[order.ShopifyOrderID]; ok {
		// a redelivered create only refreshes statuses
		existing.FinancialStatus = order.FinancialStatus
		existing.FulfillmentStatus = order.FulfillmentStatus
		existing.UpdatedAt = order.UpdatedAt
		s.orders[order.ShopifyOrderID] = existing
		return nil
	}
	s.orders[order.ShopifyOrderID] = *order
	return nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, shopifyOrderID, financialStatus, fulfillmentStatus string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[shopifyOrderID]
	if !ok {
		return false, nil
	}
	if financialStatus != "" {
		order.FinancialStatus = financialStatus
	}
	if fulfillmentStatus != "" {
		order.FulfillmentStatus = fulfillmentStatus
	}
	order.UpdatedAt = time.Now().UTC()
	s.orders[shopifyOrderID] = order
	return true, nil
}

func (s *MemoryStore) UpsertProduct(_ context.Context, product *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := *product
	p.Tags = append([]string(nil), product.Tags...)
	if existing, ok := s.products[p.ShopifyProductID]; ok {
		p.CreatedAt = existing.CreatedAt
	}
	s.products[p.ShopifyProductID] = p
	return nil
}

func (s *MemoryStore) SetInventoryLevel(_ context.Context, level *domain.InventoryLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inventory[level.InventoryItemID+"|"+level.LocationID] = *level
	return nil
}

// Customer returns the stored customer with the given upstream id
func (s *MemoryStore) Customer(id string) (domain.Customer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	return c, ok
}

// Order returns the stored order with the given upstream id
func (s *MemoryStore) Order(id string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

// Product returns the stored product with the given upstream id
func (s *MemoryStore) Product(id string) (domain.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

// InventoryLevel returns the stored level for an item at a location
func (s *MemoryStore) InventoryLevel(itemID, locationID string) (domain.InventoryLevel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.inventory[itemID+"|"+locationID]
	return l, ok
}

func (s *MemoryStore) activeJob(topic, externalID string) (*domain.Job, bool) {
	id, ok := s.active[domain.IdempotencyKey(topic, externalID)]
	if !ok {
		return nil, false
	}
	job, ok := s.jobs[id]
	return job, ok
}

func (s *MemoryStore) before(a, b *domain.Job) bool {
	if a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return s.seq[a.ID] < s.seq[b.ID]
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}

func cloneJob(job *domain.Job) *domain.Job {
	c := *job
	c.Payload = append([]byte(nil), job.Payload...)
	c.LastAttemptAt = copyTime(job.LastAttemptAt)
	c.CompletedAt = copyTime(job.CompletedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ Store = (*MemoryStore)(nil)
