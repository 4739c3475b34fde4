package shopify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/domain"
	"github.com/cuongbtq/magnolia-webhooks/internal/notify"
	"github.com/cuongbtq/magnolia-webhooks/internal/storage"
	"github.com/cuongbtq/magnolia-webhooks/internal/worker"
)

// DefaultLowStockThreshold is the available quantity at or below which a
// low stock alert is sent
const DefaultLowStockThreshold = 5

type Config struct {
	Logger            *slog.Logger
	Store             storage.CommerceStore
	Notifier          notify.Notifier
	LowStockThreshold int
}

// Transformer holds the per-topic transforms
type Transformer struct {
	logger            *slog.Logger
	store             storage.CommerceStore
	notifier          notify.Notifier
	lowStockThreshold int

	Now func() time.Time
}

func NewTransformer(cfg *Config) *Transformer {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	threshold := cfg.LowStockThreshold
	if threshold <= 0 {
		threshold = DefaultLowStockThreshold
	}
	return &Transformer{
		logger:            cfg.Logger,
		store:             cfg.Store,
		notifier:          notifier,
		lowStockThreshold: threshold,
		Now:               func() time.Time { return time.Now().UTC() },
	}
}

// Register binds every supported topic to its transform
func (t *Transformer) Register(r *worker.Registry) {
	r.Register(domain.TopicOrdersCreate, t.OrderCreated)
	r.Register(domain.TopicOrdersUpdated, t.OrderUpdated)
	r.Register(domain.TopicProductsCreate, t.ProductCreated)
	r.Register(domain.TopicProductsUpdate, t.ProductUpdated)
	r.Register(domain.TopicInventoryLevelsUpdate, t.InventoryUpdated)
	r.Register(domain.TopicCustomersCreate, t.CustomerCreated)
}

func (t *Transformer) OrderCreated(ctx context.Context, job *domain.Job) error {
	var payload Order
	if err := decode(job.Payload, &payload); err != nil {
		return err
	}
	if payload.ID == "" {
		return missing("order id")
	}

	if payload.Customer != nil && payload.Customer.ID != "" {
		if err := t.store.UpsertCustomer(ctx, t.toCustomer(payload.Customer)); err != nil {
			return fmt.Errorf("failed to save order customer: %w", err)
		}
	}

	if err := t.store.UpsertOrder(ctx, t.toOrder(&payload)); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}

	t.send(ctx, job, notify.TypeNewOrder, "order", map[string]any{
		"id":       string(payload.ID),
		"number":   payload.Name,
		"customer": payload.Email,
		"total":    float64(payload.TotalPrice),
		"items":    len(payload.LineItems),
	})
	return nil
}

// OrderUpdated records the new statuses. An update for an order never seen
// before creates it.
func (t *Transformer) OrderUpdated(ctx context.Context, job *domain.Job) error {
	var payload Order
	if err := decode(job.Payload, &payload); err != nil {
		return err
	}
	if payload.ID == "" {
		return missing("order id")
	}

	found, err := t.store.UpdateOrderStatus(ctx, string(payload.ID), payload.FinancialStatus, payload.FulfillmentStatus)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if !found {
		if err := t.store.UpsertOrder(ctx, t.toOrder(&payload)); err != nil {
			return fmt.Errorf("failed to save order: %w", err)
		}
	}

	if payload.FinancialStatus == "paid" || payload.FulfillmentStatus == "fulfilled" {
		t.send(ctx, job, notify.TypeOrderStatusUpdate, "order", map[string]any{
			"id":                string(payload.ID),
			"number":            payload.Name,
			"financialStatus":   payload.FinancialStatus,
			"fulfillmentStatus": payload.FulfillmentStatus,
		})
	}
	return nil
}

func (t *Transformer) ProductCreated(ctx context.Context, job *domain.Job) error {
	product, err := t.saveProduct(ctx, job)
	if err != nil {
		return err
	}

	t.send(ctx, job, notify.TypeNewProduct, "product", map[string]any{
		"id":     product.ShopifyProductID,
		"title":  product.Title,
		"handle": product.Handle,
		"status": product.Status,
	})
	return nil
}

func (t *Transformer) ProductUpdated(ctx context.Context, job *domain.Job) error {
	_, err := t.saveProduct(ctx, job)
	return err
}

func (t *Transformer) saveProduct(ctx context.Context, job *domain.Job) (*domain.Product, error) {
	var payload Product
	if err := decode(job.Payload, &payload); err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, missing("product id")
	}

	now := t.Now()
	product := &domain.Product{
		ShopifyProductID: string(payload.ID),
		Title:            payload.Title,
		Handle:           payload.Handle,
		Description:      payload.BodyHTML,
		ProductType:      payload.ProductType,
		Vendor:           payload.Vendor,
		Status:           payload.Status,
		Tags:             []string(payload.Tags),
		CreatedAt:        timeOr(payload.CreatedAt, now),
		UpdatedAt:        now,
	}
	if err := t.store.UpsertProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("failed to save product: %w", err)
	}
	return product, nil
}

func (t *Transformer) InventoryUpdated(ctx context.Context, job *domain.Job) error {
	var payload InventoryLevel
	if err := decode(job.Payload, &payload); err != nil {
		return err
	}
	if payload.InventoryItemID == "" {
		return missing("inventory_item_id")
	}
	if payload.Available == nil {
		return missing("available")
	}

	level := &domain.InventoryLevel{
		InventoryItemID: string(payload.InventoryItemID),
		LocationID:      string(payload.LocationID),
		Available:       *payload.Available,
		UpdatedAt:       t.Now(),
	}
	if err := t.store.SetInventoryLevel(ctx, level); err != nil {
		return fmt.Errorf("failed to save inventory level: %w", err)
	}

	if level.Available <= t.lowStockThreshold {
		t.send(ctx, job, notify.TypeLowStockAlert, "inventory", map[string]any{
			"inventoryItemId": level.InventoryItemID,
			"locationId":      level.LocationID,
			"available":       level.Available,
		})
	}
	return nil
}

func (t *Transformer) CustomerCreated(ctx context.Context, job *domain.Job) error {
	var payload Customer
	if err := decode(job.Payload, &payload); err != nil {
		return err
	}
	if payload.ID == "" {
		return missing("customer id")
	}

	if err := t.store.UpsertCustomer(ctx, t.toCustomer(&payload)); err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}

	t.send(ctx, job, notify.TypeNewCustomer, "customer", map[string]any{
		"id":               string(payload.ID),
		"email":            payload.Email,
		"name":             payload.FullName(),
		"acceptsMarketing": payload.AcceptsMarketing,
	})
	return nil
}

func (t *Transformer) toCustomer(c *Customer) *domain.Customer {
	now := t.Now()
	return &domain.Customer{
		ShopifyCustomerID: string(c.ID),
		Email:             c.Email,
		FirstName:         c.FirstName,
		LastName:          c.LastName,
		Phone:             c.Phone,
		AcceptsMarketing:  c.AcceptsMarketing,
		TotalSpent:        float64(c.TotalSpent),
		OrdersCount:       c.OrdersCount,
		Tags:              []string(c.Tags),
		CreatedAt:         timeOr(c.CreatedAt, now),
		UpdatedAt:         now,
	}
}

func (t *Transformer) toOrder(o *Order) *domain.Order {
	now := t.Now()
	order := &domain.Order{
		ShopifyOrderID:    string(o.ID),
		OrderNumber:       o.Name,
		CustomerEmail:     o.Email,
		TotalPrice:        float64(o.TotalPrice),
		Currency:          o.Currency,
		FinancialStatus:   o.FinancialStatus,
		FulfillmentStatus: o.FulfillmentStatus,
		ShippingAddress:   nullIfEmpty(o.ShippingAddress),
		BillingAddress:    nullIfEmpty(o.BillingAddress),
		CreatedAt:         timeOr(o.CreatedAt, now),
		UpdatedAt:         now,
	}
	if o.Customer != nil {
		order.CustomerID = string(o.Customer.ID)
		order.CustomerName = o.Customer.FullName()
		if order.CustomerEmail == "" {
			order.CustomerEmail = o.Customer.Email
		}
	}
	return order
}

func (t *Transformer) send(ctx context.Context, job *domain.Job, kind, section string, data map[string]any) {
	logger := t.logger.With(slog.String("job_id", job.ID), slog.String("topic", job.Topic))
	notify.BestEffort(ctx, logger, t.notifier, notify.Notification{
		Type:    kind,
		Section: section,
		Data:    data,
		SentAt:  t.Now(),
	})
}

func timeOr(t *time.Time, fallback time.Time) time.Time {
	if t == nil || t.IsZero() {
		return fallback
	}
	return t.UTC()
}

func nullIfEmpty(raw []byte) []byte {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
