package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/domain"
	"github.com/cuongbtq/magnolia-webhooks/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// enqueueAttempts bounds how often EnqueueJob re-reads the active job when the
// conflicting row finishes between the insert and the lookup
const enqueueAttempts = 3

const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02"
	untranslatableCharacter   = "22P05"
)

const jobColumns = `
	id, topic, external_id, payload, state, attempts, total_attempts,
	max_attempts, last_error, enqueued_at, next_attempt_at, last_attempt_at,
	completed_at, updated_at`

const eventColumns = `
	id, job_id, topic, external_id, payload, status, error_message,
	retry_count, received_at, last_attempt_at, created_at`

var errKeyReleased = errors.New("active job released its key")

// PostgresStore implements Store on top of sqlx and lib/pq
type PostgresStore struct {
	client *postgresql.Client
	db     *sqlx.DB
	logger *slog.Logger
}

func NewPostgresStore(client *postgresql.Client, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		client: client,
		db:     client.GetDB(),
		logger: logger,
	}
}

// Migrate creates the tables and indexes when they do not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("Webhook schema applied")
	return nil
}

func (s *PostgresStore) EnqueueJob(ctx context.Context, job *domain.Job, event *domain.WebhookEvent) (*domain.Job, bool, error) {
	for attempt := 1; attempt <= enqueueAttempts; attempt++ {
		stored, created, err := s.enqueueOnce(ctx, job, event)
		if err == nil {
			return stored, created, nil
		}
		if !errors.Is(err, errKeyReleased) {
			return nil, false, err
		}
		s.logger.Debug("Active job finished during enqueue, retrying",
			slog.String("topic", job.Topic),
			slog.String("external_id", job.ExternalID),
			slog.Int("attempt", attempt),
		)
	}
	return nil, false, fmt.Errorf("failed to enqueue job %s: %w", job.Key(), errKeyReleased)
}

func (s *PostgresStore) enqueueOnce(ctx context.Context, job *domain.Job, event *domain.WebhookEvent) (*domain.Job, bool, error) {
	var stored domain.Job
	created := true

	err := s.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO webhook_jobs (
				id, topic, external_id, payload, state, attempts, total_attempts,
				max_attempts, last_error, enqueued_at, next_attempt_at, updated_at
			) VALUES (
				$1, $2, $3, $4, 'queued', 0, 0,
				$5, '', $6, $7, $6
			)
			ON CONFLICT (topic, external_id) WHERE state IN ('queued', 'in_flight')
			DO NOTHING
			RETURNING` + jobColumns

		err := tx.GetContext(ctx, &stored, query,
			job.ID,
			job.Topic,
			job.ExternalID,
			jsonText(job.Payload),
			job.MaxAttempts,
			job.EnqueuedAt,
			job.NextAttemptAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			created = false
			err = tx.GetContext(ctx, &stored, `
				SELECT`+jobColumns+`
				FROM webhook_jobs
				WHERE topic = $1 AND external_id = $2 AND state IN ('queued', 'in_flight')`,
				job.Topic, job.ExternalID,
			)
			if errors.Is(err, sql.ErrNoRows) {
				return errKeyReleased
			}
		}
		if isRejectedPayload(err) {
			return fmt.Errorf("%w: %w", domain.ErrInvalidPayload, err)
		}
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}

		if event == nil {
			return nil
		}
		ev := *event
		ev.JobID = stored.ID
		ev.RetryCount = stored.TotalAttempts
		return insertEvent(ctx, tx, &ev)
	})
	if err != nil {
		return nil, false, err
	}
	return &stored, created, nil
}

func (s *PostgresStore) ClaimNext(ctx context.Context, now time.Time) (*domain.Job, error) {
	query := `
		UPDATE webhook_jobs
		SET state = 'in_flight', last_attempt_at = $1, updated_at = $1
		WHERE id = (
			SELECT id FROM webhook_jobs
			WHERE state = 'queued' AND next_attempt_at <= $1
			ORDER BY enqueued_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoJobAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &job, nil
}

func (s *PostgresStore) FinishJob(ctx context.Context, job *domain.Job, event *domain.WebhookEvent) error {
	return s.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE webhook_jobs
			SET state = $2, attempts = $3, total_attempts = $4, last_error = $5,
				next_attempt_at = $6, completed_at = $7, updated_at = $8
			WHERE id = $1 AND state = 'in_flight'`,
			job.ID,
			job.State,
			job.Attempts,
			job.TotalAttempts,
			job.LastError,
			job.NextAttemptAt,
			job.CompletedAt,
			job.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update job %s: %w", job.ID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to update job %s: %w", job.ID, err)
		} else if n == 0 {
			return fmt.Errorf("finish job %s: %w", job.ID, domain.ErrJobNotFound)
		}

		if event == nil {
			return nil
		}
		return insertEvent(ctx, tx, event)
	})
}

func (s *PostgresStore) RequeueJob(ctx context.Context, jobID string, now time.Time) (*domain.Job, error) {
	query := `
		UPDATE webhook_jobs
		SET state = 'queued', attempts = 0, next_attempt_at = $2, updated_at = $2
		WHERE id = $1 AND state IN ('failed', 'dead')
		RETURNING` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, jobID, now)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return nil, domain.ErrJobNotRetryable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to requeue job: %w", err)
	}
	return &job, nil
}

func (s *PostgresStore) ReleaseStale(ctx context.Context, cutoff, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_jobs
		SET state = 'queued', next_attempt_at = $2, updated_at = $2
		WHERE state = 'in_flight' AND last_attempt_at < $1`,
		cutoff, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to release stale jobs: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, `SELECT`+jobColumns+` FROM webhook_jobs WHERE id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *PostgresStore) ListFailedJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	query := `
		SELECT` + jobColumns + `
		FROM webhook_jobs
		WHERE state IN ('failed', 'dead')
		ORDER BY updated_at DESC, id DESC
		LIMIT $1`

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, clampLimit(limit, 50, 500)); err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}
	return jobs, nil
}

type stateCount struct {
	Topic string `db:"topic"`
	State string `db:"state"`
	Count int    `db:"count"`
}

func (s *PostgresStore) QueueStats(ctx context.Context, doneSince time.Time) (*domain.QueueStats, error) {
	query := `
		SELECT topic, state, COUNT(*) AS count
		FROM webhook_jobs
		WHERE state <> 'done' OR completed_at >= $1
		GROUP BY topic, state`

	var rows []stateCount
	if err := s.db.SelectContext(ctx, &rows, query, doneSince); err != nil {
		return nil, fmt.Errorf("failed to compute queue stats: %w", err)
	}

	stats := &domain.QueueStats{ByTopic: make(map[string]domain.TopicStats)}
	for _, row := range rows {
		switch row.State {
		case domain.JobStateQueued:
			stats.Queued += row.Count
		case domain.JobStateInFlight:
			stats.InFlight += row.Count
		case domain.JobStateFailed:
			stats.Failed += row.Count
		case domain.JobStateDead:
			stats.Dead += row.Count
		case domain.JobStateDone:
			stats.DoneLast24h += row.Count
		}
		topic := stats.ByTopic[row.Topic]
		if topic == nil {
			topic = make(domain.TopicStats)
			stats.ByTopic[row.Topic] = topic
		}
		topic[row.State] += row.Count
	}
	return stats, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

func (s *PostgresStore) RecordEvent(ctx context.Context, event *domain.WebhookEvent) error {
	return insertEvent(ctx, s.db, event)
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.WebhookEvent, error) {
	query := `SELECT` + eventColumns + ` FROM webhook_events WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Topic != "" {
		query += fmt.Sprintf(" AND topic = $%d", argIdx)
		args = append(args, filter.Topic)
		argIdx++
	}

	if filter.ExternalID != "" {
		query += fmt.Sprintf(" AND external_id = $%d", argIdx)
		args = append(args, filter.ExternalID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"

	// one extra row tells the caller whether another page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(filter.Limit, 50, 500)+1)

	events := []domain.WebhookEvent{}
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) UpsertCustomer(ctx context.Context, customer *domain.Customer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shopify_customers (
			shopify_customer_id, email, first_name, last_name, phone,
			accepts_marketing, total_spent, orders_count, tags, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (shopify_customer_id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			phone = EXCLUDED.phone,
			accepts_marketing = EXCLUDED.accepts_marketing,
			total_spent = EXCLUDED.total_spent,
			orders_count = EXCLUDED.orders_count,
			tags = EXCLUDED.tags,
			updated_at = EXCLUDED.updated_at`,
		customer.ShopifyCustomerID,
		customer.Email,
		customer.FirstName,
		customer.LastName,
		customer.Phone,
		customer.AcceptsMarketing,
		customer.TotalSpent,
		customer.OrdersCount,
		pq.Array(nonNilStrings(customer.Tags)),
		customer.CreatedAt,
		customer.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert customer %s: %w", customer.ShopifyCustomerID, err)
	}
	return nil
}

func (s *PostgresStore) UpsertOrder(ctx context.Context, order *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shopify_orders (
			shopify_order_id, order_number, shopify_customer_id, customer_email, customer_name,
			total_price, currency, financial_status, fulfillment_status,
			shipping_address, billing_address, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (shopify_order_id) DO UPDATE SET
			financial_status = EXCLUDED.financial_status,
			fulfillment_status = EXCLUDED.fulfillment_status,
			updated_at = EXCLUDED.updated_at`,
		order.ShopifyOrderID,
		order.OrderNumber,
		nullableString(order.CustomerID),
		order.CustomerEmail,
		order.CustomerName,
		order.TotalPrice,
		order.Currency,
		order.FinancialStatus,
		order.FulfillmentStatus,
		nullableJSON(order.ShippingAddress),
		nullableJSON(order.BillingAddress),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert order %s: %w", order.ShopifyOrderID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, shopifyOrderID, financialStatus, fulfillmentStatus string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shopify_orders
		SET financial_status = COALESCE(NULLIF($2, ''), financial_status),
			fulfillment_status = COALESCE(NULLIF($3, ''), fulfillment_status),
			updated_at = $4
		WHERE shopify_order_id = $1`,
		shopifyOrderID, financialStatus, fulfillmentStatus, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update order %s: %w", shopifyOrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update order %s: %w", shopifyOrderID, err)
	}
	return n > 0, nil
}

func (s *PostgresStore) UpsertProduct(ctx context.Context, product *domain.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shopify_products (
			shopify_product_id, title, handle, description, product_type,
			vendor, status, tags, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (shopify_product_id) DO UPDATE SET
			title = EXCLUDED.title,
			handle = EXCLUDED.handle,
			description = EXCLUDED.description,
			product_type = EXCLUDED.product_type,
			vendor = EXCLUDED.vendor,
			status = EXCLUDED.status,
			tags = EXCLUDED.tags,
			updated_at = EXCLUDED.updated_at`,
		product.ShopifyProductID,
		product.Title,
		product.Handle,
		product.Description,
		product.ProductType,
		product.Vendor,
		product.Status,
		pq.Array(nonNilStrings(product.Tags)),
		product.CreatedAt,
		product.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", product.ShopifyProductID, err)
	}
	return nil
}

func (s *PostgresStore) SetInventoryLevel(ctx context.Context, level *domain.InventoryLevel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shopify_inventory_levels (
			shopify_inventory_item_id, shopify_location_id, available, updated_at
		) VALUES ($1, $2, $3, $4)
		ON CONFLICT (shopify_inventory_item_id, shopify_location_id) DO UPDATE SET
			available = EXCLUDED.available,
			updated_at = EXCLUDED.updated_at`,
		level.InventoryItemID,
		level.LocationID,
		level.Available,
		level.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set inventory level for item %s: %w", level.InventoryItemID, err)
	}
	return nil
}

func insertEvent(ctx context.Context, exec sqlx.ExecerContext, event *domain.WebhookEvent) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO webhook_events (`+eventColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.ID,
		event.JobID,
		event.Topic,
		event.ExternalID,
		jsonText(event.Payload),
		event.Status,
		event.ErrorMessage,
		event.RetryCount,
		event.ReceivedAt,
		event.LastAttemptAt,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// isRejectedPayload reports jsonb input errors such as an escaped NUL, which
// no retry of the same body can fix
func isRejectedPayload(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == invalidTextRepresentation || pqErr.Code == untranslatableCharacter
}

// jsonText hands JSON to lib/pq as text; []byte would be sent as bytea
func jsonText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

var _ Store = (*PostgresStore)(nil)
