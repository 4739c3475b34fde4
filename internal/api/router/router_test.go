package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/api/dto"
	"github.com/cuongbtq/magnolia-webhooks/internal/api/handler"
	"github.com/cuongbtq/magnolia-webhooks/internal/domain"
	"github.com/cuongbtq/magnolia-webhooks/internal/queue"
	"github.com/cuongbtq/magnolia-webhooks/internal/signature"
	"github.com/cuongbtq/magnolia-webhooks/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "shpss_test_secret"

type fakeProcessor struct {
	mu      sync.Mutex
	running bool
}

func (p *fakeProcessor) Start(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.running = true
	return true
}

func (p *fakeProcessor) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false
	}
	p.running = false
	return true
}

func (p *fakeProcessor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *fakeProcessor) Topics() []string { return domain.KnownTopics }

// downStore simulates a database outage
type downStore struct {
	*storage.MemoryStore
}

func (downStore) EnqueueJob(context.Context, *domain.Job, *domain.WebhookEvent) (*domain.Job, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (downStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

// payloadRejectingStore refuses bodies the way jsonb refuses an escaped NUL
type payloadRejectingStore struct {
	*storage.MemoryStore
}

func (payloadRejectingStore) EnqueueJob(context.Context, *domain.Job, *domain.WebhookEvent) (*domain.Job, bool, error) {
	return nil, false, fmt.Errorf("%w: unsupported Unicode escape sequence", domain.ErrInvalidPayload)
}

type testServer struct {
	engine    *gin.Engine
	store     *storage.MemoryStore
	queue     *queue.Service
	processor *fakeProcessor
}

func newTestServer(t *testing.T, store storage.Store, secret string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := queue.NewService(store, queue.Config{MaxAttempts: 3}, logger)
	processor := &fakeProcessor{}

	engine := SetupRouter(&handler.Dependencies{
		Logger:    logger,
		Queue:     svc,
		Processor: processor,
		Webhook: handler.WebhookSettings{
			Secret:       secret,
			MaxBodyBytes: 4096,
		},
	})

	ts := &testServer{engine: engine, queue: svc, processor: processor}
	switch s := store.(type) {
	case *storage.MemoryStore:
		ts.store = s
	case downStore:
		ts.store = s.MemoryStore
	}
	return ts
}

func (ts *testServer) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func (ts *testServer) deliver(path, body string) *httptest.ResponseRecorder {
	return ts.do(http.MethodPost, path, []byte(body), map[string]string{
		signature.DefaultHeader: signature.Sign([]byte(body), testSecret),
	})
}

func (ts *testServer) events(t *testing.T) []domain.WebhookEvent {
	t.Helper()
	events, err := ts.store.ListEvents(context.Background(), domain.EventFilter{Limit: 100})
	require.NoError(t, err)
	return events
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestReceiveWebhook_Accepted(t *testing.T) {
	ts := newTestServer(t, storage.NewMemoryStore(), testSecret)

	w := ts.deliver("/webhooks/orders/create", `{"id": 1001, "name": "#1001"}`)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[dto.AcceptedResponse](t, w)
	assert.True(t, resp.Accepted)
	assert.False(t, resp.Duplicate)

	job, err := ts.queue.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.TopicOrdersCreate, job.Topic)
	assert.Equal(t, "1001", job.ExternalID)
	assert.Equal(t, domain.JobStateQueued, job.State)

	events := ts.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventStatusPending, events[0].Status)
	assert.Equal(t, resp.JobID, events[0].JobID)
}

func TestReceiveWebhook_Unauthorized(t *testing.T) {
	body := `{"id": 1001}`

	tests := []struct {
		name    string
		secret  string
		headers map[string]string
	}{
		{"missing signature", testSecret, nil},
		{"wrong signature", testSecret, map[string]string{signature.DefaultHeader: signature.Sign([]byte(body), "other")}},
		{"signature over different body", testSecret, map[string]string{signature.DefaultHeader: signature.Sign([]byte(`{"id": 1002}`), testSecret)}},
		{"secret not configured", "", map[string]string{signature.DefaultHeader: signature.Sign([]byte(body), "")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, storage.NewMemoryStore(), tt.secret)

			w := ts.do(http.MethodPost, "/webhooks/orders/create", []byte(body), tt.headers)
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			assert.Empty(t, ts.events(t))
			stats, err := ts.queue.GetQueueStats(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 0, stats.Queued)
		})
	}
}

func TestReceiveWebhook_UnsignedPathsDoNotMintSeries(t *testing.T) {
	ts := newTestServer(t, storage.NewMemoryStore(), testSecret)

	for i := 0; i < 100; i++ {
		path := "/webhooks/junk" + strconv.Itoa(i) + "/x" + strconv.Itoa(i)
		w := ts.do(http.MethodPost, path, []byte(`{"id": 1}`), nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	exposition := ts.do(http.MethodGet, "/metrics", nil, nil).Body.String()
	assert.NotContains(t, exposition, `topic="junk`)
	assert.Contains(t, exposition, `magnolia_webhooks_received_total{result="unauthorized",topic="unknown"}`)
}

func TestReceiveWebhook_DuplicateDelivery(t *testing.T) {
	ts := newTestServer(t, storage.NewMemoryStore(), testSecret)

	first := decodeBody[dto.AcceptedResponse](t, ts.deliver("/webhooks/orders/create", `{"id": 1001, "total_price": "1.00"}`))
	second := decodeBody[dto.AcceptedResponse](t, ts.deliver("/webhooks/orders/create", `{"id": 1001, "total_price": "2.00"}`))

	assert.Equal(t, first.JobID, second.JobID)
	assert.True(t, second.Duplicate)

	job, err := ts.queue.GetJob(context.Background(), first.JobID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": 1001, "total_price": "1.00"}`, string(job.Payload))
	assert.Len(t, ts.events(t), 2)
}

func TestReceiveWebhook_BadRequests(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		headers map[string]string
		want    int
	}{
		{"not json", "/webhooks/orders/create", `id=1001`, nil, http.StatusBadRequest},
		{"json array", "/webhooks/orders/create", `[1, 2]`, nil, http.StatusBadRequest},
		{"no identifier", "/webhooks/customers/create", `{"email": "a@b.com"}`, nil, http.StatusBadRequest},
		{"identifier from delivery header", "/webhooks/customers/create", `{"email": "a@b.com"}`, map[string]string{handler.WebhookIDHeader: "delivery-1"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, storage.NewMemoryStore(), testSecret)

			headers := map[string]string{signature.DefaultHeader: signature.Sign([]byte(tt.body), testSecret)}
			for k, v := range tt.headers {
				headers[k] = v
			}

			w := ts.do(http.MethodPost, tt.path, []byte(tt.body), headers)
			assert.Equal(t, tt.want, w.Code)
			if tt.want != http.StatusOK {
				assert.Empty(t, ts.events(t))
			}
		})
	}
}

func TestReceiveWebhook_BodyTooLarge(t *testing.T) {
	ts := newTestServer(t, storage.NewMemoryStore(), testSecret)

	body := `{"id": 1, "note": "` + strings.Repeat("x", 5000) + `"}`
	w := ts.deliver("/webhooks/orders/create", body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, ts.events(t))
}

func TestReceiveWebhook_StoreUnavailable(t *testing.T) {
	ts := newTestServer(t, downStore{storage.NewMemoryStore()}, testSecret)

	w := ts.deliver("/webhooks/orders/create", `{"id": 1001}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReceiveWebhook_PayloadRejectedByStore(t *testing.T) {
	ts := newTestServer(t, payloadRejectingStore{storage.NewMemoryStore()}, testSecret)

	w := ts.deliver("/webhooks/orders/create", `{"id": 1001, "note": "a\u0000b"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReceiveWebhook_StorefrontPaths(t *testing.T) {
	ts := newTestServer(t, storage.NewMemoryStore(), testSecret)

	w := ts.deliver("/webhooks/shopify/inventory/update", `{"inventory_item_id": 808, "location_id": 1, "available": 2}`)
	require.Equal(t, http.StatusOK, w.Code)

	job, err := ts.queue.GetJob(context.Background(), decodeBody[dto.AcceptedResponse](t, w).JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.TopicInventoryLevelsUpdate, job.Topic)
	assert.Equal(t, "808:1", job.ExternalID)

	w = ts.deliver("/webhooks/shopify/orders/updated", `{"id": 7}`)
	require.Equal(t, http.StatusOK, w.Code)
}

// failJob drives a queued job to the failed state directly through the store
func failJob(t *testing.T, store *storage.MemoryStore, jobID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	job, err := store.ClaimNext(ctx, now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, jobID, job.ID)

	job.State = domain.JobStateFailed
	job.Attempts = 1
	job.TotalAttempts = 1
	job.LastError = "permanent error: bad payload"
	require.NoError(t, store.FinishJob(ctx, job, &domain.WebhookEvent{
		ID:           uuid.NewString(),
		JobID:        job.ID,
		Topic:        job.Topic,
		ExternalID:   job.ExternalID,
		Status:       domain.EventStatusFailed,
		ErrorMessage: job.LastError,
		ReceivedAt:   job.EnqueuedAt,
		CreatedAt:    now,
	}))
}

func TestRetryEndpoints(t *testing.T) {
	ts := newTestServer(t, storage.NewMemoryStore(), testSecret)
	accepted := decodeBody[dto.AcceptedResponse](t, ts.deliver("/webhooks/orders/create", `{"id": 2002}`))
	failJob(t, ts.store, accepted.JobID)

	t.Run("list failed", func(t *testing.T) {
		w := ts.do(http.MethodGet, "/webhooks/retry?limit=10", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)

		resp := decodeBody[dto.ListFailedResponse](t, w)
		assert.True(t, resp.Success)
		require.Len(t, resp.FailedJobs, 1)
		assert.Equal(t, accepted.JobID, resp.FailedJobs[0].ID)
		assert.Equal(t, 1, resp.QueueStats.Failed)
		assert.Equal(t, 0, resp.QueueStats.Queued)
	})

	t.Run("missing job id", func(t *testing.T) {
		w := ts.do(http.MethodPost, "/webhooks/retry", []byte(`{}`), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown job", func(t *testing.T) {
		w := ts.do(http.MethodPost, "/webhooks/retry", []byte(`{"jobId": "`+uuid.NewString()+`"}`), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed job id", func(t *testing.T) {
		w := ts.do(http.MethodPost, "/webhooks/retry", []byte(`{"jobId": "2002"}`), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("retry failed job", func(t *testing.T) {
		w := ts.do(http.MethodPost, "/webhooks/retry", []byte(`{"jobId": "`+accepted.JobID+`"}`), nil)
		require.Equal(t, http.StatusOK, w.Code)

		resp := decodeBody[dto.RetryJobResponse](t, w)
		assert.True(t, resp.Success)
		require.NotNil(t, resp.Job)
		assert.Equal(t, domain.JobStateQueued, resp.Job.State)
		assert.Equal(t, 0, resp.Job.Attempts)
		assert.Equal(t, 1, resp.Job.TotalAttempts)
	})

	t.Run("retry queued job is rejected", func(t *testing.T) {
		w := ts.do(http.MethodPost, "/webhooks/retry", []byte(`{"jobId": "`+accepted.JobID+`"}`), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestProcessEndpoints(t *testing.T) {
	ts := newTestServer(t, storage.NewMemoryStore(), testSecret)

	steps := []struct {
		method      string
		wantRunning bool
		wantChanged bool
	}{
		{http.MethodPost, true, true},
		{http.MethodPost, true, false},
		{http.MethodDelete, false, true},
		{http.MethodDelete, false, false},
	}

	for _, step := range steps {
		w := ts.do(step.method, "/webhooks/process", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)

		resp := decodeBody[dto.ProcessorResponse](t, w)
		assert.True(t, resp.Success)
		assert.Equal(t, step.wantRunning, resp.Running)
		assert.Equal(t, step.wantChanged, resp.Changed)
	}
}

func TestListEvents_Pagination(t *testing.T) {
	ts := newTestServer(t, storage.NewMemoryStore(), testSecret)
	for _, id := range []string{"1", "2", "3"} {
		require.Equal(t, http.StatusOK, ts.deliver("/webhooks/products/create", `{"id": `+id+`}`).Code)
	}

	w := ts.do(http.MethodGet, "/webhooks/events?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page1 := decodeBody[dto.ListEventsResponse](t, w)
	require.Len(t, page1.Events, 2)
	require.NotEmpty(t, page1.NextCursor)

	w = ts.do(http.MethodGet, "/webhooks/events?limit=2&cursor="+page1.NextCursor, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page2 := decodeBody[dto.ListEventsResponse](t, w)
	require.Len(t, page2.Events, 1)
	assert.Empty(t, page2.NextCursor)

	seen := map[string]bool{}
	for _, ev := range append(page1.Events, page2.Events...) {
		seen[ev.ExternalID] = true
	}
	assert.Len(t, seen, 3)

	w = ts.do(http.MethodGet, "/webhooks/events?externalId=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	filtered := decodeBody[dto.ListEventsResponse](t, w)
	require.Len(t, filtered.Events, 1)
	assert.Equal(t, "2", filtered.Events[0].ExternalID)

	w = ts.do(http.MethodGet, "/webhooks/events?cursor=bm9waXBl", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ts := newTestServer(t, storage.NewMemoryStore(), testSecret)

		w := ts.do(http.MethodGet, "/webhooks/health", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeBody[dto.HealthResponse](t, w)
		assert.Equal(t, "healthy", resp.Status)
		assert.True(t, resp.SecretConfigured)
		assert.False(t, resp.WorkerRunning)
		assert.ElementsMatch(t, domain.KnownTopics, resp.Topics)
	})

	t.Run("no secret", func(t *testing.T) {
		ts := newTestServer(t, storage.NewMemoryStore(), "")

		w := ts.do(http.MethodGet, "/webhooks/health", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "degraded", decodeBody[dto.HealthResponse](t, w).Status)
	})

	t.Run("store down", func(t *testing.T) {
		ts := newTestServer(t, downStore{storage.NewMemoryStore()}, testSecret)

		w := ts.do(http.MethodGet, "/webhooks/health", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "unavailable", decodeBody[dto.HealthResponse](t, w).Store)
	})

	t.Run("liveness", func(t *testing.T) {
		ts := newTestServer(t, storage.NewMemoryStore(), testSecret)
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", nil, nil).Code)
	})

	t.Run("metrics", func(t *testing.T) {
		ts := newTestServer(t, storage.NewMemoryStore(), testSecret)
		w := ts.do(http.MethodGet, "/metrics", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "go_goroutines")
	})
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, storage.NewMemoryStore(), testSecret)

	w := ts.do(http.MethodOptions, "/webhooks/retry", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
