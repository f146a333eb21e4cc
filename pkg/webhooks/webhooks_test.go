package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/paywall/pkg/events"
	"github.com/platinummonkey/paywall/pkg/observability"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewManager(NewDeliveryLogStore(100), NewRetryPolicy(DefaultRetryConfig()), nil, logger, nil)
}

type receivedRequest struct {
	body      []byte
	signature string
	eventID   string
}

// receiver collects delivered payloads and serves a configurable
// status code.
type receiver struct {
	mu       sync.Mutex
	requests []receivedRequest
	status   int
}

func (r *receiver) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, receivedRequest{
			body:      body,
			signature: req.Header.Get("X-Paywall-Signature"),
			eventID:   req.Header.Get("X-Paywall-Event"),
		})
		status := r.status
		r.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *receiver) last() receivedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[len(r.requests)-1]
}

func TestRegisterValidatesURL(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name   string
		url    string
		secret string
	}{
		{"empty url", "", "s3cret"},
		{"no scheme", "example.com/hook", "s3cret"},
		{"bad scheme", "ftp://example.com/hook", "s3cret"},
		{"missing secret", "https://example.com/hook", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Register(tt.url, tt.secret, nil, "")
			assert.Error(t, err)
		})
	}

	hook, err := m.Register("https://example.com/hook", "s3cret", []string{events.TypePaymentSucceeded}, "billing sink")
	require.NoError(t, err)
	assert.NotEmpty(t, hook.ID)
	assert.True(t, hook.Active)
	assert.Len(t, m.List(), 1)
}

func TestUnregister(t *testing.T) {
	m := newTestManager(t)
	hook, err := m.Register("https://example.com/hook", "s3cret", nil, "")
	require.NoError(t, err)

	assert.True(t, m.Unregister(hook.ID))
	assert.False(t, m.Unregister(hook.ID))
	assert.Empty(t, m.List())
}

func TestHandleEventDeliversSignedPayload(t *testing.T) {
	rcv := &receiver{}
	srv := httptest.NewServer(rcv.handler())
	defer srv.Close()

	m := newTestManager(t)
	hook, err := m.Register(srv.URL, "s3cret", []string{events.TypePaymentSucceeded}, "")
	require.NoError(t, err)

	event := events.New(events.TypePaymentSucceeded, map[string]interface{}{"userId": "user-1"})
	require.NoError(t, m.HandleEvent(context.Background(), event))

	require.Equal(t, 1, rcv.count())
	got := rcv.last()
	assert.Equal(t, hook.ID, got.eventID)
	assert.True(t, VerifySignature("s3cret", got.body, got.signature))
	assert.Contains(t, string(got.body), event.ID)
	assert.Contains(t, string(got.body), "user-1")

	stats := m.Stats(hook.ID)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Successful)
}

func TestHandleEventFiltersByType(t *testing.T) {
	rcv := &receiver{}
	srv := httptest.NewServer(rcv.handler())
	defer srv.Close()

	m := newTestManager(t)
	_, err := m.Register(srv.URL, "s3cret", []string{events.TypePaymentDisputed}, "")
	require.NoError(t, err)

	require.NoError(t, m.HandleEvent(context.Background(), events.New(events.TypePaymentSucceeded, nil)))
	assert.Equal(t, 0, rcv.count())

	require.NoError(t, m.HandleEvent(context.Background(), events.New(events.TypePaymentDisputed, nil)))
	assert.Equal(t, 1, rcv.count())
}

func TestHandleEventEmptyFilterMatchesAll(t *testing.T) {
	rcv := &receiver{}
	srv := httptest.NewServer(rcv.handler())
	defer srv.Close()

	m := newTestManager(t)
	_, err := m.Register(srv.URL, "s3cret", nil, "")
	require.NoError(t, err)

	require.NoError(t, m.HandleEvent(context.Background(), events.New(events.TypeAccessGranted, nil)))
	require.NoError(t, m.HandleEvent(context.Background(), events.New(events.TypePaymentFailed, nil)))
	assert.Equal(t, 2, rcv.count())
}

func TestHandleEventSkipsInactiveWebhooks(t *testing.T) {
	rcv := &receiver{}
	srv := httptest.NewServer(rcv.handler())
	defer srv.Close()

	m := newTestManager(t)
	hook, err := m.Register(srv.URL, "s3cret", nil, "")
	require.NoError(t, err)
	hook.Active = false

	require.NoError(t, m.HandleEvent(context.Background(), events.New(events.TypePaymentSucceeded, nil)))
	assert.Equal(t, 0, rcv.count())
}

func TestFailedDeliveryIsScheduledForRetry(t *testing.T) {
	rcv := &receiver{status: http.StatusBadGateway}
	srv := httptest.NewServer(rcv.handler())
	defer srv.Close()

	m := newTestManager(t)
	hook, err := m.Register(srv.URL, "s3cret", nil, "")
	require.NoError(t, err)

	require.NoError(t, m.HandleEvent(context.Background(), events.New(events.TypePaymentSucceeded, nil)))

	logs := m.logs.GetByWebhook(hook.ID, 10)
	require.Len(t, logs, 1)
	assert.Equal(t, DeliveryStatusRetrying, logs[0].Status)
	assert.Equal(t, 1, logs[0].Attempts)
	assert.Equal(t, http.StatusBadGateway, logs[0].StatusCode)
	require.NotNil(t, logs[0].NextRetryAt)
	assert.True(t, logs[0].NextRetryAt.After(time.Now()))
}

func TestProcessPendingRetriesRedelivers(t *testing.T) {
	rcv := &receiver{status: http.StatusInternalServerError}
	srv := httptest.NewServer(rcv.handler())
	defer srv.Close()

	m := newTestManager(t)
	hook, err := m.Register(srv.URL, "s3cret", nil, "")
	require.NoError(t, err)

	require.NoError(t, m.HandleEvent(context.Background(), events.New(events.TypePaymentSucceeded, nil)))
	require.Equal(t, 1, rcv.count())

	// Endpoint recovers before the retry fires.
	rcv.mu.Lock()
	rcv.status = http.StatusOK
	rcv.mu.Unlock()

	// Move the clock past the scheduled retry time.
	m.now = func() time.Time { return time.Now().Add(time.Hour) }

	processed := m.ProcessPendingRetries(context.Background())
	assert.Equal(t, 1, processed)
	assert.Equal(t, 2, rcv.count())

	logs := m.logs.GetByWebhook(hook.ID, 10)
	require.Len(t, logs, 1)
	assert.Equal(t, DeliveryStatusSuccess, logs[0].Status)
	assert.Equal(t, 2, logs[0].Attempts)
}

func TestProcessPendingRetriesDropsUnregisteredWebhook(t *testing.T) {
	rcv := &receiver{status: http.StatusInternalServerError}
	srv := httptest.NewServer(rcv.handler())
	defer srv.Close()

	m := newTestManager(t)
	hook, err := m.Register(srv.URL, "s3cret", nil, "")
	require.NoError(t, err)

	require.NoError(t, m.HandleEvent(context.Background(), events.New(events.TypePaymentSucceeded, nil)))
	require.True(t, m.Unregister(hook.ID))

	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	m.ProcessPendingRetries(context.Background())

	logs := m.logs.GetByWebhook(hook.ID, 10)
	require.Len(t, logs, 1)
	assert.Equal(t, DeliveryStatusFailed, logs[0].Status)
	assert.Equal(t, 1, logs[0].Attempts)
}

func TestDeliveryLogStoreEvictsOldest(t *testing.T) {
	store := NewDeliveryLogStore(10)
	base := time.Now()
	for i := 0; i < 10; i++ {
		store.Add(&DeliveryLog{
			ID:        string(rune('a' + i)),
			WebhookID: "hook-1",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	store.Add(&DeliveryLog{ID: "newest", WebhookID: "hook-1", CreatedAt: base.Add(time.Minute)})

	_, ok := store.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = store.Get("newest")
	assert.True(t, ok)
}
