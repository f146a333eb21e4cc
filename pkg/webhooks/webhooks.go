package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/paywall/pkg/events"
	"github.com/platinummonkey/paywall/pkg/middleware"
	"github.com/platinummonkey/paywall/pkg/observability"
)

// Webhook is one registered outbound endpoint.
type Webhook struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Events      []string  `json:"events"`
	Secret      string    `json:"-"`
	Active      bool      `json:"active"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SubscribesTo reports whether the webhook wants the event type. An
// empty event list subscribes to everything.
func (w *Webhook) SubscribesTo(eventType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// eventPayload is the wire shape POSTed to endpoints.
type eventPayload struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	OccurredAt time.Time              `json:"occurredAt"`
	Data       map[string]interface{} `json:"data"`
}

// Manager fans internal events out to registered HTTP endpoints. It
// implements events.Handler so it can sit in a subscriber map next to
// the in-process handlers.
type Manager struct {
	mu       sync.RWMutex
	webhooks map[string]*Webhook

	client  *http.Client
	logs    *DeliveryLogStore
	policy  *RetryPolicy
	limiter *middleware.RateLimiter
	logger  *observability.Logger
	metrics *observability.Metrics

	now func() time.Time
}

// NewManager creates a delivery manager. limiter and metrics may be
// nil.
func NewManager(logs *DeliveryLogStore, policy *RetryPolicy, limiter *middleware.RateLimiter, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	if logs == nil {
		logs = NewDeliveryLogStore(0)
	}
	if policy == nil {
		policy = NewRetryPolicy(DefaultRetryConfig())
	}
	return &Manager{
		webhooks: make(map[string]*Webhook),
		client:   &http.Client{Timeout: 10 * time.Second},
		logs:     logs,
		policy:   policy,
		limiter:  limiter,
		logger:   logger.WithField("component", "webhooks"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Register adds an endpoint and returns it with a generated id.
func (m *Manager) Register(rawURL, secret string, eventTypes []string, description string) (*Webhook, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid webhook URL %q", rawURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported webhook scheme %q", parsed.Scheme)
	}
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}

	now := m.now().UTC()
	hook := &Webhook{
		ID:          uuid.NewString(),
		URL:         rawURL,
		Events:      eventTypes,
		Secret:      secret,
		Active:      true,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	m.webhooks[hook.ID] = hook
	m.mu.Unlock()

	m.logger.WithFields(map[string]interface{}{
		"webhook_id": hook.ID,
		"url":        hook.URL,
	}).Info("webhook registered")
	return hook, nil
}

// Unregister removes an endpoint.
func (m *Manager) Unregister(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[id]; !ok {
		return false
	}
	delete(m.webhooks, id)
	return true
}

// List returns all registered endpoints.
func (m *Manager) List() []*Webhook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Webhook, 0, len(m.webhooks))
	for _, hook := range m.webhooks {
		result = append(result, hook)
	}
	return result
}

// Stats returns delivery statistics for one endpoint.
func (m *Manager) Stats(webhookID string) DeliveryStats {
	return m.logs.GetStats(webhookID)
}

// HandleEvent delivers the event to every active endpoint subscribed
// to its type. Delivery failures are retried by the retry worker, so
// HandleEvent itself never fails.
func (m *Manager) HandleEvent(ctx context.Context, event events.Event) error {
	m.mu.RLock()
	hooks := make([]*Webhook, 0, len(m.webhooks))
	for _, hook := range m.webhooks {
		if hook.Active && hook.SubscribesTo(event.Type) {
			hooks = append(hooks, hook)
		}
	}
	m.mu.RUnlock()

	if len(hooks) == 0 {
		return nil
	}

	body, err := json.Marshal(eventPayload{
		ID:         event.ID,
		Type:       event.Type,
		OccurredAt: event.OccurredAt,
		Data:       event.Data,
	})
	if err != nil {
		m.logger.WithError(err).WithField("event_id", event.ID).Error("marshal event payload")
		return nil
	}

	for _, hook := range hooks {
		log := &DeliveryLog{
			ID:        uuid.NewString(),
			WebhookID: hook.ID,
			EventID:   event.ID,
			EventType: event.Type,
			URL:       hook.URL,
			Status:    DeliveryStatusPending,
			CreatedAt: m.now().UTC(),
			Payload:   body,
		}
		m.logs.Add(log)
		m.attempt(ctx, hook, log)
	}
	return nil
}

// ProcessPendingRetries redelivers logs whose retry time has arrived.
// It returns the number of redelivery attempts made.
func (m *Manager) ProcessPendingRetries(ctx context.Context) int {
	pending := m.logs.GetPendingRetries(m.now())
	for _, log := range pending {
		hook, ok := m.webhook(log.WebhookID)
		if !ok || !hook.Active {
			now := m.now().UTC()
			log.Status = DeliveryStatusFailed
			log.ErrorMessage = "webhook no longer registered"
			log.CompletedAt = &now
			m.logs.Update(log)
			continue
		}
		m.attempt(ctx, hook, log)
	}
	return len(pending)
}

func (m *Manager) webhook(id string) (*Webhook, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hook, ok := m.webhooks[id]
	return hook, ok
}

// attempt performs one delivery and advances the log state.
func (m *Manager) attempt(ctx context.Context, hook *Webhook, log *DeliveryLog) {
	if m.limiter != nil && !m.limiter.Allow("webhook:"+hook.ID) {
		log.Status = DeliveryStatusRetrying
		next := m.policy.NextRetryTime(log.Attempts+1, m.now().UTC())
		log.NextRetryAt = &next
		log.ErrorMessage = "delivery rate limited"
		m.logs.Update(log)
		return
	}

	log.Attempts++
	statusCode, err := m.deliver(ctx, hook, log.Payload)
	log.StatusCode = statusCode
	now := m.now().UTC()

	if err == nil {
		log.Status = DeliveryStatusSuccess
		log.ErrorMessage = ""
		log.NextRetryAt = nil
		log.CompletedAt = &now
		m.logs.Update(log)
		m.recordOutcome(log.EventType, "delivered")
		return
	}

	log.ErrorMessage = err.Error()
	if m.policy.ShouldRetry(log.Attempts) {
		log.Status = DeliveryStatusRetrying
		next := m.policy.NextRetryTime(log.Attempts, now)
		log.NextRetryAt = &next
		m.logs.Update(log)
		m.recordOutcome(log.EventType, "retrying")
		m.logger.WithError(err).WithFields(map[string]interface{}{
			"webhook_id": hook.ID,
			"event_id":   log.EventID,
			"attempt":    log.Attempts,
		}).Warn("webhook delivery failed, will retry")
		return
	}

	log.Status = DeliveryStatusFailed
	log.NextRetryAt = nil
	log.CompletedAt = &now
	m.logs.Update(log)
	m.recordOutcome(log.EventType, "failed")
	m.logger.WithError(err).WithFields(map[string]interface{}{
		"webhook_id": hook.ID,
		"event_id":   log.EventID,
		"attempts":   log.Attempts,
	}).Error("webhook delivery exhausted retries")
}

func (m *Manager) deliver(ctx context.Context, hook *Webhook, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Paywall-Event", hook.ID)
	req.Header.Set("X-Paywall-Signature", Sign(hook.Secret, body))

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (m *Manager) recordOutcome(eventType, outcome string) {
	if m.metrics != nil {
		m.metrics.WebhookEventsTotal.WithLabelValues(eventType, "outbound_"+outcome).Inc()
	}
}

// Sign computes the hex HMAC-SHA256 signature carried in
// X-Paywall-Signature.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the body.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
