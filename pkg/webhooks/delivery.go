package webhooks

import (
	"sort"
	"sync"
	"time"
)

// DeliveryStatus is the state of one delivery attempt chain.
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
)

// DeliveryLog records the delivery attempts for one (webhook, event)
// pair.
type DeliveryLog struct {
	ID           string         `json:"id"`
	WebhookID    string         `json:"webhookId"`
	EventID      string         `json:"eventId"`
	EventType    string         `json:"eventType"`
	URL          string         `json:"url"`
	Status       DeliveryStatus `json:"status"`
	StatusCode   int            `json:"statusCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Attempts     int            `json:"attempts"`
	NextRetryAt  *time.Time     `json:"nextRetryAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	Payload      []byte         `json:"-"`
}

// DeliveryStats summarizes outcomes for one webhook.
type DeliveryStats struct {
	WebhookID  string `json:"webhookId"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Retrying   int    `json:"retrying"`
}

// DeliveryLogStore keeps recent delivery logs in memory, evicting the
// oldest when full.
type DeliveryLogStore struct {
	mu      sync.RWMutex
	logs    map[string]*DeliveryLog
	maxLogs int
}

// NewDeliveryLogStore creates a store holding at most maxLogs entries.
func NewDeliveryLogStore(maxLogs int) *DeliveryLogStore {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &DeliveryLogStore{
		logs:    make(map[string]*DeliveryLog),
		maxLogs: maxLogs,
	}
}

func (s *DeliveryLogStore) Add(log *DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.logs) >= s.maxLogs {
		s.evictOldestLocked()
	}
	s.logs[log.ID] = log
}

func (s *DeliveryLogStore) Get(id string) (*DeliveryLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[id]
	return log, ok
}

func (s *DeliveryLogStore) Update(log *DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[log.ID] = log
}

// GetByWebhook returns the most recent logs for one webhook.
func (s *DeliveryLogStore) GetByWebhook(webhookID string, limit int) []*DeliveryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*DeliveryLog
	for _, log := range s.logs {
		if log.WebhookID == webhookID {
			result = append(result, log)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// GetPendingRetries returns logs whose retry time has arrived.
func (s *DeliveryLogStore) GetPendingRetries(now time.Time) []*DeliveryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*DeliveryLog
	for _, log := range s.logs {
		if log.Status == DeliveryStatusRetrying && log.NextRetryAt != nil && log.NextRetryAt.Before(now) {
			result = append(result, log)
		}
	}
	return result
}

// GetStats summarizes delivery outcomes for one webhook.
func (s *DeliveryLogStore) GetStats(webhookID string) DeliveryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := DeliveryStats{WebhookID: webhookID}
	for _, log := range s.logs {
		if log.WebhookID != webhookID {
			continue
		}
		stats.Total++
		switch log.Status {
		case DeliveryStatusSuccess:
			stats.Successful++
		case DeliveryStatusFailed:
			stats.Failed++
		case DeliveryStatusRetrying:
			stats.Retrying++
		}
	}
	return stats
}

func (s *DeliveryLogStore) evictOldestLocked() {
	logs := make([]*DeliveryLog, 0, len(s.logs))
	for _, log := range s.logs {
		logs = append(logs, log)
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].CreatedAt.Before(logs[j].CreatedAt)
	})

	evictCount := len(logs) / 10
	if evictCount == 0 {
		evictCount = 1
	}
	for i := 0; i < evictCount && i < len(logs); i++ {
		delete(s.logs, logs[i].ID)
	}
}
