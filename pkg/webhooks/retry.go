package webhooks

import (
	"context"
	"time"
)

// RetryConfig controls the exponential backoff applied to failed
// deliveries.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig retries up to 5 times, starting at 1s and capping
// at 5 minutes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
	}
}

// RetryPolicy decides whether and when a failed delivery is retried.
type RetryPolicy struct {
	config RetryConfig
}

func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Second
	}
	if config.Multiplier < 1 {
		config.Multiplier = 2.0
	}
	return &RetryPolicy{config: config}
}

func (p *RetryPolicy) ShouldRetry(attempts int) bool {
	return attempts < p.config.MaxAttempts
}

// NextRetryDelay returns the backoff before attempt number attempts+1.
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	delay := p.config.InitialDelay
	for i := 1; i < attempts; i++ {
		delay = time.Duration(float64(delay) * p.config.Multiplier)
		if p.config.MaxDelay > 0 && delay > p.config.MaxDelay {
			return p.config.MaxDelay
		}
	}
	if p.config.MaxDelay > 0 && delay > p.config.MaxDelay {
		return p.config.MaxDelay
	}
	return delay
}

func (p *RetryPolicy) NextRetryTime(attempts int, now time.Time) time.Time {
	return now.Add(p.NextRetryDelay(attempts))
}

// RetryWorker periodically redelivers logs whose retry time has
// arrived.
type RetryWorker struct {
	manager  *Manager
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewRetryWorker(manager *Manager, interval time.Duration) *RetryWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RetryWorker{
		manager:  manager,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *RetryWorker) Start() {
	go w.run()
}

func (w *RetryWorker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *RetryWorker) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.interval)
			w.manager.ProcessPendingRetries(ctx)
			cancel()
		}
	}
}
