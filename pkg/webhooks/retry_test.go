package webhooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyShouldRetry(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, Multiplier: 2.0})

	assert.True(t, policy.ShouldRetry(1))
	assert.True(t, policy.ShouldRetry(2))
	assert.False(t, policy.ShouldRetry(3))
	assert.False(t, policy.ShouldRetry(4))
}

func TestRetryPolicyBackoffDoubles(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
	})

	assert.Equal(t, 1*time.Second, policy.NextRetryDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextRetryDelay(2))
	assert.Equal(t, 4*time.Second, policy.NextRetryDelay(3))
	assert.Equal(t, 8*time.Second, policy.NextRetryDelay(4))
}

func TestRetryPolicyBackoffCapped(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	})

	assert.Equal(t, 4*time.Second, policy.NextRetryDelay(3))
	assert.Equal(t, 5*time.Second, policy.NextRetryDelay(4))
	assert.Equal(t, 5*time.Second, policy.NextRetryDelay(9))
}

func TestRetryPolicyNextRetryTime(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(time.Second), policy.NextRetryTime(1, now))
	assert.Equal(t, now.Add(2*time.Second), policy.NextRetryTime(2, now))
}

func TestNewRetryPolicyDefaultsInvalidConfig(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{})

	assert.False(t, policy.ShouldRetry(1))
	assert.Equal(t, time.Second, policy.NextRetryDelay(1))
}
