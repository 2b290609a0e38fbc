package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay_ExponentialUpToCap(t *testing.T) {
	base := 5 * time.Second
	cap := 300 * time.Second

	assert.Equal(t, 5*time.Second, retryDelay(1, base, cap))
	assert.Equal(t, 10*time.Second, retryDelay(2, base, cap))
	assert.Equal(t, 20*time.Second, retryDelay(3, base, cap))
	assert.Equal(t, cap, retryDelay(20, base, cap))
}

func TestRetryDelay_ZeroValuesFallBackToDefaults(t *testing.T) {
	assert.Equal(t, 5*time.Second, retryDelay(1, 0, 0))
	assert.Equal(t, 300*time.Second, retryDelay(200, 0, 0))
}

func TestResolveRetryPolicy_NoOverrideUsesGlobal(t *testing.T) {
	base, max := resolveRetryPolicy(5*time.Second, 300*time.Second, nil, "generic_webhook")
	assert.Equal(t, 5*time.Second, base)
	assert.Equal(t, 300*time.Second, max)
}

func TestResolveRetryPolicy_OverrideAppliesPerHandler(t *testing.T) {
	overrides := map[string]RetryPolicy{
		"flaky_handler": {Base: time.Second, Max: 30 * time.Second},
	}

	base, max := resolveRetryPolicy(5*time.Second, 300*time.Second, overrides, "flaky_handler")
	assert.Equal(t, time.Second, base)
	assert.Equal(t, 30*time.Second, max)

	base, max = resolveRetryPolicy(5*time.Second, 300*time.Second, overrides, "generic_webhook")
	assert.Equal(t, 5*time.Second, base)
	assert.Equal(t, 300*time.Second, max)
}

func TestResolveRetryPolicy_PartialOverrideKeepsOtherGlobal(t *testing.T) {
	overrides := map[string]RetryPolicy{
		"flaky_handler": {Base: time.Second},
	}

	base, max := resolveRetryPolicy(5*time.Second, 300*time.Second, overrides, "flaky_handler")
	assert.Equal(t, time.Second, base)
	assert.Equal(t, 300*time.Second, max)
}
