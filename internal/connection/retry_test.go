package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryConfig_NextBackoff(t *testing.T) {
	rc := RetryConfig{
		InitialInterval: time.Second,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
	}

	tests := []struct {
		attempt uint
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rc.NextBackoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryConfig_NextBackoffJitter(t *testing.T) {
	rc := RetryConfig{
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2,
		RandomFactor:    0.5,
	}
	for i := 0; i < 20; i++ {
		d := rc.NextBackoff(1)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 3*time.Second)
	}
}

func TestRetryConfig_NextBackoffInvalidConfig(t *testing.T) {
	assert.Equal(t, time.Second, RetryConfig{InitialInterval: time.Second, Multiplier: 1}.NextBackoff(3))
	assert.Zero(t, RetryConfig{}.NextBackoff(3))
}
