package connection

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// const ...
const (
	maxRetryAttempts    = uint(5) // failures tolerated before an attempt fails
	backoffMultiplier   = 2
	randomFactorDefault = 0.5
)

// RetryConfig ...
type RetryConfig struct {
	// MaxAttempts is the number of failed steps after which the whole
	// connection attempt fails.
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	RandomFactor    float64
}

// DefaultRetryConfig ...
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     maxRetryAttempts,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      backoffMultiplier,
		RandomFactor:    randomFactorDefault,
	}
}

// NextBackoff returns the delay before retry number attempt, counting from
// zero.
func (rc RetryConfig) NextBackoff(attempt uint) time.Duration {
	if rc.InitialInterval <= 0 || rc.MaxInterval <= 0 || rc.Multiplier <= 1 || rc.RandomFactor < 0 || rc.RandomFactor > 1 {
		return max(rc.InitialInterval, 0)
	}

	interval := float64(rc.InitialInterval) * math.Pow(rc.Multiplier, float64(attempt))
	if interval > float64(rc.MaxInterval) {
		interval = float64(rc.MaxInterval)
	}

	maxJitter := rc.RandomFactor * interval
	var jitter float64
	if maxJitter >= 1 {
		jitterBig, err := rand.Int(rand.Reader, big.NewInt(int64(maxJitter)))
		if err != nil {
			return time.Duration(interval)
		}
		jitter = float64(jitterBig.Int64())
	}
	return time.Duration(interval + jitter)
}
