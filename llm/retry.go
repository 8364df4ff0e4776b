package llm

import "time"

// RetryConfig controls how transient completion failures are retried
// before the client falls through to the next endpoint.
type RetryConfig struct {
	// MaxAttempts bounds the tries per endpoint, the first call
	// included.
	MaxAttempts int

	// BackoffBase is the wait before the first retry.
	BackoffBase time.Duration

	// BackoffMultiplier grows the wait on each further retry.
	BackoffMultiplier float64

	// MaxBackoff caps the grown wait.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the retry policy used when none is
// configured: three attempts with exponential backoff from 2s to 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}
