package resilience

import (
	"time"
)

// RetryFromConfig builds a RetryConfig from the configured attempt count.
// Backoff shape stays at the defaults; only the cap is operator-tunable.
func RetryFromConfig(maxAttempts int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	return cfg
}

// BreakerFromConfig builds a CircuitBreakerConfig from the configured
// threshold and reset timeout.
func BreakerFromConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
