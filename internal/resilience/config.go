package resilience

import (
	"time"
)

// RetryFromAttempts builds a RetryConfig with the default backoff curve and
// the given number of attempts. Non-positive values keep the default.
func RetryFromAttempts(maxAttempts int, service, operation string) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	cfg.OnRetry = RetryLogger(service, operation)
	return cfg
}

// BreakerFromConfig builds a named CircuitBreakerConfig. Non-positive values
// keep the defaults.
func BreakerFromConfig(name string, failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	cfg.Name = name
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
