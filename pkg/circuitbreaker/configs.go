package circuitbreaker

import "time"

// SpeechProviderConfig returns a config tuned for latency-bound speech
// vendors: trip early and keep the first open window short.
func SpeechProviderConfig(failureThreshold int64, timeout time.Duration) *Config {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Config{
		FailureThreshold:   failureThreshold,
		SuccessThreshold:   1,
		Timeout:            timeout,
		MaxTimeout:         6 * timeout,
		RequestTimeout:     5 * time.Second,
		ExponentialBackoff: true,
	}
}
