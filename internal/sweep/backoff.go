package sweep

import (
	"math"
	"time"
)

// ExponentialBackoff scales the retry delay with the attempt number.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Delay calculates delay: InitialDelay * 2^(attempt-1), capped at
// MaxDelay. Attempt numbers start at 1.
func (s ExponentialBackoff) Delay(attempt int) time.Duration {
	if s.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt-1))
	if s.MaxDelay > 0 && delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}
