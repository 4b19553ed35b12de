package crawler

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// BackoffPolicy produces the wait between bounded interaction retries.
type BackoffPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewBackoffPolicy builds a policy with sane defaults for in-page clicks.
func NewBackoffPolicy() *BackoffPolicy {
	return &BackoffPolicy{
		baseDelay: 400 * time.Millisecond,
		maxDelay:  5 * time.Second,
	}
}

// Backoff returns the jittered wait duration before attempt (0-based).
func (p *BackoffPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *BackoffPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
