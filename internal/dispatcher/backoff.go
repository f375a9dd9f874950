package dispatcher

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

const (
	defaultBaseDelay = 30 * time.Second
	defaultMaxDelay  = time.Hour
)

// Backoff spaces out display retries for one record. There is no attempt
// ceiling; a record stays queued until it is shown.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Delay returns the wait before the next attempt after attempts failures.
// The result lies in [d/2, d) where d doubles per attempt up to MaxDelay.
func (b Backoff) Delay(attempts int) time.Duration {
	base, ceiling := b.BaseDelay, b.MaxDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	if ceiling <= 0 {
		ceiling = defaultMaxDelay
	}
	if attempts < 0 {
		attempts = 0
	}
	delay := float64(base) * math.Pow(2, float64(attempts))
	if delay > float64(ceiling) || math.IsInf(delay, 1) {
		delay = float64(ceiling)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
