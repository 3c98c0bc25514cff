package gateway

import (
	"sync"
	"time"

	"github.com/alochat/realtime/internal/config"
)

// rateLimiter is a per-session token bucket: Burst tokens, one token back
// every RefillInterval/Burst. Ping frames never reach it.
type rateLimiter struct {
	mu       sync.Mutex
	burst    float64
	perToken time.Duration
	tokens   float64
	updated  time.Time
	// streak counts consecutive rejections so a flood logs once.
	streak int
	now    func() time.Time
}

func newRateLimiter(cfg config.RateLimitConfig) *rateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	perToken := interval / time.Duration(burst)
	if perToken <= 0 {
		perToken = time.Nanosecond
	}
	return &rateLimiter{
		burst:    float64(burst),
		perToken: perToken,
		tokens:   float64(burst),
		updated:  time.Now(),
		now:      time.Now,
	}
}

// allow takes a token. The second result is the length of the current
// rejection streak, 0 when allowed.
func (rl *rateLimiter) allow() (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(rl.updated); elapsed > 0 {
		rl.tokens += float64(elapsed) / float64(rl.perToken)
		if rl.tokens > rl.burst {
			rl.tokens = rl.burst
		}
	}
	rl.updated = now

	if rl.tokens < 1 {
		rl.streak++
		return false, rl.streak
	}
	rl.tokens--
	rl.streak = 0
	return true, 0
}
