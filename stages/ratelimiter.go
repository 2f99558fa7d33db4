package stages

import (
	"sync"

	"golang.org/x/time/rate"
)

// SourceRateLimiter hands out one token-bucket rate.Limiter per source_id, sized
// from that source's rate_limit (requests per minute). The crawler waits on the
// matching limiter before every fetch so concurrent crawl.request messages for the
// same source never exceed its configured rate within this process. The limiters
// live in process memory, so separate worker processes each apply the rate on
// their own.
type SourceRateLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewSourceRateLimiter builds an empty SourceRateLimiter.
func NewSourceRateLimiter() *SourceRateLimiter {
	return &SourceRateLimiter{limiters: make(map[int64]*rate.Limiter)}
}

// Limiter returns the rate.Limiter for sourceID, creating one sized to
// ratePerMinute requests per minute with a burst of 1 if it doesn't exist yet.
func (s *SourceRateLimiter) Limiter(sourceID int64, ratePerMinute int) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.limiters[sourceID]; ok {
		return l
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	l := rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), 1)
	s.limiters[sourceID] = l
	return l
}
