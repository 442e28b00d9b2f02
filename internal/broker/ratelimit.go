package broker

import (
	"context"

	"golang.org/x/time/rate"
)

// The broker throttles per app key: real keys get 20 requests per second,
// virtual keys 2. Limits are enforced client-side so bursts queue instead
// of drawing rejection responses.
const (
	realRequestsPerSec    = 20
	virtualRequestsPerSec = 2
)

// RateLimiter paces outbound broker calls for one account.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(virtual bool) *RateLimiter {
	rps := realRequestsPerSec
	if virtual {
		rps = virtualRequestsPerSec
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), rps)}
}

// Wait blocks until a request slot is available or the context ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
