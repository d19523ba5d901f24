package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"disco/service"
)

// ErrRateLimited is returned when a selection exceeds the configured rate.
var ErrRateLimited = errors.New("middleware: rate limit exceeded")

// RateLimit rejects selections beyond r per second with the given burst,
// using a token bucket.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next GetInstanceFunc) GetInstanceFunc {
		return func(ctx context.Context, req any) (service.Instance, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, req)
		}
	}
}
