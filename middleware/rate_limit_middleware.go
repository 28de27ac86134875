package middleware

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware rejects requests beyond a token-bucket budget of r per
// second with the given burst.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) *Reply {
			if !limiter.Allow() {
				return Failed("rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
