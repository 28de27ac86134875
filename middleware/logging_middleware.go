package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) *Reply {
			start := time.Now()
			reply := next(ctx, req)
			fields := []zap.Field{
				zap.String("request", req.Kind),
				zap.String("remote", req.RemoteAddr),
				zap.Uint64("length", req.Header.Length),
				zap.Duration("duration", time.Since(start)),
			}
			if reply == nil {
				logger.Info("trapper request dropped", fields...)
				return nil
			}
			logger.Info("trapper request", fields...)
			return reply
		}
	}
}
