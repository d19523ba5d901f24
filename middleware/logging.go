package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"disco/service"
)

// Logging logs every instance selection with its duration, and failures at
// warn level.
func Logging(logger *zap.Logger) Middleware {
	return func(next GetInstanceFunc) GetInstanceFunc {
		return func(ctx context.Context, req any) (service.Instance, error) {
			start := time.Now()
			inst, err := next(ctx, req)
			duration := time.Since(start)
			if err != nil {
				logger.Warn("instance selection failed",
					zap.Duration("duration", duration),
					zap.Error(err))
				return nil, err
			}
			logger.Debug("instance selected",
				zap.Duration("duration", duration))
			return inst, nil
		}
	}
}
