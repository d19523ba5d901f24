// Package middleware wraps instance selection with cross-cutting behavior
// such as logging and rate limiting, composed into a chain around
// Service.GetInstance.
package middleware

import (
	"context"

	"disco/service"
)

// GetInstanceFunc selects the instance serving one request.
type GetInstanceFunc func(ctx context.Context, req any) (service.Instance, error)

// Middleware wraps instance selection.
type Middleware func(next GetInstanceFunc) GetInstanceFunc

// Chain combines middlewares into one; the first middleware becomes the
// outermost wrapper.
func Chain(middlewares ...Middleware) Middleware {
	return func(next GetInstanceFunc) GetInstanceFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Wrap returns a view of s whose GetInstance runs the middleware chain.
// Every other Service method passes straight through.
func Wrap(s service.Service, middlewares ...Middleware) service.Service {
	return &wrapped{
		Service: s,
		get:     Chain(middlewares...)(s.GetInstance),
	}
}

type wrapped struct {
	service.Service
	get GetInstanceFunc
}

func (w *wrapped) GetInstance(ctx context.Context, req any) (service.Instance, error) {
	return w.get(ctx, req)
}
