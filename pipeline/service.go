package pipeline

import (
	"context"

	"github.com/deeppavlov/dialgo-flow-framework/dialogctx"
)

// ServiceFunc is the user-supplied body of a leaf Service. Returning a
// non-empty State overrides the default FINISHED-on-success outcome.
type ServiceFunc func(ctx context.Context, dctx *dialogctx.Context) (State, error)

// Service wraps a single user function as a pipeline component.
type Service struct {
	*Component
}

// NewService constructs a leaf Service.
func NewService(name string, fn ServiceFunc, opts ...Option) (*Service, error) {
	c, err := newComponent(name, opts...)
	if err != nil {
		return nil, err
	}
	c.Body = func(ctx context.Context, dctx *dialogctx.Context) (State, error) {
		return fn(ctx, dctx)
	}
	return &Service{Component: c}, nil
}
