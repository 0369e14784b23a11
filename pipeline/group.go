package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/deeppavlov/dialgo-flow-framework/dialogctx"
	"github.com/deeppavlov/dialgo-flow-framework/logger"
)

// ServiceGroup composes an ordered list of children (Service or nested
// ServiceGroup) into a sequential/parallel execution plan: spec §4.6.
// A ServiceGroup is itself a Runnable, so groups nest.
type ServiceGroup struct {
	*Component

	children              []Runnable
	explicitlySynchronous bool
	maxConcurrency        *semaphore.Weighted
}

// GroupOption configures a ServiceGroup beyond the base Component options.
type GroupOption func(*ServiceGroup)

// MarkedSynchronous suppresses the "mixed sync/async children" warning for
// a group whose author has deliberately chosen not to split it.
func MarkedSynchronous() GroupOption {
	return func(g *ServiceGroup) { g.explicitlySynchronous = true }
}

// WithMaxConcurrency bounds how many of a contiguous asynchronous subgroup's
// children may run at once, via a weighted semaphore rather than
// golang.org/x/sync/errgroup (same rationale as runParallel's own fan-out:
// errgroup would cancel every sibling's context on the first error). n <= 0
// leaves the subgroup unbounded, the default.
func WithMaxConcurrency(n int) GroupOption {
	return func(g *ServiceGroup) {
		if n > 0 {
			g.maxConcurrency = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewServiceGroup constructs a group over children in declaration order,
// logging the non-fatal optimization warnings spec §4.6 calls out.
func NewServiceGroup(name string, children []Runnable, opts []Option, groupOpts ...GroupOption) (*ServiceGroup, error) {
	c, err := newComponent(name, opts...)
	if err != nil {
		return nil, err
	}
	g := &ServiceGroup{Component: c, children: children}
	for _, opt := range groupOpts {
		opt(g)
	}
	g.Body = g.runChildren

	for _, child := range children {
		child.setPath(name + "." + child.Name())
		logOptimizationWarnings(child)
	}
	logMixedGroupWarning(name, children, g.explicitlySynchronous)

	return g, nil
}

// setPath assigns the group's own path and re-derives every child's path
// beneath it, so components nested at any depth carry their full dotted
// path from the root.
func (g *ServiceGroup) setPath(path string) {
	g.Component.setPath(path)
	for _, child := range g.children {
		child.setPath(path + "." + child.Name())
	}
}

// capableOfAsync is satisfied by a child that declares it could safely run
// in a parallel subgroup, independent of whether it's actually flagged
// asynchronous (Service authors opt in via WithAsyncCapable).
type capableOfAsync interface {
	asyncCapable() bool
}

func logOptimizationWarnings(child Runnable) {
	if c, ok := child.(capableOfAsync); ok && c.asyncCapable() && !child.Asynchronous() {
		logger.Warn("pipeline: component could be asynchronous but is marked synchronous", "name", child.Name())
	}
	if svc, ok := child.(*Service); ok && !svc.Asynchronous() && svc.timeout > 0 {
		logger.Warn("pipeline: timeout has no effect on a synchronous component", "name", child.Name())
	}
}

func logMixedGroupWarning(name string, children []Runnable, explicitlySynchronous bool) {
	if explicitlySynchronous {
		return
	}
	var hasSync, hasAsync bool
	for _, child := range children {
		if child.Asynchronous() {
			hasAsync = true
		} else {
			hasSync = true
		}
	}
	if hasSync && hasAsync {
		logger.Warn("pipeline: service group contains both sync and async children, split it or mark it synchronous explicitly", "name", name)
	}
}

// runChildren is the group's Body: the scheduler described in spec §4.6.
func (g *ServiceGroup) runChildren(ctx context.Context, dctx *dialogctx.Context) (State, error) {
	var subgroup []Runnable
	failed := false

	flush := func() {
		if len(subgroup) == 0 {
			return
		}
		if runParallel(ctx, dctx, subgroup, g.maxConcurrency) {
			failed = true
		}
		subgroup = nil
	}

	for _, child := range g.children {
		if child.Asynchronous() {
			subgroup = append(subgroup, child)
			continue
		}
		flush()
		if err := child.Run(ctx, dctx); err != nil {
			logger.ErrorContext(ctx, "pipeline: synchronous child returned an error", "name", child.Name(), "error", err)
		}
		if child.State(dctx) == StateFailed {
			failed = true
		}
	}
	flush()

	if failed {
		return StateFailed, nil
	}
	return StateFinished, nil
}

// runParallel dispatches every child concurrently and waits for all of
// them, deliberately NOT using errgroup.Group: errgroup cancels every
// sibling's context on the first error, but spec §4.6/§5/§8 requires a
// failing or timed-out sibling to never cancel the others. sem, if non-nil,
// bounds how many children run at once (WithMaxConcurrency); each child's
// Run call and State read are already safe for concurrent use (Run only
// mutates the child's own Component, and State/setState serialize through
// dctx's lock), so only sem and the shared results slice need coordinating
// here.
func runParallel(ctx context.Context, dctx *dialogctx.Context, subgroup []Runnable, sem *semaphore.Weighted) (anyFailed bool) {
	var wg sync.WaitGroup
	results := make([]State, len(subgroup))

	wg.Add(len(subgroup))
	for i, child := range subgroup {
		go func(i int, child Runnable) {
			defer wg.Done()
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					logger.ErrorContext(ctx, "pipeline: semaphore acquire canceled, skipping child", "name", child.Name(), "error", err)
					results[i] = StateFailed
					return
				}
				defer sem.Release(1)
			}
			if err := child.Run(ctx, dctx); err != nil {
				logger.ErrorContext(ctx, "pipeline: asynchronous child returned an error", "name", child.Name(), "error", err)
			}
			results[i] = child.State(dctx)
		}(i, child)
	}
	wg.Wait()

	for _, s := range results {
		if s == StateFailed {
			anyFailed = true
		}
	}
	return anyFailed
}
