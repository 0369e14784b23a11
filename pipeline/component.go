// Package pipeline implements the component/service-group scheduler and
// the top-level Pipeline orchestrator: spec §4.5–§4.7.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/deeppavlov/dialgo-flow-framework/dialogctx"
	"github.com/deeppavlov/dialgo-flow-framework/logger"
	pkgerrors "github.com/deeppavlov/dialgo-flow-framework/pkg/errors"
)

// State is a component's execution state for the current turn.
type State string

// Execution states a component can end a turn in.
const (
	StateNotRun   State = "NOT_RUN"
	StateRunning  State = "RUNNING"
	StateFinished State = "FINISHED"
	StateFailed   State = "FAILED"
)

// HandlerStage distinguishes before- from after-handlers.
type HandlerStage int

// The two points in a component's run a Handler can be attached to.
const (
	Before HandlerStage = iota
	After
)

// RuntimeInfo is passed to extra handlers: the component's identity and
// its execution state at the time the handler runs.
type RuntimeInfo struct {
	Path  string
	Name  string
	State State
}

// Handler is a side-effecting extra callback. Per spec §4.5, handlers
// must not raise; an error return is logged and suppressed rather than
// propagated.
type Handler func(ctx context.Context, dctx *dialogctx.Context, info RuntimeInfo) error

// StartCondition gates whether a component runs at all this turn.
type StartCondition func(dctx *dialogctx.Context) bool

// Runnable is the common contract Service and ServiceGroup both satisfy,
// letting a ServiceGroup treat either uniformly as a child.
type Runnable interface {
	Name() string
	Path() string
	Asynchronous() bool
	Run(ctx context.Context, dctx *dialogctx.Context) error
	State(dctx *dialogctx.Context) State

	setPath(path string)
}

// Component is the abstract pipeline component: name, path, timeout,
// asynchronous flag, start-condition, extra handlers, and the generic
// _run protocol (spec §4.5). Service and ServiceGroup embed it and supply
// a different Body.
type Component struct {
	name           string
	path           string
	timeout        time.Duration
	asynchronous   bool
	capableAsync   bool
	startCondition StartCondition
	before         []Handler
	after          []Handler

	// Body is the component-specific work: a user function for a Service,
	// or the child-scheduling logic for a ServiceGroup.
	Body func(ctx context.Context, dctx *dialogctx.Context) (State, error)
}

// Option configures a Component at construction.
type Option func(*Component)

// WithTimeout bounds the component body's execution. Zero (the default)
// means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Component) { c.timeout = d }
}

// WithAsynchronous marks the component as safe to run inside a parallel
// subgroup.
func WithAsynchronous(v bool) Option {
	return func(c *Component) { c.asynchronous = v }
}

// WithAsyncCapable records that a component's body could safely run
// asynchronously, independent of whether WithAsynchronous was actually
// set. ServiceGroup construction warns when a capable component was left
// synchronous, per spec §4.6's optimization warnings.
func WithAsyncCapable(v bool) Option {
	return func(c *Component) { c.capableAsync = v }
}

// WithStartCondition sets the predicate gating whether the component runs
// at all this turn.
func WithStartCondition(cond StartCondition) Option {
	return func(c *Component) { c.startCondition = cond }
}

// WithBeforeHandler appends a before_handler, run in order prior to the
// component body.
func WithBeforeHandler(h Handler) Option {
	return func(c *Component) { c.before = append(c.before, h) }
}

// WithAfterHandler appends an after_handler, run in order after the
// component body (even on failure or timeout).
func WithAfterHandler(h Handler) Option {
	return func(c *Component) { c.after = append(c.after, h) }
}

// WithRateLimit appends a before_handler that blocks on limiter until the
// component is admitted to run again, throttling how often its body can
// execute. limiter is shared across turns, so callers construct one per
// component (not per turn) and pass it to every component that should draw
// from the same budget. A context cancellation while waiting is reported
// through the ordinary before_handler log-and-suppress path (spec §4.5:
// handlers must not raise), so it never fails the turn by itself.
func WithRateLimit(limiter *rate.Limiter) Option {
	return func(c *Component) {
		c.before = append(c.before, func(ctx context.Context, dctx *dialogctx.Context, info RuntimeInfo) error {
			return limiter.Wait(ctx)
		})
	}
}

func newComponent(name string, opts ...Option) (*Component, error) {
	if name == "" {
		return nil, pkgerrors.New("pipeline", "newComponent", fmt.Errorf("component name cannot be blank"))
	}
	if strings.Contains(name, ".") {
		return nil, pkgerrors.New("pipeline", "newComponent", fmt.Errorf("component name %q cannot contain '.'", name))
	}
	c := &Component{name: name}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the component's name.
func (c *Component) Name() string { return c.name }

// Path returns the component's dotted path from the pipeline root,
// assigned once by the enclosing ServiceGroup/Pipeline at construction.
func (c *Component) Path() string { return c.path }

// Asynchronous reports whether this component declares parallel-safety.
func (c *Component) Asynchronous() bool { return c.asynchronous }

func (c *Component) asyncCapable() bool { return c.capableAsync }

func (c *Component) setPath(path string) { c.path = path }

// State returns the component's execution state for the turn in
// progress, cleared at the start of every turn. Safe to call while
// siblings in the same parallel subgroup are still running: it reads
// through dctx's own lock rather than the ServiceStates map directly.
func (c *Component) State(dctx *dialogctx.Context) State {
	s, ok := dctx.ServiceState(c.path)
	if !ok {
		return ""
	}
	return State(s)
}

func (c *Component) setState(dctx *dialogctx.Context, s State) {
	dctx.SetServiceState(c.path, string(s))
}

// Run executes the generic per-component protocol (spec §4.5):
// start_condition check, before_handler, timed body invocation, state
// transition, after_handler (always), regardless of outcome.
func (c *Component) Run(ctx context.Context, dctx *dialogctx.Context) error {
	if c.startCondition != nil && !c.startCondition(dctx) {
		c.setState(dctx, StateNotRun)
		return nil
	}

	c.runHandlers(ctx, dctx, c.before, StateNotRun)

	c.setState(dctx, StateRunning)

	state, err := c.runBody(ctx, dctx)
	if err != nil {
		logger.ErrorContext(ctx, "pipeline: component failed", "path", c.path, "error", err)
		state = StateFailed
	} else if state == "" {
		state = StateFinished
	}
	c.setState(dctx, state)

	c.runHandlers(ctx, dctx, c.after, state)

	return nil
}

func (c *Component) runBody(ctx context.Context, dctx *dialogctx.Context) (State, error) {
	if c.Body == nil {
		return StateFinished, nil
	}
	if c.timeout <= 0 {
		return c.Body(ctx, dctx)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		state State
		err   error
	}
	done := make(chan result, 1)
	go func() {
		s, err := c.Body(runCtx, dctx)
		done <- result{s, err}
	}()

	select {
	case r := <-done:
		return r.state, r.err
	case <-runCtx.Done():
		return StateFailed, pkgerrors.New("pipeline", "runBody", fmt.Errorf("component %q timed out after %s", c.path, c.timeout))
	}
}

func (c *Component) runHandlers(ctx context.Context, dctx *dialogctx.Context, handlers []Handler, state State) {
	info := RuntimeInfo{Path: c.path, Name: c.name, State: state}
	for _, h := range handlers {
		if err := h(ctx, dctx, info); err != nil {
			logger.ErrorContext(ctx, "pipeline: extra handler failed, suppressing", "path", c.path, "error", err)
		}
	}
}
