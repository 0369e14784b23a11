package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/deeppavlov/dialgo-flow-framework/actor"
	"github.com/deeppavlov/dialgo-flow-framework/dialogctx"
	"github.com/deeppavlov/dialgo-flow-framework/logger"
	"github.com/deeppavlov/dialgo-flow-framework/message"
	"github.com/deeppavlov/dialgo-flow-framework/metrics"
	pkgerrors "github.com/deeppavlov/dialgo-flow-framework/pkg/errors"
	"github.com/deeppavlov/dialgo-flow-framework/script"
	"github.com/deeppavlov/dialgo-flow-framework/storage"
	"github.com/deeppavlov/dialgo-flow-framework/telemetry"
)

// Pipeline is the top-level orchestrator: script, labels, pre/post service
// groups, storage, and the per-dialog keyed lock. See spec §4.7.
type Pipeline struct {
	script          *script.Script
	startLabel      message.NodeLabel
	fallbackLabel   message.NodeLabel
	actor           *actor.Actor
	pre             *ServiceGroup
	post            *ServiceGroup
	store           storage.Storage
	subs            storage.SubscriptionConfig
	originInterface string

	tracer trace.Tracer

	// Models is an opaque registry of user-wired model clients, reachable
	// from services via dctx.FrameworkData.Pipeline; the pipeline itself
	// never inspects it.
	Models any

	locks lockStripes
}

// lockStripeCount bounds the number of distinct dialog_id mutexes held at
// once, trading a (vanishingly unlikely) cross-dialog stall under hash
// collision for never growing unbounded over a long-running process.
const lockStripeCount = 256

type lockStripes [lockStripeCount]sync.Mutex

func (s *lockStripes) forDialog(dialogID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(dialogID))
	return &s[h.Sum32()%lockStripeCount]
}

// PipelineOption configures a Pipeline at construction.
type PipelineOption func(*Pipeline)

// WithSubscriptionConfig overrides the default (last-turn-only) subscription
// policy used when loading a Context.
func WithSubscriptionConfig(subs storage.SubscriptionConfig) PipelineOption {
	return func(p *Pipeline) { p.subs = subs }
}

// WithOriginInterface names the messenger interface that owns dialogs this
// pipeline creates, recorded on a fresh Context's OriginInterface.
func WithOriginInterface(name string) PipelineOption {
	return func(p *Pipeline) { p.originInterface = name }
}

// WithTracer sets the OpenTelemetry tracer used for turn/component spans.
// Defaults to telemetry.Tracer(nil) (the global TracerProvider, a no-op
// unless the process has configured one) if unset.
func WithTracer(tracer trace.Tracer) PipelineOption {
	return func(p *Pipeline) { p.tracer = tracer }
}

// WithModels attaches the opaque model registry surfaced to services via
// dctx.FrameworkData.Pipeline.
func WithModels(models any) PipelineOption {
	return func(p *Pipeline) { p.Models = models }
}

// New constructs a Pipeline. pre and post may be nil (treated as empty
// groups); fallbackLabel is used when no transition out of startLabel, or
// any later node, succeeds.
func New(s *script.Script, startLabel, fallbackLabel message.NodeLabel, pre, post *ServiceGroup, store storage.Storage, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		script:        s,
		startLabel:    startLabel,
		fallbackLabel: fallbackLabel,
		actor:         actor.New(s, fallbackLabel),
		pre:           pre,
		post:          post,
		store:         store,
		subs:          storage.DefaultSubscriptionConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracer == nil {
		p.tracer = telemetry.Tracer(nil)
	}
	if p.pre != nil {
		p.pre.setPath("pre")
	}
	if p.post != nil {
		p.post.setPath("post")
	}
	return p
}

// dialogLock returns the in-process mutex serialising turns for dialogID.
// Per spec §5: same dialog_id is serialised, different dialog_ids run
// freely (modulo the rare stripe collision between two different ids).
func (p *Pipeline) dialogLock(dialogID string) *sync.Mutex {
	return p.locks.forDialog(dialogID)
}

// RunTurn executes one turn for dialogID (spec §4.7's run_turn):
//  1. Load or create the Context.
//  2. Clear framework_data.service_states; set framework_data.pipeline.
//  3. Append request at current_turn_id+1 before the actor runs.
//  4. Run pre-services -> actor -> post-services as one implicit group.
//  5. Persist the Context.
//  6. Return last_response.
//
// An empty dialogID asks for a brand-new dialog with a generated id; a
// non-empty dialogID that storage has no record of also starts a fresh
// dialog, pinned to that id — the caller's dialog_id (e.g. a chat
// platform's own conversation id) becomes the Context's id rather than
// being rejected, since nothing about a first turn distinguishes "new
// dialog" from "unrecognized id".
func (p *Pipeline) RunTurn(ctx context.Context, request message.Message, dialogID string) (message.Message, error) {
	lock := p.dialogLock(dialogID)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := telemetry.StartTurn(ctx, p.tracer, dialogID)
	start := time.Now()
	resp, err := p.runTurnLocked(ctx, request, dialogID)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordTurn(status, time.Since(start).Seconds())
	telemetry.End(span, err)
	return resp, err
}

func (p *Pipeline) runTurnLocked(ctx context.Context, request message.Message, dialogID string) (message.Message, error) {
	dctx, err := p.loadOrCreate(ctx, dialogID)
	if err != nil {
		return message.Message{}, pkgerrors.New("pipeline", "RunTurn", err)
	}

	dctx.ResetServiceStates()
	dctx.FrameworkData.Pipeline = p

	requestTurnID := dctx.CurrentTurnID() + 1
	dctx.Requests.Set(requestTurnID, request)

	// Service.Run (like Component.Run) never returns an error to its
	// caller: failures surface as a component STATE, logged where they
	// happen. Only the actor's structural failures propagate here.
	if p.pre != nil {
		p.runGroup(ctx, dctx, p.pre)
	}

	if err := p.actor.RunTurn(ctx, dctx); err != nil {
		if storeErr := dctx.Store(ctx); storeErr != nil {
			logger.ErrorContext(ctx, "pipeline: failed to persist context after actor error", "error", storeErr)
		}
		return message.Message{}, pkgerrors.New("pipeline", "RunTurn", err)
	}

	if p.post != nil {
		p.runGroup(ctx, dctx, p.post)
	}

	if err := dctx.Store(ctx); err != nil {
		return message.Message{}, pkgerrors.New("pipeline", "RunTurn", err)
	}

	return dctx.LastResponse()
}

func (p *Pipeline) runGroup(ctx context.Context, dctx *dialogctx.Context, group *ServiceGroup) {
	ctx, span := telemetry.StartComponent(ctx, p.tracer, group.Path())
	_ = group.Run(ctx, dctx)
	state := group.State(dctx)
	metrics.RecordComponentState(group.Path(), string(state))

	var err error
	if state == StateFailed {
		err = pkgerrors.New("pipeline", group.Path(), errStateFailed)
	}
	telemetry.End(span, err)
}

var errStateFailed = errors.New("component run finished in FAILED state")

// loadOrCreate implements run_turn step 1.
func (p *Pipeline) loadOrCreate(ctx context.Context, dialogID string) (*dialogctx.Context, error) {
	if dialogID == "" {
		return dialogctx.Connected(ctx, p.store, p.subs, p.originInterface, p.startLabel, "")
	}

	dctx, err := dialogctx.Connected(ctx, p.store, p.subs, p.originInterface, p.startLabel, dialogID)
	if err == nil {
		return dctx, nil
	}
	if !errorIsNotFound(err) {
		return nil, err
	}
	return dialogctx.NewWithID(p.store, p.subs, p.originInterface, p.startLabel, dialogID), nil
}

func errorIsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
