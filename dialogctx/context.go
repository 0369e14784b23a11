package dialogctx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deeppavlov/dialgo-flow-framework/message"
	pkgerrors "github.com/deeppavlov/dialgo-flow-framework/pkg/errors"
	"github.com/deeppavlov/dialgo-flow-framework/script"
	"github.com/deeppavlov/dialgo-flow-framework/storage"
	"github.com/deeppavlov/dialgo-flow-framework/storage/codec"
)

// ErrContextEmpty is raised by LastLabel/LastRequest/LastResponse on a
// Context with no turns yet: a programmer error to surface to the caller,
// per the ContextError taxonomy entry.
var ErrContextEmpty = fmt.Errorf("dialogctx: context has no turns")

// FrameworkData is the ephemeral per-turn runtime state a Context carries.
// It is not required to round-trip through storage verbatim, but must
// survive for the duration of a turn; the pipeline clears ServiceStates at
// the start of every turn.
type FrameworkData struct {
	// ServiceStates maps a pipeline component's dotted path to its
	// execution state string for the current turn.
	ServiceStates map[string]string

	// CurrentNode is the actor's working copy of the inherited node for
	// the turn in progress. Mutable by processing steps without affecting
	// the script.
	CurrentNode *script.Node

	// Pipeline is an opaque back-reference to the owning pipeline, typed
	// as any to avoid an import cycle between dialogctx and pipeline.
	Pipeline any

	// SlotManager is opaque user-extensible state (slot-filling, etc.),
	// out of scope for this core per spec §1.
	SlotManager any

	// Stats carries opaque per-turn counters/timings for observability.
	Stats map[string]any
}

// Context aggregates one ongoing dialog's state: identity, turn counter,
// the three turn-indexed history dicts, misc, and framework data. See
// spec §3/§4.2.
type Context struct {
	mu sync.Mutex

	id              string
	currentTurnID   int64
	originInterface string
	createdAt       int64
	updatedAt       int64

	Labels    *ContextDict[message.NodeLabel]
	Requests  *ContextDict[message.Message]
	Responses *ContextDict[message.Message]

	Misc          map[string]any
	FrameworkData FrameworkData

	store storage.Storage
}

// ID returns the context's stable identifier.
func (c *Context) ID() string { return c.id }

// CurrentTurnID returns the monotonically non-decreasing turn counter.
func (c *Context) CurrentTurnID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTurnID
}

// ServiceState returns the last-recorded execution state for a pipeline
// component's dotted path, or ok == false if nothing has run under that
// path yet this turn. Safe to call from the multiple real goroutines a
// ServiceGroup's parallel subgroup runs concurrently.
func (c *Context) ServiceState(path string) (state string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok = c.FrameworkData.ServiceStates[path]
	return state, ok
}

// SetServiceState records the execution state for a pipeline component's
// dotted path. Safe to call from the multiple real goroutines a
// ServiceGroup's parallel subgroup runs concurrently: ServiceStates is a
// plain map, so every access to it must go through this method or
// ServiceState rather than touching FrameworkData.ServiceStates directly.
func (c *Context) SetServiceState(path, state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FrameworkData.ServiceStates == nil {
		c.FrameworkData.ServiceStates = make(map[string]string)
	}
	c.FrameworkData.ServiceStates[path] = state
}

// ResetServiceStates clears every recorded component state. Called once by
// the pipeline at the start of each turn, before any component runs.
func (c *Context) ResetServiceStates() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FrameworkData.ServiceStates = nil
}

// CreatedAt returns the creation timestamp (nanoseconds), set by storage.
func (c *Context) CreatedAt() int64 { return c.createdAt }

// UpdatedAt returns the last-persisted timestamp (nanoseconds).
func (c *Context) UpdatedAt() int64 { return c.updatedAt }

// OriginInterface returns the name of the messenger that created this
// dialog, as given when the Context was created. It is not persisted: a
// Context loaded from storage by Connected reports an empty string.
func (c *Context) OriginInterface() string { return c.originInterface }

func labelCodec() Codec[message.NodeLabel] {
	return Codec[message.NodeLabel]{
		Encode: func(v message.NodeLabel) ([]byte, error) { return codec.Encode(codec.TagLabel, v) },
		Decode: func(b []byte) (message.NodeLabel, error) {
			var v message.NodeLabel
			err := codec.Decode(b, codec.TagLabel, &v)
			return v, err
		},
	}
}

func messageCodec() Codec[message.Message] {
	return Codec[message.Message]{
		Encode: func(v message.Message) ([]byte, error) { return codec.Encode(codec.TagMessage, v) },
		Decode: func(b []byte) (message.Message, error) {
			var v message.Message
			err := codec.Decode(b, codec.TagMessage, &v)
			return v, err
		},
	}
}

// Connected either creates a fresh Context (id == "") seeded with turn 0 =
// startLabel, or loads an existing one's header and three history dicts
// in parallel. See spec §4.2.
//
// A non-empty id that storage has no record of is reported back as
// storage.ErrNotFound rather than silently turned into a fresh
// context here: only the pipeline's run_turn knows whether an unrecognized
// dialog_id is an invitation to start a new dialog under that id (the
// normal first-turn case) or a caller mistake worth surfacing. Use
// NewWithID to create a fresh context pinned to a specific id.
func Connected(ctx context.Context, store storage.Storage, subs storage.SubscriptionConfig, originInterface string, startLabel message.NodeLabel, id string) (*Context, error) {
	if id == "" {
		return newContext(store, subs, originInterface, startLabel, ""), nil
	}

	c := &Context{
		id:    id,
		store: store,
		Misc:  make(map[string]any),
	}
	c.Labels = NewContextDict(id, storage.FieldLabels, store, labelCodec(), subs.Labels)
	c.Requests = NewContextDict(id, storage.FieldRequests, store, messageCodec(), subs.Requests)
	c.Responses = NewContextDict(id, storage.FieldResponses, store, messageCodec(), subs.Responses)

	var (
		wg       sync.WaitGroup
		mainInfo storage.MainInfo
		errs     [4]error
	)
	wg.Add(4)
	go func() { defer wg.Done(); mainInfo, errs[0] = store.LoadMainInfo(ctx, id) }()
	go func() { defer wg.Done(); errs[1] = c.Labels.Connect(ctx) }()
	go func() { defer wg.Done(); errs[2] = c.Requests.Connect(ctx) }()
	go func() { defer wg.Done(); errs[3] = c.Responses.Connect(ctx) }()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			// A missing id surfaces here as storage.ErrNotFound, same as
			// any other storage failure: it's the pipeline's call whether
			// that means "start a new dialog under this id" or a genuine
			// caller error.
			return nil, err
		}
	}

	c.currentTurnID = mainInfo.CurrentTurnID
	c.createdAt = mainInfo.CreatedAt
	c.updatedAt = mainInfo.UpdatedAt
	if len(mainInfo.MiscBytes) > 0 {
		var misc map[string]any
		if err := codec.Decode(mainInfo.MiscBytes, codec.TagMisc, &misc); err != nil {
			return nil, storage.WrapError("dialogctx", "Connected", err)
		}
		c.Misc = misc
	}
	return c, nil
}

// NewWithID creates a fresh Context pinned to a caller-supplied id instead
// of a generated one. Used by the pipeline when a messenger-supplied
// dialog_id has no existing record in storage: the first turn of a new
// dialog under an id the caller already knows (e.g. a chat platform's own
// conversation id), rather than the package's own uuid.
func NewWithID(store storage.Storage, subs storage.SubscriptionConfig, originInterface string, startLabel message.NodeLabel, id string) *Context {
	return newContext(store, subs, originInterface, startLabel, id)
}

func newContext(store storage.Storage, subs storage.SubscriptionConfig, originInterface string, startLabel message.NodeLabel, id string) *Context {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UnixNano()

	c := &Context{
		id:              id,
		store:           store,
		originInterface: originInterface,
		createdAt:       now,
		updatedAt:       now,
		Misc:            make(map[string]any),
	}
	c.Labels = NewContextDict(id, storage.FieldLabels, store, labelCodec(), subs.Labels)
	c.Requests = NewContextDict(id, storage.FieldRequests, store, messageCodec(), subs.Requests)
	c.Responses = NewContextDict(id, storage.FieldResponses, store, messageCodec(), subs.Responses)
	c.Labels.Set(0, startLabel)
	return c
}

// Store updates UpdatedAt and persists the header plus all three history
// dicts.
func (c *Context) Store(ctx context.Context) error {
	c.mu.Lock()
	c.updatedAt = time.Now().UnixNano()
	miscBytes, err := codec.Encode(codec.TagMisc, c.Misc)
	if err != nil {
		c.mu.Unlock()
		return storage.WrapError("dialogctx", "Context.Store", err)
	}
	info := storage.MainInfo{
		CurrentTurnID: c.currentTurnID,
		CreatedAt:     c.createdAt,
		UpdatedAt:     c.updatedAt,
		MiscBytes:     miscBytes,
	}
	id, store := c.id, c.store
	c.mu.Unlock()

	var (
		wg   sync.WaitGroup
		errs [4]error
	)
	wg.Add(4)
	go func() { defer wg.Done(); errs[0] = store.UpdateMainInfo(ctx, id, info) }()
	go func() { defer wg.Done(); errs[1] = c.Labels.Store(ctx) }()
	go func() { defer wg.Done(); errs[2] = c.Requests.Store(ctx) }()
	go func() { defer wg.Done(); errs[3] = c.Responses.Store(ctx) }()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Delete removes every row for this context's id across all tables.
func (c *Context) Delete(ctx context.Context) error {
	c.mu.Lock()
	id, store := c.id, c.store
	c.mu.Unlock()

	if err := store.DeleteContext(ctx, id); err != nil {
		return storage.WrapError("dialogctx", "Context.Delete", err)
	}
	return nil
}

// AdvanceTurn increments current_turn_id, per actor step FINISH_TURN.
func (c *Context) AdvanceTurn() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTurnID++
	return c.currentTurnID
}

// LastLabel returns the label at the highest known turn-id, failing with
// ErrContextEmpty if none exists yet.
func (c *Context) LastLabel() (message.NodeLabel, error) {
	v, ok := c.Labels.PeekMax()
	if !ok {
		return message.NodeLabel{}, pkgerrors.New("dialogctx", "LastLabel", ErrContextEmpty)
	}
	return v, nil
}

// LastRequest returns the request at the highest known turn-id, failing
// with ErrContextEmpty if none exists yet.
func (c *Context) LastRequest() (message.Message, error) {
	v, ok := c.Requests.PeekMax()
	if !ok {
		return message.Message{}, pkgerrors.New("dialogctx", "LastRequest", ErrContextEmpty)
	}
	return v, nil
}

// LastResponse returns the response at the highest known turn-id, failing
// with ErrContextEmpty if none exists yet.
func (c *Context) LastResponse() (message.Message, error) {
	v, ok := c.Responses.PeekMax()
	if !ok {
		return message.Message{}, pkgerrors.New("dialogctx", "LastResponse", ErrContextEmpty)
	}
	return v, nil
}

// CurrentLabel implements script.ConditionContext: the label the actor is
// currently transitioning from, or the zero NodeLabel if none exists yet.
func (c *Context) CurrentLabel() script.NodeLabel {
	label, _ := c.LastLabel()
	return label
}

// Projection implements script.ConditionContext: a read-only snapshot of
// last request/response text, current label, and misc, for declarative
// condition evaluation (e.g. JMESPath).
func (c *Context) Projection() map[string]any {
	proj := map[string]any{
		"misc": c.Misc,
	}

	if label, ok := c.Labels.PeekMax(); ok {
		proj["label"] = map[string]any{"flow": label.Flow, "node": label.Node}
	}
	if req, ok := c.Requests.PeekMax(); ok {
		proj["request"] = map[string]any{"text": req.Text}
	}
	if resp, ok := c.Responses.PeekMax(); ok {
		proj["response"] = map[string]any{"text": resp.Text}
	}
	return proj
}
