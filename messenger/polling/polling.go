// Package polling is a reference implementation of the Polling messenger
// variant (spec §6): a loop that drains inbound turns from a channel,
// invokes the pipeline, and publishes the response, for transports that
// pull rather than get pushed to (stdin, a message queue consumer, a
// periodic fetch against a chat platform's API).
package polling

import (
	"context"

	"github.com/deeppavlov/dialgo-flow-framework/logger"
	"github.com/deeppavlov/dialgo-flow-framework/messenger"
)

// Messenger runs the pipeline against every Request received on In, and
// publishes each Response on Out (if non-nil) before continuing to the
// next request. There is no global cancellation token (spec §5): Run stops
// only when ctx is cancelled or In is closed.
type Messenger struct {
	Pipeline messenger.Pipeline
	In       <-chan messenger.Request
	Out      chan<- messenger.Response
}

// Run drains In until ctx is cancelled or In closes. It blocks; call it
// from its own goroutine to run the messenger alongside other work.
func (m *Messenger) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-m.In:
			if !ok {
				return
			}
			m.handle(ctx, req)
		}
	}
}

// handle runs one turn synchronously: the spec gives the Polling variant no
// concurrency obligation of its own (per-dialog serialisation is the
// pipeline's job), so requests are processed one at a time in arrival
// order, keeping Out deliveries in the same order as In.
func (m *Messenger) handle(ctx context.Context, req messenger.Request) {
	resp, err := m.Pipeline.RunTurn(ctx, req.Message, req.DialogID)
	if err != nil {
		logger.ErrorContext(ctx, "polling messenger: turn failed", "dialog_id", req.DialogID, "error", err)
	}
	if m.Out == nil {
		return
	}
	out := messenger.Response{DialogID: req.DialogID, Message: resp, Err: err}
	select {
	case m.Out <- out:
	case <-ctx.Done():
	}
}
