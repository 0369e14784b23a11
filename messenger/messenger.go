// Package messenger defines the transport-agnostic contract between a
// messenger interface and the dialog runtime (spec §6's "Messenger
// interface contract"), plus two reference implementations: a polling
// messenger that drains a channel of inbound turns, and a callback
// messenger for transports that hand the runtime a request and want the
// persisted Context back. The runtime itself never depends on a specific
// transport; messengers depend only on Pipeline.
package messenger

import (
	"context"

	"github.com/deeppavlov/dialgo-flow-framework/message"
)

// Pipeline is the subset of *pipeline.Pipeline a messenger needs. Declaring
// it here (rather than importing the pipeline package directly) keeps
// messenger implementations testable against a fake and avoids coupling
// this package to the pipeline's full surface, the same decoupling the
// script package uses for ConditionContext.
type Pipeline interface {
	RunTurn(ctx context.Context, request message.Message, dialogID string) (message.Message, error)
}

// Request is one inbound turn: the raw message and the dialog it belongs
// to. An empty DialogID asks the pipeline to start a brand-new dialog.
type Request struct {
	Message  message.Message
	DialogID string
}

// Response is the pipeline's reply to a Request, or the error that
// prevented one.
type Response struct {
	DialogID string
	Message  message.Message
	Err      error
}
