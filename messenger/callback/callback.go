// Package callback is a reference implementation of the Callback messenger
// variant (spec §6): it exposes OnRequest to the owning transport and
// guarantees the returned Context reflects what the pipeline just
// persisted, for transports that push a request and want the resulting
// Context back synchronously (an HTTP webhook handler, an RPC endpoint).
package callback

import (
	"context"

	"github.com/google/uuid"

	"github.com/deeppavlov/dialgo-flow-framework/dialogctx"
	"github.com/deeppavlov/dialgo-flow-framework/message"
	"github.com/deeppavlov/dialgo-flow-framework/messenger"
	"github.com/deeppavlov/dialgo-flow-framework/storage"
)

// Messenger runs one turn per OnRequest call and reloads the just-persisted
// Context from storage before returning it, so the caller never sees a
// Context that predates the turn it asked for.
type Messenger struct {
	Pipeline messenger.Pipeline
	Store    storage.Storage
	Subs     storage.SubscriptionConfig
}

// OnRequest runs raw through the pipeline under dialogID and returns the
// persisted Context afterward. A response error from the pipeline is
// returned alongside whatever Context could still be reloaded, since a
// turn that fails partway still persists what ran before the failure.
//
// An empty dialogID is resolved to a fresh id here, before the pipeline
// ever sees it: RunTurn's return value carries only the response Message,
// so a generated id has to be pinned by the caller up front for OnRequest
// to know which Context to reload afterward.
func (m *Messenger) OnRequest(ctx context.Context, raw message.Message, dialogID string) (*dialogctx.Context, error) {
	if dialogID == "" {
		dialogID = uuid.NewString()
	}

	_, runErr := m.Pipeline.RunTurn(ctx, raw, dialogID)

	dctx, loadErr := dialogctx.Connected(ctx, m.Store, m.Subs, "", message.NodeLabel{}, dialogID)
	if loadErr != nil {
		if runErr != nil {
			return nil, runErr
		}
		return nil, loadErr
	}
	return dctx, runErr
}
