// Package actor implements the single-turn script-interpretation state
// machine: given a Context already holding the incoming request, it
// resolves the previous node, runs pre-transition processing, picks the
// next label, runs pre-response processing, produces a response, and
// commits the new turn. See spec §4.4.
package actor

import (
	"context"
	"sort"

	"github.com/deeppavlov/dialgo-flow-framework/dialogctx"
	"github.com/deeppavlov/dialgo-flow-framework/logger"
	"github.com/deeppavlov/dialgo-flow-framework/message"
	pkgerrors "github.com/deeppavlov/dialgo-flow-framework/pkg/errors"
	"github.com/deeppavlov/dialgo-flow-framework/script"
)

// Actor drives a Context through one turn of a Script.
type Actor struct {
	Script        *script.Script
	FallbackLabel message.NodeLabel
}

// New constructs an Actor bound to a script and its fallback label (the
// absolute label used when no transition's condition succeeds).
func New(s *script.Script, fallbackLabel message.NodeLabel) *Actor {
	return &Actor{Script: s, FallbackLabel: fallbackLabel}
}

// RunTurn executes one turn's worth of states against dctx. The pipeline
// is responsible for having already appended the incoming request at
// dctx.CurrentTurnID()+1 before calling this.
//
// A non-nil return means a structural failure (an inherited node could not
// be resolved — a misconfigured script) occurred before any new label or
// response was committed; the dialog remains at its previous turn-id, per
// spec's rollback invariant. Failures inside processing steps, condition
// evaluation, or response creation are logged and degrade gracefully; they
// never reach this return value.
func (a *Actor) RunTurn(ctx context.Context, dctx *dialogctx.Context) error {
	// 1. GET_PREVIOUS_NODE
	previous, err := dctx.LastLabel()
	if err != nil {
		return pkgerrors.New("actor", "GetPreviousNode", err)
	}
	node, err := a.Script.GetInheritedNode(previous)
	if err != nil {
		return pkgerrors.New("actor", "GetPreviousNode", err)
	}
	dctx.FrameworkData.CurrentNode = node

	// 2. REWRITE_PREVIOUS_NODE — re-resolve so a change to global/local
	// layers since step 1 takes effect before transitions are evaluated.
	node, err = a.Script.GetInheritedNode(previous)
	if err != nil {
		return pkgerrors.New("actor", "RewritePreviousNode", err)
	}
	dctx.FrameworkData.CurrentNode = node

	// 3. RUN_PRE_TRANSITIONS_PROCESSING
	runProcessing(ctx, dctx, node.PreTransition, "RunPreTransitionsProcessing")

	// 4. GET_TRUE_LABEL
	nextLabel := a.getTrueLabel(ctx, dctx, previous, node)

	// 5. GET_NEXT_NODE
	nextNode, err := a.Script.GetInheritedNode(nextLabel)
	if err != nil {
		return pkgerrors.New("actor", "GetNextNode", err)
	}
	dctx.FrameworkData.CurrentNode = nextNode
	newTurnID := dctx.CurrentTurnID() + 1
	dctx.Labels.Set(newTurnID, nextLabel)

	// 6. RUN_PRE_RESPONSE_PROCESSING
	runProcessing(ctx, dctx, nextNode.PreResponse, "RunPreResponseProcessing")

	// 7. CREATE_RESPONSE
	resp, err := nextNode.Response.Resolve(dctx)
	if err != nil {
		logger.ErrorContext(ctx, "actor: response creation failed, using empty response",
			"label", nextLabel.String(), "error", err)
		resp = message.Message{}
	}

	// 8. FINISH_TURN
	dctx.AdvanceTurn()
	dctx.Responses.Set(newTurnID, resp)

	return nil
}

func runProcessing(ctx context.Context, dctx *dialogctx.Context, steps []script.NamedProcessing, op string) {
	for _, step := range steps {
		if step.Func == nil {
			continue
		}
		if err := step.Func(dctx); err != nil {
			logger.ErrorContext(ctx, "actor: processing step failed, skipping",
				"op", op, "step", step.Name, "error", err)
		}
	}
}

type candidate struct {
	priority float64
	label    message.NodeLabel
}

// getTrueLabel implements step 4: evaluate every transition candidate in
// declaration order, pick the highest-priority true one, ties broken by
// declaration order, falling back to FallbackLabel if none succeed.
func (a *Actor) getTrueLabel(ctx context.Context, dctx *dialogctx.Context, previous message.NodeLabel, node *script.Node) message.NodeLabel {
	var candidates []candidate

	for _, t := range node.Transitions {
		ok, err := t.Condition.Evaluate(dctx)
		if err != nil {
			logger.ErrorContext(ctx, "actor: condition evaluation failed, treating as false", "error", err)
			continue
		}
		if !ok {
			continue
		}

		dest, err := t.Destination.Resolve(dctx)
		if err != nil {
			logger.ErrorContext(ctx, "actor: destination resolution failed, skipping transition", "error", err)
			continue
		}

		candidates = append(candidates, candidate{
			priority: t.Priority,
			label:    resolveAbsolute(dest, previous),
		})
	}

	if len(candidates) == 0 {
		return a.FallbackLabel
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].priority > candidates[j].priority })
	return candidates[0].label
}

// resolveAbsolute fills in a relative label's missing components from the
// current label, per spec §3: "Relative labels ... are resolved against
// the current label before being stored."
func resolveAbsolute(dest, current message.NodeLabel) message.NodeLabel {
	flow := dest.Flow
	if flow == "" {
		flow = current.Flow
	}
	node := dest.Node
	if node == "" {
		node = current.Node
	}
	return message.NodeLabel{Flow: flow, Node: node}
}
