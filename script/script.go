// Package script defines the static dialog graph: a Script is a mapping of
// Flow name to Flow, each Flow holding Nodes, and each Node carrying ordered
// transitions, a response, and pre-transition/pre-response processing steps.
//
// Nodes expose three lookup levels — node, flow-local, script-global — which
// the actor composes into a fresh "inherited node" once per turn (see
// GetInheritedNode). Cyclic transitions between nodes are expected and
// harmless: the actor advances at most one node per turn and never recurses
// through the graph itself.
package script

import (
	"fmt"
	"sort"

	"github.com/deeppavlov/dialgo-flow-framework/message"
	pkgerrors "github.com/deeppavlov/dialgo-flow-framework/pkg/errors"
)

// ConditionContext is the minimal read-only view of a dialog context that
// Condition, Destination, Response, and Processing callables need. It is
// satisfied (structurally) by dialogctx.Context; this package never imports
// dialogctx, breaking what would otherwise be an import cycle between the
// static script graph and the runtime context.
type ConditionContext interface {
	// CurrentLabel returns the label the actor is currently transitioning
	// from (i.e. the last committed label).
	CurrentLabel() NodeLabel

	// Projection returns a plain map snapshot of the context (last request
	// text, last response text, current label, misc) suitable for
	// declarative expression evaluation (e.g. JMESPath conditions).
	Projection() map[string]any
}

// NodeLabel is an alias of message.NodeLabel so script graphs can be
// expressed purely in terms of this package.
type NodeLabel = message.NodeLabel

// MessageValue is an alias of message.Message, the type a Response resolves to.
type MessageValue = message.Message

// Condition is a guard evaluated before a transition is taken. Exactly one
// of its fields should be set by construction; Evaluate treats an entirely
// zero Condition as always-true (the spec's default transition).
type Condition struct {
	// Static, if non-nil, is returned unconditionally.
	Static *bool

	// Func, if non-nil, is called with the current context.
	Func func(ctx ConditionContext) bool

	// JMESPath, if non-empty, is evaluated against ctx.Projection() and
	// coerced to bool (non-nil, non-false, non-zero, non-empty result).
	JMESPath string
}

// AlwaysTrue is a Condition that always succeeds, used as the default for
// transitions that don't declare one.
func AlwaysTrue() Condition {
	t := true
	return Condition{Static: &t}
}

// Evaluate resolves the condition to a boolean. Failures in Func or JMESPath
// evaluation are the caller's responsibility to catch (per spec §4.4/§7,
// ConditionFailure degrades to false and is logged by the actor, not here).
func (c Condition) Evaluate(ctx ConditionContext) (bool, error) {
	switch {
	case c.Static != nil:
		return *c.Static, nil
	case c.Func != nil:
		return c.Func(ctx), nil
	case c.JMESPath != "":
		return evaluateJMESPath(c.JMESPath, ctx)
	default:
		return true, nil
	}
}

// Destination resolves a transition target: either a fixed label or a
// callable that computes one from the context.
type Destination struct {
	Static *NodeLabel
	Func   func(ctx ConditionContext) (NodeLabel, error)
}

// Resolve computes the destination label. Relative labels (Flow or Node
// empty) are left for the caller to make absolute against the current
// label, per spec §3 ("Relative labels ... are resolved against the current
// label before being stored").
func (d Destination) Resolve(ctx ConditionContext) (NodeLabel, error) {
	if d.Static != nil {
		return *d.Static, nil
	}
	if d.Func != nil {
		return d.Func(ctx)
	}
	return NodeLabel{}, fmt.Errorf("transition destination is unset")
}

// Transition is an ordered candidate for the actor's next label: a
// destination, a guard condition, and a priority used to break ties between
// simultaneously-true candidates (higher wins; equal priority falls back to
// declaration order).
type Transition struct {
	Destination Destination
	Condition   Condition
	Priority    float64
}

// DefaultPriority is used when a Transition's Priority is left at the zero
// value by a script author who didn't think about priority.
const DefaultPriority = 1.0

// Response produces the Message sent back for a turn: either a fixed
// Message or a callable that computes one from the context.
type Response struct {
	Static *MessageValue
	Func   func(ctx ConditionContext) (MessageValue, error)
}

// IsSet reports whether a Response has been assigned a static value or a callable.
func (r Response) IsSet() bool {
	return r.Static != nil || r.Func != nil
}

// Resolve computes the response message.
func (r Response) Resolve(ctx ConditionContext) (MessageValue, error) {
	if r.Static != nil {
		return *r.Static, nil
	}
	if r.Func != nil {
		return r.Func(ctx)
	}
	return MessageValue{}, nil
}

// NamedProcessing is one named step in a Node's pre_transition or
// pre_response pipeline. Names let global/local/node compositions override
// an earlier-declared step of the same name (last write wins) while
// concatenating the rest.
type NamedProcessing struct {
	Name string
	Func func(ctx ConditionContext) error
}

// Node is a single state in the script graph.
type Node struct {
	Transitions   []Transition
	Response      Response
	PreTransition []NamedProcessing
	PreResponse   []NamedProcessing
	Misc          map[string]any
}

// Flow is a namespace of Nodes sharing a LocalNode (the flow-level
// inheritance layer).
type Flow struct {
	LocalNode Node
	Nodes     map[string]*Node
}

// Script is the complete static dialog graph: a GlobalNode shared by every
// flow, and a mapping of flow name to Flow.
type Script struct {
	GlobalNode Node
	Flows      map[string]*Flow
}

// New constructs a Script, running the structural validation every
// construction path (YAML, JSON, programmatic) must go through.
func New(globalNode Node, flows map[string]*Flow) (*Script, error) {
	s := &Script{GlobalNode: globalNode, Flows: flows}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate performs the structural checks spec.md §7 assigns to
// ValidationError: non-empty flow/node names, at least one node per flow.
// Validation is fatal at startup, never during a turn.
func (s *Script) Validate() error {
	if len(s.Flows) == 0 {
		return pkgerrors.New("script", "Validate", fmt.Errorf("script must declare at least one flow"))
	}
	flowNames := make([]string, 0, len(s.Flows))
	for name := range s.Flows {
		flowNames = append(flowNames, name)
	}
	sort.Strings(flowNames)
	for _, name := range flowNames {
		if name == "" {
			return pkgerrors.New("script", "Validate", fmt.Errorf("flow name cannot be blank"))
		}
		flow := s.Flows[name]
		if len(flow.Nodes) == 0 {
			return pkgerrors.New("script", "Validate", fmt.Errorf("flow %q must declare at least one node", name))
		}
		for nodeName := range flow.Nodes {
			if nodeName == "" {
				return pkgerrors.New("script", "Validate", fmt.Errorf("flow %q: node name cannot be blank", name))
			}
		}
	}
	return nil
}

// Node looks up a single node by absolute label without applying
// inheritance, returning ok=false if the flow or node doesn't exist.
func (s *Script) Node(label NodeLabel) (*Node, bool) {
	flow, ok := s.Flows[label.Flow]
	if !ok {
		return nil, false
	}
	node, ok := flow.Nodes[label.Node]
	return node, ok
}

// GetInheritedNode composes the node seen at runtime: global < local < node,
// for Misc, PreTransition, PreResponse, and Transitions (later entries with
// the same processing-step name override earlier ones; transitions and misc
// simply concatenate/merge). The node's own Response wins outright over
// flow-local or global responses. The result is a fresh value: processing
// steps may mutate their copy of it (via framework_data.current_node) without
// affecting the script.
func (s *Script) GetInheritedNode(label NodeLabel) (*Node, error) {
	flow, ok := s.Flows[label.Flow]
	if !ok {
		return nil, pkgerrors.New("script", "GetInheritedNode", fmt.Errorf("flow %q not found", label.Flow))
	}
	node, ok := flow.Nodes[label.Node]
	if !ok {
		return nil, pkgerrors.New("script", "GetInheritedNode", fmt.Errorf("node %q not found in flow %q", label.Node, label.Flow))
	}

	inherited := &Node{
		Misc:          mergeMisc(s.GlobalNode.Misc, flow.LocalNode.Misc, node.Misc),
		PreTransition: mergeNamedProcessing(s.GlobalNode.PreTransition, flow.LocalNode.PreTransition, node.PreTransition),
		PreResponse:   mergeNamedProcessing(s.GlobalNode.PreResponse, flow.LocalNode.PreResponse, node.PreResponse),
		Transitions:   concatTransitions(s.GlobalNode.Transitions, flow.LocalNode.Transitions, node.Transitions),
		Response:      resolveResponse(s.GlobalNode.Response, flow.LocalNode.Response, node.Response),
	}
	return inherited, nil
}

func resolveResponse(global, local, node Response) Response {
	if node.IsSet() {
		return node
	}
	if local.IsSet() {
		return local
	}
	return global
}

func mergeMisc(layers ...map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}

func mergeNamedProcessing(layers ...[]NamedProcessing) []NamedProcessing {
	order := make([]string, 0)
	byName := make(map[string]NamedProcessing)
	for _, layer := range layers {
		for _, step := range layer {
			if _, exists := byName[step.Name]; !exists {
				order = append(order, step.Name)
			}
			byName[step.Name] = step
		}
	}
	result := make([]NamedProcessing, 0, len(order))
	for _, name := range order {
		result = append(result, byName[name])
	}
	return result
}

func concatTransitions(layers ...[]Transition) []Transition {
	var result []Transition
	for _, layer := range layers {
		result = append(result, layer...)
	}
	return result
}
