package script_test

import (
	"testing"

	"github.com/deeppavlov/dialgo-flow-framework/message"
	"github.com/deeppavlov/dialgo-flow-framework/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCtx struct {
	label      message.NodeLabel
	projection map[string]any
}

func (f fakeCtx) CurrentLabel() message.NodeLabel { return f.label }
func (f fakeCtx) Projection() map[string]any      { return f.projection }

func trueStatic(b bool) script.Condition {
	return script.Condition{Static: &b}
}

func TestScript_Validate_RequiresFlowsAndNodes(t *testing.T) {
	_, err := script.New(script.Node{}, map[string]*script.Flow{})
	require.Error(t, err)

	_, err = script.New(script.Node{}, map[string]*script.Flow{
		"flow": {Nodes: map[string]*script.Node{}},
	})
	require.Error(t, err)

	_, err = script.New(script.Node{}, map[string]*script.Flow{
		"flow": {Nodes: map[string]*script.Node{"start": {}}},
	})
	require.NoError(t, err)
}

func buildTestScript(t *testing.T) *script.Script {
	t.Helper()
	greet := message.Message{Text: "hello"}
	s, err := script.New(
		script.Node{Misc: map[string]any{"scope": "global"}},
		map[string]*script.Flow{
			"flow": {
				LocalNode: script.Node{Misc: map[string]any{"local": true}},
				Nodes: map[string]*script.Node{
					"start": {
						Transitions: []script.Transition{
							{
								Destination: script.Destination{Static: &message.NodeLabel{Flow: "flow", Node: "greet"}},
								Condition:   trueStatic(true),
								Priority:    1.0,
							},
						},
					},
					"greet": {
						Response: script.Response{Static: &greet},
						Transitions: []script.Transition{
							{
								Destination: script.Destination{Static: &message.NodeLabel{Flow: "flow", Node: "start"}},
								Condition:   trueStatic(true),
								Priority:    1.0,
							},
						},
					},
				},
			},
		},
	)
	require.NoError(t, err)
	return s
}

func TestScript_GetInheritedNode_MergesLayers(t *testing.T) {
	s := buildTestScript(t)

	node, err := s.GetInheritedNode(message.NodeLabel{Flow: "flow", Node: "start"})
	require.NoError(t, err)

	assert.Equal(t, "global", node.Misc["scope"])
	assert.Equal(t, true, node.Misc["local"])
	require.Len(t, node.Transitions, 1)
}

func TestScript_GetInheritedNode_NodeResponseWinsOutright(t *testing.T) {
	s := buildTestScript(t)

	node, err := s.GetInheritedNode(message.NodeLabel{Flow: "flow", Node: "greet"})
	require.NoError(t, err)

	resp, err := node.Response.Resolve(fakeCtx{})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
}

func TestScript_GetInheritedNode_UnknownLabel(t *testing.T) {
	s := buildTestScript(t)
	_, err := s.GetInheritedNode(message.NodeLabel{Flow: "flow", Node: "missing"})
	require.Error(t, err)

	_, err = s.GetInheritedNode(message.NodeLabel{Flow: "missing", Node: "start"})
	require.Error(t, err)
}

func TestCondition_Evaluate_Static(t *testing.T) {
	ok, err := trueStatic(true).Evaluate(fakeCtx{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCondition_Evaluate_Func(t *testing.T) {
	cond := script.Condition{Func: func(ctx script.ConditionContext) bool {
		return ctx.Projection()["flag"] == true
	}}
	ok, err := cond.Evaluate(fakeCtx{projection: map[string]any{"flag": true}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCondition_Evaluate_JMESPath(t *testing.T) {
	cond := script.Condition{JMESPath: "request.text == 'hi'"}
	ok, err := cond.Evaluate(fakeCtx{projection: map[string]any{
		"request": map[string]any{"text": "hi"},
	}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cond.Evaluate(fakeCtx{projection: map[string]any{
		"request": map[string]any{"text": "bye"},
	}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCondition_Evaluate_DefaultIsTrue(t *testing.T) {
	ok, err := (script.Condition{}).Evaluate(fakeCtx{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDestination_Resolve(t *testing.T) {
	label := message.NodeLabel{Flow: "a", Node: "b"}
	dest := script.Destination{Static: &label}
	got, err := dest.Resolve(fakeCtx{})
	require.NoError(t, err)
	assert.Equal(t, label, got)
}

func TestDestination_Resolve_Unset(t *testing.T) {
	_, err := (script.Destination{}).Resolve(fakeCtx{})
	require.Error(t, err)
}
