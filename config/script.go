// Package config loads a Script from a YAML (or JSON) document: decoding,
// optional JSON Schema structural validation, and optional semantic-version
// compatibility checking, so malformed or incompatible scripts are caught at
// startup rather than mid-turn. See the teacher's pkg/config loader, which
// does the same three-step load for PromptPacks.
package config

import (
	"github.com/deeppavlov/dialgo-flow-framework/message"
	"github.com/deeppavlov/dialgo-flow-framework/script"
)

// EngineVersion is the runtime's own semantic version, compared against a
// loaded script's optional "version" field to reject scripts authored for
// an incompatible major version.
const EngineVersion = "1.0.0"

// yamlNodeLabel mirrors message.NodeLabel in a YAML-friendly shape.
type yamlNodeLabel struct {
	Flow string `yaml:"flow" json:"flow"`
	Node string `yaml:"node" json:"node"`
}

// yamlCondition is the YAML-expressible subset of script.Condition: a
// document can only declare a static boolean or a JMESPath expression,
// never a Go callable.
type yamlCondition struct {
	Static   *bool  `yaml:"static,omitempty" json:"static,omitempty"`
	JMESPath string `yaml:"jmespath,omitempty" json:"jmespath,omitempty"`
}

func (c yamlCondition) toScript() script.Condition {
	return script.Condition{Static: c.Static, JMESPath: c.JMESPath}
}

type yamlTransition struct {
	Destination yamlNodeLabel `yaml:"destination" json:"destination"`
	Condition   yamlCondition `yaml:"condition,omitempty" json:"condition,omitempty"`
	Priority    float64       `yaml:"priority,omitempty" json:"priority,omitempty"`
}

func (t yamlTransition) toScript() script.Transition {
	dest := message.NodeLabel{Flow: t.Destination.Flow, Node: t.Destination.Node}
	priority := t.Priority
	if priority == 0 {
		priority = script.DefaultPriority
	}
	return script.Transition{
		Destination: script.Destination{Static: &dest},
		Condition:   t.Condition.toScript(),
		Priority:    priority,
	}
}

type yamlResponse struct {
	Text string `yaml:"text,omitempty" json:"text,omitempty"`
}

func (r yamlResponse) toScript() script.Response {
	if r.Text == "" {
		return script.Response{}
	}
	msg := message.Message{Text: r.Text}
	return script.Response{Static: &msg}
}

type yamlNode struct {
	Transitions []yamlTransition `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	Response    yamlResponse     `yaml:"response,omitempty" json:"response,omitempty"`
	Misc        map[string]any   `yaml:"misc,omitempty" json:"misc,omitempty"`
}

func (n yamlNode) toScript() script.Node {
	out := script.Node{Response: n.Response.toScript(), Misc: n.Misc}
	for _, t := range n.Transitions {
		out.Transitions = append(out.Transitions, t.toScript())
	}
	return out
}

type yamlFlow struct {
	LocalNode yamlNode             `yaml:"local_node,omitempty" json:"local_node,omitempty"`
	Nodes     map[string]*yamlNode `yaml:"nodes" json:"nodes"`
}

// yamlScript is the top-level document shape decoded from a Script file.
type yamlScript struct {
	// Version, if set, is checked for engine compatibility before the
	// document is otherwise interpreted.
	Version    string               `yaml:"version,omitempty" json:"version,omitempty"`
	GlobalNode yamlNode             `yaml:"global_node,omitempty" json:"global_node,omitempty"`
	Flows      map[string]*yamlFlow `yaml:"flows" json:"flows"`
}
