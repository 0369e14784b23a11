package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeppavlov/dialgo-flow-framework/config"
	"github.com/deeppavlov/dialgo-flow-framework/message"
)

const validScript = `
flows:
  greeting:
    nodes:
      start:
        transitions:
          - destination: {flow: greeting, node: hello}
            condition: {static: true}
      hello:
        response:
          text: "hi there"
`

func TestLoad_DecodesValidDocument(t *testing.T) {
	s, err := config.Load([]byte(validScript), config.LoadOptions{})
	require.NoError(t, err)

	node, ok := s.Node(message.NodeLabel{Flow: "greeting", Node: "hello"})
	require.True(t, ok)
	assert.True(t, node.Response.IsSet())
}

func TestLoad_RejectsEmptyDocument(t *testing.T) {
	_, err := config.Load([]byte("flows: {}"), config.LoadOptions{})
	require.Error(t, err)
}

func TestLoad_RejectsIncompatibleMajorVersion(t *testing.T) {
	doc := "version: \"2.0.0\"\n" + validScript
	_, err := config.Load([]byte(doc), config.LoadOptions{})
	require.Error(t, err)
}

func TestLoad_AcceptsCompatibleVersionUnderConstraint(t *testing.T) {
	doc := "version: \"1.2.0\"\n" + validScript
	_, err := config.Load([]byte(doc), config.LoadOptions{AcceptedVersions: "^1.0.0"})
	require.NoError(t, err)
}

func TestLoad_RejectsVersionOutsideExplicitConstraint(t *testing.T) {
	doc := "version: \"1.2.0\"\n" + validScript
	_, err := config.Load([]byte(doc), config.LoadOptions{AcceptedVersions: "^2.0.0"})
	require.Error(t, err)
}

func TestCompileSchema_RejectsDocumentMissingRequiredField(t *testing.T) {
	schema, err := config.CompileSchema([]byte(`{
		"type": "object",
		"required": ["flows"],
		"properties": {"flows": {"type": "object"}}
	}`))
	require.NoError(t, err)

	_, err = config.Load([]byte("global_node: {}\n"), config.LoadOptions{Schema: schema})
	require.Error(t, err)
}

func TestCompileSchema_AcceptsConformingDocument(t *testing.T) {
	schema, err := config.CompileSchema([]byte(`{
		"type": "object",
		"required": ["flows"],
		"properties": {"flows": {"type": "object"}}
	}`))
	require.NoError(t, err)

	_, err = config.Load([]byte(validScript), config.LoadOptions{Schema: schema})
	require.NoError(t, err)
}
