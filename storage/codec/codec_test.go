package codec_test

import (
	"testing"

	"github.com/deeppavlov/dialgo-flow-framework/storage/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Flow string `json:"flow"`
	Node string `json:"node"`
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	in := sample{Flow: "greeting", Node: "start"}
	data, err := codec.Encode(codec.TagLabel, in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, codec.Decode(data, codec.TagLabel, &out))
	assert.Equal(t, in, out)
}

func TestDecode_TagMismatch(t *testing.T) {
	data, err := codec.Encode(codec.TagLabel, sample{Flow: "a", Node: "b"})
	require.NoError(t, err)

	var out sample
	err = codec.Decode(data, codec.TagMessage, &out)
	assert.Error(t, err)
}

func TestDecode_EmptyBlob(t *testing.T) {
	var out sample
	assert.Error(t, codec.Decode(nil, codec.TagLabel, &out))
}

func TestPeekTag(t *testing.T) {
	data, err := codec.Encode(codec.TagMisc, map[string]any{"k": "v"})
	require.NoError(t, err)

	tag, err := codec.PeekTag(data)
	require.NoError(t, err)
	assert.Equal(t, codec.TagMisc, tag)
}
