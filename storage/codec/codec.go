// Package codec implements the self-describing tagged byte-blob form the
// Context uses by default to encode Context Dict values before handing them
// to a storage backend: a single
// type-tag byte followed by a JSON payload. The tag lets a reader detect a
// mismatched or stale value shape before attempting to decode it, without
// requiring every backend to carry its own schema.
package codec

import (
	"encoding/json"
	"fmt"
)

// Tag identifies the logical type a blob encodes.
type Tag byte

// Supported tags, one per field kind the runtime persists.
const (
	TagLabel         Tag = 1
	TagMessage       Tag = 2
	TagMisc          Tag = 3
	TagFrameworkData Tag = 4
)

// Encode prepends tag to the JSON encoding of v.
func Encode(tag Tag, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encode tag %d: %w", tag, err)
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, byte(tag))
	out = append(out, payload...)
	return out, nil
}

// Decode reads the tag byte off data, verifies it matches want, and
// json-unmarshals the remainder into out.
func Decode(data []byte, want Tag, out any) error {
	if len(data) == 0 {
		return fmt.Errorf("codec: empty blob")
	}
	got := Tag(data[0])
	if got != want {
		return fmt.Errorf("codec: tag mismatch: want %d, got %d", want, got)
	}
	if err := json.Unmarshal(data[1:], out); err != nil {
		return fmt.Errorf("codec: decode tag %d: %w", want, err)
	}
	return nil
}

// PeekTag reads the leading tag byte without decoding the payload.
func PeekTag(data []byte) (Tag, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("codec: empty blob")
	}
	return Tag(data[0]), nil
}
