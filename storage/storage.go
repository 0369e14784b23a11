// Package storage defines the backend-agnostic persistence contract the
// dialog runtime's Context Dict flushes against: an opaque per-context
// header plus three turn-indexed byte-blob fields (labels, requests,
// responses). Concrete backends (storage/memorystore, storage/redisstore)
// implement Storage; callers never depend on a specific backend.
package storage

import (
	"context"
	"fmt"

	pkgerrors "github.com/deeppavlov/dialgo-flow-framework/pkg/errors"
)

// FieldName identifies one of the three turn-indexed history fields a
// Context maintains.
type FieldName string

// The three turn-indexed fields a Context Dict can be opened against.
const (
	FieldLabels    FieldName = "labels"
	FieldRequests  FieldName = "requests"
	FieldResponses FieldName = "responses"
)

// ErrNotFound is returned by LoadMainInfo when ctx_id has no header row.
var ErrNotFound = fmt.Errorf("context not found")

// MainInfo is the per-context header row: the "main" table in the
// persisted layout (spec's "Persisted layout (logical)").
type MainInfo struct {
	CurrentTurnID      int64
	CreatedAt          int64
	UpdatedAt          int64
	MiscBytes          []byte
	FrameworkDataBytes []byte
}

// FieldItem is one (turn-key, encoded-value) row of a turns table. A nil
// Bytes with Present=false represents "no value at this turn for this
// field" (a legitimately absent key, not an error); Present=true with nil
// Bytes is not a valid combination produced by a reader. Passed with
// Present=false to UpdateFieldItems, it requests deletion of that key.
type FieldItem struct {
	Key     int64
	Bytes   []byte
	Present bool
}

// Storage is the persistence contract every backend implements. All
// methods take a context.Context as the first argument for cancellation
// and tracing propagation, matching the teacher's store interfaces.
type Storage interface {
	// IsConcurrent reports whether this backend safely supports multiple
	// concurrent mutators against the same ctx_id. If false, the pipeline
	// is responsible for serialising all access to a given ctx_id itself.
	IsConcurrent() bool

	// LoadMainInfo returns the header row for ctx_id, or ErrNotFound if
	// none exists.
	LoadMainInfo(ctx context.Context, ctxID string) (MainInfo, error)

	// UpdateMainInfo upserts the header row for ctx_id.
	UpdateMainInfo(ctx context.Context, ctxID string, info MainInfo) error

	// DeleteContext removes the header and every field row for ctx_id.
	DeleteContext(ctx context.Context, ctxID string) error

	// LoadFieldLatest returns every stored item for field, ordered by key
	// descending. Backends do not apply a Subscription; the Context Dict
	// filters the result with its own Subscription when it connects.
	LoadFieldLatest(ctx context.Context, ctxID string, field FieldName) ([]FieldItem, error)

	// LoadFieldKeys returns every non-null key stored for field.
	LoadFieldKeys(ctx context.Context, ctxID string, field FieldName) ([]int64, error)

	// LoadFieldItems materialises an arbitrary key window for field.
	// Keys absent from storage are omitted from the result, not erred.
	LoadFieldItems(ctx context.Context, ctxID string, field FieldName, keys []int64) ([]FieldItem, error)

	// UpdateFieldItems upserts each item; an item with Present=false
	// deletes that key.
	UpdateFieldItems(ctx context.Context, ctxID string, field FieldName, items []FieldItem) error

	// ClearAll wipes every context. Test-only.
	ClearAll(ctx context.Context) error
}

// WrapError wraps a backend-specific error as a StorageError-flavored
// ContextualError, per the error taxonomy's "StorageError" kind.
func WrapError(component, operation string, cause error) error {
	if cause == nil {
		return nil
	}
	return pkgerrors.New(component, operation, cause)
}
