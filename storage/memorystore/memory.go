// Package memorystore provides an in-process map-backed Storage
// implementation: is_concurrent=false, suitable for development, tests,
// and single-process deployments that serialise access themselves,
// mirroring the spec's "file-based" illustrative non-concurrent backend.
package memorystore

import (
	"context"
	"sort"
	"sync"

	"github.com/deeppavlov/dialgo-flow-framework/storage"
)

type fieldTable map[string]map[storage.FieldName]map[int64][]byte

// Store is an in-memory Storage backend. Safe for concurrent use across
// distinct ctx_ids; IsConcurrent reports false because it offers no
// multi-process guarantees, matching the spec's "non-concurrent backends
// (e.g. file-based) require the application to serialise externally".
type Store struct {
	mu     sync.Mutex
	main   map[string]storage.MainInfo
	fields fieldTable
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		main:   make(map[string]storage.MainInfo),
		fields: make(fieldTable),
	}
}

// IsConcurrent always returns false for this backend.
func (s *Store) IsConcurrent() bool { return false }

// LoadMainInfo returns the header row for ctxID.
func (s *Store) LoadMainInfo(_ context.Context, ctxID string) (storage.MainInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.main[ctxID]
	if !ok {
		return storage.MainInfo{}, storage.ErrNotFound
	}
	return info, nil
}

// UpdateMainInfo upserts the header row for ctxID.
func (s *Store) UpdateMainInfo(_ context.Context, ctxID string, info storage.MainInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.main[ctxID] = info
	return nil
}

// DeleteContext removes the header and every field row for ctxID.
func (s *Store) DeleteContext(_ context.Context, ctxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.main, ctxID)
	delete(s.fields, ctxID)
	return nil
}

// LoadFieldLatest returns every stored item for field, ordered by key
// descending; subscription filtering happens above this layer, in
// dialogctx.
func (s *Store) LoadFieldLatest(_ context.Context, ctxID string, field storage.FieldName) ([]storage.FieldItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sortedItems(ctxID, field), nil
}

// LoadFieldKeys returns every non-null key stored for field.
func (s *Store) LoadFieldKeys(_ context.Context, ctxID string, field storage.FieldName) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.sortedItems(ctxID, field)
	keys := make([]int64, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key)
	}
	return keys, nil
}

// LoadFieldItems materialises the given key window for field. Missing
// keys are silently omitted.
func (s *Store) LoadFieldItems(_ context.Context, ctxID string, field storage.FieldName, keys []int64) ([]storage.FieldItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey := s.fieldRow(ctxID, field)
	out := make([]storage.FieldItem, 0, len(keys))
	for _, k := range keys {
		if blob, ok := byKey[k]; ok {
			out = append(out, storage.FieldItem{Key: k, Bytes: blob, Present: true})
		}
	}
	return out, nil
}

// UpdateFieldItems upserts each item; Present=false deletes that key.
func (s *Store) UpdateFieldItems(_ context.Context, ctxID string, field storage.FieldName, items []storage.FieldItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.fieldRowForWrite(ctxID, field)
	for _, item := range items {
		if !item.Present {
			delete(row, item.Key)
			continue
		}
		row[item.Key] = item.Bytes
	}
	return nil
}

// ClearAll wipes every context. Test-only.
func (s *Store) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.main = make(map[string]storage.MainInfo)
	s.fields = make(fieldTable)
	return nil
}

func (s *Store) fieldRow(ctxID string, field storage.FieldName) map[int64][]byte {
	byField, ok := s.fields[ctxID]
	if !ok {
		return nil
	}
	return byField[field]
}

func (s *Store) fieldRowForWrite(ctxID string, field storage.FieldName) map[int64][]byte {
	byField, ok := s.fields[ctxID]
	if !ok {
		byField = make(map[storage.FieldName]map[int64][]byte)
		s.fields[ctxID] = byField
	}
	row, ok := byField[field]
	if !ok {
		row = make(map[int64][]byte)
		byField[field] = row
	}
	return row
}

func (s *Store) sortedItems(ctxID string, field storage.FieldName) []storage.FieldItem {
	row := s.fieldRow(ctxID, field)
	items := make([]storage.FieldItem, 0, len(row))
	for k, v := range row {
		items = append(items, storage.FieldItem{Key: k, Bytes: v, Present: true})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key > items[j].Key })
	return items
}
