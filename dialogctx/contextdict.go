// Package dialogctx implements the Context Dict and Context layers: a
// lazy, partially-materialised view over a dialog's turn-indexed history
// fields, and the Context that aggregates the three history dicts plus
// misc/framework data for one dialog.
package dialogctx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/deeppavlov/dialgo-flow-framework/storage"
)

// ErrUnknownKey is returned by Get when a requested key is neither
// materialised nor present in storage (Slice skips such keys instead). Per spec: "Reads for unknown keys
// fail."
var ErrUnknownKey = fmt.Errorf("dialogctx: unknown key")

// Codec is the pair of encode/decode functions a ContextDict uses to turn
// its value type into the opaque byte blobs Storage persists.
type Codec[T any] struct {
	Encode func(T) ([]byte, error)
	Decode func([]byte) (T, error)
}

// ContextDict is a lazy, partially-materialised map from turn-id to a
// single field's value, backed by a Storage field row. See spec §4.1.
type ContextDict[T any] struct {
	mu sync.Mutex

	ctxID string
	field storage.FieldName
	store storage.Storage
	codec Codec[T]
	sub   storage.Subscription

	rewriteExisting bool

	items      map[int64]T
	hashes     map[int64]string
	keys       map[int64]struct{}
	keysLoaded bool
	added      map[int64]struct{}
	removed    map[int64]struct{}
}

// NewContextDict constructs an empty, unconnected ContextDict. Connect
// must be called before use unless the dict is being built fresh (e.g.
// turn 0 of a brand new Context), in which case Set may be called
// directly.
func NewContextDict[T any](ctxID string, field storage.FieldName, store storage.Storage, codec Codec[T], sub storage.Subscription) *ContextDict[T] {
	return &ContextDict[T]{
		ctxID:   ctxID,
		field:   field,
		store:   store,
		codec:   codec,
		sub:     sub,
		items:   make(map[int64]T),
		hashes:  make(map[int64]string),
		keys:    make(map[int64]struct{}),
		added:   make(map[int64]struct{}),
		removed: make(map[int64]struct{}),
	}
}

// SetRewriteExisting controls whether Store re-upserts materialised keys
// whose fingerprint hasn't changed since load. Default false (the
// write-avoidance behaviour spec §4.1 describes).
func (d *ContextDict[T]) SetRewriteExisting(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rewriteExisting = v
}

// Connect preloads the dict's "items" from storage per its Subscription
// policy. Must be called once, before any other method, for a dict backed
// by an existing context.
func (d *ContextDict[T]) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	raw, err := d.store.LoadFieldLatest(ctx, d.ctxID, d.field)
	if err != nil {
		return storage.WrapError("dialogctx", "ContextDict.Connect", err)
	}
	selected := d.sub.Select(raw)
	for _, item := range selected {
		if !item.Present {
			continue
		}
		val, decErr := d.codec.Decode(item.Bytes)
		if decErr != nil {
			return storage.WrapError("dialogctx", "ContextDict.Connect", decErr)
		}
		d.items[item.Key] = val
		d.hashes[item.Key] = fingerprint(item.Bytes)
	}
	return nil
}

// ensureKeysLoaded lazily enumerates every key storage knows about. Caller
// must hold d.mu.
func (d *ContextDict[T]) ensureKeysLoaded(ctx context.Context) error {
	if d.keysLoaded {
		return nil
	}
	keys, err := d.store.LoadFieldKeys(ctx, d.ctxID, d.field)
	if err != nil {
		return storage.WrapError("dialogctx", "ContextDict.ensureKeysLoaded", err)
	}
	for _, k := range keys {
		d.keys[k] = struct{}{}
	}
	d.keysLoaded = true
	return nil
}

// Get returns the value at key, fetching from storage if it isn't yet
// materialised but is known (or found) to exist.
func (d *ContextDict[T]) Get(ctx context.Context, key int64) (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var zero T
	if _, gone := d.removed[key]; gone {
		return zero, ErrUnknownKey
	}
	if v, ok := d.items[key]; ok {
		return v, nil
	}

	if err := d.ensureKeysLoaded(ctx); err != nil {
		return zero, err
	}
	if _, ok := d.keys[key]; !ok {
		return zero, ErrUnknownKey
	}

	rows, err := d.store.LoadFieldItems(ctx, d.ctxID, d.field, []int64{key})
	if err != nil {
		return zero, storage.WrapError("dialogctx", "ContextDict.Get", err)
	}
	if len(rows) == 0 || !rows[0].Present {
		return zero, ErrUnknownKey
	}
	val, err := d.codec.Decode(rows[0].Bytes)
	if err != nil {
		return zero, storage.WrapError("dialogctx", "ContextDict.Get", err)
	}
	d.items[key] = val
	d.hashes[key] = fingerprint(rows[0].Bytes)
	return val, nil
}

// Peek returns an already-materialised value without touching storage.
// Used by code that needs synchronous, I/O-free access (e.g. evaluating
// script conditions mid-turn).
func (d *ContextDict[T]) Peek(key int64) (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, gone := d.removed[key]; gone {
		var zero T
		return zero, false
	}
	v, ok := d.items[key]
	return v, ok
}

// PeekMax returns the value at the highest materialised key, without
// touching storage; a higher key that exists only in storage is not seen.
func (d *ContextDict[T]) PeekMax() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		zero  T
		best  int64
		found bool
	)
	for k := range d.items {
		if _, gone := d.removed[k]; gone {
			continue
		}
		if !found || k > best {
			best, found = k, true
		}
	}
	if !found {
		return zero, false
	}
	return d.items[best], true
}

// Set assigns value at key, marking it dirty for the next Store.
func (d *ContextDict[T]) Set(key int64, value T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.items[key] = value
	d.added[key] = struct{}{}
	d.keys[key] = struct{}{}
	delete(d.removed, key)
}

// Delete marks key for removal on the next Store.
func (d *ContextDict[T]) Delete(key int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.items, key)
	delete(d.added, key)
	delete(d.keys, key)
	d.removed[key] = struct{}{}
}

// Contains reports whether key currently exists (materialised, added, or
// known to storage), fetching the key set from storage if needed.
func (d *ContextDict[T]) Contains(ctx context.Context, key int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, gone := d.removed[key]; gone {
		return false, nil
	}
	if _, ok := d.items[key]; ok {
		return true, nil
	}
	if err := d.ensureKeysLoaded(ctx); err != nil {
		return false, err
	}
	_, ok := d.keys[key]
	return ok, nil
}

// Len returns the number of distinct existing keys.
func (d *ContextDict[T]) Len(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureKeysLoaded(ctx); err != nil {
		return 0, err
	}
	return len(d.effectiveKeysLocked()), nil
}

// Keys returns every existing key, ascending.
func (d *ContextDict[T]) Keys(ctx context.Context) ([]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureKeysLoaded(ctx); err != nil {
		return nil, err
	}
	set := d.effectiveKeysLocked()
	out := make([]int64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// effectiveKeysLocked computes keys ∪ added \ removed. Caller must hold d.mu.
func (d *ContextDict[T]) effectiveKeysLocked() map[int64]struct{} {
	out := make(map[int64]struct{}, len(d.keys)+len(d.added))
	for k := range d.keys {
		out[k] = struct{}{}
	}
	for k := range d.added {
		out[k] = struct{}{}
	}
	for k := range d.removed {
		delete(out, k)
	}
	return out
}

// Slice materialises every key in the given window that isn't already
// loaded, ignoring keys that don't exist.
func (d *ContextDict[T]) Slice(ctx context.Context, keys []int64) error {
	d.mu.Lock()
	missing := make([]int64, 0, len(keys))
	for _, k := range keys {
		if _, gone := d.removed[k]; gone {
			continue
		}
		if _, ok := d.items[k]; ok {
			continue
		}
		missing = append(missing, k)
	}
	d.mu.Unlock()

	if len(missing) == 0 {
		return nil
	}

	rows, err := d.store.LoadFieldItems(ctx, d.ctxID, d.field, missing)
	if err != nil {
		return storage.WrapError("dialogctx", "ContextDict.Slice", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, row := range rows {
		if !row.Present {
			continue
		}
		val, decErr := d.codec.Decode(row.Bytes)
		if decErr != nil {
			return storage.WrapError("dialogctx", "ContextDict.Slice", decErr)
		}
		d.items[row.Key] = val
		d.hashes[row.Key] = fingerprint(row.Bytes)
	}
	return nil
}

// Values returns every existing value in ascending key order, fetching
// missing keys from storage first.
func (d *ContextDict[T]) Values(ctx context.Context) ([]T, error) {
	keys, err := d.Keys(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.Slice(ctx, keys); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, d.items[k])
	}
	return out, nil
}

// Store flushes the diff: upserts materialised keys whose fingerprint
// changed (or all of them, if RewriteExisting is set), deletes every
// removed key, then clears the added/removed diff sets. On failure the
// dict's in-memory state is left exactly as before the call.
func (d *ContextDict[T]) Store(ctx context.Context) error {
	d.mu.Lock()

	var writes []storage.FieldItem
	newHashes := make(map[int64]string, len(d.items))
	for key, value := range d.items {
		encoded, err := d.codec.Encode(value)
		if err != nil {
			d.mu.Unlock()
			return storage.WrapError("dialogctx", "ContextDict.Store", err)
		}
		fp := fingerprint(encoded)
		newHashes[key] = fp
		if d.rewriteExisting || fp != d.hashes[key] {
			writes = append(writes, storage.FieldItem{Key: key, Bytes: encoded, Present: true})
		}
	}
	for key := range d.removed {
		writes = append(writes, storage.FieldItem{Key: key, Present: false})
	}

	ctxID, field, store := d.ctxID, d.field, d.store
	removedSnapshot := d.removed
	d.mu.Unlock()

	if len(writes) > 0 {
		if err := store.UpdateFieldItems(ctx, ctxID, field, writes); err != nil {
			return storage.WrapError("dialogctx", "ContextDict.Store", err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for key, fp := range newHashes {
		d.hashes[key] = fp
	}
	for key := range removedSnapshot {
		delete(d.hashes, key)
	}
	d.added = make(map[int64]struct{})
	d.removed = make(map[int64]struct{})
	return nil
}

func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
