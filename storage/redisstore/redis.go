// Package redisstore provides a Redis-backed Storage implementation:
// is_concurrent=true, safe for multiple processes to mutate the same
// ctx_id, using Redis hashes so individual turn keys can be upserted or
// deleted without a read-modify-write cycle on the whole context.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deeppavlov/dialgo-flow-framework/storage"
)

const defaultPrefix = "dialogrt"

// Store is a Redis-backed Storage. Each ctx_id's header lives in a hash at
// "<prefix>:main:<ctx_id>"; each field lives in a hash at
// "<prefix>:field:<field>:<ctx_id>" keyed by turn-id string.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the Redis key prefix. Default "dialogrt".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTTL sets a TTL refreshed on every write to a ctx_id's keys. Zero (the
// default) means no expiration.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New creates a Redis-backed Store over an existing client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsConcurrent always returns true: Redis hash operations are atomic per
// key, so multiple processes may safely mutate the same ctx_id.
func (s *Store) IsConcurrent() bool { return true }

func (s *Store) mainKey(ctxID string) string {
	return fmt.Sprintf("%s:main:%s", s.prefix, ctxID)
}

func (s *Store) fieldKey(ctxID string, field storage.FieldName) string {
	return fmt.Sprintf("%s:field:%s:%s", s.prefix, field, ctxID)
}

// LoadMainInfo returns the header row for ctxID.
func (s *Store) LoadMainInfo(ctx context.Context, ctxID string) (storage.MainInfo, error) {
	res, err := s.client.HGetAll(ctx, s.mainKey(ctxID)).Result()
	if err != nil {
		return storage.MainInfo{}, storage.WrapError("redisstore", "LoadMainInfo", err)
	}
	if len(res) == 0 {
		return storage.MainInfo{}, storage.ErrNotFound
	}

	turnID, _ := strconv.ParseInt(res["current_turn_id"], 10, 64)
	createdAt, _ := strconv.ParseInt(res["created_at"], 10, 64)
	updatedAt, _ := strconv.ParseInt(res["updated_at"], 10, 64)

	return storage.MainInfo{
		CurrentTurnID:      turnID,
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
		MiscBytes:          []byte(res["misc"]),
		FrameworkDataBytes: []byte(res["framework_data"]),
	}, nil
}

// UpdateMainInfo upserts the header row for ctxID.
func (s *Store) UpdateMainInfo(ctx context.Context, ctxID string, info storage.MainInfo) error {
	key := s.mainKey(ctxID)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"current_turn_id": info.CurrentTurnID,
		"created_at":      info.CreatedAt,
		"updated_at":      info.UpdatedAt,
		"misc":            info.MiscBytes,
		"framework_data":  info.FrameworkDataBytes,
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storage.WrapError("redisstore", "UpdateMainInfo", err)
	}
	return nil
}

// DeleteContext removes the header and every field row for ctxID.
func (s *Store) DeleteContext(ctx context.Context, ctxID string) error {
	keys := []string{s.mainKey(ctxID)}
	for _, field := range []storage.FieldName{storage.FieldLabels, storage.FieldRequests, storage.FieldResponses} {
		keys = append(keys, s.fieldKey(ctxID, field))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return storage.WrapError("redisstore", "DeleteContext", err)
	}
	return nil
}

// LoadFieldLatest returns every stored item for field, ordered by key
// descending; subscription filtering happens above this layer.
func (s *Store) LoadFieldLatest(ctx context.Context, ctxID string, field storage.FieldName) ([]storage.FieldItem, error) {
	return s.loadAll(ctx, ctxID, field)
}

// LoadFieldKeys returns every non-null key stored for field.
func (s *Store) LoadFieldKeys(ctx context.Context, ctxID string, field storage.FieldName) ([]int64, error) {
	items, err := s.loadAll(ctx, ctxID, field)
	if err != nil {
		return nil, err
	}
	keys := make([]int64, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key)
	}
	return keys, nil
}

// LoadFieldItems materialises the given key window for field.
func (s *Store) LoadFieldItems(ctx context.Context, ctxID string, field storage.FieldName, keys []int64) ([]storage.FieldItem, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	fields := make([]string, len(keys))
	for i, k := range keys {
		fields[i] = strconv.FormatInt(k, 10)
	}
	res, err := s.client.HMGet(ctx, s.fieldKey(ctxID, field), fields...).Result()
	if err != nil {
		return nil, storage.WrapError("redisstore", "LoadFieldItems", err)
	}
	out := make([]storage.FieldItem, 0, len(keys))
	for i, v := range res {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, storage.FieldItem{Key: keys[i], Bytes: []byte(str), Present: true})
	}
	return out, nil
}

// UpdateFieldItems upserts each item; Present=false deletes that key.
func (s *Store) UpdateFieldItems(ctx context.Context, ctxID string, field storage.FieldName, items []storage.FieldItem) error {
	if len(items) == 0 {
		return nil
	}
	key := s.fieldKey(ctxID, field)
	pipe := s.client.Pipeline()

	upserts := make(map[string]any)
	var deletes []string
	for _, item := range items {
		k := strconv.FormatInt(item.Key, 10)
		if !item.Present {
			deletes = append(deletes, k)
			continue
		}
		upserts[k] = item.Bytes
	}
	if len(upserts) > 0 {
		pipe.HSet(ctx, key, upserts)
	}
	if len(deletes) > 0 {
		pipe.HDel(ctx, key, deletes...)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storage.WrapError("redisstore", "UpdateFieldItems", err)
	}
	return nil
}

// ClearAll wipes every key under this store's prefix. Test-only.
func (s *Store) ClearAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return storage.WrapError("redisstore", "ClearAll", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return storage.WrapError("redisstore", "ClearAll", err)
	}
	return nil
}

func (s *Store) loadAll(ctx context.Context, ctxID string, field storage.FieldName) ([]storage.FieldItem, error) {
	res, err := s.client.HGetAll(ctx, s.fieldKey(ctxID, field)).Result()
	if err != nil {
		return nil, storage.WrapError("redisstore", "LoadFieldLatest", err)
	}
	items := make([]storage.FieldItem, 0, len(res))
	for k, v := range res {
		key, convErr := strconv.ParseInt(k, 10, 64)
		if convErr != nil {
			continue
		}
		items = append(items, storage.FieldItem{Key: key, Bytes: []byte(v), Present: true})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key > items[j].Key })
	return items, nil
}

// IsNotFound reports whether err corresponds to redis.Nil, exposed so
// callers built directly on the go-redis client (e.g. migration scripts)
// can share the same check as this package.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
