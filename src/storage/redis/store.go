// Package redis stores call records in Redis as JSON documents with a
// sorted-set index ordered by call date.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/square-key-labs/strawgo-screener/src/storage"
)

const defaultPrefix = "screener"

// Store implements storage.Store.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithTTL expires records after ttl. Zero, the default, keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix. Default is "screener".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New wraps an existing client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open parses a redis:// URL and checks the connection.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return New(client, opts...), nil
}

func (s *Store) recordKey(id string) string { return s.prefix + ":call:" + id }
func (s *Store) indexKey() string           { return s.prefix + ":calls" }

// Append writes the record and indexes it by date in one pipeline.
func (s *Store) Append(ctx context.Context, rec *storage.CallRecord) error {
	if rec == nil || rec.ID == "" {
		return storage.ErrInvalidID
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(rec.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(rec.Date.UnixMilli()), Member: rec.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// List loads every indexed record, newest first. Index entries whose
// record has expired are pruned.
func (s *Store) List(ctx context.Context) ([]storage.CallRecord, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read index: %w", err)
	}
	if len(ids) == 0 {
		return []storage.CallRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget: %w", err)
	}

	recs := make([]storage.CallRecord, 0, len(values))
	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var rec storage.CallRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("redis: unmarshal record %s: %w", ids[i], err)
		}
		recs = append(recs, rec)
	}
	if len(stale) > 0 {
		s.client.ZRem(ctx, s.indexKey(), stale...)
	}
	storage.SortNewestFirst(recs)
	return recs, nil
}

func (s *Store) Get(ctx context.Context, id string) (*storage.CallRecord, error) {
	if id == "" {
		return nil, storage.ErrInvalidID
	}
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var rec storage.CallRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("redis: unmarshal record: %w", err)
	}
	return &rec, nil
}

// MarkRead rewrites the record with Unread cleared, keeping its TTL.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.Unread = false
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal record: %w", err)
	}
	if err := s.client.Set(ctx, s.recordKey(id), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
