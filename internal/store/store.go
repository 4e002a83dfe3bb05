package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/pkg/api"
)

type (
	// Store keeps the shared status record and terminal batch results in
	// Redis
	Store struct {
		client    redis.UniversalClient
		prefix    string
		statusKey string
		retries   int
	}

	// StatusUpdate computes the next status record from the current one,
	// which is nil when nothing has been persisted yet. Returning a nil
	// record leaves the store untouched
	StatusUpdate func(cur *api.SystemState) (*api.SystemState, error)

	getter interface {
		Get(ctx context.Context, key string) *redis.StringCmd
	}
)

var ErrConcurrentUpdate = errors.New("status changed concurrently")

// New connects to the Redis instance described by cfg
func New(cfg config.StateStoreConfig, retries int) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg, retries)
}

// NewWithClient builds a store around an existing client
func NewWithClient(
	client redis.UniversalClient, cfg config.StateStoreConfig, retries int,
) *Store {
	return &Store{
		client:    client,
		prefix:    cfg.Prefix,
		statusKey: cfg.StatusKey,
		retries:   max(retries, 1),
	}
}

// GetStatus returns the persisted status record, or nil if none exists
func (s *Store) GetStatus(ctx context.Context) (*api.SystemState, error) {
	var st api.SystemState
	ok, err := s.getJSON(ctx, s.client, s.key(s.statusKey), &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

// InitStatus persists st only when no status record exists yet
func (s *Store) InitStatus(
	ctx context.Context, st *api.SystemState,
) (bool, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, s.key(s.statusKey), data, 0).Result()
}

// UpdateStatus applies fn to the current status record and writes the
// result with a compare-and-set. When another writer changes the record
// first, fn is re-run against the new value until the retry budget runs out
func (s *Store) UpdateStatus(
	ctx context.Context, fn StatusUpdate,
) (*api.SystemState, error) {
	key := s.key(s.statusKey)
	for range s.retries {
		var res *api.SystemState
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			var cur *api.SystemState
			var st api.SystemState
			ok, err := s.getJSON(ctx, tx, key, &st)
			if err != nil {
				return err
			}
			if ok {
				cur = &st
			}

			next, err := fn(cur)
			if err != nil || next == nil {
				return err
			}
			data, err := json.Marshal(next)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, data, 0)
				return nil
			})
			if err == nil {
				res = next
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return res, err
	}
	return nil, fmt.Errorf("%w: %d attempts", ErrConcurrentUpdate, s.retries)
}

// SaveBatchResult stores the terminal result of a batch under its
// correlation id
func (s *Store) SaveBatchResult(
	ctx context.Context, res *api.BatchResult,
) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	key := s.key(api.BatchResponseKey(res.CorrelationID))
	return s.client.Set(ctx, key, data, 0).Err()
}

// GetBatchResult returns the stored result of a batch, or nil if the batch
// has not finished
func (s *Store) GetBatchResult(
	ctx context.Context, cid api.CorrelationID,
) (*api.BatchResult, error) {
	var res api.BatchResult
	ok, err := s.getJSON(ctx, s.client, s.key(api.BatchResponseKey(cid)), &res)
	if err != nil || !ok {
		return nil, err
	}
	return &res, nil
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + ":" + name
}

func (s *Store) getJSON(
	ctx context.Context, c getter, key string, dst any,
) (bool, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
