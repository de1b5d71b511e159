// Package redisstore stores raw crawl results in a Redis hash so several crawler
// processes, or a later parse step, can share one batch.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
)

const defaultKeyPrefix = "zipcrawler"

// ResultStore writes one hash field per task index under {prefix}:{runID}:raw.
type ResultStore struct {
	client redis.UniversalClient
	key    string
}

// NewResultStore binds a store to the run's hash key.
func NewResultStore(client redis.UniversalClient, prefix, runID string) *ResultStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &ResultStore{
		client: client,
		key:    fmt.Sprintf("%s:%s:raw", prefix, runID),
	}
}

// Key returns the hash key holding this run's results.
func (s *ResultStore) Key() string {
	return s.key
}

// Put stores the result with HSETNX; an existing field is a duplicate.
func (s *ResultStore) Put(ctx context.Context, result crawler.RawResult) error {
	payload, err := sonic.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result %d: %w", result.Index, err)
	}
	created, err := s.client.HSetNX(ctx, s.key, strconv.Itoa(result.Index), payload).Result()
	if err != nil {
		return fmt.Errorf("redis hsetnx %s: %w", s.key, err)
	}
	if !created {
		return fmt.Errorf("put index %d: %w", result.Index, crawler.ErrDuplicateIndex)
	}
	return nil
}

// Get loads the result for index.
func (s *ResultStore) Get(ctx context.Context, index int) (crawler.RawResult, bool, error) {
	val, err := s.client.HGet(ctx, s.key, strconv.Itoa(index)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return crawler.RawResult{}, false, nil
		}
		return crawler.RawResult{}, false, fmt.Errorf("redis hget %s: %w", s.key, err)
	}
	var result crawler.RawResult
	if err := sonic.Unmarshal(val, &result); err != nil {
		return crawler.RawResult{}, false, fmt.Errorf("decode result %d: %w", index, err)
	}
	return result, true, nil
}

// Len reports the number of stored indices.
func (s *ResultStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hlen %s: %w", s.key, err)
	}
	return int(n), nil
}

// Results returns every stored result ordered by index.
func (s *ResultStore) Results(ctx context.Context) ([]crawler.RawResult, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", s.key, err)
	}
	out := make([]crawler.RawResult, 0, len(fields))
	for field, val := range fields {
		var result crawler.RawResult
		if err := sonic.UnmarshalString(val, &result); err != nil {
			return nil, fmt.Errorf("decode field %s: %w", field, err)
		}
		out = append(out, result)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Clear removes the run's hash.
func (s *ResultStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.key, err)
	}
	return nil
}
