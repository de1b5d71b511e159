package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
)

// ResultStore keeps raw results keyed by task index.
type ResultStore struct {
	mu      sync.RWMutex
	results map[int]crawler.RawResult
}

// NewResultStore constructs an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[int]crawler.RawResult),
	}
}

// Put records the result for its index. A second write for the same index is
// rejected so a batch never holds two outcomes for one task.
func (s *ResultStore) Put(_ context.Context, result crawler.RawResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.results[result.Index]; exists {
		return fmt.Errorf("put index %d: %w", result.Index, crawler.ErrDuplicateIndex)
	}
	result.Content = append([]byte(nil), result.Content...)
	s.results[result.Index] = result
	return nil
}

// Get returns the result stored for index.
func (s *ResultStore) Get(_ context.Context, index int) (crawler.RawResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[index]
	return result, ok, nil
}

// Len reports how many indices hold a result.
func (s *ResultStore) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results), nil
}

// Results returns every stored result ordered by index.
func (s *ResultStore) Results(context.Context) ([]crawler.RawResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.RawResult, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}
