package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// InMemoryStore keeps items in process. Data is lost on exit.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string][]Item
}

// NewInMemoryStore creates an empty store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string][]Item)}
}

func (s *InMemoryStore) Put(ctx context.Context, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ContentType] = append(s.items[item.ContentType], item)
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, contentType string) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.items[contentType]))
	copy(out, s.items[contentType])
	return out, nil
}

const (
	memoryKeyPrefix = "memory:"

	// maxItemsPerType caps each list; the oldest entries are trimmed
	maxItemsPerType = 1000
)

// RedisStore keeps one capped JSON list per content type. Similarity is
// computed by the engine after listing.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed memory store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, item Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal memory item: %w", err)
	}

	key := memoryKeyPrefix + item.ContentType
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, maxItemsPerType-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store memory item: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, contentType string) ([]Item, error) {
	raw, err := s.client.LRange(ctx, memoryKeyPrefix+contentType, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list memory items: %w", err)
	}

	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		var item Item
		if err := json.Unmarshal([]byte(r), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
