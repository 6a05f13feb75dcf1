package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Chat roles stored in history
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// maxHistoryTurns bounds both the stored history and the context sent to
// the model.
const maxHistoryTurns = 20

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HistoryStore keeps recent chatbot turns per session.
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	Recent(ctx context.Context, sessionID string, n int) ([]Turn, error)
	Clear(ctx context.Context, sessionID string) error
}

// RedisHistoryStore keeps each session as a capped redis list that expires
// after ttl of inactivity.
type RedisHistoryStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisHistoryStore(rdb *redis.Client, ttl time.Duration) *RedisHistoryStore {
	return &RedisHistoryStore{rdb: rdb, ttl: ttl}
}

func historyKey(sessionID string) string {
	return "chat:history:" + sessionID
}

func (s *RedisHistoryStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode turn: %w", err)
		}
		values = append(values, b)
	}

	key := historyKey(sessionID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, -maxHistoryTurns, -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append chat history: %w", err)
	}
	return nil
}

func (s *RedisHistoryStore) Recent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	raw, err := s.rdb.LRange(ctx, historyKey(sessionID), int64(-n), -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chat history: %w", err)
	}

	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *RedisHistoryStore) Clear(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, historyKey(sessionID)).Err()
}

// MemoryHistoryStore is used when redis is not configured. Entries expire
// like the redis lists do.
type MemoryHistoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewMemoryHistoryStore(ttl time.Duration) *MemoryHistoryStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &MemoryHistoryStore{cache: cache.New(ttl, 10*time.Minute)}
}

func (s *MemoryHistoryStore) Append(_ context.Context, sessionID string, turns ...Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var history []Turn
	if v, ok := s.cache.Get(sessionID); ok {
		history = v.([]Turn)
	}
	history = append(history, turns...)
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	// copy so readers never share the backing array
	s.cache.SetDefault(sessionID, append([]Turn(nil), history...))
	return nil
}

func (s *MemoryHistoryStore) Recent(_ context.Context, sessionID string, n int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cache.Get(sessionID)
	if !ok {
		return nil, nil
	}
	history := v.([]Turn)
	if n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	return append([]Turn(nil), history...), nil
}

func (s *MemoryHistoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Delete(sessionID)
	return nil
}
