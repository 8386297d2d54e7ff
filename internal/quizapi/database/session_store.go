package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/qiniu/quizops/internal/quizapi/model"
	"github.com/redis/go-redis/v9"
)

// SessionStore 聊天会话历史
type SessionStore interface {
	History(ctx context.Context, sessionID string) ([]*model.ChatTurn, error)
	Append(ctx context.Context, sessionID string, turns ...*model.ChatTurn) (int, error)
}

// RedisSessionStore 每个会话一个 list，每次写入刷新 TTL
type RedisSessionStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisSessionStore(rdb *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{redis: rdb, ttl: ttl}
}

func sessionKey(id string) string {
	return "quizapi:chat:" + id
}

func (s *RedisSessionStore) History(ctx context.Context, sessionID string) ([]*model.ChatTurn, error) {
	items, err := s.redis.LRange(ctx, sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	turns := make([]*model.ChatTurn, 0, len(items))
	for _, it := range items {
		var t model.ChatTurn
		if err := json.Unmarshal([]byte(it), &t); err != nil {
			return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
		}
		turns = append(turns, &t)
	}
	return turns, nil
}

// Append 返回追加后的消息总数
func (s *RedisSessionStore) Append(ctx context.Context, sessionID string, turns ...*model.ChatTurn) (int, error) {
	values := make([]any, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return 0, err
		}
		values = append(values, string(data))
	}
	key := sessionKey(sessionID)
	pipe := s.redis.TxPipeline()
	n := pipe.RPush(ctx, key, values...)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to append to session %s: %w", sessionID, err)
	}
	return int(n.Val()), nil
}

// MemorySessionStore 进程内会话，过期的会话在下次访问时清除
type MemorySessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*memorySession
	now      func() time.Time
}

type memorySession struct {
	turns     []*model.ChatTurn
	updatedAt time.Time
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{ttl: ttl, sessions: make(map[string]*memorySession), now: time.Now}
}

func (s *MemorySessionStore) get(id string) *memorySession {
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if s.ttl > 0 && s.now().Sub(sess.updatedAt) > s.ttl {
		delete(s.sessions, id)
		return nil
	}
	return sess
}

func (s *MemorySessionStore) History(_ context.Context, sessionID string) ([]*model.ChatTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(sessionID)
	if sess == nil {
		return nil, nil
	}
	return append([]*model.ChatTurn(nil), sess.turns...), nil
}

func (s *MemorySessionStore) Append(_ context.Context, sessionID string, turns ...*model.ChatTurn) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(sessionID)
	if sess == nil {
		sess = &memorySession{}
		s.sessions[sessionID] = sess
	}
	sess.turns = append(sess.turns, turns...)
	sess.updatedAt = s.now()
	return len(sess.turns), nil
}
