package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/conversation"
	"ai-tutor-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// SessionRepository 定义了辅导会话的存取操作，不存在的会话返回 apperr.ErrSessionNotFound。
type SessionRepository interface {
	Save(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	ListByUser(ctx context.Context, userID int64) ([]*model.Session, error)
	Delete(ctx context.Context, id string) error
}

// cloneSession 复制会话，避免调用方修改存储中的数据。
func cloneSession(s *model.Session) *model.Session {
	c := *s
	if s.History != nil {
		c.History = conversation.NewHistory(s.History.Turns()...)
	} else {
		c.History = conversation.NewHistory()
	}
	return &c
}

func sortSessions(list []*model.Session) {
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
}

type memorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

// NewMemorySessionRepository 创建进程内的会话存储。
func NewMemorySessionRepository() SessionRepository {
	return &memorySessionRepository{sessions: make(map[string]*model.Session)}
}

func (r *memorySessionRepository) Save(_ context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = cloneSession(s)
	return nil
}

func (r *memorySessionRepository) Get(_ context.Context, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, apperr.ErrSessionNotFound
	}
	return cloneSession(s), nil
}

func (r *memorySessionRepository) ListByUser(_ context.Context, userID int64) ([]*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, cloneSession(s))
		}
	}
	sortSessions(out)
	return out, nil
}

func (r *memorySessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return apperr.ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

// redisSessionRepository 将会话以 JSON 形式存储在 Redis 中，每次保存刷新过期时间。
type redisSessionRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewRedisSessionRepository 创建 Redis 会话存储。
func NewRedisSessionRepository(redisClient *redis.Client, ttl time.Duration) SessionRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisSessionRepository{redisClient: redisClient, ttl: ttl}
}

func sessionKey(id string) string {
	return fmt.Sprintf("tutor:session:%s", id)
}

func userSessionsKey(userID int64) string {
	return fmt.Sprintf("tutor:user:%d:sessions", userID)
}

func (r *redisSessionRepository) Save(ctx context.Context, s *model.Session) error {
	jsonData, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	pipe := r.redisClient.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), jsonData, r.ttl)
	pipe.SAdd(ctx, userSessionsKey(s.UserID), s.ID)
	pipe.Expire(ctx, userSessionsKey(s.UserID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *redisSessionRepository) Get(ctx context.Context, id string) (*model.Session, error) {
	jsonData, err := r.redisClient.Get(ctx, sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, apperr.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var s model.Session
	if err := json.Unmarshal([]byte(jsonData), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if s.History == nil {
		s.History = conversation.NewHistory()
	}
	return &s, nil
}

func (r *redisSessionRepository) ListByUser(ctx context.Context, userID int64) ([]*model.Session, error) {
	ids, err := r.redisClient.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var out []*model.Session
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if err == apperr.ErrSessionNotFound {
			// 会话已过期，清理索引
			_ = r.redisClient.SRem(ctx, userSessionsKey(userID), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortSessions(out)
	return out, nil
}

func (r *redisSessionRepository) Delete(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	pipe := r.redisClient.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, userSessionsKey(s.UserID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
