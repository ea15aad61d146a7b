package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore persists live sessions with a TTL.
type SessionStore interface {
	Put(ctx context.Context, token, user string, ttl time.Duration) error
	Get(ctx context.Context, token string) (user string, ok bool, err error)
	Delete(ctx context.Context, token string) error
}

type memSession struct {
	user    string
	expires time.Time
}

// sweepInterval bounds how often Put scans for sessions that expired
// without ever being presented again.
const sweepInterval = time.Minute

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mu        sync.Mutex
	sessions  map[string]memSession
	now       func() time.Time
	nextSweep time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]memSession), now: time.Now}
}

func (s *MemorySessionStore) Put(_ context.Context, token, user string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !now.Before(s.nextSweep) {
		s.sweep(now)
		s.nextSweep = now.Add(sweepInterval)
	}
	s.sessions[token] = memSession{user: user, expires: now.Add(ttl)}
	return nil
}

func (s *MemorySessionStore) sweep(now time.Time) {
	for token, sess := range s.sessions {
		if !now.Before(sess.expires) {
			delete(s.sessions, token)
		}
	}
}

// Len reports the number of stored sessions, expired ones included.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *MemorySessionStore) Get(_ context.Context, token string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return "", false, nil
	}
	if !s.now().Before(sess.expires) {
		delete(s.sessions, token)
		return "", false, nil
	}
	return sess.user, true, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

const sessionKeyPrefix = "loan-risk:session:"

// RedisSessionStore keeps sessions in Redis so several scorer replicas
// share them. Expiry is delegated to Redis key TTLs.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore connects to addr and pings it.
func NewRedisSessionStore(ctx context.Context, addr, password string, db int) (*RedisSessionStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisSessionStore{client: rdb}, nil
}

func (s *RedisSessionStore) Put(ctx context.Context, token, user string, ttl time.Duration) error {
	return s.client.Set(ctx, sessionKeyPrefix+token, user, ttl).Err()
}

func (s *RedisSessionStore) Get(ctx context.Context, token string) (string, bool, error) {
	user, err := s.client.Get(ctx, sessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return user, true, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, sessionKeyPrefix+token).Err()
}

// Close closes the Redis connection
func (s *RedisSessionStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
