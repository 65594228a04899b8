package federation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// stateNonceBytes is the entropy of the CSRF state nonce
const stateNonceBytes = 32

// StateStore holds in-flight federation handshake nonces. Each nonce is
// single-use: Take removes it on first read, so a replayed callback can
// never match twice.
type StateStore interface {
	// Put stores a nonce bound to the IP that initiated the flow.
	Put(ctx context.Context, nonce, ip string) error
	// Take atomically looks up and deletes a nonce, returning the bound IP.
	// A missing or expired nonce returns ok=false.
	Take(ctx context.Context, nonce string) (ip string, ok bool, err error)
}

// NewNonce generates a random URL-safe state nonce
func NewNonce() (string, error) {
	buf := make([]byte, stateNonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type stateEntry struct {
	ip        string
	createdAt time.Time
}

// MemoryStateStore is the process-local StateStore for single-instance
// deployments. A restart clears all in-flight flows; affected users simply
// restart their handshake.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
	ttl     time.Duration
}

// NewMemoryStateStore creates an in-memory state store with the given TTL
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	return &MemoryStateStore{
		entries: make(map[string]stateEntry),
		ttl:     ttl,
	}
}

// Put stores a nonce bound to the initiating IP
func (s *MemoryStateStore) Put(_ context.Context, nonce, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[nonce] = stateEntry{ip: ip, createdAt: time.Now()}
	return nil
}

// Take looks up and deletes a nonce in one critical section
func (s *MemoryStateStore) Take(_ context.Context, nonce string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[nonce]
	if !ok {
		return "", false, nil
	}
	delete(s.entries, nonce)
	if time.Since(entry.createdAt) > s.ttl {
		return "", false, nil
	}
	return entry.ip, true, nil
}

// StartSweep removes expired nonces on a fixed interval until ctx is done.
// Expiry is also enforced on Take, so the sweep only bounds memory.
func (s *MemoryStateStore) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *MemoryStateStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for nonce, entry := range s.entries {
		if now.Sub(entry.createdAt) > s.ttl {
			delete(s.entries, nonce)
		}
	}
}

// RedisStateStore is the shared StateStore for multi-instance deployments.
// Redis enforces the TTL itself and GETDEL gives the atomic single-use
// read, so no sweep goroutine is needed.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStateStore creates a redis-backed state store with the given TTL
func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{client: client, ttl: ttl}
}

const stateKeyPrefix = "federation:state:"

// Put stores a nonce bound to the initiating IP with a TTL
func (s *RedisStateStore) Put(ctx context.Context, nonce, ip string) error {
	return s.client.Set(ctx, stateKeyPrefix+nonce, ip, s.ttl).Err()
}

// Take atomically reads and deletes a nonce via GETDEL
func (s *RedisStateStore) Take(ctx context.Context, nonce string) (string, bool, error) {
	ip, err := s.client.GetDel(ctx, stateKeyPrefix+nonce).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return ip, true, nil
}
