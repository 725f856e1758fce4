package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pjcompanyofficial/PJ-ECS/deletion"
	"github.com/pjcompanyofficial/PJ-ECS/redis"
)

// Should be safe to use in concurrency
type OTPStorage interface {
	// Store the code for the given email address, replacing any code issued
	// before. The code stops being valid after ttl.
	Save(ctx context.Context, email, code string, ttl time.Duration) error

	// Verify reports whether the code is the live code for the email. A
	// match consumes the code, so it verifies exactly once. Expired and
	// mismatching codes report false without an error.
	Verify(ctx context.Context, email, code string) (bool, error)
}

var (
	_ deletion.OTPStore = (*InMemoryOTPStorage)(nil)
	_ deletion.OTPStore = (*RedisOTPStorage)(nil)
)

type InMemoryOTPStorage struct {
	codes map[string]storedCode
	mutex sync.Mutex
	now   func() time.Time
}

type storedCode struct {
	code    string
	expires time.Time
}

func NewInMemoryOTPStorage() *InMemoryOTPStorage {
	return &InMemoryOTPStorage{
		codes: make(map[string]storedCode),
		now:   time.Now,
	}
}

type RedisOTPStorage struct {
	client    goredis.UniversalClient
	namespace string
}

func NewRedisOTPStorage(client goredis.UniversalClient, namespace string) *RedisOTPStorage {
	return &RedisOTPStorage{client: client, namespace: namespace}
}

// ------------------------------------------------------------------------------

func createOTPKey(namespace, email string) string {
	return redis.Key(namespace, "otp", email)
}

// consumeIfMatches deletes the key only when it holds the submitted code,
// so two concurrent verifications can never both succeed.
var consumeIfMatches = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

func (s *RedisOTPStorage) Save(ctx context.Context, email, code string, ttl time.Duration) error {
	return s.client.Set(ctx, createOTPKey(s.namespace, email), code, ttl).Err()
}

func (s *RedisOTPStorage) Verify(ctx context.Context, email, code string) (bool, error) {
	n, err := consumeIfMatches.Run(ctx, s.client, []string{createOTPKey(s.namespace, email)}, code).Int()
	if err != nil {
		return false, fmt.Errorf("failed to verify code for %s: %w", email, err)
	}
	return n == 1, nil
}

// ------------------------------------------------------------------------------

func (s *InMemoryOTPStorage) Save(_ context.Context, email, code string, ttl time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.codes[email] = storedCode{code: code, expires: s.now().Add(ttl)}
	return nil
}

func (s *InMemoryOTPStorage) Verify(_ context.Context, email, code string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, ok := s.codes[email]
	if !ok {
		return false, nil
	}
	if !s.now().Before(stored.expires) {
		delete(s.codes, email)
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(stored.code), []byte(code)) != 1 {
		return false, nil
	}
	delete(s.codes, email)
	return true, nil
}
