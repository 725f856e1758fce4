package rate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var ErrTooSoon = errors.New("please wait before requesting another code")

// Limiter enforces a cooldown between two OTP requests for the same address.
type Limiter interface {
	Allow(ctx context.Context, email string) error
}

func tooSoon(wait time.Duration) error {
	return fmt.Errorf("%w: try again in %d seconds", ErrTooSoon, int(math.Ceil(wait.Seconds())))
}

type MemoryLimiter struct {
	cooldown time.Duration
	now      func() time.Time

	mutex sync.Mutex
	until map[string]time.Time
}

func NewMemoryLimiter(cooldown time.Duration) *MemoryLimiter {
	return &MemoryLimiter{cooldown: cooldown, now: time.Now, until: make(map[string]time.Time)}
}

func (l *MemoryLimiter) Allow(_ context.Context, email string) error {
	if l.cooldown <= 0 {
		return nil
	}
	key := strings.ToLower(strings.TrimSpace(email))

	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	if until, ok := l.until[key]; ok && now.Before(until) {
		return tooSoon(until.Sub(now))
	}
	l.until[key] = now.Add(l.cooldown)
	return nil
}

type RedisLimiter struct {
	client    goredis.UniversalClient
	namespace string
	cooldown  time.Duration
}

func NewRedisLimiter(client goredis.UniversalClient, namespace string, cooldown time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, namespace: namespace, cooldown: cooldown}
}

func (l *RedisLimiter) Allow(ctx context.Context, email string) error {
	if l.cooldown <= 0 {
		return nil
	}
	key := fmt.Sprintf("%s:otp_rate:%s", l.namespace, strings.ToLower(strings.TrimSpace(email)))

	ok, err := l.client.SetNX(ctx, key, "1", l.cooldown).Result()
	if err != nil {
		return fmt.Errorf("failed to check otp rate: %w", err)
	}
	if ok {
		return nil
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = l.cooldown
	}
	return tooSoon(ttl)
}
