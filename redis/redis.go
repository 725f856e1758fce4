package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const pingTimeout = 3 * time.Second

type RedisConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Password  string `json:"password"`
	Namespace string `json:"namespace"`
}

type RedisSentinelConfig struct {
	SentinelHost     string `json:"sentinel_host"`
	SentinelPort     int    `json:"sentinel_port"`
	Password         string `json:"password"`
	MasterName       string `json:"master_name"`
	SentinelUsername string `json:"sentinel_username"`
	Namespace        string `json:"namespace"`
}

// NewRedisClient connects to a single redis node and pings it once.
func NewRedisClient(config *RedisConfig) (*goredis.Client, error) {
	if config.Host == "" || config.Port <= 0 {
		return nil, fmt.Errorf("invalid redis address %q:%d", config.Host, config.Port)
	}

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	slog.Debug("Connecting to redis", "addr", addr)
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: config.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to redis", "addr", addr)
	return client, nil
}

// NewRedisSentinelClient connects to the master currently elected by the sentinel.
func NewRedisSentinelClient(config *RedisSentinelConfig) (*goredis.Client, error) {
	if config.MasterName == "" {
		return nil, fmt.Errorf("redis sentinel requires a master name")
	}
	if config.SentinelHost == "" || config.SentinelPort <= 0 {
		return nil, fmt.Errorf("invalid sentinel address %q:%d", config.SentinelHost, config.SentinelPort)
	}

	addr := fmt.Sprintf("%s:%d", config.SentinelHost, config.SentinelPort)
	slog.Debug("Connecting to redis through sentinel", "sentinel", addr, "master", config.MasterName)
	client := goredis.NewFailoverClient(&goredis.FailoverOptions{
		MasterName:       config.MasterName,
		SentinelAddrs:    []string{addr},
		SentinelUsername: config.SentinelUsername,
		SentinelPassword: config.Password,
		Password:         config.Password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis through Sentinel: %w", err)
	}

	slog.Info("Connected to redis through sentinel", "master", config.MasterName)
	return client, nil
}

// Key joins a namespace and key parts with colons.
func Key(namespace string, parts ...string) string {
	key := namespace
	for _, p := range parts {
		key += ":" + p
	}
	return key
}
