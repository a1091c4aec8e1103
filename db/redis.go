package db

import (
	"context"
	"fmt"
	"time"

	"cotowatch/config"

	"github.com/go-redis/redis/v8"
	redisv9 "github.com/redis/go-redis/v9"
)

// RedisClient backs the room state cache and access store.
var RedisClient *redis.Client

// PubSubClient backs the cross-instance room channel.
var PubSubClient *redisv9.Client

// ConnectRedis opens both clients against the same server.
func ConnectRedis(cfg *config.Config) error {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	PubSubClient = redisv9.NewClient(&redisv9.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := PubSubClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect pub/sub client to Redis: %w", err)
	}
	return nil
}

// CloseRedis closes whatever ConnectRedis opened.
func CloseRedis() error {
	var firstErr error
	if RedisClient != nil {
		firstErr = RedisClient.Close()
	}
	if PubSubClient != nil {
		if err := PubSubClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CheckRedis does a set/get/del round trip.
func CheckRedis(ctx context.Context) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	const key, want = "cotowatch:healthcheck", "ok"
	if err := RedisClient.Set(ctx, key, want, time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set Redis key: %w", err)
	}
	val, err := RedisClient.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to get Redis key: %w", err)
	}
	if val != want {
		return fmt.Errorf("unexpected value from Redis: got %s", val)
	}
	if err := RedisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete Redis key: %w", err)
	}
	return nil
}
