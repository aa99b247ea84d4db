package services

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"realtime-service/internal/database"
)

// RedisService mirrors connection and channel state into Redis so that
// other services (and other instances) can see who is online. It
// implements the hub's PresenceMirror contract.
type RedisService struct {
	client *database.RedisClient
}

func NewRedisService(client *database.RedisClient) *RedisService {
	return &RedisService{
		client: client,
	}
}

func (r *RedisService) SetUserOnline(ctx context.Context, userID string) error {
	pipe := r.client.GetClient().Pipeline()

	pipe.SAdd(ctx, "online_users", userID)
	pipe.HSet(ctx, fmt.Sprintf("user:%s:status", userID), map[string]interface{}{
		"status":     "online",
		"last_seen":  time.Now().Unix(),
		"updated_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, fmt.Sprintf("user:%s:status", userID), 5*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("failed to set user online", "userID", userID, "error", err)
		return err
	}
	return nil
}

func (r *RedisService) SetUserOffline(ctx context.Context, userID string) error {
	pipe := r.client.GetClient().Pipeline()

	pipe.SRem(ctx, "online_users", userID)
	pipe.HSet(ctx, fmt.Sprintf("user:%s:status", userID), map[string]interface{}{
		"status":     "offline",
		"last_seen":  time.Now().Unix(),
		"updated_at": time.Now().Unix(),
	})
	// Offline status lingers so "last seen" stays queryable.
	pipe.Expire(ctx, fmt.Sprintf("user:%s:status", userID), 24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("failed to set user offline", "userID", userID, "error", err)
		return err
	}
	return nil
}

func (r *RedisService) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	return r.client.GetClient().SIsMember(ctx, "online_users", userID).Result()
}

func (r *RedisService) GetOnlineUsers(ctx context.Context) ([]string, error) {
	return r.client.GetClient().SMembers(ctx, "online_users").Result()
}

func (r *RedisService) JoinChannel(ctx context.Context, channel, userID string) error {
	pipe := r.client.GetClient().Pipeline()

	pipe.SAdd(ctx, fmt.Sprintf("channel:%s:members", channel), userID)
	pipe.SAdd(ctx, fmt.Sprintf("user:%s:channels", userID), channel)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("failed to mirror channel join", "userID", userID, "channel", channel, "error", err)
		return err
	}
	return nil
}

func (r *RedisService) LeaveChannel(ctx context.Context, channel, userID string) error {
	pipe := r.client.GetClient().Pipeline()

	pipe.SRem(ctx, fmt.Sprintf("channel:%s:members", channel), userID)
	pipe.SRem(ctx, fmt.Sprintf("user:%s:channels", userID), channel)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("failed to mirror channel leave", "userID", userID, "channel", channel, "error", err)
		return err
	}
	return nil
}

func (r *RedisService) GetChannelMembers(ctx context.Context, channel string) ([]string, error) {
	return r.client.GetClient().SMembers(ctx, fmt.Sprintf("channel:%s:members", channel)).Result()
}

func (r *RedisService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}
