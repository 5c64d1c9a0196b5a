// Package cache provides a Redis cache-aside layer for hot user and
// workspace reads. A cache miss or a Redis failure falls through to the
// caller's store read.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"brainvector/api/internal/store"
)

const (
	userTTL       = time.Hour
	workspacesTTL = 5 * time.Minute
)

var ErrMiss = errors.New("cache miss")

type Cache struct {
	client *redis.Client
}

func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Cache{client: client}, nil
}

func userKey(userID string) string       { return "user_by_id:" + userID }
func workspacesKey(userID string) string { return "user_workspaces:" + userID }

func (c *Cache) GetUser(ctx context.Context, userID string) (store.User, error) {
	raw, err := c.client.Get(ctx, userKey(userID)).Result()
	if err == redis.Nil {
		return store.User{}, ErrMiss
	}
	if err != nil {
		return store.User{}, fmt.Errorf("get cached user: %w", err)
	}
	var user store.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return store.User{}, fmt.Errorf("unmarshal cached user: %w", err)
	}
	return user, nil
}

func (c *Cache) SetUser(ctx context.Context, user store.User) error {
	// Never cache the password hash.
	user.PasswordHash = ""
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := c.client.Set(ctx, userKey(user.ID), raw, userTTL).Err(); err != nil {
		return fmt.Errorf("cache user: %w", err)
	}
	return nil
}

func (c *Cache) GetWorkspaces(ctx context.Context, userID string) ([]store.Workspace, error) {
	raw, err := c.client.Get(ctx, workspacesKey(userID)).Result()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get cached workspaces: %w", err)
	}
	var workspaces []store.Workspace
	if err := json.Unmarshal([]byte(raw), &workspaces); err != nil {
		return nil, fmt.Errorf("unmarshal cached workspaces: %w", err)
	}
	return workspaces, nil
}

func (c *Cache) SetWorkspaces(ctx context.Context, userID string, workspaces []store.Workspace) error {
	raw, err := json.Marshal(workspaces)
	if err != nil {
		return fmt.Errorf("marshal workspaces: %w", err)
	}
	if err := c.client.Set(ctx, workspacesKey(userID), raw, workspacesTTL).Err(); err != nil {
		return fmt.Errorf("cache workspaces: %w", err)
	}
	return nil
}

func (c *Cache) InvalidateWorkspaces(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, workspacesKey(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate workspaces: %w", err)
	}
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
