package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceCache handles Redis operations for participant liveness. It is a
// cheap side channel for heartbeats and the denormalized participant count;
// the participant documents in the store stay authoritative.
type PresenceCache interface {
	Touch(ctx context.Context, roomID, participantID string, at time.Time) error
	LastSeen(ctx context.Context, roomID, participantID string) (time.Time, bool, error)
	All(ctx context.Context, roomID string) (map[string]time.Time, error)
	Remove(ctx context.Context, roomID, participantID string) error
	Clear(ctx context.Context, roomID string) error

	SetCount(ctx context.Context, roomID string, n int) error
	GetCount(ctx context.Context, roomID string) (int, error)
}

type presenceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPresenceCache creates a new presence cache
func NewPresenceCache(client *redis.Client) PresenceCache {
	return &presenceCache{
		client: client,
		ttl:    24 * time.Hour, // rooms never outlive a day of silence
	}
}

func (c *presenceCache) key(roomID string) string {
	return fmt.Sprintf("room:%s:presence", roomID)
}

func (c *presenceCache) countKey(roomID string) string {
	return fmt.Sprintf("room:%s:count", roomID)
}

func (c *presenceCache) Touch(ctx context.Context, roomID, participantID string, at time.Time) error {
	key := c.key(roomID)
	if err := c.client.HSet(ctx, key, participantID, at.UnixMilli()).Err(); err != nil {
		return err
	}
	return c.client.Expire(ctx, key, c.ttl).Err()
}

func (c *presenceCache) LastSeen(ctx context.Context, roomID, participantID string) (time.Time, bool, error) {
	val, err := c.client.HGet(ctx, c.key(roomID), participantID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (c *presenceCache) All(ctx context.Context, roomID string) (map[string]time.Time, error) {
	vals, err := c.client.HGetAll(ctx, c.key(roomID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(vals))
	for id, val := range vals {
		ms, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		out[id] = time.UnixMilli(ms)
	}
	return out, nil
}

func (c *presenceCache) Remove(ctx context.Context, roomID, participantID string) error {
	return c.client.HDel(ctx, c.key(roomID), participantID).Err()
}

func (c *presenceCache) Clear(ctx context.Context, roomID string) error {
	return c.client.Del(ctx, c.key(roomID), c.countKey(roomID)).Err()
}

func (c *presenceCache) SetCount(ctx context.Context, roomID string, n int) error {
	return c.client.Set(ctx, c.countKey(roomID), n, c.ttl).Err()
}

func (c *presenceCache) GetCount(ctx context.Context, roomID string) (int, error) {
	val, err := c.client.Get(ctx, c.countKey(roomID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(val)
}
