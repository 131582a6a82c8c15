package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultBufferKey is the Redis list that holds the preview entries.
const DefaultBufferKey = "educode:preview_logs"

// RedisBuffer stores the preview entries in a single Redis list so several
// local processes can share one viewer.
type RedisBuffer struct {
	client   redis.Cmdable
	key      string
	capacity int
}

// NewRedisBuffer creates a buffer on the given list key.
func NewRedisBuffer(client redis.Cmdable, key string, capacity int) *RedisBuffer {
	if key == "" {
		key = DefaultBufferKey
	}
	return &RedisBuffer{client: client, key: key, capacity: normalizeCapacity(capacity)}
}

// Append pushes the entry and trims the list to capacity in one transaction.
func (b *RedisBuffer) Append(ctx context.Context, entry LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode preview entry: %w", err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, b.key, data)
		pipe.LTrim(ctx, b.key, -int64(b.capacity), -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append preview entry: %w", err)
	}
	return nil
}

// All returns the list contents, oldest first. Undecodable items are skipped.
func (b *RedisBuffer) All(ctx context.Context) ([]LogEntry, error) {
	items, err := b.client.LRange(ctx, b.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read preview entries: %w", err)
	}

	entries := make([]LogEntry, 0, len(items))
	for _, item := range items {
		var entry LogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Clear deletes the list.
func (b *RedisBuffer) Clear(ctx context.Context) error {
	if err := b.client.Del(ctx, b.key).Err(); err != nil {
		return fmt.Errorf("failed to clear preview entries: %w", err)
	}
	return nil
}
