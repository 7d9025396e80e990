package waitresume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "flowengine:wait:"

func entriesKey() string { return keyPrefix + "entries" }

func eventKey(eventType string) string { return keyPrefix + "event:" + eventType }

func dueKey() string { return keyPrefix + "due" }

// RedisIndex keeps the wait index in Redis so several engine processes share it.
// Entries live in one hash, each event type has a set of execution ids, and deadlines
// are a sorted set scored by unix milliseconds.
type RedisIndex struct {
	client goredis.Cmdable
}

// NewRedisIndex creates an index on client. The caller owns the client lifecycle.
func NewRedisIndex(client goredis.Cmdable) *RedisIndex {
	return &RedisIndex{client: client}
}

// Ping verifies the Redis connection is alive.
func (r *RedisIndex) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisIndex) Add(ctx context.Context, entry Entry) error {
	err := r.Remove(ctx, entry.ExecutionID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("waitresume/redis: encode entry: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, entriesKey(), entry.ExecutionID, string(data))
	pipe.SAdd(ctx, eventKey(entry.EventType), entry.ExecutionID)

	if entry.ResumeAt != nil {
		pipe.ZAdd(ctx, dueKey(), goredis.Z{Score: float64(entry.ResumeAt.UnixMilli()), Member: entry.ExecutionID})
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("waitresume/redis: add %s: %w", entry.ExecutionID, err)
	}

	return nil
}

func (r *RedisIndex) Remove(ctx context.Context, executionID string) error {
	raw, err := r.client.HGet(ctx, entriesKey(), executionID).Result()
	if errors.Is(err, goredis.Nil) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("waitresume/redis: get %s: %w", executionID, err)
	}

	var existing Entry

	err = json.Unmarshal([]byte(raw), &existing)
	if err != nil {
		return fmt.Errorf("waitresume/redis: decode %s: %w", executionID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.HDel(ctx, entriesKey(), executionID)
	pipe.SRem(ctx, eventKey(existing.EventType), executionID)
	pipe.ZRem(ctx, dueKey(), executionID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("waitresume/redis: remove %s: %w", executionID, err)
	}

	return nil
}

func (r *RedisIndex) Find(ctx context.Context, eventType string) ([]Entry, error) {
	ids, err := r.client.SMembers(ctx, eventKey(eventType)).Result()
	if err != nil {
		return nil, fmt.Errorf("waitresume/redis: members of %s: %w", eventType, err)
	}

	entries, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	sortByID(entries)

	return entries, nil
}

func (r *RedisIndex) Due(ctx context.Context, now time.Time) ([]Entry, error) {
	ids, err := r.client.ZRangeByScore(ctx, dueKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("waitresume/redis: due: %w", err)
	}

	entries, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	// millisecond scores are coarser than deadlines
	due := entries[:0]

	for _, entry := range entries {
		if entry.ResumeAt != nil && !entry.ResumeAt.After(now) {
			due = append(due, entry)
		}
	}

	sortByDeadline(due)

	return due, nil
}

func (r *RedisIndex) load(ctx context.Context, ids []string) ([]Entry, error) {
	if len(ids) == 0 {
		return []Entry{}, nil
	}

	values, err := r.client.HMGet(ctx, entriesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("waitresume/redis: load entries: %w", err)
	}

	entries := make([]Entry, 0, len(values))

	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}

		var entry Entry

		err := json.Unmarshal([]byte(raw), &entry)
		if err != nil {
			return nil, fmt.Errorf("waitresume/redis: decode entry: %w", err)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
