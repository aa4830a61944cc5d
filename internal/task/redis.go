package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// taskKeyPrefix namespaces task snapshots in Redis
const taskKeyPrefix = "profilegen:task:"

// RedisSnapshotStore persists task record snapshots to Redis so they survive
// process restarts. It implements SnapshotSink.
type RedisSnapshotStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSnapshotStore creates a snapshot store. ttl bounds how long records
// live in Redis independent of the registry's own retention sweep; zero means
// no expiry.
func NewRedisSnapshotStore(rdb *redis.Client, ttl time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{rdb: rdb, ttl: ttl}
}

// SaveTask writes a task snapshot
func (s *RedisSnapshotStore) SaveTask(ctx context.Context, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", t.ID, err)
	}
	if err := s.rdb.Set(ctx, taskKeyPrefix+t.ID.String(), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save task %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTask removes a task snapshot
func (s *RedisSnapshotStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	if err := s.rdb.Del(ctx, taskKeyPrefix+id.String()).Err(); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// LoadAll reads every persisted task snapshot, for startup-time restore
func (s *RedisSnapshotStore) LoadAll(ctx context.Context) ([]*Task, error) {
	var tasks []*Task

	iter := s.rdb.Scan(ctx, 0, taskKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue // expired between scan and get
			}
			return nil, fmt.Errorf("failed to read task snapshot %s: %w", iter.Val(), err)
		}

		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task snapshot %s: %w", iter.Val(), err)
		}
		tasks = append(tasks, &t)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan task snapshots: %w", err)
	}

	return tasks, nil
}
