package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/finbase/stockpulse/pkg/types"
)

const (
	currentKeyPrefix = "task:current:"
	historyKeyPrefix = "task:history:"
)

// RedisStore is the remote key-value backend: current state as a single
// key, history as a list with push-right semantics.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials redis and verifies the connection
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Close closes the redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// SaveCurrent overwrites task:current:{task_id}
func (s *RedisStore) SaveCurrent(ctx context.Context, taskID string, state *types.Task) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", taskID, err)
	}
	if err := s.client.Set(ctx, currentKeyPrefix+taskID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save current state for %s: %w", taskID, err)
	}
	return nil
}

// LoadCurrent reads task:current:{task_id}
func (s *RedisStore) LoadCurrent(ctx context.Context, taskID string) (*types.Task, error) {
	data, err := s.client.Get(ctx, currentKeyPrefix+taskID).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current state for %s: %w", taskID, err)
	}
	var task types.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to decode current state for %s: %w", taskID, err)
	}
	return &task, nil
}

// AppendHistory right-pushes onto task:history:{task_id}
func (s *RedisStore) AppendHistory(ctx context.Context, taskID string, state *types.Task) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal history snapshot for %s: %w", taskID, err)
	}
	if err := s.client.RPush(ctx, historyKeyPrefix+taskID, data).Err(); err != nil {
		return fmt.Errorf("failed to append history for %s: %w", taskID, err)
	}
	return nil
}

// LoadHistory returns the full task:history:{task_id} list in order
func (s *RedisStore) LoadHistory(ctx context.Context, taskID string) ([]*types.Task, error) {
	items, err := s.client.LRange(ctx, historyKeyPrefix+taskID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", taskID, err)
	}
	history := make([]*types.Task, 0, len(items))
	for _, item := range items {
		var task types.Task
		if err := json.Unmarshal([]byte(item), &task); err != nil {
			return nil, fmt.Errorf("failed to decode history entry for %s: %w", taskID, err)
		}
		history = append(history, &task)
	}
	return history, nil
}

// ListCurrent scans task:current:* keys
func (s *RedisStore) ListCurrent(ctx context.Context) ([]*types.Task, error) {
	var tasks []*types.Task
	iter := s.client.Scan(ctx, 0, currentKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			continue
		}
		tasks = append(tasks, &task)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan current states: %w", err)
	}
	return tasks, nil
}
