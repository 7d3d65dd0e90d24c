package store

import (
	"context"
	"errors"

	"github.com/finbase/stockpulse/pkg/config"
	"github.com/finbase/stockpulse/pkg/log"
	"github.com/finbase/stockpulse/pkg/metrics"
	"github.com/finbase/stockpulse/pkg/types"
)

// ErrNotFound is returned when no current state exists for a task
var ErrNotFound = errors.New("task state not found")

// Store is the durable key-value interface for task state.
// Two record kinds exist per task: a current-state document (overwritten on
// every mutation) and an append-only history list of pre-mutation snapshots.
// Implementations are safe for concurrent use.
type Store interface {
	// SaveCurrent overwrites the current state document for a task
	SaveCurrent(ctx context.Context, taskID string, state *types.Task) error

	// LoadCurrent returns the current state, or ErrNotFound
	LoadCurrent(ctx context.Context, taskID string) (*types.Task, error)

	// AppendHistory appends a snapshot to the task's ordered history list
	AppendHistory(ctx context.Context, taskID string, state *types.Task) error

	// LoadHistory returns the ordered history list (possibly empty)
	LoadHistory(ctx context.Context, taskID string) ([]*types.Task, error)

	// ListCurrent returns the current state of every known task
	ListCurrent(ctx context.Context) ([]*types.Task, error)

	// Close releases backend resources
	Close() error
}

// Open resolves the configured backend. When the remote backend cannot be
// reached the local file backend is used instead; the fallback is logged.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	logger := log.WithComponent("store")

	if cfg.Storage.Backend == config.StorageRedis {
		s, err := NewRedisStore(ctx, cfg.Storage.RedisURL)
		if err == nil {
			logger.Info().Str("backend", "redis").Msg("state store ready")
			metrics.RegisterComponent("store", true, "redis")
			return s, nil
		}
		logger.Warn().Err(err).Msg("redis state store unavailable, falling back to local files")
	}

	s, err := NewFileStore(cfg.DataDir)
	if err != nil {
		metrics.RegisterComponent("store", false, err.Error())
		return nil, err
	}
	logger.Info().Str("backend", "file").Str("data_dir", cfg.DataDir).Msg("state store ready")
	metrics.RegisterComponent("store", true, "file")
	return s, nil
}
