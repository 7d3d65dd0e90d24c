package control

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/finbase/stockpulse/pkg/log"
)

const checkpointPrefix = "state_"

// CheckpointStore persists per-task resume checkpoints as JSON files under
// {data_dir}/checkpoints/state_{task_id}.json.
type CheckpointStore struct {
	dir string
}

// NewCheckpointStore ensures the checkpoint directory exists
func NewCheckpointStore(dataDir string) (*CheckpointStore, error) {
	dir := filepath.Join(dataDir, "checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &CheckpointStore{dir: dir}, nil
}

func (c *CheckpointStore) path(taskID string) string {
	return filepath.Join(c.dir, checkpointPrefix+taskID+".json")
}

// Save writes the checkpoint atomically (write temp, rename)
func (c *CheckpointStore) Save(taskID string, state json.RawMessage) error {
	tmp := c.path(taskID) + ".tmp"
	if err := os.WriteFile(tmp, state, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, c.path(taskID)); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint for a task; os.ErrNotExist when absent
func (c *CheckpointStore) Load(taskID string) (json.RawMessage, error) {
	data, err := os.ReadFile(c.path(taskID))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Delete removes the checkpoint; missing files are not an error
func (c *CheckpointStore) Delete(taskID string) error {
	err := os.Remove(c.path(taskID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// GC removes checkpoints older than maxAge and returns how many went
func (c *CheckpointStore) GC(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to scan checkpoint directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, checkpointPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("failed to remove stale checkpoint")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("checkpoint garbage collection complete")
	}
	return removed, nil
}
