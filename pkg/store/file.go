package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/finbase/stockpulse/pkg/types"
)

const stateDirName = "task_states"

// FileStore is the local filesystem backend: one JSON document per task for
// current state, one JSON array file per task for history. Writes are
// serialized per task so the read-modify-write of the history file is safe.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates a file-backed store rooted at {dataDir}/task_states
func NewFileStore(dataDir string) (*FileStore, error) {
	dir := filepath.Join(dataDir, stateDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// Close is a no-op for the file backend
func (s *FileStore) Close() error { return nil }

func (s *FileStore) taskLock(taskID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[taskID] = l
	}
	return l
}

func (s *FileStore) currentPath(taskID string) string {
	return filepath.Join(s.dir, taskID+"_current.json")
}

func (s *FileStore) historyPath(taskID string) string {
	return filepath.Join(s.dir, taskID+"_history.json")
}

// SaveCurrent overwrites {task_id}_current.json atomically
func (s *FileStore) SaveCurrent(ctx context.Context, taskID string, state *types.Task) error {
	l := s.taskLock(taskID)
	l.Lock()
	defer l.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", taskID, err)
	}
	return writeAtomic(s.currentPath(taskID), data)
}

// LoadCurrent reads {task_id}_current.json
func (s *FileStore) LoadCurrent(ctx context.Context, taskID string) (*types.Task, error) {
	l := s.taskLock(taskID)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(s.currentPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read current state for %s: %w", taskID, err)
	}
	var task types.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to decode current state for %s: %w", taskID, err)
	}
	return &task, nil
}

// AppendHistory appends to the JSON array in {task_id}_history.json
func (s *FileStore) AppendHistory(ctx context.Context, taskID string, state *types.Task) error {
	l := s.taskLock(taskID)
	l.Lock()
	defer l.Unlock()

	history, err := s.readHistory(taskID)
	if err != nil {
		return err
	}
	history = append(history, state)

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history for %s: %w", taskID, err)
	}
	return writeAtomic(s.historyPath(taskID), data)
}

// LoadHistory returns the ordered snapshot list for a task
func (s *FileStore) LoadHistory(ctx context.Context, taskID string) ([]*types.Task, error) {
	l := s.taskLock(taskID)
	l.Lock()
	defer l.Unlock()
	return s.readHistory(taskID)
}

// ListCurrent scans the state directory for *_current.json documents
func (s *FileStore) ListCurrent(ctx context.Context) ([]*types.Task, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list state directory: %w", err)
	}

	var tasks []*types.Task
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, "_current.json") {
			continue
		}
		taskID := strings.TrimSuffix(name, "_current.json")
		task, err := s.LoadCurrent(ctx, taskID)
		if err != nil {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (s *FileStore) readHistory(taskID string) ([]*types.Task, error) {
	data, err := os.ReadFile(s.historyPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history for %s: %w", taskID, err)
	}
	var history []*types.Task
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to decode history for %s: %w", taskID, err)
	}
	return history, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
