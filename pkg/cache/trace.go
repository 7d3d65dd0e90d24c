package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/finbase/stockpulse/pkg/types"
)

// TraceWriter mirrors a task's step history to per-step JSON files under
// {data_dir}/analysis_results/{task_id}/steps for offline inspection.
type TraceWriter struct {
	dir string
	n   int
}

// NewTraceWriter creates the per-task trace directory
func NewTraceWriter(dataDir, taskID string) (*TraceWriter, error) {
	dir := filepath.Join(dataDir, "analysis_results", taskID, "steps")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create step trace directory: %w", err)
	}
	return &TraceWriter{dir: dir}, nil
}

// Dir returns the trace directory path
func (w *TraceWriter) Dir() string { return w.dir }

// WriteStep appends one step entry as step_{NNNN}.json
func (w *TraceWriter) WriteStep(entry types.StepHistoryEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal step entry: %w", err)
	}
	name := fmt.Sprintf("step_%04d.json", w.n)
	w.n++
	if err := os.WriteFile(filepath.Join(w.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write step trace: %w", err)
	}
	return nil
}

// Finalize writes the combined ledger and a run summary alongside the
// per-step files.
func (w *TraceWriter) Finalize(entries []types.StepHistoryEntry, status types.Status, elapsed float64) error {
	all, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal step ledger: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, "all_steps.json"), all, 0o644); err != nil {
		return fmt.Errorf("failed to write step ledger: %w", err)
	}

	summary := map[string]any{
		"status":       status,
		"step_count":   len(entries),
		"elapsed_time": elapsed,
		"finished_at":  time.Now(),
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal step summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, "steps_summary.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write step summary: %w", err)
	}
	return nil
}
