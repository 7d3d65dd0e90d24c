package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finbase/stockpulse/pkg/agent"
	"github.com/finbase/stockpulse/pkg/cache"
	"github.com/finbase/stockpulse/pkg/config"
	"github.com/finbase/stockpulse/pkg/control"
	"github.com/finbase/stockpulse/pkg/fabric"
	"github.com/finbase/stockpulse/pkg/log"
	"github.com/finbase/stockpulse/pkg/metrics"
	"github.com/finbase/stockpulse/pkg/statemachine"
	"github.com/finbase/stockpulse/pkg/steps"
	"github.com/finbase/stockpulse/pkg/store"
	"github.com/finbase/stockpulse/pkg/tracker"
	"github.com/finbase/stockpulse/pkg/types"
)

var (
	// ErrNotFound is returned when no task exists with the given ID
	ErrNotFound = errors.New("task not found")

	// ErrNotRunning is returned when a control action needs a live worker
	ErrNotRunning = errors.New("task has no running worker")
)

// entry tracks one live task: its machine, tracker, control handle, plan,
// and the worker's cancel function.
type entry struct {
	machine *statemachine.Machine
	tracker *tracker.Tracker
	handle  *control.Handle
	plan    *steps.Plan
	cancel  context.CancelFunc

	// startMu serializes the worker's first RUNNING transition against
	// Pause, so a pause issued while the task is still PENDING lands
	// before the worker begins executing
	startMu sync.Mutex
}

// Manager owns the task registry and runs one worker goroutine per task
type Manager struct {
	cfg         *config.Config
	store       store.Store
	fab         fabric.Fabric
	registry    *agent.Registry
	reuser      *cache.Reuser
	checkpoints *control.CheckpointStore

	mu    sync.RWMutex
	tasks map[string]*entry

	wg sync.WaitGroup
}

// New wires a manager over the given backends
func New(cfg *config.Config, st store.Store, fab fabric.Fabric, registry *agent.Registry, reuser *cache.Reuser) (*Manager, error) {
	checkpoints, err := control.NewCheckpointStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:         cfg,
		store:       st,
		fab:         fab,
		registry:    registry,
		reuser:      reuser,
		checkpoints: checkpoints,
		tasks:       make(map[string]*entry),
	}
	reuser.SetShapeCheck(agent.OutputOK)
	metrics.RegisterComponent("manager", true, "")
	return m, nil
}

// StartTask validates the submission, creates the task record, and starts
// its worker. Returns the new task ID.
func (m *Manager) StartTask(ctx context.Context, req types.AnalysisRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	taskID := uuid.NewString()
	sessionID := uuid.NewString()

	plan := steps.Generate(req.Analysts, req.ResearchDepth, req.MarketType)
	machine, err := statemachine.Initialize(ctx, m.store, taskID, sessionID, req)
	if err != nil {
		return "", fmt.Errorf("failed to initialize task: %w", err)
	}

	estimate := steps.EstimateDuration(m.cfg, len(req.Analysts), req.ResearchDepth, req.LLMProvider)
	trk := tracker.New(taskID, plan, machine, m.fab, estimate)
	handle := control.NewHandle(taskID, m.cfg.Control.PollInterval)

	workerCtx, cancel := context.WithCancel(context.Background())
	if timeout, ok := req.Timeout(); ok {
		workerCtx, cancel = context.WithTimeout(context.Background(), timeout)
	}

	e := &entry{machine: machine, tracker: trk, handle: handle, plan: plan, cancel: cancel}
	m.mu.Lock()
	m.tasks[taskID] = e
	m.mu.Unlock()

	metrics.TasksStarted.Inc()
	metrics.ActiveWorkers.Inc()
	m.wg.Add(1)
	go m.run(workerCtx, taskID, sessionID, e, req)

	log.WithTaskID(taskID).Info().
		Str("symbol", req.StockSymbol).
		Str("market", string(req.MarketType)).
		Int("depth", req.ResearchDepth).
		Int("steps", plan.Len()).
		Msg("task started")
	return taskID, nil
}

// StartBatch submits several analyses; each failure is reported in place
// without aborting the rest.
func (m *Manager) StartBatch(ctx context.Context, reqs []types.AnalysisRequest) ([]string, []error) {
	ids := make([]string, len(reqs))
	errs := make([]error, len(reqs))
	for i, req := range reqs {
		ids[i], errs[i] = m.StartTask(ctx, req)
	}
	return ids, errs
}

// Pause closes the task's pause gate and records the PAUSED transition
func (m *Manager) Pause(ctx context.Context, taskID string) error {
	e, err := m.controllable(ctx, taskID)
	if err != nil {
		return err
	}
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if !e.handle.Pause() {
		return fmt.Errorf("task %s is not pausable (state %s)", taskID, e.handle.State())
	}
	if err := e.tracker.MarkPaused(ctx, "analysis paused"); err != nil {
		return err
	}
	m.snapshotControl(taskID, e)
	return nil
}

// Resume reopens the pause gate and records the RUNNING transition
func (m *Manager) Resume(ctx context.Context, taskID string) error {
	e, err := m.controllable(ctx, taskID)
	if err != nil {
		return err
	}
	if !e.handle.Resume() {
		return fmt.Errorf("task %s is not paused", taskID)
	}
	if err := e.tracker.MarkResumed(ctx, "analysis resumed"); err != nil {
		return err
	}
	m.snapshotControl(taskID, e)
	return nil
}

// Stop fires the task's stop latch. The worker observes it at its next
// safe point and finalizes the task as STOPPED; stopping twice is a no-op.
func (m *Manager) Stop(ctx context.Context, taskID string) error {
	e, err := m.controllable(ctx, taskID)
	if err != nil {
		return err
	}
	e.handle.Stop()
	m.snapshotControl(taskID, e)
	return nil
}

// snapshotControl persists the handle's control state into the task's
// checkpoint file, so pause/resume/stop decisions survive a restart and
// not only step boundaries.
func (m *Manager) snapshotControl(taskID string, e *entry) {
	cp := checkpoint{TaskID: taskID, Control: e.handle.State(), UpdatedAt: time.Now()}
	if data, err := m.checkpoints.Load(taskID); err == nil {
		var prev checkpoint
		if json.Unmarshal(data, &prev) == nil {
			cp.NextStep = prev.NextStep
		}
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return
	}
	if err := m.checkpoints.Save(taskID, data); err != nil {
		log.WithTaskID(taskID).Warn().Err(err).Msg("failed to save control checkpoint")
	}
}

// controllable resolves a task for a control action. A task that exists
// only in the store has already finished, so there is no worker to signal.
func (m *Manager) controllable(ctx context.Context, taskID string) (*entry, error) {
	e, err := m.live(taskID)
	if err == nil {
		return e, nil
	}
	if _, serr := m.store.LoadCurrent(ctx, taskID); serr == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, taskID)
	}
	return nil, err
}

// GetTask returns the task record, preferring the live machine and
// falling back to the store for finished or recovered tasks.
func (m *Manager) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	if e, err := m.live(taskID); err == nil {
		return e.machine.Current(), nil
	}
	task, err := m.store.LoadCurrent(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return task, err
}

// GetHistory returns the ordered snapshot history for a task
func (m *Manager) GetHistory(ctx context.Context, taskID string) ([]*types.Task, error) {
	if e, err := m.live(taskID); err == nil {
		return e.machine.History(), nil
	}
	history, err := m.store.LoadHistory(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return history, nil
}

// GetLedger returns the step-history ledger of a live task
func (m *Manager) GetLedger(taskID string) ([]types.StepHistoryEntry, error) {
	e, err := m.live(taskID)
	if err != nil {
		return nil, err
	}
	return e.tracker.Ledger(), nil
}

// ListTasks returns every known task record; a live worker's view wins
// over its stored copy. Sorted newest-first by creation time.
func (m *Manager) ListTasks() []*types.Task {
	seen := make(map[string]*types.Task)

	m.mu.RLock()
	for id, e := range m.tasks {
		seen[id] = e.machine.Current()
	}
	m.mu.RUnlock()

	stored, err := m.store.ListCurrent(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("failed to list stored tasks")
	}
	for _, t := range stored {
		if _, ok := seen[t.TaskID]; !ok {
			seen[t.TaskID] = t
		}
	}

	out := make([]*types.Task, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ReconcileOrphans marks stored tasks that claim to be in flight but have
// no live worker as FAILED. Run once at startup, before accepting work.
func (m *Manager) ReconcileOrphans(ctx context.Context) int {
	stored, err := m.store.ListCurrent(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("orphan reconciliation could not list tasks")
		return 0
	}

	reconciled := 0
	for _, t := range stored {
		if t.Status.IsTerminal() {
			continue
		}
		if _, err := m.live(t.TaskID); err == nil {
			continue
		}
		machine, err := statemachine.Load(ctx, m.store, t.TaskID)
		if err != nil {
			log.WithTaskID(t.TaskID).Warn().Err(err).Msg("failed to load orphaned task")
			continue
		}
		err = machine.Update(ctx, statemachine.Update{
			Status: statemachine.StatusPtr(types.StatusFailed),
			Error:  statemachine.StrPtr("worker died"),
		})
		if err != nil {
			log.WithTaskID(t.TaskID).Warn().Err(err).Msg("failed to fail orphaned task")
			continue
		}
		metrics.TasksFailed.Inc()
		reconciled++
		if err := m.fab.Publish(fabric.TopicStatus, types.StatusMessage{
			AnalysisID: t.TaskID,
			Status:     types.StatusFailed,
			Message:    "worker died",
			Timestamp:  time.Now(),
		}); err != nil {
			log.WithTaskID(t.TaskID).Warn().Err(err).Msg("failed to publish orphan status")
		}
		log.WithTaskID(t.TaskID).Warn().
			Str("was", string(t.Status)).
			Msg("orphaned task marked failed")
	}
	if reconciled > 0 {
		log.Info().Int("count", reconciled).Msg("orphan reconciliation complete")
	}
	return reconciled
}

// Checkpoints exposes the checkpoint store for maintenance jobs
func (m *Manager) Checkpoints() *control.CheckpointStore { return m.checkpoints }

// Shutdown stops all live workers and waits for them to finish
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, e := range m.tasks {
		e.handle.Stop()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (m *Manager) live(taskID string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return e, nil
}

// unregister drops a finished task from the live map. The stored record
// remains queryable.
func (m *Manager) unregister(taskID string) {
	m.mu.Lock()
	if e, ok := m.tasks[taskID]; ok {
		e.cancel()
		delete(m.tasks, taskID)
	}
	m.mu.Unlock()
	metrics.ActiveWorkers.Dec()
}
