package statemachine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/finbase/stockpulse/pkg/log"
	"github.com/finbase/stockpulse/pkg/store"
	"github.com/finbase/stockpulse/pkg/types"
)

var (
	// ErrAlreadyExists is returned when initializing a task whose ID is taken
	ErrAlreadyExists = errors.New("task already exists")

	// ErrTerminal is returned when a mutation is attempted on a terminal task
	ErrTerminal = errors.New("task is in a terminal state")

	// ErrNoState is returned when no current state can be located
	ErrNoState = errors.New("no current state")
)

// ProgressUpdate merges field-wise into the task's progress record.
// Nil fields are left untouched.
type ProgressUpdate struct {
	CurrentStep        *int
	TotalSteps         *int
	Percentage         *float64
	Message            *string
	AnalysisStartTime  *float64
	ElapsedTime        *float64
	RemainingTime      *float64
	EstimatedTotalTime *float64
}

// Update is a partial mutation applied by Machine.Update. The merge is
// shallow except for Progress, which merges field-wise.
type Update struct {
	Status       *types.Status
	ControlState *types.ControlState
	Progress     *ProgressUpdate
	CurrentStep  *types.StepHistoryEntry
	Result       *types.Result
	Error        *string
	LastMessage  *string
	Checkpoint   json.RawMessage
}

// Machine is the single mutation path for one task record. Every transition
// is serialized under the machine's lock, persisted to the store, and
// preceded by an append of the pre-mutation snapshot to history.
type Machine struct {
	mu      sync.Mutex
	store   store.Store
	taskID  string
	current *types.Task
	history []*types.Task
}

// Initialize creates the task record, seeds history with the initial
// snapshot, and persists both. It fails with ErrAlreadyExists when the
// store already holds a task with this ID.
func Initialize(ctx context.Context, st store.Store, taskID, sessionID string, params types.AnalysisRequest) (*Machine, error) {
	if _, err := st.LoadCurrent(ctx, taskID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, taskID)
	} else if !errors.Is(err, store.ErrNotFound) {
		// Store unreachable; the in-memory record stays authoritative
		log.WithTaskID(taskID).Warn().Err(err).Msg("existence check against store failed")
	}

	now := time.Now()
	task := &types.Task{
		TaskID:       taskID,
		SessionID:    sessionID,
		Status:       types.StatusPending,
		ControlState: types.ControlRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
		Params:       params,
	}

	m := &Machine{store: st, taskID: taskID, current: task}
	m.persistCurrent(ctx)
	m.appendHistory(ctx, task.Clone())
	return m, nil
}

// Load reconstitutes a machine from persisted state (restart recovery)
func Load(ctx context.Context, st store.Store, taskID string) (*Machine, error) {
	current, err := st.LoadCurrent(ctx, taskID)
	if err != nil {
		return nil, err
	}
	history, err := st.LoadHistory(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &Machine{store: st, taskID: taskID, current: current, history: history}, nil
}

// Current returns a copy of the authoritative task record
func (m *Machine) Current() *types.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone()
}

// History returns the ordered list of prior snapshots. The first entry is
// the initial state; each subsequent entry is the pre-mutation snapshot of
// the corresponding update.
func (m *Machine) History() []*types.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Task, len(m.history))
	for i, h := range m.history {
		out[i] = h.Clone()
	}
	return out
}

// Update applies a partial mutation. The pre-mutation snapshot is appended
// to history before the merge; updated_at is stamped monotonically.
// Mutating a terminal task is an invariant violation and is rejected.
func (m *Machine) Update(ctx context.Context, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		// Reload from store before giving up
		current, err := m.store.LoadCurrent(ctx, m.taskID)
		if err != nil || current == nil {
			return ErrNoState
		}
		m.current = current
	}

	if m.current.Status.IsTerminal() {
		log.WithTaskID(m.current.TaskID).Error().
			Str("status", string(m.current.Status)).
			Msg("state transition attempted on terminal task")
		return fmt.Errorf("%w: %s", ErrTerminal, m.current.Status)
	}

	if u.Status != nil {
		if !legalTransition(m.current.Status, *u.Status) {
			log.WithTaskID(m.current.TaskID).Error().
				Str("from", string(m.current.Status)).
				Str("to", string(*u.Status)).
				Msg("illegal status transition rejected")
			return fmt.Errorf("illegal transition %s -> %s", m.current.Status, *u.Status)
		}
	}

	snapshot := m.current.Clone()
	m.appendHistory(ctx, snapshot)

	m.apply(u)

	now := time.Now()
	if !now.After(m.current.UpdatedAt) {
		now = m.current.UpdatedAt.Add(time.Nanosecond)
	}
	m.current.UpdatedAt = now

	m.persistCurrent(ctx)
	return nil
}

func (m *Machine) apply(u Update) {
	t := m.current
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.ControlState != nil {
		t.ControlState = *u.ControlState
	}
	if u.CurrentStep != nil {
		step := *u.CurrentStep
		t.CurrentStep = &step
	}
	if u.Result != nil {
		t.Result = u.Result
	}
	if u.Error != nil {
		t.Error = *u.Error
	}
	if u.LastMessage != nil {
		t.LastMessage = *u.LastMessage
	}
	if u.Checkpoint != nil {
		t.Checkpoint = append(json.RawMessage(nil), u.Checkpoint...)
	}
	if u.Progress != nil {
		p := &t.Progress
		if v := u.Progress.CurrentStep; v != nil {
			p.CurrentStep = *v
		}
		if v := u.Progress.TotalSteps; v != nil {
			p.TotalSteps = *v
		}
		if v := u.Progress.Percentage; v != nil {
			p.Percentage = *v
		}
		if v := u.Progress.Message; v != nil {
			p.Message = *v
		}
		if v := u.Progress.AnalysisStartTime; v != nil {
			p.AnalysisStartTime = *v
		}
		if v := u.Progress.ElapsedTime; v != nil {
			p.ElapsedTime = *v
		}
		if v := u.Progress.RemainingTime; v != nil {
			p.RemainingTime = *v
		}
		if v := u.Progress.EstimatedTotalTime; v != nil {
			p.EstimatedTotalTime = *v
		}
	}
}

// legalTransition enforces
// PENDING -> {RUNNING | PAUSED} -> {PAUSED <-> RUNNING}* -> terminal.
// A task may be paused before its worker starts executing.
func legalTransition(from, to types.Status) bool {
	if from == to {
		return true
	}
	switch from {
	case types.StatusPending:
		return to == types.StatusRunning || to == types.StatusPaused || to.IsTerminal()
	case types.StatusRunning:
		return to == types.StatusPaused || to.IsTerminal()
	case types.StatusPaused:
		return to == types.StatusRunning || to.IsTerminal()
	default:
		return false
	}
}

// persistCurrent writes the current record; failures are logged and the
// in-memory copy stays authoritative
func (m *Machine) persistCurrent(ctx context.Context) {
	if err := m.store.SaveCurrent(ctx, m.current.TaskID, m.current); err != nil {
		log.WithTaskID(m.current.TaskID).Warn().Err(err).Msg("failed to persist current state")
	}
}

func (m *Machine) appendHistory(ctx context.Context, snapshot *types.Task) {
	m.history = append(m.history, snapshot)
	if err := m.store.AppendHistory(ctx, snapshot.TaskID, snapshot); err != nil {
		log.WithTaskID(snapshot.TaskID).Warn().Err(err).Msg("failed to persist history snapshot")
	}
}

// Pointer helpers for building Updates

func StatusPtr(s types.Status) *types.Status                { return &s }
func ControlPtr(c types.ControlState) *types.ControlState   { return &c }
func StrPtr(s string) *string                               { return &s }
func IntPtr(i int) *int                                     { return &i }
func FloatPtr(f float64) *float64                           { return &f }
