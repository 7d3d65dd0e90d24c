package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/finbase/stockpulse/pkg/fabric"
	"github.com/finbase/stockpulse/pkg/log"
	"github.com/finbase/stockpulse/pkg/metrics"
	"github.com/finbase/stockpulse/pkg/statemachine"
	"github.com/finbase/stockpulse/pkg/steps"
	"github.com/finbase/stockpulse/pkg/types"
)

// Tracker maintains the step-history ledger for one task and derives the
// authoritative progress percentage from planned-step weights. Every
// observation flows through the state machine and out onto the fabric.
type Tracker struct {
	mu      sync.Mutex
	taskID  string
	plan    *steps.Plan
	machine *statemachine.Machine
	fab     fabric.Fabric

	estimate float64 // seconds

	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration

	// cursor is the highest step index observed so far; repeated debate
	// modules resolve to their occurrence at or after it
	cursor int

	ledger []types.StepHistoryEntry
	open   *types.StepHistoryEntry
}

// New builds a tracker over a planned pipeline. estimateSeconds is the
// configured run-time estimate used for remaining-time reporting.
func New(taskID string, plan *steps.Plan, machine *statemachine.Machine, fab fabric.Fabric, estimateSeconds float64) *Tracker {
	return &Tracker{
		taskID:   taskID,
		plan:     plan,
		machine:  machine,
		fab:      fab,
		estimate: estimateSeconds,
	}
}

// Begin marks the task RUNNING and records the analysis start time
func (t *Tracker) Begin(ctx context.Context) error {
	t.mu.Lock()
	t.startedAt = time.Now()
	// Pause spans before execution started do not count against elapsed
	t.pausedAt = time.Time{}
	t.pausedTotal = 0
	start := float64(t.startedAt.UnixNano()) / float64(time.Second)
	total := t.plan.Len()
	t.mu.Unlock()

	err := t.machine.Update(ctx, statemachine.Update{
		Status: statemachine.StatusPtr(types.StatusRunning),
		Progress: &statemachine.ProgressUpdate{
			CurrentStep:        statemachine.IntPtr(0),
			TotalSteps:         statemachine.IntPtr(total),
			Percentage:         statemachine.FloatPtr(0),
			AnalysisStartTime:  statemachine.FloatPtr(start),
			EstimatedTotalTime: statemachine.FloatPtr(t.estimate),
		},
	})
	if err != nil {
		return err
	}
	t.publishStatus(types.StatusRunning, "analysis started")
	return nil
}

// ModuleStart records a module entering execution. An open prior step is
// synthesized closed first so the ledger never holds two open entries.
func (t *Tracker) ModuleStart(ctx context.Context, module, message string) {
	t.observe(ctx, module, message, types.NodeStart)
	t.publishModule(fabric.TopicModuleStart, module, message)
}

// ModuleToolCall records tool activity inside the current module
func (t *Tracker) ModuleToolCall(ctx context.Context, module, message string) {
	t.observe(ctx, module, message, types.NodeToolCalling)
}

// ModuleComplete records a module finishing; its step closes and the
// percentage advances past the step's full weight.
func (t *Tracker) ModuleComplete(ctx context.Context, module, message string) {
	t.observe(ctx, module, message, types.NodeComplete)
	t.publishModule(fabric.TopicModuleComplete, module, message)
}

// ModuleError records a module failing; its step closes in error
func (t *Tracker) ModuleError(ctx context.Context, module, errMsg string) {
	t.observe(ctx, module, errMsg, types.NodeError)
	t.publishModule(fabric.TopicModuleError, module, errMsg)
}

// observe is the single ledger mutation path. Unknown modules update the
// last message only; the percentage never moves for them.
func (t *Tracker) observe(ctx context.Context, module, message string, node types.NodeStatus) {
	t.mu.Lock()

	idx, known := t.plan.StepForFrom(module, t.cursor)
	if !known {
		t.mu.Unlock()
		log.WithTaskID(t.taskID).Debug().Str("module", module).Msg("progress message from unplanned module")
		t.message(ctx, message)
		return
	}
	if idx > t.cursor {
		t.cursor = idx
	}
	step, _ := t.plan.Step(idx)

	now := time.Now()

	// Close any open entry for a different step before opening a new one
	if t.open != nil && t.open.StepIndex != idx {
		t.closeOpenLocked(now, types.NodeComplete)
	}

	if t.open == nil {
		t.open = &types.StepHistoryEntry{
			StepIndex:  idx,
			StepName:   step.Name,
			StartTime:  now,
			ModuleName: module,
			NodeStatus: node,
			Message:    message,
		}
		t.ledger = append(t.ledger, *t.open)
	} else {
		t.open.NodeStatus = node
		t.open.Message = message
		t.ledger[len(t.ledger)-1] = *t.open
	}

	if node == types.NodeComplete || node == types.NodeError {
		t.closeOpenLocked(now, node)
	}

	pct := t.percentageLocked(idx, node)
	elapsed := t.elapsedLocked(now)
	remaining := t.remainingLocked(pct)
	entry := t.ledger[len(t.ledger)-1]
	t.mu.Unlock()

	err := t.machine.Update(ctx, statemachine.Update{
		Progress: &statemachine.ProgressUpdate{
			CurrentStep:   statemachine.IntPtr(idx),
			Percentage:    statemachine.FloatPtr(pct),
			Message:       statemachine.StrPtr(message),
			ElapsedTime:   statemachine.FloatPtr(elapsed),
			RemainingTime: statemachine.FloatPtr(remaining),
		},
		CurrentStep: &entry,
		LastMessage: statemachine.StrPtr(message),
	})
	if err != nil {
		log.WithTaskID(t.taskID).Warn().Err(err).Str("module", module).Msg("progress update rejected")
		return
	}

	t.publishProgress(idx, step, pct, elapsed, remaining, message, module, node)
}

// Message records a free-form progress message without moving the step
func (t *Tracker) Message(ctx context.Context, message string) {
	t.message(ctx, message)
}

func (t *Tracker) message(ctx context.Context, message string) {
	if message == "" {
		return
	}
	err := t.machine.Update(ctx, statemachine.Update{
		Progress:    &statemachine.ProgressUpdate{Message: statemachine.StrPtr(message)},
		LastMessage: statemachine.StrPtr(message),
	})
	if err != nil {
		log.WithTaskID(t.taskID).Warn().Err(err).Msg("message update rejected")
	}
}

// closeOpenLocked stamps the open entry's end time and duration and
// records the step-duration observation. Callers hold t.mu.
func (t *Tracker) closeOpenLocked(now time.Time, node types.NodeStatus) {
	if t.open == nil {
		return
	}
	t.open.EndTime = now
	t.open.Duration = now.Sub(t.open.StartTime).Seconds()
	if t.open.NodeStatus != types.NodeError {
		t.open.NodeStatus = node
	}
	t.ledger[len(t.ledger)-1] = *t.open

	if step, ok := t.plan.Step(t.open.StepIndex); ok {
		metrics.StepDuration.WithLabelValues(step.Phase).Observe(t.open.Duration)
	}
	t.open = nil
}

// percentageLocked derives progress from planned-step weights: a started
// step contributes nothing until complete, when its full weight lands.
func (t *Tracker) percentageLocked(idx int, node types.NodeStatus) float64 {
	frac := t.plan.CumulativeWeight(idx)
	if node == types.NodeComplete {
		if step, ok := t.plan.Step(idx); ok {
			frac += step.Weight
		}
	}
	pct := frac * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (t *Tracker) elapsedLocked(now time.Time) float64 {
	if t.startedAt.IsZero() {
		return 0
	}
	paused := t.pausedTotal
	if !t.pausedAt.IsZero() {
		paused += now.Sub(t.pausedAt)
	}
	elapsed := (now.Sub(t.startedAt) - paused).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed
}

func (t *Tracker) remainingLocked(pct float64) float64 {
	rem := t.estimate * (1 - pct/100)
	if rem < 0 {
		rem = 0
	}
	return rem
}

// MarkPaused moves the task to PAUSED; the pause span is excluded from
// elapsed-time accounting.
func (t *Tracker) MarkPaused(ctx context.Context, message string) error {
	t.mu.Lock()
	t.pausedAt = time.Now()
	if t.open != nil {
		t.open.NodeStatus = types.NodePaused
		t.ledger[len(t.ledger)-1] = *t.open
	}
	t.mu.Unlock()

	err := t.machine.Update(ctx, statemachine.Update{
		Status:       statemachine.StatusPtr(types.StatusPaused),
		ControlState: statemachine.ControlPtr(types.ControlPaused),
		LastMessage:  statemachine.StrPtr(message),
	})
	if err != nil {
		return err
	}
	t.publishStatus(types.StatusPaused, message)
	return nil
}

// MarkResumed moves the task back to RUNNING
func (t *Tracker) MarkResumed(ctx context.Context, message string) error {
	t.mu.Lock()
	if !t.pausedAt.IsZero() {
		t.pausedTotal += time.Since(t.pausedAt)
		t.pausedAt = time.Time{}
	}
	t.mu.Unlock()

	err := t.machine.Update(ctx, statemachine.Update{
		Status:       statemachine.StatusPtr(types.StatusRunning),
		ControlState: statemachine.ControlPtr(types.ControlRunning),
		LastMessage:  statemachine.StrPtr(message),
	})
	if err != nil {
		return err
	}
	t.publishStatus(types.StatusRunning, message)
	return nil
}

// MarkStopped finalizes the task as STOPPED with the stop message
func (t *Tracker) MarkStopped(ctx context.Context) error {
	t.finalizeLedger(types.NodeComplete)
	err := t.machine.Update(ctx, statemachine.Update{
		Status:       statemachine.StatusPtr(types.StatusStopped),
		ControlState: statemachine.ControlPtr(types.ControlStopped),
		LastMessage:  statemachine.StrPtr(types.StopMessage),
	})
	if err != nil {
		return err
	}
	metrics.TasksStopped.Inc()
	t.publishStatus(types.StatusStopped, types.StopMessage)
	return nil
}

// MarkCompleted finalizes the task at 100% with its result
func (t *Tracker) MarkCompleted(ctx context.Context, result *types.Result) error {
	t.finalizeLedger(types.NodeComplete)
	t.mu.Lock()
	now := time.Now()
	elapsed := t.elapsedLocked(now)
	total := t.plan.Len()
	t.mu.Unlock()

	err := t.machine.Update(ctx, statemachine.Update{
		Status: statemachine.StatusPtr(types.StatusCompleted),
		Result: result,
		Progress: &statemachine.ProgressUpdate{
			CurrentStep:   statemachine.IntPtr(total),
			Percentage:    statemachine.FloatPtr(100),
			ElapsedTime:   statemachine.FloatPtr(elapsed),
			RemainingTime: statemachine.FloatPtr(0),
		},
	})
	if err != nil {
		return err
	}
	metrics.TasksCompleted.Inc()
	t.publishStatus(types.StatusCompleted, "analysis complete")
	return nil
}

// MarkFailed finalizes the task as FAILED with the error message
func (t *Tracker) MarkFailed(ctx context.Context, errMsg string) error {
	t.finalizeLedger(types.NodeError)
	err := t.machine.Update(ctx, statemachine.Update{
		Status:      statemachine.StatusPtr(types.StatusFailed),
		Error:       statemachine.StrPtr(errMsg),
		LastMessage: statemachine.StrPtr(errMsg),
	})
	if err != nil {
		return err
	}
	metrics.TasksFailed.Inc()
	t.publishStatus(types.StatusFailed, errMsg)
	return nil
}

func (t *Tracker) finalizeLedger(node types.NodeStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open != nil {
		t.closeOpenLocked(time.Now(), node)
	}
}

// Ledger returns a copy of the step-history entries recorded so far
func (t *Tracker) Ledger() []types.StepHistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.StepHistoryEntry, len(t.ledger))
	copy(out, t.ledger)
	return out
}

func (t *Tracker) publishProgress(idx int, step types.Step, pct, elapsed, remaining float64, message, module string, node types.NodeStatus) {
	msg := types.ProgressMessage{
		AnalysisID:             t.taskID,
		CurrentStep:            idx,
		TotalSteps:             t.plan.Len(),
		ProgressPercentage:     pct,
		CurrentStepName:        step.Name,
		CurrentStepDescription: step.Description,
		ElapsedTime:            elapsed,
		RemainingTime:          remaining,
		LastMessage:            message,
		ModuleName:             module,
		NodeStatus:             node,
		Timestamp:              time.Now(),
	}
	if err := t.fab.Publish(fabric.TopicProgress, msg); err != nil {
		log.WithTaskID(t.taskID).Warn().Err(err).Msg("failed to publish progress message")
	}
}

func (t *Tracker) publishStatus(status types.Status, message string) {
	msg := types.StatusMessage{
		AnalysisID: t.taskID,
		Status:     status,
		Message:    message,
		Timestamp:  time.Now(),
	}
	if err := t.fab.Publish(fabric.TopicStatus, msg); err != nil {
		log.WithTaskID(t.taskID).Warn().Err(err).Msg("failed to publish status message")
	}
}

func (t *Tracker) publishModule(topic, module, message string) {
	payload := map[string]any{
		"analysis_id": t.taskID,
		"module_name": module,
		"message":     message,
		"timestamp":   time.Now(),
	}
	if err := t.fab.Publish(topic, payload); err != nil {
		log.WithTaskID(t.taskID).Warn().Err(err).Str("topic", topic).Msg("failed to publish module event")
	}
}
