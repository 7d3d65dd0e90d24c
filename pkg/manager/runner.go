package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/finbase/stockpulse/pkg/agent"
	"github.com/finbase/stockpulse/pkg/cache"
	"github.com/finbase/stockpulse/pkg/control"
	"github.com/finbase/stockpulse/pkg/log"
	"github.com/finbase/stockpulse/pkg/types"
)

// checkpoint is the restart hint written after every completed step and
// on every control-state change
type checkpoint struct {
	TaskID    string             `json:"task_id"`
	NextStep  int                `json:"next_step"`
	Control   types.ControlState `json:"control_state"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// run is the worker loop: it walks the planned steps in order, parking at
// the pause gate and honoring the stop latch between steps, and finalizes
// the task through the tracker exactly once.
func (m *Manager) run(ctx context.Context, taskID, sessionID string, e *entry, req types.AnalysisRequest) {
	defer m.wg.Done()
	defer m.unregister(taskID)

	logger := log.WithTaskID(taskID)

	trace, err := cache.NewTraceWriter(m.cfg.DataDir, taskID)
	if err != nil {
		logger.Warn().Err(err).Msg("step tracing disabled")
		trace = nil
	}

	state := make(map[string]any)
	finalStatus := types.StatusCompleted
	var failMsg string

	// The start lock spans the gate check and the first transition, so a
	// pause that landed while the task was still PENDING parks the worker
	// here and the record never says RUNNING behind a closed gate.
	begun := false
	for !begun {
		e.startMu.Lock()
		if e.handle.Stopped() || e.handle.Paused() {
			e.startMu.Unlock()
			if err := e.handle.WaitIfPaused(ctx); err != nil {
				finalStatus, failMsg = m.interruptStatus(ctx, err)
				break
			}
			continue
		}
		err := e.tracker.Begin(ctx)
		e.startMu.Unlock()
		if err != nil {
			logger.Error().Err(err).Msg("failed to begin task")
			finalStatus, failMsg = types.StatusFailed, err.Error()
			break
		}
		begun = true
	}

	if begun {
	steps:
		for _, step := range e.plan.Steps {
			if err := e.handle.WaitIfPaused(ctx); err != nil {
				finalStatus, failMsg = m.interruptStatus(ctx, err)
				break steps
			}

			module := step.Module
			e.tracker.ModuleStart(ctx, module, fmt.Sprintf("starting %s", step.Name))

			if out, hit, err := m.reuser.TryReuse(ctx, e.handle, req, taskID, sessionID, module); err != nil {
				finalStatus, failMsg = m.interruptStatus(ctx, err)
				break steps
			} else if hit {
				// Park before reporting so no updates flow while paused
				if err := e.handle.WaitIfPaused(ctx); err != nil {
					finalStatus, failMsg = m.interruptStatus(ctx, err)
					break steps
				}
				mergeState(state, out)
				e.tracker.ModuleComplete(ctx, module, fmt.Sprintf("%s served from cache", step.Name))
				m.afterStep(e, trace, taskID, step.Index)
				continue
			}

			stage, ok := m.registry.Get(module)
			if !ok {
				// No implementation bound; synthesize a fallback report
				// and continue without failing the run
				e.tracker.ModuleError(ctx, module, fmt.Sprintf("no stage registered for %s", module))
				mergeState(state, agent.Fallback(module, "no stage registered"))
				continue
			}

			rc := &agent.RunContext{
				TaskID:    taskID,
				SessionID: sessionID,
				Request:   req,
				State:     state,
				Handle:    e.handle,
				Report: func(message string, node types.NodeStatus) {
					switch node {
					case types.NodeToolCalling:
						e.tracker.ModuleToolCall(ctx, module, message)
					default:
						e.tracker.Message(ctx, message)
					}
				},
				CachedOutput: func(node string) (map[string]any, bool) {
					return m.reuser.Peek(ctx, req, node)
				},
			}

			out, err := stage(ctx, rc)
			if err != nil {
				if errors.Is(err, control.ErrStopped) || ctx.Err() != nil {
					finalStatus, failMsg = m.interruptStatus(ctx, err)
					break steps
				}
				if agent.IsRecoverable(err) {
					logger.Warn().Err(err).Str("module", module).Msg("stage failed, continuing")
					e.tracker.ModuleError(ctx, module, err.Error())
					mergeState(state, agent.Fallback(module, err.Error()))
					continue
				}
				logger.Error().Err(err).Str("module", module).Msg("stage failed")
				e.tracker.ModuleError(ctx, module, err.Error())
				finalStatus, failMsg = types.StatusFailed, err.Error()
				break steps
			}

			// Park before reporting completion so no updates flow while paused
			if err := e.handle.WaitIfPaused(ctx); err != nil {
				finalStatus, failMsg = m.interruptStatus(ctx, err)
				break steps
			}

			mergeState(state, out)
			m.reuser.Record(ctx, req, taskID, sessionID, module, out)
			e.tracker.ModuleComplete(ctx, module, fmt.Sprintf("%s complete", step.Name))
			m.afterStep(e, trace, taskID, step.Index)
		}
	}

	// Finalization must outlive a cancelled worker context
	finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch finalStatus {
	case types.StatusCompleted:
		result := &types.Result{State: state, FinishedAt: time.Now()}
		if err := e.tracker.MarkCompleted(finalCtx, result); err != nil {
			logger.Error().Err(err).Msg("failed to finalize completed task")
		}
	case types.StatusStopped:
		if err := e.tracker.MarkStopped(finalCtx); err != nil {
			logger.Error().Err(err).Msg("failed to finalize stopped task")
		}
	default:
		if err := e.tracker.MarkFailed(finalCtx, failMsg); err != nil {
			logger.Error().Err(err).Msg("failed to finalize failed task")
		}
	}

	if trace != nil {
		task, err := m.GetTask(finalCtx, taskID)
		elapsed := 0.0
		if err == nil {
			elapsed = task.Progress.ElapsedTime
		}
		if err := trace.Finalize(e.tracker.Ledger(), finalStatus, elapsed); err != nil {
			logger.Warn().Err(err).Msg("failed to finalize step trace")
		}
	}

	if finalStatus == types.StatusCompleted {
		if err := m.checkpoints.Delete(taskID); err != nil {
			logger.Warn().Err(err).Msg("failed to delete checkpoint")
		}
	}

	logger.Info().Str("status", string(finalStatus)).Msg("worker finished")
}

// interruptStatus maps a wait/stage interruption to the terminal status
func (m *Manager) interruptStatus(ctx context.Context, err error) (types.Status, string) {
	switch {
	case errors.Is(err, control.ErrStopped):
		return types.StatusStopped, ""
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return types.StatusFailed, "task deadline exceeded"
	default:
		return types.StatusFailed, err.Error()
	}
}

// afterStep persists the restart checkpoint and mirrors the step to the
// trace directory. Both are best-effort.
func (m *Manager) afterStep(e *entry, trace *cache.TraceWriter, taskID string, stepIndex int) {
	cp := checkpoint{
		TaskID:    taskID,
		NextStep:  stepIndex + 1,
		Control:   e.handle.State(),
		UpdatedAt: time.Now(),
	}
	if data, err := json.Marshal(cp); err == nil {
		if err := m.checkpoints.Save(taskID, data); err != nil {
			log.WithTaskID(taskID).Warn().Err(err).Msg("failed to save checkpoint")
		}
	}
	if trace != nil {
		ledger := e.tracker.Ledger()
		if len(ledger) > 0 {
			if err := trace.WriteStep(ledger[len(ledger)-1]); err != nil {
				log.WithTaskID(taskID).Warn().Err(err).Msg("failed to write step trace")
			}
		}
	}
}

func mergeState(state, out map[string]any) {
	for k, v := range out {
		state[k] = v
	}
}
