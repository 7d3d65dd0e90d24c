package tracker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbase/stockpulse/pkg/fabric"
	"github.com/finbase/stockpulse/pkg/statemachine"
	"github.com/finbase/stockpulse/pkg/steps"
	"github.com/finbase/stockpulse/pkg/store"
	"github.com/finbase/stockpulse/pkg/types"
)

type fixture struct {
	tracker *Tracker
	machine *statemachine.Machine
	plan    *steps.Plan
	fab     *fabric.Memory
}

func newFixture(t *testing.T, depth int) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	req := types.AnalysisRequest{
		StockSymbol:   "AAPL",
		MarketType:    types.MarketUS,
		Analysts:      []string{types.AnalystMarket},
		ResearchDepth: depth,
	}
	machine, err := statemachine.Initialize(ctx, st, "t1", "s1", req)
	require.NoError(t, err)

	plan := steps.Generate(req.Analysts, depth, req.MarketType)
	fab := fabric.NewMemory()
	require.NoError(t, fab.Connect(ctx))

	return &fixture{
		tracker: New("t1", plan, machine, fab, 120),
		machine: machine,
		plan:    plan,
		fab:     fab,
	}
}

func TestBeginMarksRunning(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	var statuses []types.StatusMessage
	require.NoError(t, f.fab.Subscribe(fabric.TopicStatus, func(_ string, payload []byte) {
		var msg types.StatusMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		statuses = append(statuses, msg)
	}))

	require.NoError(t, f.tracker.Begin(ctx))

	cur := f.machine.Current()
	assert.Equal(t, types.StatusRunning, cur.Status)
	assert.Equal(t, f.plan.Len(), cur.Progress.TotalSteps)
	assert.Zero(t, cur.Progress.Percentage)
	assert.Greater(t, cur.Progress.AnalysisStartTime, 0.0)
	assert.InDelta(t, 120, cur.Progress.EstimatedTotalTime, 1e-9)

	require.Len(t, statuses, 1)
	assert.Equal(t, types.StatusRunning, statuses[0].Status)
}

func TestModuleLifecycleAdvancesPercentage(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	require.NoError(t, f.tracker.Begin(ctx))

	var progress []types.ProgressMessage
	require.NoError(t, f.fab.Subscribe(fabric.TopicProgress, func(_ string, payload []byte) {
		var msg types.ProgressMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		progress = append(progress, msg)
	}))

	f.tracker.ModuleStart(ctx, steps.ModuleAnalysisStart, "starting")
	startPct := f.machine.Current().Progress.Percentage
	assert.Zero(t, startPct, "a started step contributes nothing until complete")

	f.tracker.ModuleComplete(ctx, steps.ModuleAnalysisStart, "done")
	donePct := f.machine.Current().Progress.Percentage
	assert.Greater(t, donePct, startPct, "completion lands the step weight")

	require.Len(t, progress, 2)
	assert.Equal(t, types.NodeStart, progress[0].NodeStatus)
	assert.Equal(t, types.NodeComplete, progress[1].NodeStatus)
	assert.Equal(t, "t1", progress[0].AnalysisID)

	ledger := f.tracker.Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, types.NodeComplete, ledger[0].NodeStatus)
	assert.False(t, ledger[0].EndTime.IsZero())
	assert.GreaterOrEqual(t, ledger[0].Duration, 0.0)
}

func TestOpenStepSynthesizedClosed(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	require.NoError(t, f.tracker.Begin(ctx))

	// The first step never reports complete; starting the next one must
	// close it retroactively
	f.tracker.ModuleStart(ctx, steps.ModuleAnalysisStart, "starting")
	f.tracker.ModuleStart(ctx, steps.ModuleCostEstimation, "estimating")

	ledger := f.tracker.Ledger()
	require.Len(t, ledger, 2)
	assert.False(t, ledger[0].EndTime.IsZero(), "prior open step must be closed")
	assert.Equal(t, types.NodeComplete, ledger[0].NodeStatus)
	assert.True(t, ledger[1].EndTime.IsZero(), "new step stays open")
}

func TestUnknownModuleOnlyUpdatesMessage(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	require.NoError(t, f.tracker.Begin(ctx))

	f.tracker.ModuleComplete(ctx, steps.ModuleAnalysisStart, "done")
	before := f.machine.Current().Progress.Percentage

	f.tracker.ModuleStart(ctx, "mystery_module", "doing something")

	cur := f.machine.Current()
	assert.Equal(t, before, cur.Progress.Percentage, "unknown modules never move the bar")
	assert.Equal(t, "doing something", cur.LastMessage)
	assert.Len(t, f.tracker.Ledger(), 1, "no ledger entry for unplanned modules")
}

func TestMarkStoppedUsesStopMessage(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	require.NoError(t, f.tracker.Begin(ctx))
	f.tracker.ModuleStart(ctx, steps.ModuleAnalysisStart, "starting")

	require.NoError(t, f.tracker.MarkStopped(ctx))

	cur := f.machine.Current()
	assert.Equal(t, types.StatusStopped, cur.Status)
	assert.Equal(t, types.ControlStopped, cur.ControlState)
	assert.Equal(t, types.StopMessage, cur.LastMessage)

	ledger := f.tracker.Ledger()
	require.Len(t, ledger, 1)
	assert.False(t, ledger[0].EndTime.IsZero(), "open step closed on stop")
}

func TestMarkCompletedFinalizesProgress(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	require.NoError(t, f.tracker.Begin(ctx))

	result := &types.Result{State: map[string]any{"final_signal": "hold"}}
	require.NoError(t, f.tracker.MarkCompleted(ctx, result))

	cur := f.machine.Current()
	assert.Equal(t, types.StatusCompleted, cur.Status)
	assert.InDelta(t, 100, cur.Progress.Percentage, 1e-9)
	assert.Zero(t, cur.Progress.RemainingTime)
	require.NotNil(t, cur.Result)
	assert.Equal(t, "hold", cur.Result.State["final_signal"])
}

func TestMarkFailedRecordsError(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	require.NoError(t, f.tracker.Begin(ctx))

	require.NoError(t, f.tracker.MarkFailed(ctx, "provider unreachable"))

	cur := f.machine.Current()
	assert.Equal(t, types.StatusFailed, cur.Status)
	assert.Equal(t, "provider unreachable", cur.Error)
}

func TestNoUpdatesAfterTerminal(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	require.NoError(t, f.tracker.Begin(ctx))
	require.NoError(t, f.tracker.MarkStopped(ctx))

	before := f.machine.Current()
	f.tracker.ModuleStart(ctx, steps.ModuleAnalysisStart, "late message")
	assert.Equal(t, before.Progress.Percentage, f.machine.Current().Progress.Percentage)
	assert.Equal(t, types.StatusStopped, f.machine.Current().Status)
}

func TestPercentageMonotonicAcrossDebateRounds(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	require.NoError(t, f.tracker.Begin(ctx))

	last := 0.0
	for _, step := range f.plan.Steps {
		f.tracker.ModuleStart(ctx, step.Module, "starting "+step.Name)
		pct := f.machine.Current().Progress.Percentage
		assert.GreaterOrEqual(t, pct, last, "start of %s (step %d) regressed", step.Module, step.Index)
		last = pct

		f.tracker.ModuleComplete(ctx, step.Module, step.Name+" complete")
		pct = f.machine.Current().Progress.Percentage
		assert.Greater(t, pct, last, "completion of %s (step %d) did not advance", step.Module, step.Index)
		last = pct
	}
	assert.InDelta(t, 100, last, 1e-9, "all step weights must land")

	// Round-two debate entries resolve to their own steps, not round one
	ledger := f.tracker.Ledger()
	require.Len(t, ledger, f.plan.Len())
	seen := make(map[int]bool)
	for _, e := range ledger {
		assert.False(t, seen[e.StepIndex], "step %d recorded twice", e.StepIndex)
		seen[e.StepIndex] = true
	}
}

func TestPauseAccounting(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	require.NoError(t, f.tracker.Begin(ctx))

	require.NoError(t, f.tracker.MarkPaused(ctx, "analysis paused"))
	assert.Equal(t, types.StatusPaused, f.machine.Current().Status)

	require.NoError(t, f.tracker.MarkResumed(ctx, "analysis resumed"))
	assert.Equal(t, types.StatusRunning, f.machine.Current().Status)
	assert.Equal(t, types.ControlRunning, f.machine.Current().ControlState)
}
