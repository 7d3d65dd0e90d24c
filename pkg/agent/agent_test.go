package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbase/stockpulse/pkg/control"
	"github.com/finbase/stockpulse/pkg/steps"
	"github.com/finbase/stockpulse/pkg/types"
)

func runContext(h *control.Handle) *RunContext {
	return &RunContext{
		TaskID:    "t1",
		SessionID: "s1",
		Request: types.AnalysisRequest{
			StockSymbol:   "AAPL",
			MarketType:    types.MarketUS,
			Analysts:      []string{types.AnalystMarket},
			ResearchDepth: 1,
		},
		State:  make(map[string]any),
		Handle: h,
		Report: func(string, types.NodeStatus) {},
	}
}

func TestDefaultRegistryCoversEveryPlannedModule(t *testing.T) {
	r := DefaultRegistry(time.Millisecond)

	// Every module any plan can produce must have a stage
	for depth := 1; depth <= 5; depth++ {
		analysts := []string{types.AnalystMarket, types.AnalystFundamentals, types.AnalystNews, types.AnalystSentiment}
		plan := steps.Generate(analysts, depth, types.MarketCN)
		for _, step := range plan.Steps {
			_, ok := r.Get(step.Module)
			assert.True(t, ok, "no stage for %s", step.Module)
		}
	}
}

func TestAnalystStageProducesReport(t *testing.T) {
	r := DefaultRegistry(time.Millisecond)
	stage, ok := r.Get("market_analyst")
	require.True(t, ok)

	reported := 0
	rc := runContext(control.NewHandle("t1", time.Millisecond))
	rc.Report = func(msg string, node types.NodeStatus) {
		assert.Equal(t, types.NodeToolCalling, node)
		reported++
	}

	out, err := stage(context.Background(), rc)
	require.NoError(t, err)
	assert.Contains(t, out, "market_report")
	assert.Equal(t, 1, reported, "analyst reports tool activity midway")
}

func TestStageHonorsStopLatch(t *testing.T) {
	r := DefaultRegistry(100 * time.Millisecond)
	stage, ok := r.Get(steps.ModuleTrader)
	require.True(t, ok)

	h := control.NewHandle("t1", time.Millisecond)
	go func() {
		time.Sleep(5 * time.Millisecond)
		h.Stop()
	}()

	_, err := stage(context.Background(), runContext(h))
	assert.ErrorIs(t, err, control.ErrStopped)
}

func TestErrorClassification(t *testing.T) {
	rec := Recoverablef("news_analyst", "feed timeout after %d tries", 3)
	assert.True(t, IsRecoverable(rec))
	assert.Contains(t, rec.Error(), "recoverable failure in news_analyst")

	fatal := Fatalf("config_builder", "no provider configured")
	assert.False(t, IsRecoverable(fatal))
	assert.Contains(t, fatal.Error(), "fatal failure in config_builder")

	assert.False(t, IsRecoverable(errors.New("plain error")))

	var se *Error
	require.ErrorAs(t, rec, &se)
	assert.Equal(t, "news_analyst", se.Module)
}

func TestRegistryReplaceBinding(t *testing.T) {
	r := NewRegistry()
	r.Register("custom", func(context.Context, *RunContext) (map[string]any, error) {
		return map[string]any{"v": 1}, nil
	})
	r.Register("custom", func(context.Context, *RunContext) (map[string]any, error) {
		return map[string]any{"v": 2}, nil
	})

	stage, ok := r.Get("custom")
	require.True(t, ok)
	out, err := stage(context.Background(), runContext(control.NewHandle("t1", 0)))
	require.NoError(t, err)
	assert.Equal(t, 2, out["v"])
	assert.Len(t, r.Modules(), 1)
}
