package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbase/stockpulse/pkg/config"
	"github.com/finbase/stockpulse/pkg/control"
	"github.com/finbase/stockpulse/pkg/types"
)

func testRecord() *Record {
	return &Record{
		Ticker:        "AAPL",
		TradeDate:     "2026-08-24",
		NodeName:      "market_analyst",
		AnalysisID:    "prior-task",
		SessionID:     "prior-session",
		ResearchDepth: 2,
		Analysts:      []string{types.AnalystMarket, types.AnalystNews},
		Market:        types.MarketUS,
		Output:        map[string]any{"market_report": "bullish", "analysis_id": "prior-task"},
		CreatedAt:     time.Now(),
	}
}

func testReuseConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Cache.Mode = config.CacheOn
	cfg.Cache.SleepMin = 0
	cfg.Cache.SleepMax = 0
	return cfg
}

func TestBoltStoreFindHonorsFilters(t *testing.T) {
	st, err := OpenBolt(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Save(ctx, testRecord()))

	match := Filter{
		ResearchDepth: 2,
		Analysts:      []string{types.AnalystNews, types.AnalystMarket}, // order-insensitive
		Market:        types.MarketUS,
	}
	rec, err := st.Find(ctx, "AAPL", "2026-08-24", "market_analyst", match)
	require.NoError(t, err)
	assert.Equal(t, "prior-task", rec.AnalysisID)

	tests := []struct {
		name   string
		filter Filter
	}{
		{"different depth", Filter{ResearchDepth: 3}},
		{"different market", Filter{Market: types.MarketHK}},
		{"different analysts", Filter{Analysts: []string{types.AnalystSentiment}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := st.Find(ctx, "AAPL", "2026-08-24", "market_analyst", tt.filter)
			assert.ErrorIs(t, err, ErrNoMatch)
		})
	}

	_, err = st.Find(ctx, "TSLA", "2026-08-24", "market_analyst", Filter{})
	assert.ErrorIs(t, err, ErrNoMatch, "unknown key")
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	st, err := OpenBolt(dir)
	require.NoError(t, err)
	require.NoError(t, st.Save(context.Background(), testRecord()))
	require.NoError(t, st.Close())

	st, err = OpenBolt(dir)
	require.NoError(t, err)
	defer st.Close()

	rec, err := st.Find(context.Background(), "AAPL", "2026-08-24", "market_analyst", Filter{})
	require.NoError(t, err)
	assert.Equal(t, "bullish", rec.Output["market_report"])
}

func TestReuserSplicesIdentity(t *testing.T) {
	st, err := OpenBolt(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Save(ctx, testRecord()))

	r := NewReuser(st, testReuseConfig(t.TempDir()))
	req := types.AnalysisRequest{
		StockSymbol:   "AAPL",
		MarketType:    types.MarketUS,
		AnalysisDate:  "2026-08-24",
		Analysts:      []string{types.AnalystMarket, types.AnalystNews},
		ResearchDepth: 2,
		CacheReuse:    types.CacheReuseConfig{"all": true},
	}
	h := control.NewHandle("new-task", time.Millisecond)

	out, hit, err := r.TryReuse(ctx, h, req, "new-task", "new-session", "market_analyst")
	require.NoError(t, err)
	require.True(t, hit)

	assert.Equal(t, "new-task", out["analysis_id"], "identity spliced onto the current task")
	assert.Equal(t, "new-session", out["session_id"])
	assert.Equal(t, 1, out["reuse_count"])
	assert.Equal(t, "bullish", out["market_report"])

	// The stored record keeps its original identity
	rec, err := st.Find(ctx, "AAPL", "2026-08-24", "market_analyst", Filter{})
	require.NoError(t, err)
	assert.Equal(t, "prior-task", rec.Output["analysis_id"])
}

func TestReuserRespectsGates(t *testing.T) {
	st, err := OpenBolt(t.TempDir())
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Save(context.Background(), testRecord()))

	req := types.AnalysisRequest{
		StockSymbol:   "AAPL",
		AnalysisDate:  "2026-08-24",
		MarketType:    types.MarketUS,
		Analysts:      []string{types.AnalystMarket, types.AnalystNews},
		ResearchDepth: 2,
	}

	cfg := testReuseConfig(t.TempDir())
	r := NewReuser(st, cfg)
	assert.False(t, r.Enabled(req, "market_analyst"), "no request grant, no reuse")

	req.CacheReuse = types.CacheReuseConfig{"all": true}
	assert.True(t, r.Enabled(req, "market_analyst"))

	cfg.Cache.Mode = config.CacheOff
	off := NewReuser(st, cfg)
	assert.False(t, off.Enabled(req, "market_analyst"), "process off switch wins")

	cfg.Cache.Mode = config.CacheNodes
	cfg.Cache.Nodes = []string{"trader"}
	nodes := NewReuser(st, cfg)
	assert.False(t, nodes.Enabled(req, "market_analyst"))
	assert.True(t, nodes.Enabled(req, "trader"))
}

func TestShapeCheckRejectsMalformedCandidates(t *testing.T) {
	st, err := OpenBolt(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	bad := testRecord()
	bad.Output = map[string]any{"analysis_id": "prior-task"} // no report
	require.NoError(t, st.Save(ctx, bad))

	r := NewReuser(st, testReuseConfig(t.TempDir()))
	r.SetShapeCheck(func(node string, out map[string]any) bool {
		_, ok := out["market_report"]
		return ok
	})

	req := types.AnalysisRequest{
		StockSymbol:   "AAPL",
		MarketType:    types.MarketUS,
		AnalysisDate:  "2026-08-24",
		Analysts:      []string{types.AnalystMarket, types.AnalystNews},
		ResearchDepth: 2,
		CacheReuse:    types.CacheReuseConfig{"all": true},
	}
	h := control.NewHandle("t1", time.Millisecond)

	_, hit, err := r.TryReuse(ctx, h, req, "t1", "s1", "market_analyst")
	require.NoError(t, err)
	assert.False(t, hit, "malformed candidates are not served")

	_, ok := r.Peek(ctx, req, "market_analyst")
	assert.False(t, ok)

	// A well-formed record for the same key is served
	require.NoError(t, st.Save(ctx, testRecord()))
	out, hit, err := r.TryReuse(ctx, h, req, "t1", "s1", "market_analyst")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "bullish", out["market_report"])
}

func TestPeekReadsWithoutSplicing(t *testing.T) {
	st, err := OpenBolt(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Save(ctx, testRecord()))

	r := NewReuser(st, testReuseConfig(t.TempDir()))
	req := types.AnalysisRequest{
		StockSymbol:   "AAPL",
		MarketType:    types.MarketUS,
		AnalysisDate:  "2026-08-24",
		Analysts:      []string{types.AnalystMarket, types.AnalystNews},
		ResearchDepth: 2,
		CacheReuse:    types.CacheReuseConfig{"all": true},
	}

	out, ok := r.Peek(ctx, req, "market_analyst")
	require.True(t, ok)
	assert.Equal(t, "bullish", out["market_report"])
	assert.Equal(t, "prior-task", out["analysis_id"], "peek keeps the source identity")
	assert.NotContains(t, out, "reuse_count")

	// Mutating the returned map does not touch the stored record
	out["market_report"] = "tampered"
	rec, err := st.Find(ctx, "AAPL", "2026-08-24", "market_analyst", Filter{})
	require.NoError(t, err)
	assert.Equal(t, "bullish", rec.Output["market_report"])

	// Peek honors the same gates as reuse
	req.CacheReuse = nil
	_, ok = r.Peek(ctx, req, "market_analyst")
	assert.False(t, ok)
}

func TestTryReuseInterruptedByStop(t *testing.T) {
	st, err := OpenBolt(t.TempDir())
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Save(context.Background(), testRecord()))

	cfg := testReuseConfig(t.TempDir())
	cfg.Cache.SleepMin = 30
	cfg.Cache.SleepMax = 30
	r := NewReuser(st, cfg)

	req := types.AnalysisRequest{
		StockSymbol:   "AAPL",
		AnalysisDate:  "2026-08-24",
		MarketType:    types.MarketUS,
		Analysts:      []string{types.AnalystMarket, types.AnalystNews},
		ResearchDepth: 2,
		CacheReuse:    types.CacheReuseConfig{"all": true},
	}
	h := control.NewHandle("t1", time.Millisecond)
	go func() {
		time.Sleep(10 * time.Millisecond)
		h.Stop()
	}()

	start := time.Now()
	_, hit, err := r.TryReuse(context.Background(), h, req, "t1", "s1", "market_analyst")
	assert.ErrorIs(t, err, control.ErrStopped)
	assert.False(t, hit)
	assert.Less(t, time.Since(start), 5*time.Second, "pacing sleep must wake on stop")
}

func TestTraceWriterLayout(t *testing.T) {
	dir := t.TempDir()
	w, err := NewTraceWriter(dir, "t1")
	require.NoError(t, err)

	entries := []types.StepHistoryEntry{
		{StepIndex: 0, StepName: "Analysis Start", ModuleName: "analysis_start"},
		{StepIndex: 1, StepName: "Cost Estimation", ModuleName: "cost_estimation"},
	}
	for _, e := range entries {
		require.NoError(t, w.WriteStep(e))
	}
	require.NoError(t, w.Finalize(entries, types.StatusCompleted, 12.5))

	base := filepath.Join(dir, "analysis_results", "t1", "steps")
	for _, name := range []string{"step_0000.json", "step_0001.json", "all_steps.json", "steps_summary.json"} {
		_, err := os.Stat(filepath.Join(base, name))
		assert.NoError(t, err, name)
	}

	data, err := os.ReadFile(filepath.Join(base, "all_steps.json"))
	require.NoError(t, err)
	var got []types.StepHistoryEntry
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Len(t, got, 2)
}
