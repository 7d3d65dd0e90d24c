package cache

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/finbase/stockpulse/pkg/config"
	"github.com/finbase/stockpulse/pkg/control"
	"github.com/finbase/stockpulse/pkg/log"
	"github.com/finbase/stockpulse/pkg/metrics"
	"github.com/finbase/stockpulse/pkg/types"
)

// Reuser answers whether a node's output can be served from a prior run,
// and splices cached outputs into the current task's identity.
type Reuser struct {
	store DocStore
	mode  string
	nodes map[string]bool

	sleepMin float64 // seconds
	sleepMax float64

	// shape validates a candidate against the node's expected output
	// shape before it may be served; nil accepts any non-empty output
	shape func(node string, output map[string]any) bool
}

// NewReuser builds a reuser from the cache configuration
func NewReuser(store DocStore, cfg *config.Config) *Reuser {
	nodes := make(map[string]bool, len(cfg.Cache.Nodes))
	for _, n := range cfg.Cache.Nodes {
		nodes[n] = true
	}
	return &Reuser{
		store:    store,
		mode:     cfg.Cache.Mode,
		nodes:    nodes,
		sleepMin: cfg.Cache.SleepMin,
		sleepMax: cfg.Cache.SleepMax,
	}
}

// SetShapeCheck installs the candidate shape validator
func (r *Reuser) SetShapeCheck(fn func(node string, output map[string]any) bool) {
	r.shape = fn
}

func (r *Reuser) acceptable(node string, output map[string]any) bool {
	if len(output) == 0 {
		return false
	}
	if r.shape != nil {
		return r.shape(node, output)
	}
	return true
}

// Enabled reports whether reuse applies to a node for this submission.
// The process-level mode gates first, then the request's own reuse config.
func (r *Reuser) Enabled(req types.AnalysisRequest, node string) bool {
	switch r.mode {
	case config.CacheOff:
		return false
	case config.CacheNodes:
		if !r.nodes[node] {
			return false
		}
	}
	return req.CacheReuse.Allows(node)
}

// TryReuse looks up a compatible cached output for the node. On a hit the
// output is spliced onto the current task (analysis and session identity
// replaced, reuse counter bumped) after a randomized pacing sleep that
// honors the task's stop latch and pause gate.
func (r *Reuser) TryReuse(ctx context.Context, h *control.Handle, req types.AnalysisRequest, taskID, sessionID, node string) (map[string]any, bool, error) {
	if !r.Enabled(req, node) {
		return nil, false, nil
	}

	rec, err := r.store.Find(ctx, req.StockSymbol, req.TradeDate(), node, Filter{
		ResearchDepth: req.ResearchDepth,
		Analysts:      req.Analysts,
		Market:        req.MarketType,
	})
	if err != nil {
		if !errors.Is(err, ErrNoMatch) {
			log.WithTaskID(taskID).Warn().Err(err).Str("node", node).Msg("cache lookup failed")
		}
		metrics.CacheMisses.Inc()
		return nil, false, nil
	}

	if !r.acceptable(node, rec.Output) {
		log.WithTaskID(taskID).Debug().Str("node", node).Msg("cached output rejected by shape check")
		metrics.CacheMisses.Inc()
		return nil, false, nil
	}

	if err := h.Sleep(ctx, r.pacing()); err != nil {
		return nil, false, err
	}

	out := splice(rec.Output, taskID, sessionID)
	metrics.CacheHits.Inc()
	log.WithTaskID(taskID).Info().
		Str("node", node).
		Str("source_analysis", rec.AnalysisID).
		Msg("reusing cached node output")
	return out, true, nil
}

// Peek returns a compatible cached output for the node without pacing
// or identity splicing; stages use it to consult prior runs directly.
func (r *Reuser) Peek(ctx context.Context, req types.AnalysisRequest, node string) (map[string]any, bool) {
	if !r.Enabled(req, node) {
		return nil, false
	}
	rec, err := r.store.Find(ctx, req.StockSymbol, req.TradeDate(), node, Filter{
		ResearchDepth: req.ResearchDepth,
		Analysts:      req.Analysts,
		Market:        req.MarketType,
	})
	if err != nil || !r.acceptable(node, rec.Output) {
		return nil, false
	}
	out := make(map[string]any, len(rec.Output))
	for k, v := range rec.Output {
		out[k] = v
	}
	return out, true
}

// Record stores a node's output for future reuse. Failures are logged;
// caching never fails the pipeline.
func (r *Reuser) Record(ctx context.Context, req types.AnalysisRequest, taskID, sessionID, node string, output map[string]any) {
	if r.mode == config.CacheOff {
		return
	}
	rec := &Record{
		Ticker:        req.StockSymbol,
		TradeDate:     req.TradeDate(),
		NodeName:      node,
		AnalysisID:    taskID,
		SessionID:     sessionID,
		ResearchDepth: req.ResearchDepth,
		Analysts:      req.Analysts,
		Market:        req.MarketType,
		Output:        output,
		CreatedAt:     time.Now(),
	}
	if err := r.store.Save(ctx, rec); err != nil {
		log.WithTaskID(taskID).Warn().Err(err).Str("node", node).Msg("failed to cache node output")
	}
}

// pacing returns a random sleep in [sleep_min, sleep_max] seconds so
// reused outputs do not land implausibly fast.
func (r *Reuser) pacing() time.Duration {
	span := r.sleepMax - r.sleepMin
	secs := r.sleepMin
	if span > 0 {
		secs += rand.Float64() * span
	}
	return time.Duration(secs * float64(time.Second))
}

// splice rewrites a cached output's identity fields for the current task
// and bumps its reuse counter; the stored record is left untouched.
func splice(output map[string]any, taskID, sessionID string) map[string]any {
	out := make(map[string]any, len(output)+3)
	for k, v := range output {
		out[k] = v
	}
	out["analysis_id"] = taskID
	if sessionID != "" {
		out["session_id"] = sessionID
	}
	switch n := out["reuse_count"].(type) {
	case float64:
		out["reuse_count"] = n + 1
	case int:
		out["reuse_count"] = n + 1
	default:
		out["reuse_count"] = 1
	}
	return out
}
