package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/finbase/stockpulse/pkg/steps"
	"github.com/finbase/stockpulse/pkg/types"
)

// DefaultLatency is the simulated per-stage work time used when no real
// agent backend is wired in.
const DefaultLatency = 50 * time.Millisecond

// DefaultRegistry returns a registry with a built-in simulated stage for
// every module the planner can emit, so the engine runs end to end
// without an LLM backend. Real agent integrations replace bindings via
// Register.
func DefaultRegistry(latency time.Duration) *Registry {
	if latency <= 0 {
		latency = DefaultLatency
	}
	r := NewRegistry()

	passthrough := []string{
		steps.ModuleAnalysisStart,
		steps.ModuleCostEstimation,
		steps.ModuleDataPreparation,
		steps.ModuleEnvValidation,
		steps.ModuleConfigBuilder,
		steps.ModuleGraphInit,
		steps.ModuleStepOutputDir,
		steps.ModuleResultProcessing,
		steps.ModuleCompletionLogging,
	}
	for _, m := range passthrough {
		r.Register(m, simulated(m, latency, nil))
	}

	r.Register(steps.ModuleSymbolFormatting, simulated(steps.ModuleSymbolFormatting, latency,
		func(rc *RunContext) map[string]any {
			return map[string]any{
				"formatted_symbol": strings.ToUpper(rc.Request.StockSymbol),
			}
		}))

	for _, a := range []string{types.AnalystMarket, types.AnalystFundamentals, types.AnalystNews, types.AnalystSentiment} {
		module := a + "_analyst"
		r.Register(module, analystStage(module, a, latency))
	}

	r.Register(steps.ModuleBullResearcher, reportStage(steps.ModuleBullResearcher, "bull_case", latency))
	r.Register(steps.ModuleBearResearcher, reportStage(steps.ModuleBearResearcher, "bear_case", latency))
	r.Register(steps.ModuleResearchManager, reportStage(steps.ModuleResearchManager, "research_brief", latency))
	r.Register(steps.ModuleTrader, reportStage(steps.ModuleTrader, "trade_plan", latency))
	r.Register(steps.ModuleRiskyAnalyst, reportStage(steps.ModuleRiskyAnalyst, "risky_view", latency))
	r.Register(steps.ModuleSafeAnalyst, reportStage(steps.ModuleSafeAnalyst, "safe_view", latency))
	r.Register(steps.ModuleNeutralAnalyst, reportStage(steps.ModuleNeutralAnalyst, "neutral_view", latency))
	r.Register(steps.ModuleRiskManager, reportStage(steps.ModuleRiskManager, "risk_decision", latency))
	r.Register(steps.ModuleRiskPrompt, reportStage(steps.ModuleRiskPrompt, "risk_review", latency))

	r.Register(steps.ModuleSignalProcessing, simulated(steps.ModuleSignalProcessing, latency,
		func(rc *RunContext) map[string]any {
			return map[string]any{
				"final_signal": "hold",
				"symbol":       rc.Request.StockSymbol,
			}
		}))

	r.Register(steps.ModuleSaveResults, simulated(steps.ModuleSaveResults, latency, nil))

	return r
}

// simulated builds a stage that parks at the pause gate, sleeps the
// simulated work time, and returns a fixed output fragment.
func simulated(module string, latency time.Duration, produce func(rc *RunContext) map[string]any) Stage {
	return func(ctx context.Context, rc *RunContext) (map[string]any, error) {
		if err := rc.Handle.Sleep(ctx, latency); err != nil {
			return nil, err
		}
		out := map[string]any{module + "_done": true}
		if produce != nil {
			for k, v := range produce(rc) {
				out[k] = v
			}
		}
		return out, nil
	}
}

// analystStage simulates an analyst, including a tool-calling report
// midway so progress consumers see intra-step activity.
func analystStage(module, analyst string, latency time.Duration) Stage {
	return func(ctx context.Context, rc *RunContext) (map[string]any, error) {
		if err := rc.Handle.Sleep(ctx, latency/2); err != nil {
			return nil, err
		}
		rc.Report(fmt.Sprintf("%s fetching data for %s", analyst, rc.Request.StockSymbol), types.NodeToolCalling)
		if err := rc.Handle.Sleep(ctx, latency/2); err != nil {
			return nil, err
		}
		return map[string]any{
			analyst + "_report": fmt.Sprintf("%s analysis of %s (%s)", analyst, rc.Request.StockSymbol, rc.Request.MarketType),
		}, nil
	}
}

func reportStage(module, key string, latency time.Duration) Stage {
	return func(ctx context.Context, rc *RunContext) (map[string]any, error) {
		if err := rc.Handle.Sleep(ctx, latency); err != nil {
			return nil, err
		}
		return map[string]any{
			key: fmt.Sprintf("%s output for %s", module, rc.Request.StockSymbol),
		}, nil
	}
}
