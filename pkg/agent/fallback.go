package agent

import (
	"fmt"

	"github.com/finbase/stockpulse/pkg/steps"
	"github.com/finbase/stockpulse/pkg/types"
)

// primaryOutputs maps modules to the state key their output is expected
// to carry. Analyst modules follow the "<analyst>_report" convention.
var primaryOutputs = map[string]string{
	steps.ModuleSymbolFormatting: "formatted_symbol",
	steps.ModuleBullResearcher:   "bull_case",
	steps.ModuleBearResearcher:   "bear_case",
	steps.ModuleResearchManager:  "research_brief",
	steps.ModuleTrader:           "trade_plan",
	steps.ModuleRiskyAnalyst:     "risky_view",
	steps.ModuleSafeAnalyst:      "safe_view",
	steps.ModuleNeutralAnalyst:   "neutral_view",
	steps.ModuleRiskManager:      "risk_decision",
	steps.ModuleRiskPrompt:       "risk_review",
	steps.ModuleSignalProcessing: "final_signal",
}

// OutputKey returns the expected state key for a module's output, or ""
// when the module has no primary output.
func OutputKey(module string) string {
	if key, ok := primaryOutputs[module]; ok {
		return key
	}
	for _, a := range []string{types.AnalystMarket, types.AnalystFundamentals, types.AnalystNews, types.AnalystSentiment} {
		if module == a+"_analyst" {
			return a + "_report"
		}
	}
	return ""
}

// Fallback synthesizes a textual placeholder report for a module whose
// stage failed recoverably or has no binding, so downstream stages and
// the final result still carry an entry for it.
func Fallback(module, reason string) map[string]any {
	key := OutputKey(module)
	if key == "" {
		key = module + "_report"
	}
	return map[string]any{
		key: fmt.Sprintf("%s unavailable: %s", module, reason),
	}
}

// OutputOK reports whether an output has the shape expected of the
// module: non-empty, and carrying the module's primary key when one is
// defined.
func OutputOK(module string, out map[string]any) bool {
	if len(out) == 0 {
		return false
	}
	key := OutputKey(module)
	if key == "" {
		return true
	}
	_, ok := out[key]
	return ok
}
