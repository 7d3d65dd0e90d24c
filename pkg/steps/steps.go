package steps

import (
	"fmt"
	"strings"

	"github.com/finbase/stockpulse/pkg/config"
	"github.com/finbase/stockpulse/pkg/types"
)

// Pipeline phases in execution order
const (
	PhasePreparation = "preparation"
	PhaseAnalyst     = "analyst"
	PhaseDebate      = "debate"
	PhaseTrading     = "trading"
	PhaseRisk        = "risk"
	PhaseSignal      = "signal"
	PhasePost        = "post"
)

// Module names for the fixed pipeline stages
const (
	ModuleAnalysisStart       = "analysis_start"
	ModuleCostEstimation      = "cost_estimation"
	ModuleDataPreparation     = "data_preparation"
	ModuleEnvValidation       = "environment_validation"
	ModuleConfigBuilder       = "config_builder"
	ModuleSymbolFormatting    = "symbol_formatting"
	ModuleGraphInit           = "graph_initialization"
	ModuleStepOutputDir       = "step_output_directory"
	ModuleBullResearcher      = "bull_researcher"
	ModuleBearResearcher      = "bear_researcher"
	ModuleResearchManager     = "research_manager"
	ModuleTrader              = "trader"
	ModuleRiskyAnalyst        = "risky_analyst"
	ModuleSafeAnalyst         = "safe_analyst"
	ModuleNeutralAnalyst      = "neutral_analyst"
	ModuleRiskManager         = "risk_manager"
	ModuleRiskPrompt          = "risk_prompt"
	ModuleSignalProcessing    = "graph_signal_processing"
	ModuleResultProcessing    = "result_processing"
	ModuleCompletionLogging   = "completion_logging"
	ModuleSaveResults         = "save_results"
)

// raw per-step weights before renormalization; rough cost proportions
const (
	weightPrep     = 0.01
	weightAnalysts = 0.50 // split across selected analysts
	weightBull     = 0.06
	weightBear     = 0.06
	weightDebate   = 0.03
	weightTrader   = 0.10
	weightRiskEach = 0.025
	weightRiskOne  = 0.05
	weightSignal   = 0.05
	weightPost     = 0.01
)

var prepModules = []struct {
	module, name, description string
}{
	{ModuleAnalysisStart, "Analysis Start", "Record analysis kickoff and session metadata"},
	{ModuleCostEstimation, "Cost Estimation", "Estimate token and provider cost for the run"},
	{ModuleDataPreparation, "Data Preparation", "Fetch and stage market data for the symbol"},
	{ModuleEnvValidation, "Environment Validation", "Verify provider keys and data-source reachability"},
	{ModuleConfigBuilder, "Config Builder", "Assemble the per-run pipeline configuration"},
	{ModuleSymbolFormatting, "Symbol Formatting", "Normalize the symbol for the target market"},
	{ModuleGraphInit, "Graph Initialization", "Build the agent graph for the selected depth"},
	{ModuleStepOutputDir, "Step Output Directory", "Create the step-output trace directory"},
}

var postModules = []struct {
	module, name, description string
}{
	{ModuleResultProcessing, "Result Processing", "Collect and normalize stage outputs"},
	{ModuleCompletionLogging, "Completion Logging", "Record run summary and timings"},
	{ModuleSaveResults, "Save Results", "Persist the final analysis record"},
}

// Plan is the immutable planned step list for one task
type Plan struct {
	Steps []types.Step

	// moduleIndex maps module names to their step indexes in plan order;
	// built at generation time so progress messages correlate by lookup,
	// not keyword matching. Debate modules occur once per round.
	moduleIndex map[string][]int
}

// MaxDebateRounds returns the bull/bear exchange rounds for a depth
func MaxDebateRounds(depth int) int {
	if depth >= 4 {
		return 2
	}
	return 1
}

// Generate produces the ordered step list for a submission. It is
// deterministic and total: same inputs, same plan; no I/O.
func Generate(analysts []string, researchDepth int, marketType types.MarketType) *Plan {
	var steps []types.Step

	add := func(module, name, description, phase, role string, round int, weight float64) {
		steps = append(steps, types.Step{
			Index:       len(steps),
			Name:        name,
			Description: description,
			Weight:      weight,
			Phase:       phase,
			Status:      types.StepPending,
			Round:       round,
			Role:        role,
			Module:      module,
		})
	}

	// Preparation phase (fixed)
	for _, p := range prepModules {
		add(p.module, p.name, p.description, PhasePreparation, "", 0, weightPrep)
	}

	// Analyst phase: one step per selected analyst, order as submitted
	perAnalyst := weightAnalysts / float64(len(analysts))
	for _, a := range analysts {
		module := a + "_analyst"
		add(module, analystTitle(a), fmt.Sprintf("Run the %s analyst for %s", a, marketType), PhaseAnalyst, "analyst", 0, perAnalyst)
	}

	// Debate phase (depth >= 2): bull/bear exchanges plus the manager
	if researchDepth >= 2 {
		rounds := MaxDebateRounds(researchDepth)
		for r := 1; r <= rounds; r++ {
			add(ModuleBullResearcher, "Bull Researcher", "Argue the bullish case", PhaseDebate, "bull", r, weightBull/float64(rounds))
			add(ModuleBearResearcher, "Bear Researcher", "Argue the bearish case", PhaseDebate, "bear", r, weightBear/float64(rounds))
		}
		add(ModuleResearchManager, "Research Manager", "Weigh the debate and draft the research brief", PhaseDebate, "manager", 0, weightDebate)
	}

	// Trader stage (always)
	add(ModuleTrader, "Trader", "Turn the research brief into a trade plan", PhaseTrading, "trader", 0, weightTrader)

	// Risk phase: full four-way review at depth >= 3, a single prompt below
	if researchDepth >= 3 {
		add(ModuleRiskyAnalyst, "Risky Analyst", "Assess the aggressive position", PhaseRisk, "risky", 0, weightRiskEach)
		add(ModuleSafeAnalyst, "Safe Analyst", "Assess the conservative position", PhaseRisk, "safe", 0, weightRiskEach)
		add(ModuleNeutralAnalyst, "Neutral Analyst", "Assess the neutral position", PhaseRisk, "neutral", 0, weightRiskEach)
		add(ModuleRiskManager, "Risk Manager", "Decide the final risk stance", PhaseRisk, "manager", 0, weightRiskEach)
	} else {
		add(ModuleRiskPrompt, "Risk Prompt", "Single-pass risk review", PhaseRisk, "", 0, weightRiskOne)
	}

	// Signal processing
	add(ModuleSignalProcessing, "Signal Processing", "Distill the final trade signal", PhaseSignal, "", 0, weightSignal)

	// Post-processing phase (fixed)
	for _, p := range postModules {
		add(p.module, p.name, p.description, PhasePost, "", 0, weightPost)
	}

	renormalize(steps)

	index := make(map[string][]int, len(steps))
	for _, s := range steps {
		index[s.Module] = append(index[s.Module], s.Index)
	}

	return &Plan{Steps: steps, moduleIndex: index}
}

// renormalize scales weights so they sum to exactly 1.0
func renormalize(steps []types.Step) {
	var total float64
	for _, s := range steps {
		total += s.Weight
	}
	if total == 0 {
		return
	}
	for i := range steps {
		steps[i].Weight /= total
	}
}

// StepFor returns the first step index for a module name
func (p *Plan) StepFor(module string) (int, bool) {
	idxs, ok := p.moduleIndex[module]
	if !ok {
		return 0, false
	}
	return idxs[0], true
}

// StepForFrom returns the first step index for a module at or after min,
// so repeated debate modules resolve to the occurrence for the current
// round rather than regressing to round one. Falls back to the last
// occurrence when every occurrence is behind min.
func (p *Plan) StepForFrom(module string, min int) (int, bool) {
	idxs, ok := p.moduleIndex[module]
	if !ok {
		return 0, false
	}
	for _, idx := range idxs {
		if idx >= min {
			return idx, true
		}
	}
	return idxs[len(idxs)-1], true
}

// Step returns the step at the given index
func (p *Plan) Step(index int) (types.Step, bool) {
	if index < 0 || index >= len(p.Steps) {
		return types.Step{}, false
	}
	return p.Steps[index], true
}

// Len returns the number of planned steps
func (p *Plan) Len() int { return len(p.Steps) }

// CumulativeWeight returns the summed weight of steps with index < upto
func (p *Plan) CumulativeWeight(upto int) float64 {
	var sum float64
	for _, s := range p.Steps {
		if s.Index < upto {
			sum += s.Weight
		}
	}
	return sum
}

// EstimateDuration returns the expected run time in seconds:
// (base + per_analyst(depth) * analysts) scaled by the provider and depth
// multipliers from configuration.
func EstimateDuration(cfg *config.Config, analysts int, researchDepth int, provider string) float64 {
	base := cfg.Estimate.BaseSeconds + cfg.PerAnalyst(researchDepth)*float64(analysts)
	return base * cfg.ProviderMultiplier(provider) * cfg.DepthMultiplier(researchDepth)
}

func analystTitle(analyst string) string {
	words := strings.Split(analyst, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ") + " Analyst"
}
