package steps

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbase/stockpulse/pkg/config"
	"github.com/finbase/stockpulse/pkg/types"
)

func TestGenerateComposition(t *testing.T) {
	tests := []struct {
		name     string
		analysts []string
		depth    int
		phases   map[string]int // expected step count per phase
	}{
		{
			name:     "shallow single analyst",
			analysts: []string{types.AnalystMarket},
			depth:    1,
			phases: map[string]int{
				PhasePreparation: 8,
				PhaseAnalyst:     1,
				PhaseTrading:     1,
				PhaseRisk:        1, // single risk prompt
				PhaseSignal:      1,
				PhasePost:        3,
			},
		},
		{
			name:     "depth two adds one debate round",
			analysts: []string{types.AnalystMarket, types.AnalystNews},
			depth:    2,
			phases: map[string]int{
				PhasePreparation: 8,
				PhaseAnalyst:     2,
				PhaseDebate:      3, // bull, bear, manager
				PhaseTrading:     1,
				PhaseRisk:        1,
				PhaseSignal:      1,
				PhasePost:        3,
			},
		},
		{
			name:     "depth three enables full risk review",
			analysts: []string{types.AnalystMarket},
			depth:    3,
			phases: map[string]int{
				PhasePreparation: 8,
				PhaseAnalyst:     1,
				PhaseDebate:      3,
				PhaseTrading:     1,
				PhaseRisk:        4,
				PhaseSignal:      1,
				PhasePost:        3,
			},
		},
		{
			name:     "depth five doubles the debate rounds",
			analysts: []string{types.AnalystMarket, types.AnalystFundamentals, types.AnalystNews, types.AnalystSentiment},
			depth:    5,
			phases: map[string]int{
				PhasePreparation: 8,
				PhaseAnalyst:     4,
				PhaseDebate:      5, // two bull/bear rounds plus manager
				PhaseTrading:     1,
				PhaseRisk:        4,
				PhaseSignal:      1,
				PhasePost:        3,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Generate(tt.analysts, tt.depth, types.MarketUS)

			got := make(map[string]int)
			for _, s := range plan.Steps {
				got[s.Phase]++
			}
			assert.Equal(t, tt.phases, got)

			want := 0
			for _, n := range tt.phases {
				want += n
			}
			assert.Equal(t, want, plan.Len())
		})
	}
}

func TestGenerateDeterministicIndexes(t *testing.T) {
	a := Generate([]string{types.AnalystMarket, types.AnalystNews}, 3, types.MarketCN)
	b := Generate([]string{types.AnalystMarket, types.AnalystNews}, 3, types.MarketCN)
	require.Equal(t, a.Steps, b.Steps)

	for i, s := range a.Steps {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, types.StepPending, s.Status)
	}
}

func TestGenerateWeightsSumToOne(t *testing.T) {
	for depth := 1; depth <= 5; depth++ {
		plan := Generate([]string{types.AnalystMarket, types.AnalystSentiment}, depth, types.MarketHK)
		var sum float64
		for _, s := range plan.Steps {
			assert.Greater(t, s.Weight, 0.0)
			sum += s.Weight
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "depth %d", depth)
	}
}

func TestGenerateAnalystModules(t *testing.T) {
	plan := Generate([]string{types.AnalystFundamentals, types.AnalystSentiment}, 1, types.MarketUS)

	idx, ok := plan.StepFor("fundamentals_analyst")
	require.True(t, ok)
	step, _ := plan.Step(idx)
	assert.Equal(t, PhaseAnalyst, step.Phase)
	assert.Equal(t, "Fundamentals Analyst", step.Name)

	_, ok = plan.StepFor("market_analyst")
	assert.False(t, ok, "unselected analyst must not be planned")
}

func TestStepForUnknownModule(t *testing.T) {
	plan := Generate([]string{types.AnalystMarket}, 1, types.MarketUS)
	_, ok := plan.StepFor("no_such_module")
	assert.False(t, ok)
}

func TestDebateRounds(t *testing.T) {
	plan := Generate([]string{types.AnalystMarket}, 5, types.MarketUS)

	rounds := make(map[string][]int)
	for _, s := range plan.Steps {
		if s.Phase == PhaseDebate && s.Round > 0 {
			rounds[s.Module] = append(rounds[s.Module], s.Round)
		}
	}
	assert.Equal(t, []int{1, 2}, rounds[ModuleBullResearcher])
	assert.Equal(t, []int{1, 2}, rounds[ModuleBearResearcher])

	// StepFor resolves repeated modules to their first occurrence
	idx, ok := plan.StepFor(ModuleBullResearcher)
	require.True(t, ok)
	step, _ := plan.Step(idx)
	assert.Equal(t, 1, step.Round)
}

func TestStepForFromResolvesLaterRounds(t *testing.T) {
	plan := Generate([]string{types.AnalystMarket}, 4, types.MarketUS)

	first, ok := plan.StepFor(ModuleBullResearcher)
	require.True(t, ok)

	second, ok := plan.StepForFrom(ModuleBullResearcher, first+1)
	require.True(t, ok)
	assert.Greater(t, second, first)
	step, _ := plan.Step(second)
	assert.Equal(t, 2, step.Round)

	// Past the last occurrence the lookup falls back to it
	last, ok := plan.StepForFrom(ModuleBullResearcher, plan.Len())
	require.True(t, ok)
	assert.Equal(t, second, last)

	_, ok = plan.StepForFrom("no_such_module", 0)
	assert.False(t, ok)
}

func TestCumulativeWeight(t *testing.T) {
	plan := Generate([]string{types.AnalystMarket}, 1, types.MarketUS)

	assert.Zero(t, plan.CumulativeWeight(0))
	assert.InDelta(t, 1.0, plan.CumulativeWeight(plan.Len()), 1e-9)

	prev := 0.0
	for i := 1; i <= plan.Len(); i++ {
		cur := plan.CumulativeWeight(i)
		assert.Greater(t, cur, prev)
		prev = cur
	}
}

func TestEstimateDuration(t *testing.T) {
	cfg := config.Default()

	shallow := EstimateDuration(cfg, 1, 1, "")
	deep := EstimateDuration(cfg, 4, 5, "")
	assert.Greater(t, deep, shallow)

	// Provider multiplier scales linearly
	cfg.Estimate.ProviderMultipliers = map[string]float64{"slowllm": 2.0}
	base := EstimateDuration(cfg, 2, 3, "")
	slow := EstimateDuration(cfg, 2, 3, "slowllm")
	assert.InDelta(t, base*2, slow, 1e-9)

	assert.False(t, math.IsNaN(shallow))
}
