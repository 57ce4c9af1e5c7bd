package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianlabs/tokensniper/internal/types"
)

func testConfig() Config {
	return Config{
		MinLiquidityUSD:     10_000,
		MinHolders:          100,
		MaxTopHolderPercent: 30,
		MinPoolAge:          time.Minute,
		MaxPoolAge:          30 * time.Minute,
		MinSafetyScore:      50,
		SafetyThreshold:     60,
	}
}

func passingSnapshot(now time.Time) types.AssetSnapshot {
	return types.AssetSnapshot{
		AssetID:       "mint-aaa",
		Chain:         types.ChainSolana,
		Symbol:        "AAA",
		LiquidityUSD:  50_000,
		Holders:       500,
		TopHolderPct:  10,
		PoolCreatedAt: now.Add(-5 * time.Minute),
		SafetyScore:   90,
		DiscoveredAt:  now,
	}
}

func newTestFilter(t *testing.T, cfg Config, now time.Time) *Filter {
	f := New(cfg, zaptest.NewLogger(t))
	f.now = func() time.Time { return now }
	return f
}

func TestEvaluateAcceptsHealthySnapshot(t *testing.T) {
	now := time.Now().UTC()
	f := newTestFilter(t, testConfig(), now)

	verdict := f.Evaluate(passingSnapshot(now))

	require.True(t, verdict.Accepted)
	assert.GreaterOrEqual(t, verdict.Score, 60.0)
	assert.Len(t, verdict.Results, len(ruleOrder))
	assert.Empty(t, verdict.FailedRules())
}

// Each rule must trip independently while the others keep passing, and
// the verdict must still carry results for every rule.
func TestEvaluateRuleIsolation(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		name       string
		mutate     func(s *types.AssetSnapshot)
		failedRule string
	}{
		{"low liquidity", func(s *types.AssetSnapshot) { s.LiquidityUSD = 5_000 }, RuleMinLiquidity},
		{"few holders", func(s *types.AssetSnapshot) { s.Holders = 10 }, RuleMinHolders},
		{"concentrated holder", func(s *types.AssetSnapshot) { s.TopHolderPct = 80 }, RuleMaxTopHolder},
		{"pool too young", func(s *types.AssetSnapshot) { s.PoolCreatedAt = now.Add(-10 * time.Second) }, RuleMinPoolAge},
		{"pool too old", func(s *types.AssetSnapshot) { s.PoolCreatedAt = now.Add(-2 * time.Hour) }, RuleMaxPoolAge},
		{"low external score", func(s *types.AssetSnapshot) { s.SafetyScore = 20 }, RuleMinSafetyScore},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestFilter(t, testConfig(), now)
			snap := passingSnapshot(now)
			tc.mutate(&snap)

			verdict := f.Evaluate(snap)

			require.False(t, verdict.Accepted)
			require.Equal(t, []string{tc.failedRule}, verdict.FailedRules())
			assert.Len(t, verdict.Results, len(ruleOrder))
		})
	}
}

func TestEvaluateUnknownFieldFailsItsRule(t *testing.T) {
	now := time.Now().UTC()
	f := newTestFilter(t, testConfig(), now)

	snap := passingSnapshot(now)
	snap.Holders = types.Unknown

	verdict := f.Evaluate(snap)

	require.False(t, verdict.Accepted)
	require.Equal(t, []string{RuleMinHolders}, verdict.FailedRules())

	for _, r := range verdict.Results {
		if r.Name == RuleMinHolders {
			assert.Equal(t, float64(types.Unknown), r.Observed)
			assert.Zero(t, r.Margin)
		}
	}
}

func TestEvaluateUnknownPoolAgeFailsBothAgeRules(t *testing.T) {
	now := time.Now().UTC()
	f := newTestFilter(t, testConfig(), now)

	snap := passingSnapshot(now)
	snap.PoolCreatedAt = time.Time{}

	verdict := f.Evaluate(snap)

	require.False(t, verdict.Accepted)
	assert.ElementsMatch(t, []string{RuleMinPoolAge, RuleMaxPoolAge}, verdict.FailedRules())
}

func TestEvaluateScoreBelowThresholdRejects(t *testing.T) {
	now := time.Now().UTC()
	cfg := testConfig()
	cfg.SafetyThreshold = 95

	f := newTestFilter(t, cfg, now)
	snap := passingSnapshot(now)
	// Barely above each threshold: every rule passes but the composite
	// stays modest.
	snap.LiquidityUSD = 10_001
	snap.Holders = 101
	snap.TopHolderPct = 29.9
	snap.SafetyScore = 51

	verdict := f.Evaluate(snap)

	require.False(t, verdict.Accepted)
	assert.Empty(t, verdict.FailedRules())
	assert.Less(t, verdict.Score, 95.0)
}

func TestEvaluateWeightsShiftComposite(t *testing.T) {
	now := time.Now().UTC()
	snap := passingSnapshot(now)
	snap.LiquidityUSD = 10_000 // margin saturates at 1.0
	snap.SafetyScore = 50      // margin 0.5 on the 0-100 range

	base := newTestFilter(t, testConfig(), now).Evaluate(snap)

	weighted := testConfig()
	weighted.Weights = map[string]float64{RuleMinSafetyScore: 10}
	heavy := newTestFilter(t, weighted, now).Evaluate(snap)

	// Overweighting the weakest rule must pull the composite down.
	assert.Less(t, heavy.Score, base.Score)
}
