// Package filter scores newly discovered assets against configurable
// safety rules. Evaluation is pure: no I/O beyond what the snapshot
// already carries.
package filter

import (
	"time"

	"go.uber.org/zap"

	"github.com/meridianlabs/tokensniper/internal/types"
)

// Rule names, in evaluation order.
const (
	RuleMinLiquidity   = "min_liquidity"
	RuleMinHolders     = "min_holders"
	RuleMaxTopHolder   = "max_top_holder"
	RuleMinPoolAge     = "min_pool_age"
	RuleMaxPoolAge     = "max_pool_age"
	RuleMinSafetyScore = "min_safety_score"
)

var ruleOrder = []string{
	RuleMinLiquidity,
	RuleMinHolders,
	RuleMaxTopHolder,
	RuleMinPoolAge,
	RuleMaxPoolAge,
	RuleMinSafetyScore,
}

// Config holds the rule thresholds. Weights default to equal when a rule
// has no entry in Weights.
type Config struct {
	MinLiquidityUSD     float64
	MinHolders          int
	MaxTopHolderPercent float64
	MinPoolAge          time.Duration
	MaxPoolAge          time.Duration
	MinSafetyScore      float64
	SafetyThreshold     float64
	Weights             map[string]float64
}

// RuleResult records one rule's outcome for the audit trail.
type RuleResult struct {
	Name      string  `json:"name"`
	Passed    bool    `json:"passed"`
	Observed  float64 `json:"observed"` // types.Unknown when the field was unavailable
	Threshold float64 `json:"threshold"`
	Margin    float64 `json:"margin"` // normalized to [0, 1]
}

// Verdict is the result of evaluating one snapshot. The audit trail is
// complete even on rejection: every rule is evaluated, never
// short-circuited.
type Verdict struct {
	Accepted bool         `json:"accepted"`
	Score    float64      `json:"score"` // weighted composite, 0-100
	Results  []RuleResult `json:"results"`
}

// FailedRules returns the names of rules that did not pass.
func (v Verdict) FailedRules() []string {
	var failed []string
	for _, r := range v.Results {
		if !r.Passed {
			failed = append(failed, r.Name)
		}
	}
	return failed
}

// Filter evaluates snapshots. Safe for concurrent use; it holds no
// mutable state.
type Filter struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a filter with the given thresholds.
func New(cfg Config, logger *zap.Logger) *Filter {
	return &Filter{
		cfg:    cfg,
		logger: logger.Named("filter"),
		now:    time.Now,
	}
}

// Evaluate runs every configured rule against the snapshot and returns
// the verdict. An asset is accepted only when all rules pass and the
// weighted composite score reaches the configured safety threshold.
func (f *Filter) Evaluate(snap types.AssetSnapshot) Verdict {
	results := make([]RuleResult, 0, len(ruleOrder))
	for _, name := range ruleOrder {
		results = append(results, f.evalRule(name, snap))
	}

	score := f.composite(results)
	accepted := score >= f.cfg.SafetyThreshold
	for _, r := range results {
		if !r.Passed {
			accepted = false
		}
	}

	verdict := Verdict{Accepted: accepted, Score: score, Results: results}
	if accepted {
		f.logger.Info("asset accepted",
			zap.String("asset", snap.AssetID),
			zap.Float64("score", score))
	} else {
		f.logger.Info("asset rejected",
			zap.String("asset", snap.AssetID),
			zap.Float64("score", score),
			zap.Strings("failed_rules", verdict.FailedRules()))
	}
	return verdict
}

func (f *Filter) evalRule(name string, snap types.AssetSnapshot) RuleResult {
	switch name {
	case RuleMinLiquidity:
		return minRule(name, snap.LiquidityUSD, f.cfg.MinLiquidityUSD)
	case RuleMinHolders:
		return minRule(name, float64(snap.Holders), float64(f.cfg.MinHolders))
	case RuleMaxTopHolder:
		return maxRule(name, snap.TopHolderPct, f.cfg.MaxTopHolderPercent)
	case RuleMinPoolAge:
		age, known := snap.PoolAge(f.now())
		if !known {
			return unknownRule(name, f.cfg.MinPoolAge.Seconds())
		}
		return minRule(name, age.Seconds(), f.cfg.MinPoolAge.Seconds())
	case RuleMaxPoolAge:
		age, known := snap.PoolAge(f.now())
		if !known {
			return unknownRule(name, f.cfg.MaxPoolAge.Seconds())
		}
		return maxRule(name, age.Seconds(), f.cfg.MaxPoolAge.Seconds())
	case RuleMinSafetyScore:
		r := minRule(name, snap.SafetyScore, f.cfg.MinSafetyScore)
		if snap.SafetyScore >= 0 {
			// score margin is always relative to the full 0-100 range
			r.Margin = clamp01(snap.SafetyScore / 100)
		}
		return r
	}
	// unreachable as long as ruleOrder stays in sync with evalRule
	return unknownRule(name, 0)
}

// composite is the weighted mean of the rule margins, scaled to 0-100.
// Missing weights default to 1.
func (f *Filter) composite(results []RuleResult) float64 {
	var sum, wsum float64
	for _, r := range results {
		w := 1.0
		if cw, ok := f.cfg.Weights[r.Name]; ok {
			w = cw
		}
		sum += w * r.Margin
		wsum += w
	}
	if wsum == 0 {
		return 0
	}
	return 100 * sum / wsum
}

// minRule passes when observed >= threshold. The margin saturates at the
// threshold: observed/threshold clamped to [0, 1].
func minRule(name string, observed, threshold float64) RuleResult {
	if observed < 0 {
		return unknownRule(name, threshold)
	}
	if threshold <= 0 {
		return RuleResult{Name: name, Passed: true, Observed: observed, Threshold: threshold, Margin: 1}
	}
	return RuleResult{
		Name:      name,
		Passed:    observed >= threshold,
		Observed:  observed,
		Threshold: threshold,
		Margin:    clamp01(observed / threshold),
	}
}

// maxRule passes when observed <= limit. The margin is the remaining
// headroom under the limit, clamped to [0, 1].
func maxRule(name string, observed, limit float64) RuleResult {
	if observed < 0 {
		return unknownRule(name, limit)
	}
	if limit <= 0 {
		return RuleResult{Name: name, Passed: true, Observed: observed, Threshold: limit, Margin: 1}
	}
	return RuleResult{
		Name:      name,
		Passed:    observed <= limit,
		Observed:  observed,
		Threshold: limit,
		Margin:    clamp01((limit - observed) / limit),
	}
}

// unknownRule fails: an unavailable field is never treated as safe.
func unknownRule(name string, threshold float64) RuleResult {
	return RuleResult{Name: name, Passed: false, Observed: types.Unknown, Threshold: threshold, Margin: 0}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
