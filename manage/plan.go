package manage

import (
	"errors"
	"fmt"
	"math"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/risk"
)

var ErrNoStopDistance = errors.New("stop loss equals entry")

// PlanKind orders evaluation: plans run in the order of this list.
type PlanKind string

const (
	PlanBasic         PlanKind = "basic"
	PlanBreakeven     PlanKind = "breakeven"
	PlanBreakevenPlus PlanKind = "breakeven_plus"
	PlanTrailing      PlanKind = "trailing"
	PlanPartialClose  PlanKind = "partial_close"
	PlanRunner        PlanKind = "runner"
)

var kindOrder = map[PlanKind]int{
	PlanBasic:         0,
	PlanBreakeven:     1,
	PlanBreakevenPlus: 2,
	PlanTrailing:      3,
	PlanPartialClose:  4,
	PlanRunner:        5,
}

// Plan is one management rule. Distances are in pips measured from entry
// in the trade's favor; only the fields relevant to Kind are set.
type Plan struct {
	Kind    PlanKind `json:"kind" yaml:"kind"`
	Feature Feature  `json:"feature" yaml:"feature"`

	TriggerPips float64 `json:"trigger_pips,omitempty" yaml:"trigger_pips,omitempty"`
	OffsetPips  float64 `json:"offset_pips,omitempty" yaml:"offset_pips,omitempty"` // stop placed at entry + offset

	TrailDistancePips float64 `json:"trail_distance_pips,omitempty" yaml:"trail_distance_pips,omitempty"`
	TrailStepPips     float64 `json:"trail_step_pips,omitempty" yaml:"trail_step_pips,omitempty"`

	ClosePercent   float64 `json:"close_percent,omitempty" yaml:"close_percent,omitempty"` // cumulative target, 0..100
	ForceBreakeven bool    `json:"force_breakeven,omitempty" yaml:"force_breakeven,omitempty"`
	TargetR        float64 `json:"target_r,omitempty" yaml:"target_r,omitempty"`
}

// Planner builds management plans from a profile's unlocked features.
type Planner struct {
	instruments *market.Registry
}

func NewPlanner(instruments *market.Registry) *Planner {
	return &Planner{instruments: instruments}
}

// BuildPlan is pure: identical inputs give identical plans. Parameters are
// fractions of the initial stop distance S:
//
//	breakeven       trigger 0.5S
//	breakeven plus  trigger 1.0S, stop at entry + 0.1S
//	trailing        start 1.5S, distance 0.75S, step 0.1S
//	partial close   50% at 1R
//	runner          75% cumulative at 1.5S, stop at entry + 0.1S, target 3R
//	zero-risk       50% at 1R with a forced entry + 0.1S stop (replaces partial close)
//	aggressive      start 1.0S, distance 0.5S, step 0.05S (replaces trailing)
func (p *Planner) BuildPlan(profile risk.RiskProfile, entry, stop, takeProfit float64, symbol string) ([]Plan, error) {
	spec, err := p.instruments.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	s := spec.Pips(math.Abs(entry - stop))
	if s <= 0 {
		return nil, fmt.Errorf("build plan for %s: %w", spec.Name, ErrNoStopDistance)
	}

	features := UnlockedFeatures(profile.Experience)
	plans := []Plan{{Kind: PlanBasic, Feature: FeatureBasic, TargetR: round1(risk.RR(entry, stop, takeProfit))}}

	if features.Has(FeatureBreakeven) {
		plans = append(plans, Plan{Kind: PlanBreakeven, Feature: FeatureBreakeven, TriggerPips: round1(0.5 * s)})
	}
	if features.Has(FeatureBreakevenPlus) {
		plans = append(plans, Plan{
			Kind:        PlanBreakevenPlus,
			Feature:     FeatureBreakevenPlus,
			TriggerPips: s,
			OffsetPips:  round1(0.1 * s),
		})
	}

	switch {
	case features.Has(FeatureAggressive):
		plans = append(plans, Plan{
			Kind:              PlanTrailing,
			Feature:           FeatureAggressive,
			TriggerPips:       s,
			TrailDistancePips: atLeastOne(0.5 * s),
			TrailStepPips:     atLeastOne(0.05 * s),
		})
	case features.Has(FeatureTrailing):
		plans = append(plans, Plan{
			Kind:              PlanTrailing,
			Feature:           FeatureTrailing,
			TriggerPips:       round1(1.5 * s),
			TrailDistancePips: atLeastOne(0.75 * s),
			TrailStepPips:     atLeastOne(0.1 * s),
		})
	}

	switch {
	case features.Has(FeatureZeroRiskRunner):
		plans = append(plans, Plan{
			Kind:           PlanPartialClose,
			Feature:        FeatureZeroRiskRunner,
			TriggerPips:    s,
			ClosePercent:   50,
			ForceBreakeven: true,
			OffsetPips:     round1(0.1 * s),
		})
	case features.Has(FeaturePartialClose):
		plans = append(plans, Plan{
			Kind:         PlanPartialClose,
			Feature:      FeaturePartialClose,
			TriggerPips:  s,
			ClosePercent: 50,
		})
	}

	if features.Has(FeatureRunner) {
		plans = append(plans, Plan{
			Kind:           PlanRunner,
			Feature:        FeatureRunner,
			TriggerPips:    round1(1.5 * s),
			ClosePercent:   75,
			ForceBreakeven: true,
			OffsetPips:     round1(0.1 * s),
			TargetR:        3,
		})
	}

	return plans, nil
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

func atLeastOne(pips float64) float64 {
	return math.Max(1, round1(pips))
}
