// Package manage plans and runs the lifetime management of open trades:
// breakeven moves, trailing stops, partial closes and runners, gated by
// the trader's experience.
package manage

import "strings"

type Feature uint8

const (
	FeatureBasic Feature = iota
	FeatureBreakeven
	FeatureBreakevenPlus
	FeatureTrailing
	FeaturePartialClose
	FeatureRunner
	FeatureZeroRiskRunner
	FeatureAggressive
)

var featureNames = [...]string{
	FeatureBasic:          "basic",
	FeatureBreakeven:      "breakeven",
	FeatureBreakevenPlus:  "breakeven_plus",
	FeatureTrailing:       "trailing",
	FeaturePartialClose:   "partial_close",
	FeatureRunner:         "runner",
	FeatureZeroRiskRunner: "zero_risk_runner",
	FeatureAggressive:     "aggressive",
}

func (f Feature) String() string {
	if int(f) < len(featureNames) {
		return featureNames[f]
	}
	return "unknown"
}

// Unlock pairs an experience threshold with the feature it unlocks.
type Unlock struct {
	Experience int
	Feature    Feature
}

// UnlockTable is sorted by Experience.
var UnlockTable = []Unlock{
	{0, FeatureBasic},
	{100, FeatureBreakeven},
	{500, FeatureBreakevenPlus},
	{1000, FeatureTrailing},
	{2000, FeaturePartialClose},
	{5000, FeatureRunner},
	{15000, FeatureZeroRiskRunner},
	{20000, FeatureAggressive},
}

type FeatureSet uint16

func (s FeatureSet) Has(f Feature) bool { return s&(1<<f) != 0 }

func (s FeatureSet) With(f Feature) FeatureSet { return s | 1<<f }

func (s FeatureSet) List() []Feature {
	var out []Feature
	for _, u := range UnlockTable {
		if s.Has(u.Feature) {
			out = append(out, u.Feature)
		}
	}
	return out
}

func (s FeatureSet) String() string {
	var names []string
	for _, f := range s.List() {
		names = append(names, f.String())
	}
	return strings.Join(names, ",")
}

// UnlockedFeatures returns every feature whose threshold is at or below xp.
func UnlockedFeatures(xp int) FeatureSet {
	var s FeatureSet
	for _, u := range UnlockTable {
		if xp < u.Experience {
			break
		}
		s = s.With(u.Feature)
	}
	return s
}

// NextUnlock returns the next locked feature and its threshold.
func NextUnlock(xp int) (Unlock, bool) {
	for _, u := range UnlockTable {
		if xp < u.Experience {
			return u, true
		}
	}
	return Unlock{}, false
}
