package risk

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the subscription tier. Tiers are ordered base < advanced < elite < premium.
type Tier string

const (
	TierBase     Tier = "base"
	TierAdvanced Tier = "advanced"
	TierElite    Tier = "elite"
	TierPremium  Tier = "premium"
)

var tierRank = map[Tier]int{
	TierBase:     0,
	TierAdvanced: 1,
	TierElite:    2,
	TierPremium:  3,
}

// Rank returns the tier's position in the ordering, -1 when unknown.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

func (t Tier) Valid() bool { return t.Rank() >= 0 }

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("invalid tier %q (want base|advanced|elite|premium)", s)
	}
	return t, nil
}

// TierLimits are the integrator-supplied per-tier parameters.
type TierLimits struct {
	DailyLossLimitPercent float64
	RiskMultiplier        float64
}

// Limits is the engine-wide policy. Per-user values live on RiskProfile.
type Limits struct {
	Tiers map[Tier]TierLimits

	// Sizing
	BaseRiskPercent    float64 // 1.0
	KellyFraction      float64 // 0.25 of full Kelly
	KellyCapPercent    float64 // 25
	KellyMinExperience int     // 2000

	// Circuit breakers
	TiltCooldown        time.Duration // 1h
	TiltLockoutStrikes  int           // 2
	RecoveryWins        int           // 2
	NewsWindow          time.Duration // 30m
	MedicRiskMultiplier float64       // 0.5
	MedicMaxPositions   int           // 1

	// Weekend mode
	WeekendDays           []time.Weekday
	WeekendRiskMultiplier float64 // used when the profile leaves it unset
	WeekendMaxPositions   int

	// Location decides calendar day boundaries and weekends.
	Location *time.Location
}

// DefaultLimits uses the limit table from the active production code path:
// 6% for base and 8.5% for every paid tier.
func DefaultLimits() Limits {
	return Limits{
		Tiers: map[Tier]TierLimits{
			TierBase:     {DailyLossLimitPercent: 6, RiskMultiplier: 1.0},
			TierAdvanced: {DailyLossLimitPercent: 8.5, RiskMultiplier: 1.25},
			TierElite:    {DailyLossLimitPercent: 8.5, RiskMultiplier: 1.5},
			TierPremium:  {DailyLossLimitPercent: 8.5, RiskMultiplier: 2.0},
		},
		BaseRiskPercent:       1.0,
		KellyFraction:         0.25,
		KellyCapPercent:       25,
		KellyMinExperience:    2000,
		TiltCooldown:          time.Hour,
		TiltLockoutStrikes:    2,
		RecoveryWins:          2,
		NewsWindow:            30 * time.Minute,
		MedicRiskMultiplier:   0.5,
		MedicMaxPositions:     1,
		WeekendDays:           []time.Weekday{time.Saturday, time.Sunday},
		WeekendRiskMultiplier: 0.5,
		WeekendMaxPositions:   1,
		Location:              time.UTC,
	}
}

func (l Limits) tier(t Tier) TierLimits {
	tl, ok := l.Tiers[t]
	if !ok {
		tl = l.Tiers[TierBase]
	}
	if tl.RiskMultiplier <= 0 {
		tl.RiskMultiplier = 1
	}
	return tl
}

func (l Limits) location() *time.Location {
	if l.Location == nil {
		return time.UTC
	}
	return l.Location
}

func (l Limits) isWeekend(t time.Time) bool {
	wd := t.In(l.location()).Weekday()
	for _, d := range l.WeekendDays {
		if d == wd {
			return true
		}
	}
	return false
}

// RiskProfile is supplied fresh by the caller for every decision.
type RiskProfile struct {
	UserID                 string
	Tier                   Tier
	MaxRiskPercent         float64
	MaxConcurrentPositions int
	DailyLossLimitPercent  float64 // zero means use the tier table
	WinRate                float64 // 0..1
	AvgRiskReward          float64
	Experience             int
	WeekendMaxPositions    int
	WeekendRiskMultiplier  float64
	TiltThreshold          int     // consecutive losses
	MedicModeThreshold     float64 // percent daily loss
}

// DefaultProfile returns a profile carrying the usual per-tier settings.
func DefaultProfile(userID string, tier Tier, experience int) RiskProfile {
	p := RiskProfile{
		UserID:                 userID,
		Tier:                   tier,
		MaxRiskPercent:         2,
		MaxConcurrentPositions: 3,
		WinRate:                0.5,
		AvgRiskReward:          2,
		Experience:             experience,
		WeekendMaxPositions:    1,
		WeekendRiskMultiplier:  0.5,
		TiltThreshold:          3,
		MedicModeThreshold:     3,
	}
	if tier.Rank() >= TierElite.Rank() {
		p.MaxRiskPercent = 3
		p.MaxConcurrentPositions = 5
		p.WeekendMaxPositions = 2
	}
	return p
}

// AccountSnapshot is the broker account at decision time. StartingBalance is
// the balance at the start of the trading day; zero lets the session supply it.
type AccountSnapshot struct {
	Balance         float64
	Equity          float64
	Margin          float64
	FreeMargin      float64
	Currency        string
	Leverage        float64
	StartingBalance float64
	OpenPositions   int
}
