package risk

import (
	"strings"
	"time"
)

// TradingState is the display label for the most recently triggered
// condition. Restrictions is the authoritative combined state.
type TradingState string

const (
	StateNormal         TradingState = "NORMAL"
	StateTiltWarning    TradingState = "TILT_WARNING"
	StateTiltLockout    TradingState = "TILT_LOCKOUT"
	StateMedicMode      TradingState = "MEDIC_MODE"
	StateWeekendLimited TradingState = "WEEKEND_LIMITED"
	StateNewsLockout    TradingState = "NEWS_LOCKOUT"
	StateDailyLimitHit  TradingState = "DAILY_LIMIT_HIT"
)

// Restriction is a single named flag; RestrictionSet combines them.
type Restriction uint16

const (
	RestrictDailyLimit Restriction = 1 << iota
	RestrictTiltLockout
	RestrictNewsLockout
	RestrictMedicMode
	RestrictWeekend
	RestrictPositionCap
)

var restrictionNames = []struct {
	r    Restriction
	name string
}{
	{RestrictDailyLimit, "daily_limit"},
	{RestrictTiltLockout, "tilt_lockout"},
	{RestrictNewsLockout, "news_lockout"},
	{RestrictMedicMode, "medic_mode"},
	{RestrictWeekend, "weekend"},
	{RestrictPositionCap, "position_cap"},
}

type RestrictionSet uint16

func (s RestrictionSet) Has(r Restriction) bool { return uint16(s)&uint16(r) != 0 }

func (s *RestrictionSet) Add(r Restriction) { *s = RestrictionSet(uint16(*s) | uint16(r)) }

func (s RestrictionSet) Empty() bool { return s == 0 }

func (s RestrictionSet) Names() []string {
	var out []string
	for _, rn := range restrictionNames {
		if s.Has(rn.r) {
			out = append(out, rn.name)
		}
	}
	return out
}

func (s RestrictionSet) String() string {
	if s.Empty() {
		return "none"
	}
	return strings.Join(s.Names(), ",")
}

// Restrictions are the soft limits that still allow trading plus the flags
// of any hard stop that fired.
type Restrictions struct {
	Flags             RestrictionSet
	RiskMultiplier    float64
	MaxPositions      int
	CooldownRemaining time.Duration
}

// Decision is the outcome of CheckTradingRestrictions. A rejection is a
// normal result, never an error.
type Decision struct {
	CanTrade         bool
	Reason           string
	State            TradingState
	Restrictions     Restrictions
	DailyLossPercent float64
	CooldownSeconds  int
}
