package risk

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tradeguard/market"
)

type SizingMode string

const (
	ModeFixed          SizingMode = "fixed"
	ModePercentage     SizingMode = "percentage"
	ModeKelly          SizingMode = "kelly"
	ModeAntiMartingale SizingMode = "anti_martingale"
)

func ParseSizingMode(s string) (SizingMode, error) {
	switch m := SizingMode(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")); m {
	case ModeFixed, ModePercentage, ModeKelly, ModeAntiMartingale:
		return m, nil
	case "percent", "":
		return ModePercentage, nil
	}
	return "", fmt.Errorf("invalid sizing mode %q (want fixed|percentage|kelly|anti_martingale)", s)
}

// SizeResult reports the order size. RiskPercent and ActualRisk are always
// computed from the rounded LotSize.
type SizeResult struct {
	LotSize     float64
	RiskAmount  float64 // target risk in account currency
	ActualRisk  float64 // risk of LotSize if the stop is hit
	PipRisk     float64 // entry to stop distance in pips
	RiskPercent float64 // ActualRisk / balance * 100
	Mode        SizingMode

	CanTrade     bool
	Reason       string
	State        TradingState
	Restrictions Restrictions
}

// Sizer converts a risk percentage and stop distance into a lot size.
type Sizer struct {
	risk        *Manager
	instruments *market.Registry
	log         zerolog.Logger
}

func NewSizer(m *Manager, instruments *market.Registry, log zerolog.Logger) *Sizer {
	return &Sizer{
		risk:        m,
		instruments: instruments,
		log:         log.With().Str("component", "sizer").Logger(),
	}
}

// CalculatePositionSize gates the trade through the risk manager and sizes
// it. An unknown instrument is a configuration error; everything else,
// including rejection and degenerate stops, is returned as data.
func (s *Sizer) CalculatePositionSize(
	acct AccountSnapshot,
	p RiskProfile,
	symbol string,
	entry, stop float64,
	mode SizingMode,
) (SizeResult, error) {
	spec, err := s.instruments.Lookup(symbol)
	if err != nil {
		return SizeResult{}, err
	}

	d := s.risk.CheckTradingRestrictions(p, acct, symbol)
	res := SizeResult{
		Mode:         mode,
		CanTrade:     d.CanTrade,
		Reason:       d.Reason,
		State:        d.State,
		Restrictions: d.Restrictions,
	}
	if !d.CanTrade {
		return res, nil
	}

	res.PipRisk = spec.Pips(abs(entry - stop))

	pct, effective := s.riskPercent(p, mode, d.Restrictions.RiskMultiplier)
	res.Mode = effective

	if res.PipRisk <= 0 || acct.Balance <= 0 {
		res.LotSize = spec.MinLot
		s.log.Warn().
			Str("symbol", spec.Name).
			Float64("pip_risk", res.PipRisk).
			Float64("balance", acct.Balance).
			Msg("degenerate sizing input, using minimum lot")
		return res, nil
	}

	res.RiskAmount = acct.Balance * pct / 100
	raw := res.RiskAmount / (res.PipRisk * spec.PipValuePerLot)
	res.LotSize = spec.FloorLots(raw)
	res.ActualRisk = res.LotSize * res.PipRisk * spec.PipValuePerLot
	res.RiskPercent = res.ActualRisk / acct.Balance * 100

	s.log.Debug().
		Str("user_id", p.UserID).
		Str("symbol", spec.Name).
		Str("mode", string(res.Mode)).
		Float64("target_pct", pct).
		Float64("lots", res.LotSize).
		Float64("actual_risk", res.ActualRisk).
		Msg("position sized")

	return res, nil
}

// riskPercent returns the target risk percent and the mode actually used.
func (s *Sizer) riskPercent(p RiskProfile, mode SizingMode, restriction float64) (float64, SizingMode) {
	l := s.risk.Limits()
	tierMult := l.tier(p.Tier).RiskMultiplier

	var pct float64
	switch mode {
	case ModeFixed:
		pct = l.BaseRiskPercent

	case ModeKelly:
		if p.Experience < l.KellyMinExperience || p.WinRate <= 0 || p.AvgRiskReward <= 0 {
			return s.riskPercent(p, ModePercentage, restriction)
		}
		f := KellyFraction(p.WinRate, p.AvgRiskReward, l.KellyCapPercent/100)
		pct = f * 100 * l.KellyFraction * tierMult

	case ModeAntiMartingale:
		sess := s.risk.Session(p.UserID)
		pct = l.BaseRiskPercent * tierMult * antiMartingaleMultiplier(sess.ConsecutiveWins, sess.ConsecutiveLosses)

	default:
		mode = ModePercentage
		pct = l.BaseRiskPercent * tierMult
	}

	if restriction > 0 {
		pct *= restriction
	}
	if p.MaxRiskPercent > 0 && pct > p.MaxRiskPercent {
		pct = p.MaxRiskPercent
	}
	return pct, mode
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
