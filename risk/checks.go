package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/news"
)

// NewsSource answers news-lockout queries.
type NewsSource interface {
	HighImpactNear(currencies []string, at time.Time, window time.Duration) (news.Event, bool)
}

// DecisionRecorder receives one observation per decision.
type DecisionRecorder interface {
	RecordDecision(state string, allowed bool)
}

// Manager evaluates the safety gates and owns the per-user session registry.
type Manager struct {
	limits   Limits
	sessions *SessionStore
	news     NewsSource
	recorder DecisionRecorder
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l.With().Str("component", "risk").Logger() }
}

func WithNews(src NewsSource) Option {
	return func(m *Manager) { m.news = src }
}

func WithSessionStore(st *SessionStore) Option {
	return func(m *Manager) { m.sessions = st }
}

func WithRecorder(r DecisionRecorder) Option {
	return func(m *Manager) { m.recorder = r }
}

func NewManager(limits Limits, opts ...Option) *Manager {
	m := &Manager{
		limits: limits,
		now:    time.Now,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sessions == nil {
		m.sessions = NewSessionStore(limits.location())
	}
	return m
}

func (m *Manager) Limits() Limits { return m.limits }

func (m *Manager) Sessions() *SessionStore { return m.sessions }

// Session returns a copy of the user's current-day session.
func (m *Manager) Session(userID string) TradingSession {
	return m.sessions.Get(userID, m.now(), 0)
}

// DailyLossLimit returns the profile's limit, falling back to the tier table.
func (m *Manager) DailyLossLimit(p RiskProfile) float64 {
	if p.DailyLossLimitPercent > 0 {
		return p.DailyLossLimitPercent
	}
	return m.limits.tier(p.Tier).DailyLossLimitPercent
}

// dailyLossPercent measures the drop from the day-start baseline to the
// lower of balance and equity, so open losses count toward the limit.
func dailyLossPercent(baseline float64, acct AccountSnapshot) float64 {
	if baseline <= 0 {
		return 0
	}
	current := acct.Balance
	if acct.Equity > 0 && acct.Equity < current {
		current = acct.Equity
	}
	return (baseline - current) / baseline * 100
}

// CheckTradingRestrictions runs the gates in order; the first hard stop
// wins. It never mutates session counters; the only write is latching the
// daily loss limit when it is first crossed.
func (m *Manager) CheckTradingRestrictions(p RiskProfile, acct AccountSnapshot, symbol string) Decision {
	now := m.now()
	sess := m.sessions.Get(p.UserID, now, acct.Balance)

	baseline := acct.StartingBalance
	if baseline <= 0 {
		baseline = sess.StartingBalance
	}

	d := Decision{
		State:            StateNormal,
		DailyLossPercent: dailyLossPercent(baseline, acct),
		Restrictions: Restrictions{
			RiskMultiplier: 1,
			MaxPositions:   p.MaxConcurrentPositions,
		},
	}
	defer m.observe(p, symbol, &d)

	// Daily loss limit, terminal for the rest of the day once hit.
	limit := m.DailyLossLimit(p)
	if !sess.DailyLimitHitAt.IsZero() || sess.State == StateDailyLimitHit {
		d.reject(StateDailyLimitHit, RestrictDailyLimit,
			fmt.Sprintf("daily loss limit reached today (%s tier, %.2f%%)", p.Tier, limit))
		return d
	}
	if limit > 0 && d.DailyLossPercent >= limit {
		m.latchDailyLimit(p.UserID, now)
		d.reject(StateDailyLimitHit, RestrictDailyLimit,
			fmt.Sprintf("daily loss limit reached: %.2f%% >= %.2f%% (%s tier)", d.DailyLossPercent, limit, p.Tier))
		return d
	}

	// Tilt lockout
	if p.TiltThreshold > 0 &&
		sess.ConsecutiveLosses >= p.TiltThreshold &&
		sess.TiltStrikes >= m.limits.TiltLockoutStrikes {
		elapsed := now.Sub(sess.LastTradeTime)
		if elapsed < m.limits.TiltCooldown {
			remaining := m.limits.TiltCooldown - elapsed
			d.Restrictions.CooldownRemaining = remaining
			d.CooldownSeconds = int(math.Ceil(remaining.Seconds()))
			d.reject(StateTiltLockout, RestrictTiltLockout,
				fmt.Sprintf("tilt lockout: %d consecutive losses, cooldown %s remaining",
					sess.ConsecutiveLosses, remaining.Round(time.Second)))
			return d
		}
	}

	// News lockout
	if m.news != nil {
		if base, quote, ok := market.Currencies(symbol); ok {
			if ev, hit := m.news.HighImpactNear([]string{base, quote}, now, m.limits.NewsWindow); hit {
				d.reject(StateNewsLockout, RestrictNewsLockout,
					fmt.Sprintf("news lockout: %s %s at %s", ev.Currency, ev.Name, ev.Time.UTC().Format("15:04 MST")))
				return d
			}
		}
	}

	d.CanTrade = true
	if sess.TiltStrikes > 0 {
		d.State = StateTiltWarning
	}

	var notes []string

	if m.limits.isWeekend(now) {
		d.Restrictions.Flags.Add(RestrictWeekend)
		mult := p.WeekendRiskMultiplier
		if mult <= 0 {
			mult = m.limits.WeekendRiskMultiplier
		}
		if mult > 0 {
			d.Restrictions.RiskMultiplier *= mult
		}
		weekendCap := p.WeekendMaxPositions
		if weekendCap <= 0 {
			weekendCap = m.limits.WeekendMaxPositions
		}
		d.Restrictions.MaxPositions = minCap(d.Restrictions.MaxPositions, weekendCap)
		d.State = StateWeekendLimited
		notes = append(notes, "weekend mode")
	}

	if p.MedicModeThreshold > 0 && d.DailyLossPercent >= p.MedicModeThreshold {
		d.Restrictions.Flags.Add(RestrictMedicMode)
		d.Restrictions.RiskMultiplier *= m.limits.MedicRiskMultiplier
		d.Restrictions.MaxPositions = minCap(d.Restrictions.MaxPositions, m.limits.MedicMaxPositions)
		d.State = StateMedicMode
		notes = append(notes, fmt.Sprintf("medic mode (daily loss %.2f%%)", d.DailyLossPercent))
	}

	if maxPos := d.Restrictions.MaxPositions; maxPos > 0 && acct.OpenPositions >= maxPos {
		d.CanTrade = false
		d.Restrictions.Flags.Add(RestrictPositionCap)
		d.Reason = fmt.Sprintf("open positions %d >= max %d", acct.OpenPositions, maxPos)
		return d
	}

	if len(notes) > 0 {
		d.Reason = strings.Join(notes, "; ")
	}
	return d
}

// latchDailyLimit marks the session so that a recovering balance or equity
// does not reopen trading. Counters are left alone.
func (m *Manager) latchDailyLimit(userID string, now time.Time) {
	m.sessions.Update(userID, now, func(s *TradingSession) {
		if s.DailyLimitHitAt.IsZero() {
			s.DailyLimitHitAt = now
		}
		s.State = StateDailyLimitHit
	})
}

func (d *Decision) reject(state TradingState, flag Restriction, reason string) {
	d.CanTrade = false
	d.State = state
	d.Reason = reason
	d.Restrictions.Flags.Add(flag)
}

func (m *Manager) observe(p RiskProfile, symbol string, d *Decision) {
	if m.recorder != nil {
		m.recorder.RecordDecision(string(d.State), d.CanTrade)
	}
	if !d.CanTrade {
		m.log.Debug().
			Str("user_id", p.UserID).
			Str("symbol", symbol).
			Str("state", string(d.State)).
			Str("restrictions", d.Restrictions.Flags.String()).
			Msg(d.Reason)
	}
}

// minCap treats zero as "no cap".
func minCap(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case b < a:
		return b
	}
	return a
}

// RecordTradeResult is the only mutator of a TradingSession. It must be
// called exactly once per closed trade.
//
// Tilt: every loss at or beyond the profile's threshold adds a strike;
// reaching Limits.TiltLockoutStrikes moves the session to TILT_LOCKOUT.
// Strikes clear only after Limits.RecoveryWins consecutive wins; any loss
// in between resets the recovery progress.
func (m *Manager) RecordTradeResult(p RiskProfile, won bool, pnl float64) TradingSession {
	now := m.now()
	limit := m.DailyLossLimit(p)

	s := m.sessions.Update(p.UserID, now, func(s *TradingSession) {
		s.TradesTaken++
		s.LastTradeTime = now
		s.DailyPnL += pnl
		if s.StartingBalance > 0 {
			s.DailyPnLPercent = s.DailyPnL / s.StartingBalance * 100
		}

		if won {
			s.ConsecutiveWins++
			s.ConsecutiveLosses = 0
			if s.TiltStrikes > 0 {
				s.RecoveryWins++
				if s.RecoveryWins >= m.limits.RecoveryWins {
					s.TiltStrikes = 0
					s.RecoveryWins = 0
				}
			}
		} else {
			s.ConsecutiveLosses++
			s.ConsecutiveWins = 0
			s.RecoveryWins = 0
			if p.TiltThreshold > 0 && s.ConsecutiveLosses >= p.TiltThreshold {
				s.TiltStrikes++
			}
		}

		if p.MedicModeThreshold > 0 && -s.DailyPnLPercent >= p.MedicModeThreshold && s.MedicActivatedAt.IsZero() {
			s.MedicActivatedAt = now
		}

		s.State = nextState(*s, p, m.limits, limit)
		if s.State == StateDailyLimitHit && s.DailyLimitHitAt.IsZero() {
			s.DailyLimitHitAt = now
		}
	})

	m.log.Info().
		Str("user_id", p.UserID).
		Bool("won", won).
		Float64("pnl", pnl).
		Int("consecutive_losses", s.ConsecutiveLosses).
		Int("tilt_strikes", s.TiltStrikes).
		Str("state", string(s.State)).
		Msg("trade result recorded")

	return s
}

func nextState(s TradingSession, p RiskProfile, l Limits, dailyLimit float64) TradingState {
	switch {
	case s.State == StateDailyLimitHit, !s.DailyLimitHitAt.IsZero():
		return StateDailyLimitHit
	case dailyLimit > 0 && -s.DailyPnLPercent >= dailyLimit:
		return StateDailyLimitHit
	case s.TiltStrikes >= l.TiltLockoutStrikes && s.ConsecutiveLosses >= p.TiltThreshold && p.TiltThreshold > 0:
		return StateTiltLockout
	case s.TiltStrikes > 0:
		return StateTiltWarning
	case !s.MedicActivatedAt.IsZero():
		return StateMedicMode
	}
	return StateNormal
}
