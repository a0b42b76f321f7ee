package risk

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/market"
)

func newTestSizer(t *testing.T) (*Sizer, *Manager, *clock) {
	t.Helper()
	m, c := newTestManager(t, wed)
	return NewSizer(m, market.MustDefaultRegistry(), zerolog.Nop()), m, c
}

func TestCalculatePositionSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		tier     Tier
		xp       int
		winRate  float64
		rr       float64
		entry    float64
		stop     float64
		mode     SizingMode
		wantLots float64
		wantMode SizingMode
	}{
		{"fixed ignores tier", TierPremium, 0, 0.5, 2, 1.1000, 1.0950, ModeFixed, 0.2, ModeFixed},
		{"percentage base", TierBase, 0, 0.5, 2, 1.1000, 1.0950, ModePercentage, 0.2, ModePercentage},
		{"percentage elite", TierElite, 0, 0.5, 2, 1.1000, 1.0950, ModePercentage, 0.3, ModePercentage},
		{"short trade", TierBase, 0, 0.5, 2, 1.0950, 1.1000, ModePercentage, 0.2, ModePercentage},
		{"rounds down to lot step", TierBase, 0, 0.5, 2, 1.1000, 1.0970, ModePercentage, 0.33, ModePercentage},
		{"kelly quarter fraction", TierBase, 2500, 0.35, 2, 1.1000, 1.0950, ModeKelly, 0.12, ModeKelly},
		{"kelly clamped to max risk", TierPremium, 5000, 0.6, 2, 1.1000, 1.0950, ModeKelly, 0.6, ModeKelly},
		{"kelly without experience falls back", TierBase, 100, 0.6, 2, 1.1000, 1.0950, ModeKelly, 0.2, ModePercentage},
		{"kelly negative edge is minimum lot", TierBase, 2500, 0.2, 1, 1.1000, 1.0950, ModeKelly, 0.01, ModeKelly},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, _, _ := newTestSizer(t)
			p := DefaultProfile("u1", tt.tier, tt.xp)
			p.WinRate = tt.winRate
			p.AvgRiskReward = tt.rr

			res, err := s.CalculatePositionSize(account(10000, 10000), p, "EURUSD", tt.entry, tt.stop, tt.mode)
			require.NoError(t, err)
			require.True(t, res.CanTrade, res.Reason)
			assert.InDelta(t, tt.wantLots, res.LotSize, 1e-9)
			assert.Equal(t, tt.wantMode, res.Mode)
		})
	}
}

func TestReportedRiskMatchesRoundedSize(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSizer(t)
	p := DefaultProfile("u1", TierBase, 0)

	res, err := s.CalculatePositionSize(account(10000, 10000), p, "EUR_USD", 1.1000, 1.0970, ModePercentage)
	require.NoError(t, err)

	assert.InDelta(t, 30.0, res.PipRisk, 1e-9)
	assert.InDelta(t, 100.0, res.RiskAmount, 1e-9)
	assert.InDelta(t, 99.0, res.ActualRisk, 1e-9)
	assert.InDelta(t, 0.99, res.RiskPercent, 1e-9)
	assert.LessOrEqual(t, res.ActualRisk, res.RiskAmount)
}

func TestZeroPipDistanceGivesMinimumLot(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSizer(t)
	p := DefaultProfile("u1", TierElite, 0)

	for _, sym := range []string{"EUR_USD", "USD_JPY", "XAU_USD"} {
		res, err := s.CalculatePositionSize(account(10000, 10000), p, sym, 150.00, 150.00, ModePercentage)
		require.NoError(t, err)
		assert.Equal(t, 0.01, res.LotSize, sym)
		assert.Zero(t, res.ActualRisk, sym)
		assert.Zero(t, res.RiskPercent, sym)
	}
}

func TestSizingAppliesRestrictionMultiplier(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSizer(t)
	p := DefaultProfile("u1", TierBase, 0)

	// 4% down triggers medic mode: half risk.
	res, err := s.CalculatePositionSize(account(10000, 9600), p, "EUR_USD", 1.1000, 1.0950, ModePercentage)
	require.NoError(t, err)
	require.True(t, res.CanTrade)
	assert.Equal(t, StateMedicMode, res.State)
	assert.InDelta(t, 0.1, res.LotSize, 1e-9)
}

func TestSizingRejectedTradeHasZeroSize(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSizer(t)
	p := DefaultProfile("u1", TierBase, 0)

	res, err := s.CalculatePositionSize(account(10000, 9200), p, "EUR_USD", 1.1000, 1.0950, ModePercentage)
	require.NoError(t, err)
	assert.False(t, res.CanTrade)
	assert.Zero(t, res.LotSize)
	assert.Equal(t, StateDailyLimitHit, res.State)
}

func TestSizingUnknownInstrument(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSizer(t)
	_, err := s.CalculatePositionSize(account(10000, 10000), DefaultProfile("u1", TierBase, 0), "BTC_USD", 1, 0.9, ModeFixed)
	assert.True(t, errors.Is(err, market.ErrUnknownInstrument))
}

func TestAntiMartingaleFollowsStreak(t *testing.T) {
	t.Parallel()

	s, m, _ := newTestSizer(t)
	p := DefaultProfile("u1", TierBase, 0)
	p.TiltThreshold = 0
	acct := account(10000, 10000)

	size := func() float64 {
		res, err := s.CalculatePositionSize(acct, p, "EUR_USD", 1.1000, 1.0950, ModeAntiMartingale)
		require.NoError(t, err)
		return res.LotSize
	}

	assert.InDelta(t, 0.2, size(), 1e-9)

	m.RecordTradeResult(p, true, 10)
	m.RecordTradeResult(p, true, 10)
	assert.InDelta(t, 0.3, size(), 1e-9)

	m.RecordTradeResult(p, false, -10)
	assert.InDelta(t, 0.1, size(), 1e-9)
}

func TestKellyFraction(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.25, KellyFraction(0.5, 2, 0), 1e-9)
	assert.InDelta(t, 0.25, KellyFraction(0.9, 3, 0.25), 1e-9)
	assert.Zero(t, KellyFraction(0.2, 1, 0.25))
	assert.Zero(t, KellyFraction(0.5, 0, 0.25))
}

func TestRR(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 2.0, RR(1.1000, 1.0950, 1.1100), 1e-9)
	assert.Zero(t, RR(1.1, 1.1, 1.2))
}

func TestParseSizingMode(t *testing.T) {
	t.Parallel()

	m, err := ParseSizingMode("Anti-Martingale")
	require.NoError(t, err)
	assert.Equal(t, ModeAntiMartingale, m)

	_, err = ParseSizingMode("martingale")
	assert.Error(t, err)
}
