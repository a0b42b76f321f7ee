package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/rustyeddy/tradeguard/news"
	"github.com/rustyeddy/tradeguard/risk"
)

// traderFlags describe the trader and account shared by check and size.
type traderFlags struct {
	user           string
	tier           string
	xp             int
	winRate        float64
	avgRR          float64
	maxRisk        float64
	maxPositions   int
	tiltThreshold  int
	medicThreshold float64

	balance       float64
	equity        float64
	startBalance  float64
	openPositions int

	wins    int
	losses  int
	lossPnL float64
	at      string
}

func (f *traderFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.user, "user", "cli", "user id")
	fs.StringVar(&f.tier, "tier", "base", "subscription tier (base|advanced|elite|premium)")
	fs.IntVar(&f.xp, "xp", 0, "experience points")
	fs.Float64Var(&f.winRate, "win-rate", 0, "historical win rate 0..1 (0 keeps the profile default)")
	fs.Float64Var(&f.avgRR, "avg-rr", 0, "average reward:risk (0 keeps the profile default)")
	fs.Float64Var(&f.maxRisk, "max-risk", 0, "max risk percent per trade (0 keeps the profile default)")
	fs.IntVar(&f.maxPositions, "max-positions", 0, "max concurrent positions (0 keeps the profile default)")
	fs.IntVar(&f.tiltThreshold, "tilt-threshold", 0, "consecutive losses before tilt (0 keeps the profile default)")
	fs.Float64Var(&f.medicThreshold, "medic-threshold", 0, "daily loss percent that enables medic mode (0 keeps the profile default)")

	fs.Float64Var(&f.balance, "balance", 10000, "account balance")
	fs.Float64Var(&f.equity, "equity", 0, "account equity (0 means equal to balance)")
	fs.Float64Var(&f.startBalance, "start-balance", 0, "balance at the start of the day (0 means the current balance)")
	fs.IntVar(&f.openPositions, "open", 0, "open positions")

	fs.IntVar(&f.wins, "wins", 0, "winning trades already taken today")
	fs.IntVar(&f.losses, "losses", 0, "losing trades already taken today, recorded after the wins")
	fs.Float64Var(&f.lossPnL, "loss-pnl", -10, "pnl of each recorded loss")
	fs.StringVar(&f.at, "at", "", "decision time, RFC3339 (default now)")
}

func (f *traderFlags) profile() (risk.RiskProfile, error) {
	tier, err := risk.ParseTier(f.tier)
	if err != nil {
		return risk.RiskProfile{}, err
	}
	p := risk.DefaultProfile(f.user, tier, f.xp)
	if f.winRate > 0 {
		p.WinRate = f.winRate
	}
	if f.avgRR > 0 {
		p.AvgRiskReward = f.avgRR
	}
	if f.maxRisk > 0 {
		p.MaxRiskPercent = f.maxRisk
	}
	if f.maxPositions > 0 {
		p.MaxConcurrentPositions = f.maxPositions
	}
	if f.tiltThreshold > 0 {
		p.TiltThreshold = f.tiltThreshold
	}
	if f.medicThreshold > 0 {
		p.MedicModeThreshold = f.medicThreshold
	}
	return p, nil
}

func (f *traderFlags) account() risk.AccountSnapshot {
	equity := f.equity
	if equity == 0 {
		equity = f.balance
	}
	start := f.startBalance
	if start == 0 {
		start = f.balance
	}
	return risk.AccountSnapshot{
		Balance:         f.balance,
		Equity:          equity,
		StartingBalance: start,
		OpenPositions:   f.openPositions,
	}
}

func (f *traderFlags) now() (time.Time, error) {
	if f.at == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, f.at)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at: %w", err)
	}
	return t, nil
}

// manager builds a risk manager from config, seeds today's session from
// the history flags and returns the profile and account to evaluate.
func (f *traderFlags) manager() (*risk.Manager, risk.RiskProfile, risk.AccountSnapshot, error) {
	p, err := f.profile()
	if err != nil {
		return nil, p, risk.AccountSnapshot{}, err
	}
	at, err := f.now()
	if err != nil {
		return nil, p, risk.AccountSnapshot{}, err
	}
	limits, err := cfg.Limits()
	if err != nil {
		return nil, p, risk.AccountSnapshot{}, err
	}

	cal := news.NewCalendarWithClock(func() time.Time { return at })
	cal.AddAll(cfg.News)

	m := risk.NewManager(limits,
		risk.WithClock(func() time.Time { return at }),
		risk.WithNews(cal),
		risk.WithLogger(log),
	)

	acct := f.account()
	if f.wins > 0 || f.losses > 0 {
		m.Sessions().Get(p.UserID, at, acct.StartingBalance)
		for i := 0; i < f.wins; i++ {
			m.RecordTradeResult(p, true, -f.lossPnL)
		}
		for i := 0; i < f.losses; i++ {
			m.RecordTradeResult(p, false, f.lossPnL)
		}
	}
	return m, p, acct, nil
}
