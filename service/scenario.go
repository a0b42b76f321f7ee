package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/tradeguard/broker/sim"
	"github.com/rustyeddy/tradeguard/config"
	"github.com/rustyeddy/tradeguard/manage"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/news"
	"github.com/rustyeddy/tradeguard/notify"
	"github.com/rustyeddy/tradeguard/risk"
)

var validate = validator.New()

// Scenario scripts one trade through the gate, the paper broker and the
// monitor.
type Scenario struct {
	Name    string            `json:"name" yaml:"name"`
	Balance float64           `json:"balance" yaml:"balance" default:"10000" validate:"gt=0"`
	Start   time.Time         `json:"start" yaml:"start"`
	User    config.UserConfig `json:"user" yaml:"user"`
	// History is replayed into the user's session before the trade.
	History []PriorResult `json:"history,omitempty" yaml:"history,omitempty"`
	News    []news.Event  `json:"news,omitempty" yaml:"news,omitempty"`
	Trade   ScenarioTrade `json:"trade" yaml:"trade"`
	// Quotes[0] is the entry quote.
	Quotes []Quote `json:"quotes" yaml:"quotes" validate:"min=1,dive"`
}

type PriorResult struct {
	Won bool    `json:"won" yaml:"won"`
	PnL float64 `json:"pnl" yaml:"pnl"`
}

type ScenarioTrade struct {
	Symbol     string  `json:"symbol" yaml:"symbol" validate:"required"`
	Direction  string  `json:"direction" yaml:"direction"`
	StopLoss   float64 `json:"stop_loss" yaml:"stop_loss" validate:"gt=0"`
	TakeProfit float64 `json:"take_profit" yaml:"take_profit" validate:"gte=0"`
	Mode       string  `json:"mode" yaml:"mode" default:"percentage"`
}

// Quote is a price step; After is measured from the previous quote.
type Quote struct {
	Bid   float64       `json:"bid" yaml:"bid" validate:"gt=0"`
	Ask   float64       `json:"ask" yaml:"ask" validate:"gtefield=Bid"`
	After time.Duration `json:"after" yaml:"after" validate:"gte=0"`
}

// LoadScenario reads a YAML (or JSON) scenario file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		if jerr := json.Unmarshal(data, &sc); jerr != nil {
			return Scenario{}, fmt.Errorf("parse scenario (tried YAML and JSON): %w", errors.Join(err, jerr))
		}
	}
	if err := sc.prepare(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

func (sc *Scenario) prepare() error {
	if err := defaults.Set(sc); err != nil {
		return fmt.Errorf("scenario defaults: %w", err)
	}
	if sc.Start.IsZero() {
		sc.Start = time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	}
	if err := validate.Struct(sc); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}
	return nil
}

// Step is the state after one quote.
type Step struct {
	Time    time.Time
	Bid     float64
	Ask     float64
	Actions int
	SL      float64
	Volume  float64
	Open    bool
}

type Report struct {
	Name          string
	Size          risk.SizeResult
	Plans         []manage.Plan
	Position      sim.Position
	Steps         []Step
	Notifications []notify.Notification
	Session       risk.TradingSession
	Balance       float64
	Equity        float64
}

// RunScenario builds a service whose clock follows the scenario's quotes
// and plays the scenario through it.
func RunScenario(ctx context.Context, cfg *config.Config, log zerolog.Logger, sc Scenario, opts ...Option) (Report, error) {
	if err := sc.prepare(); err != nil {
		return Report{}, err
	}

	var (
		mu    sync.Mutex
		notes []notify.Notification
	)
	collect := notify.Func(func(_ context.Context, n notify.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		notes = append(notes, n)
		return nil
	})

	clock := NewClock(sc.Start)
	opts = append([]Option{WithBalance(sc.Balance), WithTickClock(clock), WithNotifier(collect)}, opts...)
	svc, err := New(cfg, log, opts...)
	if err != nil {
		return Report{}, err
	}
	defer svc.Close()

	p, err := sc.User.Profile()
	if err != nil {
		return Report{}, err
	}
	svc.Profiles.Set(p)
	svc.News.AddAll(sc.News)

	if len(sc.History) > 0 {
		svc.Risk.Sessions().Get(p.UserID, clock.Now(), sc.Balance)
		for _, h := range sc.History {
			svc.Risk.RecordTradeResult(p, h.Won, h.PnL)
		}
	}

	var dir market.Direction
	if sc.Trade.Direction != "" {
		if dir, err = market.ParseDirection(sc.Trade.Direction); err != nil {
			return Report{}, err
		}
	}
	mode, err := risk.ParseSizingMode(sc.Trade.Mode)
	if err != nil {
		return Report{}, err
	}
	symbol := market.NormalizeSymbol(sc.Trade.Symbol)

	rep := Report{Name: sc.Name}
	at := sc.Start
	for i, q := range sc.Quotes {
		at = at.Add(q.After)
		tk := market.Tick{Instrument: symbol, Time: at, Bid: q.Bid, Ask: q.Ask}
		n, err := svc.Feed(ctx, tk)
		if err != nil {
			return rep, fmt.Errorf("quote %d: %w", i, err)
		}

		if i == 0 {
			opened, err := svc.OpenTrade(ctx, TradeRequest{
				Profile:    p,
				Symbol:     symbol,
				Direction:  dir,
				StopLoss:   sc.Trade.StopLoss,
				TakeProfit: sc.Trade.TakeProfit,
				Mode:       mode,
			})
			rep.Size, rep.Plans = opened.Size, opened.Plans
			if err != nil {
				return rep, err
			}
			rep.Position = opened.Position
			if !opened.Size.CanTrade {
				break
			}
		}

		step := Step{Time: at, Bid: q.Bid, Ask: q.Ask, Actions: n}
		if pos, ok := svc.Engine.Position(rep.Position.Ticket); ok {
			rep.Position = pos
			step.SL, step.Volume, step.Open = pos.StopLoss, pos.Volume, pos.Open
		}
		rep.Steps = append(rep.Steps, step)
	}

	acct := svc.Engine.Account(p.UserID)
	rep.Balance, rep.Equity = acct.Balance, acct.Equity
	rep.Session = svc.Risk.Session(p.UserID)

	mu.Lock()
	rep.Notifications = append([]notify.Notification(nil), notes...)
	mu.Unlock()
	return rep, nil
}
