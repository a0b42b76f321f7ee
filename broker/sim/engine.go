// Package sim is a paper broker: it fills market orders at the current
// tick, applies stop and partial-close instructions, and closes positions
// when a tick crosses their stop or target.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/pkg/id"
	"github.com/rustyeddy/tradeguard/risk"
)

var (
	ErrTradeNotFound      = errors.New("trade not found")
	ErrTradeAlreadyClosed = errors.New("trade already closed")
	ErrInvalidVolume      = errors.New("invalid volume")
	ErrInjected           = errors.New("injected execution failure")
)

type OpenRequest struct {
	UserID     string
	Instrument string
	Direction  market.Direction
	Volume     float64
	StopLoss   float64
	TakeProfit float64
}

type Engine struct {
	mu          sync.Mutex
	balance     float64
	currency    string
	instruments *market.Registry
	ticks       *market.TickStore
	positions   map[string]*Position
	journal     journal.Journal
	listener    broker.ResultListener
	failNext    int
	log         zerolog.Logger
}

type Option func(*Engine)

func WithJournal(j journal.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

func WithListener(l broker.ResultListener) Option {
	return func(e *Engine) { e.listener = l }
}

func WithCurrency(c string) Option {
	return func(e *Engine) { e.currency = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l.With().Str("component", "sim").Logger() }
}

func NewEngine(balance float64, instruments *market.Registry, opts ...Option) *Engine {
	e := &Engine{
		balance:     balance,
		currency:    "USD",
		instruments: instruments,
		ticks:       market.NewTickStore(),
		positions:   make(map[string]*Position),
		journal:     journal.Nop{},
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetListener replaces the closed-trade listener. It exists because the
// monitor that listens is usually built after the engine it executes on.
func (e *Engine) SetListener(l broker.ResultListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

// FailNext makes the next n ModifyStopLoss/ClosePartial calls fail.
func (e *Engine) FailNext(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = n
}

func (e *Engine) Prices() *market.TickStore { return e.ticks }

func (e *Engine) GetTick(ctx context.Context, instr string) (market.Tick, error) {
	return e.ticks.Get(instr)
}

// Open fills a market order: longs buy at the ask, shorts sell at the bid.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (Position, error) {
	spec, err := e.instruments.Lookup(req.Instrument)
	if err != nil {
		return Position{}, err
	}
	if req.Volume < spec.MinLot || req.Volume > spec.MaxLot {
		return Position{}, fmt.Errorf("open %s: %w: %.2f", spec.Name, ErrInvalidVolume, req.Volume)
	}
	tk, err := e.ticks.Get(spec.Name)
	if err != nil {
		return Position{}, fmt.Errorf("open %s: %w", spec.Name, err)
	}

	fill := tk.Ask
	if req.Direction == market.Short {
		fill = tk.Bid
	}
	openTime := tk.Time
	if openTime.IsZero() {
		openTime = time.Now()
	}

	p := &Position{
		Ticket:         id.NewAt(openTime),
		UserID:         req.UserID,
		Instrument:     spec.Name,
		Direction:      req.Direction,
		Volume:         req.Volume,
		OriginalVolume: req.Volume,
		EntryPrice:     fill,
		StopLoss:       req.StopLoss,
		TakeProfit:     req.TakeProfit,
		OpenTime:       openTime,
		Open:           true,
	}

	e.mu.Lock()
	e.positions[p.Ticket] = p
	e.mu.Unlock()

	e.log.Info().
		Str("ticket", p.Ticket).
		Str("user_id", p.UserID).
		Str("instrument", p.Instrument).
		Str("direction", p.Direction.String()).
		Float64("volume", p.Volume).
		Float64("entry", fill).
		Msg("position opened")
	return *p, nil
}

func (e *Engine) lookupLocked(ticket string) (*Position, error) {
	p, ok := e.positions[ticket]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTradeNotFound, ticket)
	}
	if !p.Open {
		return nil, fmt.Errorf("%w: %s", ErrTradeAlreadyClosed, ticket)
	}
	return p, nil
}

func (e *Engine) injectedLocked() error {
	if e.failNext > 0 {
		e.failNext--
		return ErrInjected
	}
	return nil
}

func (e *Engine) ModifyStopLoss(ctx context.Context, ticket string, sl float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injectedLocked(); err != nil {
		return err
	}
	p, err := e.lookupLocked(ticket)
	if err != nil {
		return err
	}
	p.StopLoss = sl
	return nil
}

// ClosePartial realizes profit on volume lots. Closing the whole remaining
// volume must go through CloseTrade.
func (e *Engine) ClosePartial(ctx context.Context, ticket string, volume float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injectedLocked(); err != nil {
		return err
	}
	p, err := e.lookupLocked(ticket)
	if err != nil {
		return err
	}
	spec, err := e.instruments.Lookup(p.Instrument)
	if err != nil {
		return err
	}
	if volume <= 0 || volume >= p.Volume {
		return fmt.Errorf("partial close %s: %w: %.2f of %.2f", ticket, ErrInvalidVolume, volume, p.Volume)
	}
	tk, err := e.ticks.Get(p.Instrument)
	if err != nil {
		return err
	}
	realized := pnl(spec, p, tk.Mark(p.Direction), volume)
	p.Volume = market.SubLots(p.Volume, volume)
	p.RealizedPnL += realized
	e.balance += realized
	return nil
}

// CloseTrade closes the remaining volume at the current mark.
func (e *Engine) CloseTrade(ctx context.Context, ticket, reason string) error {
	if reason == "" {
		reason = "ManualClose"
	}

	e.mu.Lock()
	p, err := e.lookupLocked(ticket)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	tk, err := e.ticks.Get(p.Instrument)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("close %s: %w", ticket, err)
	}
	res, err := e.closeLocked(p, tk.Mark(p.Direction), tk.Time, reason)
	listener := e.listener
	e.mu.Unlock()

	if err != nil {
		return err
	}
	e.finish(ctx, listener, []broker.TradeResult{res})
	return nil
}

// UpdatePrice stores the tick and closes positions whose stop or target it
// crosses. Listeners run after the engine lock is released.
func (e *Engine) UpdatePrice(ctx context.Context, tk market.Tick) error {
	tk.Instrument = market.NormalizeSymbol(tk.Instrument)

	e.mu.Lock()
	e.ticks.Set(tk)

	var closed []broker.TradeResult
	for _, p := range e.positions {
		if !p.Open || p.Instrument != tk.Instrument {
			continue
		}
		mark := tk.Mark(p.Direction)

		var reason string
		switch {
		case p.hitStopLoss(mark):
			reason = "StopLoss"
			mark = p.StopLoss
		case p.hitTakeProfit(mark):
			reason = "TakeProfit"
			mark = p.TakeProfit
		}
		if reason == "" {
			continue
		}
		res, err := e.closeLocked(p, mark, tk.Time, reason)
		if err != nil {
			e.mu.Unlock()
			return err
		}
		closed = append(closed, res)
	}
	listener := e.listener
	e.mu.Unlock()

	e.finish(ctx, listener, closed)
	return nil
}

func (e *Engine) closeLocked(p *Position, price float64, at time.Time, reason string) (broker.TradeResult, error) {
	spec, err := e.instruments.Lookup(p.Instrument)
	if err != nil {
		return broker.TradeResult{}, err
	}
	if at.IsZero() {
		at = time.Now()
	}
	final := pnl(spec, p, price, p.Volume)

	p.RealizedPnL += final
	p.Open = false
	p.ClosePrice = price
	p.CloseTime = at
	p.CloseReason = reason
	e.balance += final

	return broker.TradeResult{
		TradeID:    p.Ticket,
		Ticket:     p.Ticket,
		UserID:     p.UserID,
		Instrument: p.Instrument,
		Volume:     p.Volume,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		OpenTime:   p.OpenTime,
		CloseTime:  at,
		PnL:        p.RealizedPnL,
		Won:        p.RealizedPnL > 0,
		Reason:     reason,
	}, nil
}

func (e *Engine) finish(ctx context.Context, listener broker.ResultListener, results []broker.TradeResult) {
	for _, res := range results {
		e.log.Info().
			Str("ticket", res.Ticket).
			Str("instrument", res.Instrument).
			Str("reason", res.Reason).
			Float64("pnl", res.PnL).
			Msg("position closed")
		if err := e.journal.RecordResult(journal.ResultRecord{
			TradeID:    res.TradeID,
			Ticket:     res.Ticket,
			UserID:     res.UserID,
			Instrument: res.Instrument,
			Volume:     res.Volume,
			EntryPrice: res.EntryPrice,
			ExitPrice:  res.ExitPrice,
			OpenTime:   res.OpenTime,
			CloseTime:  res.CloseTime,
			PnL:        res.PnL,
			Won:        res.Won,
			Reason:     res.Reason,
		}); err != nil {
			e.log.Warn().Err(err).Str("ticket", res.Ticket).Msg("journal result")
		}
		if listener != nil {
			listener.OnTradeClosed(ctx, res)
		}
	}
}

// Position returns a copy of a position, open or closed.
func (e *Engine) Position(ticket string) (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[ticket]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns copies of all positions ordered by ticket.
func (e *Engine) Positions() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// Account revalues open positions at their marks and reports a snapshot
// suitable for risk decisions. userID filters OpenPositions; empty counts all.
func (e *Engine) Account(userID string) risk.AccountSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	equity := e.balance
	open := 0
	for _, p := range e.positions {
		if !p.Open {
			continue
		}
		if userID == "" || p.UserID == userID {
			open++
		}
		spec, err := e.instruments.Lookup(p.Instrument)
		if err != nil {
			continue
		}
		tk, err := e.ticks.Get(p.Instrument)
		if err != nil {
			continue
		}
		equity += pnl(spec, p, tk.Mark(p.Direction), p.Volume)
	}
	return risk.AccountSnapshot{
		Balance:       e.balance,
		Equity:        equity,
		FreeMargin:    equity,
		Currency:      e.currency,
		Leverage:      1,
		OpenPositions: open,
	}
}
