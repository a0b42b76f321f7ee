package manage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/notify"
	"github.com/rustyeddy/tradeguard/pkg/id"
	"github.com/rustyeddy/tradeguard/risk"
)

var (
	ErrTradeExists   = errors.New("trade already managed")
	ErrTradeNotFound = errors.New("trade not managed")
)

const (
	DefaultInterval      = time.Second
	DefaultActionTimeout = 5 * time.Second
)

// Recorder receives monitor metrics.
type Recorder interface {
	RecordAction(kind string, ok bool)
	SetActiveTrades(n int)
	ObserveTick(d time.Duration)
}

type slot struct {
	id      string // trade id, immutable after Add
	mu      sync.Mutex
	t       ActiveTrade
	spec    market.InstrumentSpec
	removed atomic.Bool
}

// Monitor owns the set of managed trades. Each tick evaluates every trade
// on its own goroutine; a trade whose previous evaluation is still waiting
// on the executor is skipped rather than queued.
type Monitor struct {
	mu      sync.RWMutex
	trades  map[string]*slot
	tickets map[string]string

	exec        broker.Executor
	instruments *market.Registry
	prices      market.TickSource
	notifier    notify.Notifier
	risk        *risk.Manager
	profiles    broker.ProfileSource
	recorder    Recorder

	interval      time.Duration
	actionTimeout time.Duration
	now           func() time.Time
	log           zerolog.Logger
}

type MonitorOption func(*Monitor)

func WithTickSource(src market.TickSource) MonitorOption {
	return func(m *Monitor) { m.prices = src }
}

func WithNotifier(n notify.Notifier) MonitorOption {
	return func(m *Monitor) { m.notifier = n }
}

// WithResults feeds closed-trade results back into the session tracker.
func WithResults(rm *risk.Manager, profiles broker.ProfileSource) MonitorOption {
	return func(m *Monitor) {
		m.risk = rm
		m.profiles = profiles
	}
}

func WithMetrics(r Recorder) MonitorOption {
	return func(m *Monitor) { m.recorder = r }
}

func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithActionTimeout(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.actionTimeout = d
		}
	}
}

func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

func WithMonitorLogger(l zerolog.Logger) MonitorOption {
	return func(m *Monitor) { m.log = l.With().Str("component", "monitor").Logger() }
}

func NewMonitor(exec broker.Executor, instruments *market.Registry, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		trades:        make(map[string]*slot),
		tickets:       make(map[string]string),
		exec:          exec,
		instruments:   instruments,
		interval:      DefaultInterval,
		actionTimeout: DefaultActionTimeout,
		now:           time.Now,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add starts managing t. The instrument must be known; plans are put into
// evaluation order.
func (m *Monitor) Add(t ActiveTrade) error {
	spec, err := m.instruments.Lookup(t.Symbol)
	if err != nil {
		return fmt.Errorf("add trade %s: %w", t.TradeID, err)
	}
	if t.TradeID == "" {
		t.TradeID = id.New()
	}
	if t.Ticket == "" {
		t.Ticket = t.TradeID
	}
	t.Symbol = spec.Name
	if t.Direction == 0 {
		t.Direction = market.DirectionOf(t.Entry, t.CurrentSL)
	}
	if t.OriginalSL == 0 {
		t.OriginalSL = t.CurrentSL
	}
	if t.OriginalVolume == 0 {
		t.OriginalVolume = t.Volume
	}
	if t.PeakPrice == 0 {
		t.PeakPrice = t.Entry
	}
	if t.OpenTime.IsZero() {
		t.OpenTime = m.now()
	}
	t.Plans = sortPlans(t.Plans)

	m.mu.Lock()
	if _, ok := m.trades[t.TradeID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTradeExists, t.TradeID)
	}
	m.trades[t.TradeID] = &slot{id: t.TradeID, t: t, spec: spec}
	m.tickets[t.Ticket] = t.TradeID
	n := len(m.trades)
	m.mu.Unlock()

	m.setActive(n)
	m.log.Info().
		Str("trade_id", t.TradeID).
		Str("ticket", t.Ticket).
		Str("user_id", t.UserID).
		Str("symbol", t.Symbol).
		Str("direction", t.Direction.String()).
		Float64("volume", t.Volume).
		Int("plans", len(t.Plans)).
		Msg("trade added")
	return nil
}

// Remove stops managing a trade, found by trade id or broker ticket. An
// evaluation already in flight finishes its current call but applies
// nothing further.
func (m *Monitor) Remove(key string) (ActiveTrade, error) {
	m.mu.Lock()
	tradeID := m.resolveLocked(key)
	sl, ok := m.trades[tradeID]
	if !ok {
		m.mu.Unlock()
		return ActiveTrade{}, fmt.Errorf("%w: %s", ErrTradeNotFound, key)
	}
	delete(m.trades, tradeID)
	delete(m.tickets, sl.t.Ticket)
	sl.removed.Store(true)
	n := len(m.trades)
	m.mu.Unlock()

	m.setActive(n)

	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.t, nil
}

func (m *Monitor) resolveLocked(key string) string {
	if _, ok := m.trades[key]; ok {
		return key
	}
	return m.tickets[key]
}

// Get returns a copy of a managed trade.
func (m *Monitor) Get(key string) (ActiveTrade, bool) {
	m.mu.RLock()
	sl, ok := m.trades[m.resolveLocked(key)]
	m.mu.RUnlock()
	if !ok {
		return ActiveTrade{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.t, true
}

// Trades returns copies of all managed trades ordered by open time.
func (m *Monitor) Trades() []ActiveTrade {
	slots := m.snapshot("")
	out := make([]ActiveTrade, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		out = append(out, sl.t)
		sl.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].TradeID < out[j].TradeID
		}
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}

func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trades)
}

func (m *Monitor) snapshot(instrument string) []*slot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*slot, 0, len(m.trades))
	for _, sl := range m.trades {
		if instrument == "" || sl.spec.Name == instrument {
			out = append(out, sl)
		}
	}
	return out
}

// OnTick evaluates every trade on tk's instrument and returns the number
// of management actions that succeeded.
func (m *Monitor) OnTick(ctx context.Context, tk market.Tick) int {
	tk.Instrument = market.NormalizeSymbol(tk.Instrument)
	slots := m.snapshot(tk.Instrument)
	ticks := make(map[string]market.Tick, 1)
	ticks[tk.Instrument] = tk
	return m.evaluateAll(ctx, slots, ticks)
}

// Tick polls the tick source for every instrument with a managed trade and
// evaluates all trades.
func (m *Monitor) Tick(ctx context.Context) (int, error) {
	if m.prices == nil {
		return 0, errors.New("monitor has no tick source")
	}
	start := time.Now()
	defer func() {
		if m.recorder != nil {
			m.recorder.ObserveTick(time.Since(start))
		}
	}()

	slots := m.snapshot("")
	ticks := make(map[string]market.Tick)
	for _, sl := range slots {
		name := sl.spec.Name
		if _, ok := ticks[name]; ok {
			continue
		}
		tk, err := m.prices.GetTick(ctx, name)
		if err != nil {
			m.log.Warn().Err(err).Str("symbol", name).Msg("no price")
			continue
		}
		ticks[name] = tk
	}
	return m.evaluateAll(ctx, slots, ticks), nil
}

// Run ticks at the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	m.log.Info().Dur("interval", m.interval).Msg("monitor started")
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("monitor stopped")
			return nil
		case <-t.C:
			if _, err := m.Tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (m *Monitor) evaluateAll(ctx context.Context, slots []*slot, ticks map[string]market.Tick) int {
	var (
		wg    sync.WaitGroup
		total atomic.Int64
	)
	for _, sl := range slots {
		tk, ok := ticks[sl.spec.Name]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(sl *slot, tk market.Tick) {
			defer wg.Done()
			total.Add(int64(m.evaluate(ctx, sl, tk)))
		}(sl, tk)
	}
	wg.Wait()
	return int(total.Load())
}

// evaluate runs one trade against one tick. State is advanced only after
// the executor confirms each instruction; the first failure ends the
// trade's evaluation for this tick and it is retried on the next.
func (m *Monitor) evaluate(ctx context.Context, sl *slot, tk market.Tick) int {
	if !sl.mu.TryLock() {
		m.log.Debug().Str("trade_id", sl.id).Msg("evaluation in flight, skipping tick")
		return 0
	}
	defer sl.mu.Unlock()

	if sl.removed.Load() {
		return 0
	}
	observe(&sl.t, sl.spec, tk)

	done := 0
	for i := 0; i <= len(sl.t.Plans)+1; i++ {
		a, ok := nextAction(&sl.t, sl.spec)
		if !ok || sl.removed.Load() {
			break
		}
		if a.typ == actClosePartial && a.volume <= 0 {
			// Position too small to split; the target counts as reached.
			a.apply(&sl.t)
			m.log.Debug().Str("trade_id", sl.t.TradeID).Str("plan", string(a.plan.Kind)).Msg("partial close skipped, below lot step")
			continue
		}
		if err := m.execute(ctx, sl.t, a); err != nil {
			m.record(a.kind, false)
			m.log.Warn().
				Err(err).
				Str("trade_id", sl.t.TradeID).
				Str("ticket", sl.t.Ticket).
				Str("action", string(a.kind)).
				Msg("management action failed, retrying next tick")
			break
		}
		a.apply(&sl.t)
		done++
		m.record(a.kind, true)
		m.log.Info().
			Str("trade_id", sl.t.TradeID).
			Str("ticket", sl.t.Ticket).
			Str("action", string(a.kind)).
			Float64("stop_loss", sl.t.CurrentSL).
			Float64("volume", sl.t.Volume).
			Msg(a.msg)
		m.notify(ctx, sl.t, a)
	}
	return done
}

func (m *Monitor) execute(ctx context.Context, t ActiveTrade, a action) error {
	ctx, cancel := context.WithTimeout(ctx, m.actionTimeout)
	defer cancel()

	switch a.typ {
	case actClosePartial:
		return m.exec.ClosePartial(ctx, t.Ticket, a.volume)
	default:
		return m.exec.ModifyStopLoss(ctx, t.Ticket, a.stop)
	}
}

func (m *Monitor) notify(ctx context.Context, t ActiveTrade, a action) {
	if m.notifier == nil {
		return
	}
	n := notify.Notification{
		ID:            id.NewAt(m.now()),
		Time:          m.now(),
		UserID:        t.UserID,
		TradeID:       t.TradeID,
		Ticket:        t.Ticket,
		Instrument:    t.Symbol,
		Kind:          a.kind,
		StopLoss:      t.CurrentSL,
		PartialClosed: t.PartialClosed,
		Message:       a.msg,
	}
	if a.typ == actClosePartial {
		n.Volume = a.volume
	}
	if err := m.notifier.Notify(ctx, n); err != nil {
		m.log.Warn().Err(err).Str("trade_id", t.TradeID).Msg("notification failed")
	}
}

// HandleTradeClosed stops managing the position and records the result
// in the user's session. It is safe to call for trades the monitor never
// managed as long as the result names the user.
func (m *Monitor) HandleTradeClosed(ctx context.Context, res broker.TradeResult) error {
	key := res.TradeID
	if key == "" {
		key = res.Ticket
	}
	t, err := m.Remove(key)
	if err != nil && res.Ticket != "" && res.Ticket != key {
		t, err = m.Remove(res.Ticket)
	}
	if err == nil && res.UserID == "" {
		res.UserID = t.UserID
	}

	if m.notifier != nil {
		_ = m.notifier.Notify(ctx, notify.Notification{
			ID:         id.NewAt(m.now()),
			Time:       m.now(),
			UserID:     res.UserID,
			TradeID:    res.TradeID,
			Ticket:     res.Ticket,
			Instrument: res.Instrument,
			Kind:       notify.KindTradeClosed,
			Message:    fmt.Sprintf("%s closed (%s), pnl %.2f", res.Instrument, res.Reason, res.PnL),
		})
	}

	if m.risk == nil || m.profiles == nil {
		return nil
	}
	if res.UserID == "" {
		return fmt.Errorf("record result for %s: no user", key)
	}
	p, perr := m.profiles.Profile(ctx, res.UserID)
	if perr != nil {
		return fmt.Errorf("record result for %s: %w", key, perr)
	}
	m.risk.RecordTradeResult(p, res.Won, res.PnL)
	return nil
}

// OnTradeClosed lets the monitor act as a broker.ResultListener.
func (m *Monitor) OnTradeClosed(ctx context.Context, res broker.TradeResult) {
	if err := m.HandleTradeClosed(ctx, res); err != nil {
		m.log.Error().Err(err).Str("trade_id", res.TradeID).Msg("trade result not recorded")
	}
}

func (m *Monitor) record(kind notify.Kind, ok bool) {
	if m.recorder != nil {
		m.recorder.RecordAction(string(kind), ok)
	}
}

func (m *Monitor) setActive(n int) {
	if m.recorder != nil {
		m.recorder.SetActiveTrades(n)
	}
}
