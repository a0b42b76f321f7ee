package manage

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/notify"
	"github.com/rustyeddy/tradeguard/risk"
)

type call struct {
	ticket string
	stop   float64
	volume float64
}

type fakeExec struct {
	mu        sync.Mutex
	stops     []call
	partials  []call
	failStop  int // fail the next n stop modifications
	failClose int
	block     map[string]bool // tickets whose calls wait for ctx
	waiting   chan string     // receives a ticket when a blocked call starts
}

func (f *fakeExec) ModifyStopLoss(ctx context.Context, ticket string, sl float64) error {
	if f.blocked(ticket) {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStop > 0 {
		f.failStop--
		return errors.New("broker rejected modification")
	}
	f.stops = append(f.stops, call{ticket: ticket, stop: sl})
	return nil
}

func (f *fakeExec) ClosePartial(ctx context.Context, ticket string, volume float64) error {
	if f.blocked(ticket) {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failClose > 0 {
		f.failClose--
		return errors.New("broker timeout")
	}
	f.partials = append(f.partials, call{ticket: ticket, volume: volume})
	return nil
}

func (f *fakeExec) blocked(ticket string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.block[ticket] {
		return false
	}
	if f.waiting != nil {
		select {
		case f.waiting <- ticket:
		default:
		}
	}
	return true
}

func (f *fakeExec) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stops), len(f.partials)
}

type fakeRecorder struct {
	mu      sync.Mutex
	actions map[string]int
	failed  map[string]int
	active  int
}

func (r *fakeRecorder) RecordAction(kind string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.actions == nil {
		r.actions, r.failed = map[string]int{}, map[string]int{}
	}
	if ok {
		r.actions[kind]++
	} else {
		r.failed[kind]++
	}
}

func (r *fakeRecorder) SetActiveTrades(n int) {
	r.mu.Lock()
	r.active = n
	r.mu.Unlock()
}

func (r *fakeRecorder) ObserveTick(time.Duration) {}

var t0 = time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

func eurTick(bid float64) market.Tick {
	return market.Tick{Instrument: "EUR_USD", Time: t0, Bid: bid, Ask: bid + 0.0001}
}

func newTrade(t *testing.T, xp int, volume float64) ActiveTrade {
	t.Helper()
	plans := buildPlan(t, xp)
	return ActiveTrade{
		TradeID:   "T1",
		Ticket:    "K1",
		UserID:    "u1",
		Symbol:    "EURUSD",
		Direction: market.Long,
		Entry:     1.1000,
		CurrentSL: 1.0950,
		CurrentTP: 1.1100,
		Volume:    volume,
		OpenTime:  t0,
		Plans:     plans,
	}
}

func newTestMonitor(exec broker.Executor, opts ...MonitorOption) *Monitor {
	opts = append([]MonitorOption{WithMonitorClock(func() time.Time { return t0 })}, opts...)
	return NewMonitor(exec, market.MustDefaultRegistry(), opts...)
}

func mustGet(t *testing.T, m *Monitor, key string) ActiveTrade {
	t.Helper()
	tr, ok := m.Get(key)
	require.True(t, ok)
	return tr
}

func TestBasicPlanNeverMovesStop(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{}
	m := newTestMonitor(exec)
	require.NoError(t, m.Add(newTrade(t, 0, 0.2)))

	for _, bid := range []float64{1.1025, 1.1060, 1.1100} {
		assert.Zero(t, m.OnTick(context.Background(), eurTick(bid)))
	}

	tr := mustGet(t, m, "T1")
	assert.False(t, tr.IsBreakeven)
	assert.False(t, tr.IsTrailing)
	assert.Equal(t, 1.0950, tr.CurrentSL)
	assert.InDelta(t, 100.0, tr.CurrentPnLPips, 1e-9)
	assert.Equal(t, 1.1100, tr.PeakPrice)
	stops, partials := exec.counts()
	assert.Zero(t, stops+partials)
}

func TestBreakevenAtHalfStopDistance(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{}
	var notes []notify.Notification
	var mu sync.Mutex
	m := newTestMonitor(exec, WithNotifier(notify.Func(func(_ context.Context, n notify.Notification) error {
		mu.Lock()
		notes = append(notes, n)
		mu.Unlock()
		return nil
	})))
	require.NoError(t, m.Add(newTrade(t, 1200, 0.2)))

	assert.Zero(t, m.OnTick(context.Background(), eurTick(1.1020)))
	assert.False(t, mustGet(t, m, "T1").IsBreakeven)

	assert.Equal(t, 1, m.OnTick(context.Background(), eurTick(1.1025)))
	tr := mustGet(t, m, "T1")
	assert.True(t, tr.IsBreakeven)
	assert.Equal(t, 1.1000, tr.CurrentSL)

	require.Len(t, exec.stops, 1)
	assert.Equal(t, call{ticket: "K1", stop: 1.1}, exec.stops[0])

	require.Len(t, notes, 1)
	assert.Equal(t, notify.KindBreakeven, notes[0].Kind)
	assert.Equal(t, "u1", notes[0].UserID)
	assert.NotEmpty(t, notes[0].ID)
}

func TestRepeatedTickIsIdempotent(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{}
	m := newTestMonitor(exec)
	require.NoError(t, m.Add(newTrade(t, 2500, 0.2)))

	first := m.OnTick(context.Background(), eurTick(1.1050))
	assert.Equal(t, 3, first)
	before := mustGet(t, m, "T1")

	assert.Zero(t, m.OnTick(context.Background(), eurTick(1.1050)))
	assert.Equal(t, before, mustGet(t, m, "T1"))

	stops, partials := exec.counts()
	assert.Equal(t, 2, stops)
	assert.Equal(t, 1, partials)
}

func TestTrailingIsMonotonicAndStepped(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{}
	m := newTestMonitor(exec)
	require.NoError(t, m.Add(newTrade(t, 1200, 0.2)))
	ctx := context.Background()

	m.OnTick(ctx, eurTick(1.1025))
	m.OnTick(ctx, eurTick(1.1060))
	assert.Equal(t, 1.1005, mustGet(t, m, "T1").CurrentSL)

	assert.Equal(t, 1, m.OnTick(ctx, eurTick(1.1080)))
	tr := mustGet(t, m, "T1")
	assert.True(t, tr.IsTrailing)
	assert.Equal(t, 1.10425, tr.CurrentSL)
	assert.Equal(t, 1.1080, tr.LastTrailPrice)

	// Under the 5 pip step.
	assert.Zero(t, m.OnTick(ctx, eurTick(1.1083)))
	assert.Equal(t, 1.10425, mustGet(t, m, "T1").CurrentSL)

	assert.Equal(t, 1, m.OnTick(ctx, eurTick(1.1090)))
	assert.Equal(t, 1.10525, mustGet(t, m, "T1").CurrentSL)

	// Pullbacks never loosen the stop.
	prev := mustGet(t, m, "T1").CurrentSL
	for _, bid := range []float64{1.1070, 1.1040, 1.1010, 1.1000} {
		m.OnTick(ctx, eurTick(bid))
		sl := mustGet(t, m, "T1").CurrentSL
		assert.GreaterOrEqual(t, sl, prev)
		prev = sl
	}
	assert.True(t, mustGet(t, m, "T1").IsBreakeven)
}

func TestShortTradeUsesAsk(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{}
	m := newTestMonitor(exec)
	tr := newTrade(t, 100, 0.2)
	tr.Direction = market.Short
	tr.CurrentSL = 1.1050
	tr.CurrentTP = 1.0900
	require.NoError(t, m.Add(tr))

	// Bid has moved 25 pips but the ask only 24.
	assert.Zero(t, m.OnTick(context.Background(), market.Tick{Instrument: "EUR_USD", Bid: 1.0975, Ask: 1.0976}))
	assert.Equal(t, 1, m.OnTick(context.Background(), market.Tick{Instrument: "EUR_USD", Bid: 1.0974, Ask: 1.0975}))
	got := mustGet(t, m, "T1")
	assert.Equal(t, 1.1, got.CurrentSL)
	assert.True(t, got.IsBreakeven)
}

func TestFailedActionDoesNotAdvanceState(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{failStop: 1}
	rec := &fakeRecorder{}
	m := newTestMonitor(exec, WithMetrics(rec))
	require.NoError(t, m.Add(newTrade(t, 1200, 0.2)))

	assert.Zero(t, m.OnTick(context.Background(), eurTick(1.1025)))
	tr := mustGet(t, m, "T1")
	assert.False(t, tr.IsBreakeven)
	assert.Equal(t, 1.0950, tr.CurrentSL)
	assert.Equal(t, 1, rec.failed[string(notify.KindBreakeven)])

	// Retried on the next tick with the same state.
	assert.Equal(t, 1, m.OnTick(context.Background(), eurTick(1.1025)))
	assert.True(t, mustGet(t, m, "T1").IsBreakeven)
	assert.Equal(t, 1, rec.actions[string(notify.KindBreakeven)])
}

func TestFailedPartialCloseKeepsVolume(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{failClose: 1}
	m := newTestMonitor(exec)
	require.NoError(t, m.Add(newTrade(t, 2500, 0.2)))

	assert.Equal(t, 2, m.OnTick(context.Background(), eurTick(1.1050)))
	tr := mustGet(t, m, "T1")
	assert.Zero(t, tr.PartialClosed)
	assert.Equal(t, 0.2, tr.Volume)

	assert.Equal(t, 1, m.OnTick(context.Background(), eurTick(1.1050)))
	tr = mustGet(t, m, "T1")
	assert.Equal(t, 50.0, tr.PartialClosed)
	assert.Equal(t, 0.1, tr.Volume)
}

func TestPartialCloseBound(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{}
	m := newTestMonitor(exec)
	tr := newTrade(t, 0, 0.2)
	tr.Plans = []Plan{
		{Kind: PlanPartialClose, TriggerPips: 10, ClosePercent: 50},
		{Kind: PlanRunner, TriggerPips: 20, ClosePercent: 100},
	}
	require.NoError(t, m.Add(tr))
	ctx := context.Background()

	for _, bid := range []float64{1.1010, 1.1020, 1.1030, 1.1020, 1.1040} {
		m.OnTick(ctx, eurTick(bid))
		assert.LessOrEqual(t, mustGet(t, m, "T1").PartialClosed, 100.0)
	}

	got := mustGet(t, m, "T1")
	// The minimum lot always stays open, so 95% is all that can close.
	assert.Equal(t, 95.0, got.PartialClosed)
	assert.Equal(t, 0.01, got.Volume)
	assert.True(t, got.partialDone(PlanRunner))
	require.Len(t, exec.partials, 2)
	assert.Equal(t, 0.1, exec.partials[0].volume)
	assert.Equal(t, 0.09, exec.partials[1].volume)
}

func TestZeroRiskRunnerForcesBreakeven(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{failStop: 1}
	m := newTestMonitor(exec)
	tr := newTrade(t, 0, 0.2)
	tr.Plans = []Plan{{Kind: PlanPartialClose, Feature: FeatureZeroRiskRunner, TriggerPips: 50, ClosePercent: 50, ForceBreakeven: true, OffsetPips: 5}}
	require.NoError(t, m.Add(tr))
	ctx := context.Background()

	// The partial close succeeds, the forced stop move fails.
	assert.Equal(t, 1, m.OnTick(ctx, eurTick(1.1050)))
	got := mustGet(t, m, "T1")
	assert.Equal(t, 50.0, got.PartialClosed)
	assert.False(t, got.IsBreakeven)

	// Next tick only retries the stop; even a pullback keeps the runner armed.
	assert.Equal(t, 1, m.OnTick(ctx, eurTick(1.1030)))
	got = mustGet(t, m, "T1")
	assert.True(t, got.IsBreakeven)
	assert.Equal(t, 1.1005, got.CurrentSL)
	_, partials := exec.counts()
	assert.Equal(t, 1, partials)
}

func TestPartialBelowLotStepIsSkipped(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{}
	m := newTestMonitor(exec)
	tr := newTrade(t, 0, 0.01)
	tr.Plans = []Plan{{Kind: PlanPartialClose, TriggerPips: 10, ClosePercent: 50}}
	require.NoError(t, m.Add(tr))

	assert.Zero(t, m.OnTick(context.Background(), eurTick(1.1010)))
	assert.Zero(t, m.OnTick(context.Background(), eurTick(1.1020)))
	got := mustGet(t, m, "T1")
	assert.Zero(t, got.PartialClosed)
	assert.True(t, got.partialDone(PlanPartialClose))
	assert.Equal(t, 0.01, got.Volume)
	_, partials := exec.counts()
	assert.Zero(t, partials)
}

func TestPartialClosedTracksFilledVolume(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{}
	m := newTestMonitor(exec)
	require.NoError(t, m.Add(newTrade(t, 5000, 0.03)))
	ctx := context.Background()

	// 1R: breakeven, breakeven plus, then half of 0.03 floors to 0.01.
	assert.Equal(t, 3, m.OnTick(ctx, eurTick(1.1050)))
	got := mustGet(t, m, "T1")
	assert.InDelta(t, 33.33, got.PartialClosed, 1e-9)
	assert.Equal(t, 0.02, got.Volume)
	assert.True(t, got.partialDone(PlanPartialClose))
	assert.False(t, got.partialDone(PlanRunner))

	// 1.6R: the trail moves and the runner closes the next 0.01.
	assert.Equal(t, 2, m.OnTick(ctx, eurTick(1.1080)))
	got = mustGet(t, m, "T1")
	assert.InDelta(t, 66.67, got.PartialClosed, 1e-9)
	assert.Equal(t, 0.01, got.Volume)
	assert.True(t, got.partialDone(PlanRunner))

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Len(t, exec.partials, 2)
	assert.Equal(t, 0.01, exec.partials[0].volume)
	assert.Equal(t, 0.01, exec.partials[1].volume)
}

func TestStuckTradeDoesNotStarveOthers(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{block: map[string]bool{"K1": true}}
	m := newTestMonitor(exec, WithActionTimeout(50*time.Millisecond))
	a := newTrade(t, 100, 0.2)
	b := newTrade(t, 100, 0.2)
	b.TradeID, b.Ticket = "T2", "K2"
	require.NoError(t, m.Add(a))
	require.NoError(t, m.Add(b))

	assert.Equal(t, 1, m.OnTick(context.Background(), eurTick(1.1030)))
	assert.False(t, mustGet(t, m, "T1").IsBreakeven)
	assert.True(t, mustGet(t, m, "T2").IsBreakeven)
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	exec := &fakeExec{block: map[string]bool{"K1": true}, waiting: make(chan string, 1)}
	m := newTestMonitor(exec,
		WithActionTimeout(300*time.Millisecond),
		WithMonitorLogger(zerolog.New(zerolog.SyncWriter(&buf)).Level(zerolog.DebugLevel)))
	require.NoError(t, m.Add(newTrade(t, 100, 0.2)))

	done := make(chan int, 1)
	go func() { done <- m.OnTick(context.Background(), eurTick(1.1030)) }()
	select {
	case <-exec.waiting:
	case <-time.After(2 * time.Second):
		t.Fatal("executor was never called")
	}

	assert.Equal(t, 0, m.OnTick(context.Background(), eurTick(1.1030)))
	assert.Equal(t, 0, <-done)

	out := buf.String()
	assert.Contains(t, out, "evaluation in flight, skipping tick")
	assert.Contains(t, out, `"trade_id":"T1"`)
	assert.False(t, mustGet(t, m, "T1").IsBreakeven)
}

func TestAddRemove(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	m := newTestMonitor(&fakeExec{}, WithMetrics(rec))
	tr := newTrade(t, 1200, 0.2)
	tr.Plans = []Plan{{Kind: PlanTrailing, TriggerPips: 1}, {Kind: PlanBreakeven, TriggerPips: 1}}
	require.NoError(t, m.Add(tr))
	assert.True(t, errors.Is(m.Add(tr), ErrTradeExists))

	got := mustGet(t, m, "K1")
	assert.Equal(t, "EUR_USD", got.Symbol)
	assert.Equal(t, 1.0950, got.OriginalSL)
	assert.Equal(t, 0.2, got.OriginalVolume)
	assert.Equal(t, []PlanKind{PlanBreakeven, PlanTrailing}, kinds(got.Plans))
	assert.Equal(t, 1, rec.active)

	removed, err := m.Remove("K1")
	require.NoError(t, err)
	assert.Equal(t, "T1", removed.TradeID)
	assert.Zero(t, m.Len())
	assert.Zero(t, rec.active)

	_, err = m.Remove("T1")
	assert.True(t, errors.Is(err, ErrTradeNotFound))

	bad := newTrade(t, 0, 0.1)
	bad.Symbol = "BTC_USD"
	assert.True(t, errors.Is(m.Add(bad), market.ErrUnknownInstrument))
}

func TestHandleTradeClosedRecordsResult(t *testing.T) {
	t.Parallel()

	now := t0
	rm := risk.NewManager(risk.DefaultLimits(), risk.WithClock(func() time.Time { return now }))
	profiles := broker.NewStaticProfiles(risk.DefaultProfile("u1", risk.TierBase, 1200))
	m := newTestMonitor(&fakeExec{}, WithResults(rm, profiles))
	require.NoError(t, m.Add(newTrade(t, 1200, 0.2)))

	m.OnTradeClosed(context.Background(), broker.TradeResult{Ticket: "K1", Instrument: "EUR_USD", Won: false, PnL: -100, Reason: "StopLoss"})

	assert.Zero(t, m.Len())
	s := rm.Session("u1")
	assert.Equal(t, 1, s.TradesTaken)
	assert.Equal(t, 1, s.ConsecutiveLosses)
	assert.InDelta(t, -100.0, s.DailyPnL, 1e-9)

	// Unmanaged trades still count when the result names the user.
	require.NoError(t, m.HandleTradeClosed(context.Background(), broker.TradeResult{TradeID: "X", UserID: "u1", Won: true, PnL: 40}))
	assert.Equal(t, 2, rm.Session("u1").TradesTaken)

	err := m.HandleTradeClosed(context.Background(), broker.TradeResult{TradeID: "Y", UserID: "ghost"})
	assert.True(t, errors.Is(err, broker.ErrUnknownUser))
}

func TestRunPollsTickSource(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{}
	store := market.NewTickStore()
	m := newTestMonitor(exec, WithTickSource(store), WithInterval(5*time.Millisecond))
	require.NoError(t, m.Add(newTrade(t, 100, 0.2)))
	store.Set(eurTick(1.1030))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		tr, _ := m.Get("T1")
		return tr.IsBreakeven
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	stops, _ := exec.counts()
	assert.Equal(t, 1, stops)
}

func TestTickWithoutSource(t *testing.T) {
	t.Parallel()

	_, err := newTestMonitor(&fakeExec{}).Tick(context.Background())
	assert.Error(t, err)
}
