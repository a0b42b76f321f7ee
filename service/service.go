// Package service wires the risk gate, the paper broker and the trade
// monitor into one process.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/broker/sim"
	"github.com/rustyeddy/tradeguard/config"
	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/manage"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/news"
	"github.com/rustyeddy/tradeguard/notify"
	"github.com/rustyeddy/tradeguard/pkg/id"
	"github.com/rustyeddy/tradeguard/pkg/metrics"
	"github.com/rustyeddy/tradeguard/risk"
)

const DefaultBalance = 10000.0

type options struct {
	balance   float64
	now       func() time.Time
	clock     *Clock
	notifiers []notify.Notifier
	publisher notify.Publisher
	journal   journal.Journal
	registry  *prometheus.Registry
}

type Option func(*options)

// WithBalance sets the paper account's opening balance.
func WithBalance(b float64) Option {
	return func(o *options) { o.balance = b }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTickClock drives every component's clock from the tick stream, for
// replaying recorded prices.
func WithTickClock(c *Clock) Option {
	return func(o *options) {
		o.clock = c
		o.now = c.Now
	}
}

// WithNotifier adds a notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifiers = append(o.notifiers, n) }
}

// WithPublisher overrides the redis client built from config.
func WithPublisher(p notify.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithJournal overrides the journal opened from config.
func WithJournal(j journal.Journal) Option {
	return func(o *options) { o.journal = j }
}

func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

type Service struct {
	cfg   *config.Config
	log   zerolog.Logger
	now   func() time.Time
	clock *Clock

	Instruments *market.Registry
	News        *news.Calendar
	Risk        *risk.Manager
	Sizer       *risk.Sizer
	Planner     *manage.Planner
	Engine      *sim.Engine
	Monitor     *manage.Monitor
	Profiles    *broker.StaticProfiles
	Journal     journal.Journal
	Metrics     *metrics.Recorder

	notifier  notify.Notifier
	redis     *redis.Client
	closeOnce sync.Once
}

func New(cfg *config.Config, log zerolog.Logger, opts ...Option) (*Service, error) {
	o := options{balance: DefaultBalance, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	instruments, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("instruments: %w", err)
	}
	limits, err := cfg.Limits()
	if err != nil {
		return nil, fmt.Errorf("risk limits: %w", err)
	}

	s := &Service{
		cfg:         cfg,
		log:         log.With().Str("component", "service").Logger(),
		now:         o.now,
		clock:       o.clock,
		Instruments: instruments,
		Metrics:     metrics.New(o.registry),
		Profiles:    broker.NewStaticProfiles(),
		News:        news.NewCalendarWithClock(o.now),
	}
	s.News.AddAll(cfg.News)
	for _, u := range cfg.Users {
		p, err := u.Profile()
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", u.ID, err)
		}
		s.Profiles.Set(p)
	}

	s.Risk = risk.NewManager(limits,
		risk.WithClock(o.now),
		risk.WithLogger(log),
		risk.WithNews(s.News),
		risk.WithRecorder(s.Metrics),
	)
	s.Sizer = risk.NewSizer(s.Risk, instruments, log)
	s.Planner = manage.NewPlanner(instruments)

	s.Journal = o.journal
	if s.Journal == nil {
		if s.Journal, err = journal.Open(cfg.Journal.Backend, cfg.Journal.Path); err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}

	sinks := notify.Multi{notify.NewLog(log), notify.NewJournal(s.Journal)}
	pub := o.publisher
	if pub == nil && cfg.Redis.Enabled {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pub = s.redis
	}
	if pub != nil {
		sinks = append(sinks, notify.NewRedis(pub, cfg.Redis.Prefix))
	}
	sinks = append(sinks, o.notifiers...)
	s.notifier = sinks

	s.Engine = sim.NewEngine(o.balance, instruments,
		sim.WithJournal(s.Journal),
		sim.WithLogger(log),
	)
	s.Monitor = manage.NewMonitor(s.Engine, instruments,
		manage.WithTickSource(s.Engine),
		manage.WithNotifier(sinks),
		manage.WithResults(s.Risk, s.Profiles),
		manage.WithMetrics(s.Metrics),
		manage.WithInterval(cfg.Monitor.Interval),
		manage.WithActionTimeout(cfg.Monitor.ActionTimeout),
		manage.WithMonitorClock(o.now),
		manage.WithMonitorLogger(log),
	)
	s.Engine.SetListener(broker.ResultFunc(s.onTradeClosed))

	return s, nil
}

func (s *Service) onTradeClosed(ctx context.Context, res broker.TradeResult) {
	s.Metrics.RecordResult(res.Won)
	s.Monitor.OnTradeClosed(ctx, res)
}

// Check gates a prospective trade against the paper account and journals
// the decision.
func (s *Service) Check(p risk.RiskProfile, symbol string) risk.Decision {
	s.Profiles.Set(p)
	d := s.Risk.CheckTradingRestrictions(p, s.Engine.Account(p.UserID), symbol)
	s.recordDecision(p.UserID, symbol, d, 0)
	return d
}

func (s *Service) recordDecision(userID, symbol string, d risk.Decision, lots float64) {
	err := s.Journal.RecordDecision(journal.DecisionRecord{
		Time:             s.now(),
		UserID:           userID,
		Instrument:       market.NormalizeSymbol(symbol),
		Allowed:          d.CanTrade,
		State:            string(d.State),
		Reason:           d.Reason,
		Restrictions:     d.Restrictions.Flags.String(),
		DailyLossPercent: d.DailyLossPercent,
		LotSize:          lots,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("decision not journaled")
	}
}

// TradeRequest asks for a market entry at the current paper price.
type TradeRequest struct {
	Profile    risk.RiskProfile
	Symbol     string
	Direction  market.Direction
	StopLoss   float64
	TakeProfit float64
	Mode       risk.SizingMode
}

// Opened reports what OpenTrade did. Position is zero when the gate
// rejected the trade.
type Opened struct {
	Size     risk.SizeResult
	Position sim.Position
	Plans    []manage.Plan
}

// OpenTrade gates and sizes a trade, fills it on the paper broker and
// hands it to the monitor with the plans the user's experience unlocks.
func (s *Service) OpenTrade(ctx context.Context, req TradeRequest) (Opened, error) {
	p := req.Profile
	s.Profiles.Set(p)

	symbol := market.NormalizeSymbol(req.Symbol)
	tk, err := s.Engine.GetTick(ctx, symbol)
	if err != nil {
		return Opened{}, fmt.Errorf("open %s: %w", symbol, err)
	}
	if req.Direction == 0 {
		req.Direction = market.DirectionOf(tk.Mid(), req.StopLoss)
	}
	entry := tk.Ask
	if req.Direction == market.Short {
		entry = tk.Bid
	}
	if req.StopLoss == entry || req.Direction != market.DirectionOf(entry, req.StopLoss) {
		return Opened{}, fmt.Errorf("open %s: stop %v is on the wrong side of %v", symbol, req.StopLoss, entry)
	}

	size, err := s.Sizer.CalculatePositionSize(s.Engine.Account(p.UserID), p, symbol, entry, req.StopLoss, req.Mode)
	if err != nil {
		return Opened{}, err
	}
	s.recordDecision(p.UserID, symbol, risk.Decision{
		CanTrade:     size.CanTrade,
		Reason:       size.Reason,
		State:        size.State,
		Restrictions: size.Restrictions,
	}, size.LotSize)

	out := Opened{Size: size}
	if !size.CanTrade {
		return out, nil
	}

	pos, err := s.Engine.Open(ctx, sim.OpenRequest{
		UserID:     p.UserID,
		Instrument: symbol,
		Direction:  req.Direction,
		Volume:     size.LotSize,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	if err != nil {
		return out, err
	}
	out.Position = pos

	plans, err := s.Planner.BuildPlan(p, pos.EntryPrice, req.StopLoss, req.TakeProfit, symbol)
	if err != nil {
		return out, fmt.Errorf("plan %s: %w", pos.Ticket, err)
	}
	out.Plans = plans

	if err := s.Monitor.Add(manage.ActiveTrade{
		TradeID:   pos.Ticket,
		Ticket:    pos.Ticket,
		UserID:    p.UserID,
		Symbol:    symbol,
		Direction: req.Direction,
		Entry:     pos.EntryPrice,
		CurrentSL: req.StopLoss,
		CurrentTP: req.TakeProfit,
		Volume:    pos.Volume,
		OpenTime:  pos.OpenTime,
		Plans:     plans,
	}); err != nil {
		return out, err
	}

	if err := s.notifier.Notify(ctx, notify.Notification{
		ID:         id.NewAt(s.now()),
		Time:       s.now(),
		UserID:     p.UserID,
		TradeID:    pos.Ticket,
		Ticket:     pos.Ticket,
		Instrument: symbol,
		Kind:       notify.KindTradeAdded,
		StopLoss:   req.StopLoss,
		Volume:     pos.Volume,
		Message: fmt.Sprintf("%s %s %.2f lots at %s, %d plans (%s)",
			req.Direction, symbol, pos.Volume, strconv.FormatFloat(pos.EntryPrice, 'f', -1, 64),
			len(plans), manage.UnlockedFeatures(p.Experience)),
	}); err != nil {
		s.log.Warn().Err(err).Str("ticket", pos.Ticket).Msg("notification failed")
	}
	return out, nil
}

// Feed applies a price: the paper broker settles stops and targets first,
// then the monitor manages whatever is still open. It returns the number
// of management actions taken.
func (s *Service) Feed(ctx context.Context, tk market.Tick) (int, error) {
	if s.clock != nil {
		s.clock.Set(tk.Time)
	}
	if err := s.Engine.UpdatePrice(ctx, tk); err != nil {
		return 0, err
	}
	return s.Monitor.OnTick(ctx, tk), nil
}

// CloseAll market-closes every open paper position.
func (s *Service) CloseAll(ctx context.Context, reason string) error {
	var errs []error
	for _, p := range s.Engine.Positions() {
		if !p.Open {
			continue
		}
		if err := s.Engine.CloseTrade(ctx, p.Ticket, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Rollover drops sessions from earlier days and stale news events.
func (s *Service) Rollover(now time.Time) {
	sessions := s.Risk.Sessions().Purge(now)
	events := s.News.Prune(now)
	s.log.Info().
		Int("sessions_purged", sessions).
		Int("events_pruned", events).
		Msg("daily rollover")
}

// Run starts the rollover schedule, the metrics endpoint (when enabled)
// and the monitor loop, and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limits := s.Risk.Limits()
	c := cron.New(cron.WithSeconds(), cron.WithLocation(limits.Location))
	if _, err := c.AddFunc(s.cfg.Cron.Rollover, func() { s.Rollover(s.now()) }); err != nil {
		return fmt.Errorf("cron spec %q: %w", s.cfg.Cron.Rollover, err)
	}
	c.Start()
	s.log.Info().Str("spec", s.cfg.Cron.Rollover).Msg("cron started")
	defer func() {
		<-c.Stop().Done()
		s.log.Info().Msg("cron stopped")
	}()

	errc := make(chan error, 2)
	var srv *http.Server
	if s.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(s.cfg.Metrics.Path, s.Metrics.Handler())
		srv = &http.Server{
			Addr:              s.cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			s.log.Info().Str("addr", srv.Addr).Str("path", s.cfg.Metrics.Path).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	go func() { errc <- s.Monitor.Run(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

// Close releases the journal and the redis client.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		var errs []error
		if s.Journal != nil {
			errs = append(errs, s.Journal.Close())
		}
		if s.redis != nil {
			errs = append(errs, s.redis.Close())
		}
		err = errors.Join(errs...)
	})
	return err
}
