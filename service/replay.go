package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/news"
	"github.com/rustyeddy/tradeguard/replay"
	"github.com/rustyeddy/tradeguard/risk"
)

// OnTick implements replay.Handler.
func (s *Service) OnTick(ctx context.Context, tk market.Tick) error {
	_, err := s.Feed(ctx, tk)
	return err
}

// OnEvent implements replay.Handler. Supported events:
//
//	OPEN       user direction stop [take_profit] [mode]
//	CLOSE      ticket [reason]
//	CLOSE_ALL  [reason]
//	NEWS       currency impact [name] [offset]
func (s *Service) OnEvent(ctx context.Context, tk market.Tick, ev replay.Event) error {
	switch ev.Name {
	case "OPEN":
		return s.openEvent(ctx, tk, ev)

	case "CLOSE":
		reason := ev.Arg(1)
		if reason == "" {
			reason = "replay"
		}
		return s.Engine.CloseTrade(ctx, ev.Arg(0), reason)

	case "CLOSE_ALL":
		reason := ev.Arg(0)
		if reason == "" {
			reason = "replay"
		}
		return s.CloseAll(ctx, reason)

	case "NEWS":
		impact, err := news.ParseImpact(ev.Arg(1))
		if err != nil {
			return err
		}
		at := tk.Time
		if off := ev.Arg(3); off != "" {
			d, err := time.ParseDuration(off)
			if err != nil {
				return fmt.Errorf("news offset: %w", err)
			}
			at = at.Add(d)
		}
		s.News.Add(news.Event{Time: at, Currency: ev.Arg(0), Impact: impact, Name: ev.Arg(2)})
		return nil
	}
	return fmt.Errorf("unknown replay event %q", ev.Name)
}

func (s *Service) openEvent(ctx context.Context, tk market.Tick, ev replay.Event) error {
	p, err := s.Profiles.Profile(ctx, ev.Arg(0))
	if err != nil {
		return err
	}
	dir, err := market.ParseDirection(ev.Arg(1))
	if err != nil {
		return err
	}
	stop, err := strconv.ParseFloat(ev.Arg(2), 64)
	if err != nil {
		return fmt.Errorf("bad stop %q: %w", ev.Arg(2), err)
	}
	var tp float64
	if a := ev.Arg(3); a != "" {
		if tp, err = strconv.ParseFloat(a, 64); err != nil {
			return fmt.Errorf("bad take profit %q: %w", a, err)
		}
	}
	mode, err := risk.ParseSizingMode(ev.Arg(4))
	if err != nil {
		return err
	}

	res, err := s.OpenTrade(ctx, TradeRequest{
		Profile:    p,
		Symbol:     tk.Instrument,
		Direction:  dir,
		StopLoss:   stop,
		TakeProfit: tp,
		Mode:       mode,
	})
	if err != nil {
		return err
	}
	if !res.Size.CanTrade {
		s.log.Info().
			Str("user_id", p.UserID).
			Str("symbol", tk.Instrument).
			Str("state", string(res.Size.State)).
			Msg(res.Size.Reason)
	}
	return nil
}

// Replay feeds a tick file through the paper broker and monitor.
func (s *Service) Replay(ctx context.Context, path string, pace time.Duration) (int, error) {
	n, err := replay.File(ctx, path, s, replay.Options{Pace: pace})
	s.log.Info().Str("file", path).Int("rows", n).Msg("replay finished")
	return n, err
}
