// Package broker defines the execution boundary: the calls the trade
// monitor makes against a broker and the callback a broker makes when a
// position closes.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/risk"
)

var ErrUnknownUser = errors.New("unknown user")

// Executor carries out management instructions. Either call may fail;
// callers must not advance their own state until it returns nil.
type Executor interface {
	ModifyStopLoss(ctx context.Context, ticket string, stopLoss float64) error
	ClosePartial(ctx context.Context, ticket string, volume float64) error
}

// TradeResult is reported once per fully closed position.
type TradeResult struct {
	TradeID    string
	Ticket     string
	UserID     string
	Instrument string
	Volume     float64 // volume at close
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	PnL        float64 // account currency, includes partial closes
	Won        bool
	Reason     string
}

// ResultListener receives closed-trade results. Implementations are called
// outside the broker's locks.
type ResultListener interface {
	OnTradeClosed(ctx context.Context, res TradeResult)
}

// ResultFunc adapts a function to ResultListener.
type ResultFunc func(ctx context.Context, res TradeResult)

func (f ResultFunc) OnTradeClosed(ctx context.Context, res TradeResult) { f(ctx, res) }

// ProfileSource looks up the current risk profile for a user. The core
// only reads experience and tier; it never writes them back.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (risk.RiskProfile, error)
}

// StaticProfiles is an in-memory ProfileSource.
type StaticProfiles struct {
	mu       sync.RWMutex
	profiles map[string]risk.RiskProfile
}

func NewStaticProfiles(ps ...risk.RiskProfile) *StaticProfiles {
	s := &StaticProfiles{profiles: make(map[string]risk.RiskProfile, len(ps))}
	for _, p := range ps {
		s.profiles[p.UserID] = p
	}
	return s
}

func (s *StaticProfiles) Set(p risk.RiskProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

func (s *StaticProfiles) Profile(_ context.Context, userID string) (risk.RiskProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return risk.RiskProfile{}, fmt.Errorf("%w %q", ErrUnknownUser, userID)
	}
	return p, nil
}
