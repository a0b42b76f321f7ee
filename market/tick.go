package market

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

var ErrNoPrice = errors.New("price not found")

type TickSource interface {
	GetTick(ctx context.Context, instrument string) (Tick, error)
}

type Tick struct {
	Instrument string
	Time       time.Time
	Bid        float64
	Ask        float64
	Volume     float64
}

func (t Tick) Mid() float64 {
	if t.Bid == 0 && t.Ask == 0 {
		return 0
	}
	return (t.Bid + t.Ask) / 2
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// Mark is the price a position would close at: longs close on the bid,
// shorts close on the ask.
func (t Tick) Mark(d Direction) float64 {
	if d == Short {
		return t.Ask
	}
	return t.Bid
}

type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (ps *TickStore) Set(p Tick) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p.Instrument = NormalizeSymbol(p.Instrument)
	ps.ticks[p.Instrument] = p
}

func (ps *TickStore) Get(instr string) (Tick, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.ticks[NormalizeSymbol(instr)]
	if !ok {
		return Tick{}, ErrNoPrice
	}
	return p, nil
}

// GetTick lets a TickStore act as a TickSource.
func (ps *TickStore) GetTick(ctx context.Context, instr string) (Tick, error) {
	return ps.Get(instr)
}

// PriceToPips converts a price distance into pips rounded to 0.1 pip.
func PriceToPips(distance, pipSize float64) float64 {
	if pipSize <= 0 {
		return 0
	}
	return math.Round(distance/pipSize*10) / 10
}
