package sim

import (
	"time"

	"github.com/rustyeddy/tradeguard/market"
)

type Position struct {
	Ticket         string
	UserID         string
	Instrument     string
	Direction      market.Direction
	Volume         float64
	OriginalVolume float64
	EntryPrice     float64
	StopLoss       float64 // zero means none
	TakeProfit     float64 // zero means none
	OpenTime       time.Time

	RealizedPnL float64 // from partial closes and the final close
	Open        bool
	ClosePrice  float64
	CloseTime   time.Time
	CloseReason string
}

func (p *Position) hitStopLoss(mark float64) bool {
	if p.StopLoss == 0 {
		return false
	}
	if p.Direction == market.Short {
		return mark >= p.StopLoss
	}
	return mark <= p.StopLoss
}

func (p *Position) hitTakeProfit(mark float64) bool {
	if p.TakeProfit == 0 {
		return false
	}
	if p.Direction == market.Short {
		return mark <= p.TakeProfit
	}
	return mark >= p.TakeProfit
}

// pnl is the account-currency profit of closing volume lots at price.
func pnl(spec market.InstrumentSpec, p *Position, price, volume float64) float64 {
	pips := spec.Pips(p.Direction.Favorable(p.EntryPrice, price))
	return pips * spec.PipValuePerLot * volume
}
