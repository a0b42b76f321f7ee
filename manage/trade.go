package manage

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/notify"
)

// ActiveTrade is an open position under management. The fields after
// Plans are maintained by the monitor.
type ActiveTrade struct {
	TradeID        string
	Ticket         string
	UserID         string
	Symbol         string
	Direction      market.Direction
	Entry          float64
	CurrentSL      float64
	CurrentTP      float64
	OriginalSL     float64
	Volume         float64
	OriginalVolume float64
	OpenTime       time.Time
	Plans          []Plan

	IsBreakeven    bool
	IsTrailing     bool
	PartialClosed  float64 // cumulative percent of OriginalVolume, 0..100
	LastTrailPrice float64
	PeakPrice      float64
	CurrentPnLPips float64
	LastUpdate     time.Time

	partialsDone uint8 // bit per PlanKind whose partial close is finished
}

func (t *ActiveTrade) partialDone(k PlanKind) bool {
	return t.partialsDone&(1<<kindOrder[k]) != 0
}

// closedPercent is the share of OriginalVolume no longer open.
func (t *ActiveTrade) closedPercent(volume float64) float64 {
	if t.OriginalVolume <= 0 {
		return 0
	}
	pct := market.SubLots(t.OriginalVolume, volume) / t.OriginalVolume * 100
	return math.Min(100, math.Round(pct*100)/100)
}

func sortPlans(plans []Plan) []Plan {
	out := append([]Plan(nil), plans...)
	sort.SliceStable(out, func(i, j int) bool { return kindOrder[out[i].Kind] < kindOrder[out[j].Kind] })
	return out
}

// observe folds a tick into the trade's live fields. It never issues
// instructions, so repeating a tick leaves the trade unchanged.
func observe(t *ActiveTrade, spec market.InstrumentSpec, tk market.Tick) {
	mark := tk.Mark(t.Direction)
	if mark <= 0 {
		return
	}
	t.CurrentPnLPips = spec.Pips(t.Direction.Favorable(t.Entry, mark))
	if t.PeakPrice == 0 || t.Direction.Better(mark, t.PeakPrice) {
		t.PeakPrice = mark
	}
	if !tk.Time.IsZero() {
		t.LastUpdate = tk.Time
	}
}

type actionType int

const (
	actModifyStop actionType = iota
	actClosePartial
)

// action is one pending instruction plus the state it produces once the
// executor confirms it.
type action struct {
	typ  actionType
	kind notify.Kind
	plan Plan

	stop      float64
	volume    float64
	partialTo float64
	planDone  bool
	trailAt   float64
	breakeven bool
	trailing  bool
	msg       string
}

// nextAction returns the first instruction the plans call for, walking
// plans in precedence order. It does not modify t.
func nextAction(t *ActiveTrade, spec market.InstrumentSpec) (action, bool) {
	pnl := t.CurrentPnLPips
	d := t.Direction
	stopAt := func(offsetPips float64) float64 {
		return spec.RoundPrice(t.Entry + d.Sign()*spec.PipsToPrice(offsetPips))
	}

	for _, p := range t.Plans {
		switch p.Kind {
		case PlanBreakeven, PlanBreakevenPlus:
			if pnl < p.TriggerPips {
				continue
			}
			target := stopAt(p.OffsetPips)
			if d.Better(target, t.CurrentSL) {
				return action{
					typ:       actModifyStop,
					kind:      notify.KindBreakeven,
					plan:      p,
					stop:      target,
					breakeven: true,
					msg:       fmt.Sprintf("%s: stop moved to %s (entry %+.1f pips) at %+.1f pips", t.Symbol, fmtPrice(target), p.OffsetPips, pnl),
				}, true
			}

		case PlanTrailing:
			if pnl < p.TriggerPips {
				continue
			}
			if t.LastTrailPrice != 0 && spec.Pips(d.Favorable(t.LastTrailPrice, t.PeakPrice)) < p.TrailStepPips {
				continue
			}
			target := spec.RoundPrice(t.PeakPrice - d.Sign()*spec.PipsToPrice(p.TrailDistancePips))
			if d.Better(target, t.CurrentSL) {
				return action{
					typ:      actModifyStop,
					kind:     notify.KindTrailing,
					plan:     p,
					stop:     target,
					trailAt:  t.PeakPrice,
					trailing: true,
					msg:      fmt.Sprintf("%s: trailing stop to %s, %.1f pips behind %s", t.Symbol, fmtPrice(target), p.TrailDistancePips, fmtPrice(t.PeakPrice)),
				}, true
			}

		case PlanPartialClose, PlanRunner:
			kind := notify.KindPartialClose
			if p.Kind == PlanRunner || p.ForceBreakeven {
				kind = notify.KindRunner
			}
			if pnl >= p.TriggerPips && !t.partialDone(p.Kind) {
				want := t.OriginalVolume * (p.ClosePercent - t.PartialClosed) / 100
				vol := spec.StepDown(want)
				// Always leave at least the minimum lot open.
				capped := false
				if rest := market.SubLots(t.Volume, vol); rest < spec.MinLot {
					vol = spec.StepDown(market.SubLots(t.Volume, spec.MinLot))
					capped = true
				}
				after := t.closedPercent(market.SubLots(t.Volume, vol))
				return action{
					typ:       actClosePartial,
					kind:      kind,
					plan:      p,
					volume:    vol,
					partialTo: after,
					// Done once what is left of the target is under one lot step.
					planDone: vol <= 0 || capped || spec.StepDown(math.Max(0, want-vol)) <= 0,
					msg:      fmt.Sprintf("%s: closed %.2f lots at %+.1f pips (%.0f%% of position closed)", t.Symbol, vol, pnl, after),
				}, true
			}
			if p.ForceBreakeven && t.partialDone(p.Kind) {
				target := stopAt(p.OffsetPips)
				if d.Better(target, t.CurrentSL) {
					return action{
						typ:       actModifyStop,
						kind:      kind,
						plan:      p,
						stop:      target,
						breakeven: true,
						msg:       fmt.Sprintf("%s: remainder made risk-free, stop %s", t.Symbol, fmtPrice(target)),
					}, true
				}
			}
		}
	}
	return action{}, false
}

// apply records a confirmed action on the trade.
func (a action) apply(t *ActiveTrade) {
	switch a.typ {
	case actModifyStop:
		t.CurrentSL = a.stop
		if a.breakeven || !t.Direction.Better(t.Entry, t.CurrentSL) {
			t.IsBreakeven = true
		}
		if a.trailing {
			t.IsTrailing = true
			t.LastTrailPrice = a.trailAt
		}
	case actClosePartial:
		if a.volume > 0 {
			t.Volume = market.SubLots(t.Volume, a.volume)
		}
		if a.partialTo > t.PartialClosed {
			t.PartialClosed = min(a.partialTo, 100)
		}
		if a.planDone {
			t.partialsDone |= 1 << kindOrder[a.plan.Kind]
		}
	}
}

func fmtPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
