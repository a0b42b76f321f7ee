package notify

import (
	"context"

	"github.com/rustyeddy/tradeguard/journal"
)

// ActionRecorder is the slice of journal.Journal used here.
type ActionRecorder interface {
	RecordAction(journal.ActionRecord) error
}

// Journal records management notifications as journal actions. Trade
// open and close notifications are skipped; results have their own table.
type Journal struct {
	j ActionRecorder
}

func NewJournal(j ActionRecorder) *Journal {
	return &Journal{j: j}
}

func (s *Journal) Notify(_ context.Context, n Notification) error {
	switch n.Kind {
	case KindTradeAdded, KindTradeClosed:
		return nil
	}
	return s.j.RecordAction(journal.ActionRecord{
		ID:            n.ID,
		Time:          n.Time,
		TradeID:       n.TradeID,
		Ticket:        n.Ticket,
		UserID:        n.UserID,
		Instrument:    n.Instrument,
		Kind:          string(n.Kind),
		StopLoss:      n.StopLoss,
		Volume:        n.Volume,
		PartialClosed: n.PartialClosed,
		Message:       n.Message,
	})
}
