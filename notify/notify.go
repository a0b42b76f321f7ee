// Package notify delivers management notifications. Notifications are for
// observability and audit only; nothing reads them back for control flow.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

type Kind string

const (
	KindTradeAdded   Kind = "trade_added"
	KindBreakeven    Kind = "breakeven"
	KindTrailing     Kind = "trailing"
	KindPartialClose Kind = "partial_close"
	KindRunner       Kind = "runner"
	KindTradeClosed  Kind = "trade_closed"
)

type Notification struct {
	ID            string    `json:"id"`
	Time          time.Time `json:"time"`
	UserID        string    `json:"user_id"`
	TradeID       string    `json:"trade_id"`
	Ticket        string    `json:"ticket"`
	Instrument    string    `json:"instrument"`
	Kind          Kind      `json:"kind"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	Volume        float64   `json:"volume,omitempty"`
	PartialClosed float64   `json:"partial_closed,omitempty"`
	Message       string    `json:"message"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Log writes notifications to a zerolog logger.
type Log struct {
	log zerolog.Logger
}

func NewLog(l zerolog.Logger) *Log {
	return &Log{log: l.With().Str("component", "notify").Logger()}
}

func (l *Log) Notify(_ context.Context, n Notification) error {
	l.log.Info().
		Str("user_id", n.UserID).
		Str("trade_id", n.TradeID).
		Str("ticket", n.Ticket).
		Str("instrument", n.Instrument).
		Str("kind", string(n.Kind)).
		Time("at", n.Time).
		Msg(n.Message)
	return nil
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if nt == nil {
			continue
		}
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
