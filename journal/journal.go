// Package journal is the audit trail: every management action, every
// gate decision and every closed-trade result.
package journal

import (
	"fmt"
	"time"
)

// ActionRecord is one successful management action on an open trade.
type ActionRecord struct {
	ID            string
	Time          time.Time
	TradeID       string
	Ticket        string
	UserID        string
	Instrument    string
	Kind          string
	StopLoss      float64
	Volume        float64
	PartialClosed float64
	Message       string
}

// DecisionRecord is one risk gate outcome.
type DecisionRecord struct {
	Time             time.Time
	UserID           string
	Instrument       string
	Allowed          bool
	State            string
	Reason           string
	Restrictions     string
	DailyLossPercent float64
	LotSize          float64
}

// ResultRecord is a fully closed trade.
type ResultRecord struct {
	TradeID    string
	Ticket     string
	UserID     string
	Instrument string
	Volume     float64
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	PnL        float64
	Won        bool
	Reason     string
}

type Journal interface {
	RecordAction(ActionRecord) error
	RecordDecision(DecisionRecord) error
	RecordResult(ResultRecord) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordAction(ActionRecord) error     { return nil }
func (Nop) RecordDecision(DecisionRecord) error { return nil }
func (Nop) RecordResult(ResultRecord) error     { return nil }
func (Nop) Close() error                        { return nil }

// Open builds a journal from a backend name: "sqlite" (path is the db
// file), "csv" (path is a directory) or "none".
func Open(backend, path string) (Journal, error) {
	switch backend {
	case "sqlite":
		return NewSQLite(path)
	case "csv":
		return NewCSV(path)
	case "none", "":
		return Nop{}, nil
	}
	return nil, fmt.Errorf("unknown journal backend %q", backend)
}
