package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// The monitor writes from many goroutines; one connection avoids
	// "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordAction(a ActionRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO actions
		(id, time, trade_id, ticket, user_id, instrument, kind, stop_loss, volume, partial_closed, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Time.UTC(), a.TradeID, a.Ticket, a.UserID, a.Instrument,
		a.Kind, a.StopLoss, a.Volume, a.PartialClosed, a.Message,
	)
	return err
}

func (j *SQLite) RecordDecision(d DecisionRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO decisions
		(time, user_id, instrument, allowed, state, reason, restrictions, daily_loss_pct, lot_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Time.UTC(), d.UserID, d.Instrument, d.Allowed, d.State, d.Reason,
		d.Restrictions, d.DailyLossPercent, d.LotSize,
	)
	return err
}

func (j *SQLite) RecordResult(r ResultRecord) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO results
		(trade_id, ticket, user_id, instrument, volume, entry_price, exit_price, open_time, close_time, pnl, won, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TradeID, r.Ticket, r.UserID, r.Instrument, r.Volume, r.EntryPrice,
		r.ExitPrice, r.OpenTime.UTC(), r.CloseTime.UTC(), r.PnL, r.Won, r.Reason,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
