package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

// GetResult returns the closed-trade record for tradeID.
func (j *SQLite) GetResult(tradeID string) (ResultRecord, error) {
	row := j.db.QueryRow(`
		SELECT trade_id, ticket, user_id, instrument, volume, entry_price, exit_price, open_time, close_time, pnl, won, reason
		FROM results
		WHERE trade_id = ?`, tradeID)

	rec, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ResultRecord{}, fmt.Errorf("result %q: %w", tradeID, ErrNotFound)
		}
		return ResultRecord{}, err
	}
	return rec, nil
}

// ListResultsBetween returns results whose close_time is within [start, end).
func (j *SQLite) ListResultsBetween(start, end time.Time) ([]ResultRecord, error) {
	rows, err := j.db.Query(`
		SELECT trade_id, ticket, user_id, instrument, volume, entry_price, exit_price, open_time, close_time, pnl, won, reason
		FROM results
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		rec, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListActions returns the actions for one trade in time order. An empty
// tradeID returns every action.
func (j *SQLite) ListActions(tradeID string) ([]ActionRecord, error) {
	q := `
		SELECT id, time, trade_id, ticket, user_id, instrument, kind, stop_loss, volume, partial_closed, message
		FROM actions`
	var args []any
	if tradeID != "" {
		q += ` WHERE trade_id = ?`
		args = append(args, tradeID)
	}
	q += ` ORDER BY time ASC, id ASC`

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var a ActionRecord
		if err := rows.Scan(
			&a.ID,
			&a.Time,
			&a.TradeID,
			&a.Ticket,
			&a.UserID,
			&a.Instrument,
			&a.Kind,
			&a.StopLoss,
			&a.Volume,
			&a.PartialClosed,
			&a.Message,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Summary aggregates closed results.
type Summary struct {
	Trades       int
	Wins         int
	GrossProfit  float64
	GrossLoss    float64
	NetPnL       float64
	WinRate      float64
	ProfitFactor float64
}

// Summarize computes win rate and profit factor over results.
func Summarize(results []ResultRecord) Summary {
	var s Summary
	for _, r := range results {
		s.Trades++
		s.NetPnL += r.PnL
		if r.Won {
			s.Wins++
		}
		if r.PnL > 0 {
			s.GrossProfit += r.PnL
		} else {
			s.GrossLoss -= r.PnL
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}
	return s
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(s scanner) (ResultRecord, error) {
	var r ResultRecord
	err := s.Scan(
		&r.TradeID,
		&r.Ticket,
		&r.UserID,
		&r.Instrument,
		&r.Volume,
		&r.EntryPrice,
		&r.ExitPrice,
		&r.OpenTime,
		&r.CloseTime,
		&r.PnL,
		&r.Won,
		&r.Reason,
	)
	return r, err
}
