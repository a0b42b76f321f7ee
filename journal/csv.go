package journal

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var (
	actionHeader   = []string{"id", "time", "trade_id", "ticket", "user_id", "instrument", "kind", "stop_loss", "volume", "partial_closed", "message"}
	decisionHeader = []string{"time", "user_id", "instrument", "allowed", "state", "reason", "restrictions", "daily_loss_pct", "lot_size"}
	resultHeader   = []string{"trade_id", "ticket", "user_id", "instrument", "volume", "entry_price", "exit_price", "open_time", "close_time", "pnl", "won", "reason"}
)

type csvFile struct {
	f *os.File
	w *csv.Writer
}

func openCSV(path string, header []string) (*csvFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &csvFile{f: f, w: w}, nil
}

func (c *csvFile) write(row []string) error {
	if err := c.w.Write(row); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *csvFile) close() error {
	c.w.Flush()
	return errors.Join(c.w.Error(), c.f.Close())
}

// CSV writes actions.csv, decisions.csv and results.csv into a directory.
type CSV struct {
	mu        sync.Mutex
	actions   *csvFile
	decisions *csvFile
	results   *csvFile
}

func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	a, err := openCSV(filepath.Join(dir, "actions.csv"), actionHeader)
	if err != nil {
		return nil, err
	}
	d, err := openCSV(filepath.Join(dir, "decisions.csv"), decisionHeader)
	if err != nil {
		_ = a.close()
		return nil, err
	}
	r, err := openCSV(filepath.Join(dir, "results.csv"), resultHeader)
	if err != nil {
		_ = a.close()
		_ = d.close()
		return nil, err
	}
	return &CSV{actions: a, decisions: d, results: r}, nil
}

func (j *CSV) RecordAction(a ActionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.actions.write([]string{
		a.ID,
		ts(a.Time),
		a.TradeID,
		a.Ticket,
		a.UserID,
		a.Instrument,
		a.Kind,
		f(a.StopLoss),
		f(a.Volume),
		f(a.PartialClosed),
		a.Message,
	})
}

func (j *CSV) RecordDecision(d DecisionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.decisions.write([]string{
		ts(d.Time),
		d.UserID,
		d.Instrument,
		strconv.FormatBool(d.Allowed),
		d.State,
		d.Reason,
		d.Restrictions,
		f(d.DailyLossPercent),
		f(d.LotSize),
	})
}

func (j *CSV) RecordResult(r ResultRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.results.write([]string{
		r.TradeID,
		r.Ticket,
		r.UserID,
		r.Instrument,
		f(r.Volume),
		f(r.EntryPrice),
		f(r.ExitPrice),
		ts(r.OpenTime),
		ts(r.CloseTime),
		f(r.PnL),
		strconv.FormatBool(r.Won),
		r.Reason,
	})
}

func (j *CSV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return errors.Join(j.actions.close(), j.decisions.close(), j.results.close())
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
