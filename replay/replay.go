// Package replay feeds recorded ticks, with optional scripted events, to a
// Handler.
//
// CSV formats supported:
//
//  1. Basic ticks:
//     time,instrument,bid,ask
//
//  2. Ticks + events:
//     time,instrument,bid,ask,event,arg1,arg2,...
//
// The header row is optional. Event names are upper-cased; interpreting
// them is up to the Handler.
package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/tradeguard/market"
)

type Event struct {
	Name string
	Args []string
}

// Arg returns the i-th argument or "".
func (e Event) Arg(i int) string {
	if i < 0 || i >= len(e.Args) {
		return ""
	}
	return e.Args[i]
}

type Handler interface {
	OnTick(ctx context.Context, tk market.Tick) error
	OnEvent(ctx context.Context, tk market.Tick, ev Event) error
}

// Options controls how replay behaves.
type Options struct {
	// EventFirst applies a row's event before its tick. The default
	// (tick then event) lets events see the row's prices.
	EventFirst bool
	// Pace sleeps between rows; zero replays as fast as possible.
	Pace time.Duration
}

// File replays the CSV file at path.
func File(ctx context.Context, path string, h Handler, opts Options) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return CSV(ctx, f, h, opts)
}

// CSV replays rows from r and returns how many were applied.
func CSV(ctx context.Context, r io.Reader, h Handler, opts Options) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	n := 0
	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if len(row) == 0 || (line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "time")) {
			continue
		}

		tk, ev, err := ParseRow(row)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}

		if n > 0 && opts.Pace > 0 {
			select {
			case <-ctx.Done():
				return n, ctx.Err()
			case <-time.After(opts.Pace):
			}
		} else if err := ctx.Err(); err != nil {
			return n, err
		}

		if err := apply(ctx, h, tk, ev, opts.EventFirst); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
}

func apply(ctx context.Context, h Handler, tk market.Tick, ev Event, eventFirst bool) error {
	if eventFirst && ev.Name != "" {
		if err := h.OnEvent(ctx, tk, ev); err != nil {
			return err
		}
	}
	if err := h.OnTick(ctx, tk); err != nil {
		return err
	}
	if !eventFirst && ev.Name != "" {
		return h.OnEvent(ctx, tk, ev)
	}
	return nil
}

// ParseRow decodes one data row.
func ParseRow(row []string) (market.Tick, Event, error) {
	// Minimum tick columns: time,instrument,bid,ask
	if len(row) < 4 {
		return market.Tick{}, Event{}, fmt.Errorf("bad row (need at least 4 cols time,instrument,bid,ask): %v", row)
	}

	t, err := time.Parse(time.RFC3339, strings.TrimSpace(row[0]))
	if err != nil {
		return market.Tick{}, Event{}, fmt.Errorf("bad time %q: %w", row[0], err)
	}
	bid, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil {
		return market.Tick{}, Event{}, fmt.Errorf("bad bid %q: %w", row[2], err)
	}
	ask, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
	if err != nil {
		return market.Tick{}, Event{}, fmt.Errorf("bad ask %q: %w", row[3], err)
	}
	if bid <= 0 || ask < bid {
		return market.Tick{}, Event{}, fmt.Errorf("bad quote bid=%v ask=%v", bid, ask)
	}

	tk := market.Tick{
		Instrument: market.NormalizeSymbol(row[1]),
		Time:       t,
		Bid:        bid,
		Ask:        ask,
	}

	var ev Event
	if len(row) >= 5 {
		ev.Name = strings.ToUpper(strings.TrimSpace(row[4]))
	}
	if ev.Name != "" && len(row) >= 6 {
		for _, a := range row[5:] {
			ev.Args = append(ev.Args, strings.TrimSpace(a))
		}
		for len(ev.Args) > 0 && ev.Args[len(ev.Args)-1] == "" {
			ev.Args = ev.Args[:len(ev.Args)-1]
		}
	}
	return tk, ev, nil
}
