package market

import (
	"fmt"
	"strings"
)

type Direction int

const (
	Long  Direction = 1
	Short Direction = -1
)

// Sign is +1 for longs and -1 for shorts.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

func (d Direction) String() string {
	if d == Short {
		return "short"
	}
	return "long"
}

// Favorable returns the signed move from entry to price in the trade's favor.
func (d Direction) Favorable(entry, price float64) float64 {
	return d.Sign() * (price - entry)
}

// Better reports whether a is strictly more favorable than b for a stop
// on a position of direction d.
func (d Direction) Better(a, b float64) bool {
	if d == Short {
		return a < b
	}
	return a > b
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	default:
		return 0, fmt.Errorf("invalid direction %q (want long|short)", s)
	}
}

// DirectionOf infers the direction from entry and stop placement.
func DirectionOf(entry, stop float64) Direction {
	if stop > entry {
		return Short
	}
	return Long
}
