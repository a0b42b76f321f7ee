// Package news keeps a short-lived list of upcoming economic events used
// for trading lockouts around high-impact releases.
package news

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type Impact int

const (
	ImpactLow Impact = iota
	ImpactMedium
	ImpactHigh
)

func (i Impact) String() string {
	switch i {
	case ImpactHigh:
		return "high"
	case ImpactMedium:
		return "medium"
	default:
		return "low"
	}
}

func ParseImpact(s string) (Impact, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "3":
		return ImpactHigh, nil
	case "medium", "med", "2":
		return ImpactMedium, nil
	case "low", "1", "":
		return ImpactLow, nil
	default:
		return ImpactLow, fmt.Errorf("invalid impact %q", s)
	}
}

func (i *Impact) UnmarshalText(b []byte) error {
	v, err := ParseImpact(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

func (i Impact) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

type Event struct {
	Time     time.Time `json:"time" yaml:"time"`
	Currency string    `json:"currency" yaml:"currency"`
	Impact   Impact    `json:"impact" yaml:"impact"`
	Name     string    `json:"name" yaml:"name"`
}

// Retention is how long past events are kept.
const Retention = 2 * time.Hour

type Calendar struct {
	mu     sync.RWMutex
	events []Event
	now    func() time.Time
}

func NewCalendar() *Calendar {
	return &Calendar{now: time.Now}
}

// NewCalendarWithClock is used by tests and simulations.
func NewCalendarWithClock(now func() time.Time) *Calendar {
	return &Calendar{now: now}
}

// Add inserts an event and prunes entries older than Retention.
func (c *Calendar) Add(ev Event) {
	c.AddAll([]Event{ev})
}

func (c *Calendar) AddAll(evs []Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range evs {
		ev.Currency = strings.ToUpper(strings.TrimSpace(ev.Currency))
		c.events = append(c.events, ev)
	}
	sort.Slice(c.events, func(i, j int) bool { return c.events[i].Time.Before(c.events[j].Time) })
	c.pruneLocked(c.now())
}

// Prune removes events older than Retention relative to now.
func (c *Calendar) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneLocked(now)
}

func (c *Calendar) pruneLocked(now time.Time) int {
	cutoff := now.Add(-Retention)
	kept := c.events[:0]
	for _, ev := range c.events {
		if !ev.Time.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	n := len(c.events) - len(kept)
	c.events = kept
	return n
}

// Upcoming returns a copy of events at or after from.
func (c *Calendar) Upcoming(from time.Time) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Event
	for _, ev := range c.events {
		if !ev.Time.Before(from) {
			out = append(out, ev)
		}
	}
	return out
}

func (c *Calendar) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// HighImpactNear returns the first high-impact event for any of the given
// currencies whose time is within window before or after at.
func (c *Calendar) HighImpactNear(currencies []string, at time.Time, window time.Duration) (Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ev := range c.events {
		if ev.Impact != ImpactHigh {
			continue
		}
		d := ev.Time.Sub(at)
		if d < -window || d > window {
			continue
		}
		for _, cur := range currencies {
			if strings.EqualFold(cur, ev.Currency) {
				return ev, true
			}
		}
	}
	return Event{}, false
}
