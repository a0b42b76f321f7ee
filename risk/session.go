package risk

import (
	"sync"
	"time"
)

// TradingSession holds one user's counters for one calendar day.
type TradingSession struct {
	UserID            string
	Day               time.Time
	StartTime         time.Time
	StartingBalance   float64
	TradesTaken       int
	ConsecutiveLosses int
	ConsecutiveWins   int
	DailyPnL          float64
	DailyPnLPercent   float64
	LastTradeTime     time.Time
	TiltStrikes       int
	RecoveryWins      int
	State             TradingState
	MedicActivatedAt  time.Time
	// DailyLimitHitAt latches the daily loss limit until the day rolls over.
	DailyLimitHitAt time.Time
}

type sessionEntry struct {
	mu   sync.Mutex
	s    TradingSession
	dead bool // purged from the registry
}

// SessionStore is a keyed registry with one lock per user. Writes for a
// user are serialized; different users never contend beyond the map lookup.
type SessionStore struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
	loc     *time.Location
}

func NewSessionStore(loc *time.Location) *SessionStore {
	if loc == nil {
		loc = time.UTC
	}
	return &SessionStore{
		entries: make(map[string]*sessionEntry),
		loc:     loc,
	}
}

func (st *SessionStore) dayOf(t time.Time) time.Time {
	lt := t.In(st.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, st.loc)
}

func (st *SessionStore) entry(userID string) *sessionEntry {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[userID]
	if !ok {
		e = &sessionEntry{}
		st.entries[userID] = e
	}
	return e
}

// lock returns the user's entry locked, retrying if it was purged between
// lookup and lock.
func (st *SessionStore) lock(userID string) *sessionEntry {
	for {
		e := st.entry(userID)
		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

// rolloverLocked starts a fresh session when the entry is empty or from an
// earlier day. seedBalance becomes the day-start baseline when positive.
func (st *SessionStore) rolloverLocked(e *sessionEntry, userID string, now time.Time, seedBalance float64) {
	day := st.dayOf(now)
	if e.s.UserID != "" && e.s.Day.Equal(day) {
		if e.s.StartingBalance <= 0 && seedBalance > 0 {
			e.s.StartingBalance = seedBalance
		}
		return
	}
	e.s = TradingSession{
		UserID:          userID,
		Day:             day,
		StartTime:       now,
		StartingBalance: seedBalance,
		State:           StateNormal,
	}
}

// Get returns a copy of the user's session for now's day, creating it lazily.
func (st *SessionStore) Get(userID string, now time.Time, seedBalance float64) TradingSession {
	e := st.lock(userID)
	defer e.mu.Unlock()
	st.rolloverLocked(e, userID, now, seedBalance)
	return e.s
}

// Snapshot returns the stored session without creating or rolling it.
func (st *SessionStore) Snapshot(userID string) (TradingSession, bool) {
	st.mu.Lock()
	e, ok := st.entries[userID]
	st.mu.Unlock()
	if !ok {
		return TradingSession{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || e.s.UserID == "" {
		return TradingSession{}, false
	}
	return e.s, true
}

// Update applies fn to the user's session under that user's lock and
// returns the resulting copy.
func (st *SessionStore) Update(userID string, now time.Time, fn func(*TradingSession)) TradingSession {
	e := st.lock(userID)
	defer e.mu.Unlock()
	st.rolloverLocked(e, userID, now, 0)
	fn(&e.s)
	return e.s
}

// Purge drops sessions whose day is before the day containing now.
func (st *SessionStore) Purge(now time.Time) int {
	today := st.dayOf(now)

	st.mu.Lock()
	defer st.mu.Unlock()

	n := 0
	for id, e := range st.entries {
		e.mu.Lock()
		stale := e.s.Day.Before(today)
		if stale {
			e.dead = true
		}
		e.mu.Unlock()
		if stale {
			delete(st.entries, id)
			n++
		}
	}
	return n
}

func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}
