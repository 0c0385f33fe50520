// Package quota decides whether a user may send another request in the
// current reset window.
package quota

import (
	"time"

	"gophergpt-bot/internal/model"
)

const (
	DefaultLimit  = 5
	DefaultWindow = 24 * time.Hour
)

// AdminSet holds user ids exempt from quota denial. It is never modified
// after construction.
type AdminSet struct {
	ids map[int64]struct{}
}

func NewAdminSet(ids ...int64) AdminSet {
	set := AdminSet{ids: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		set.ids[id] = struct{}{}
	}
	return set
}

func (s AdminSet) Contains(userID int64) bool {
	_, ok := s.ids[userID]
	return ok
}

func (s AdminSet) Len() int {
	return len(s.ids)
}

type Tracker struct {
	limit  int
	window time.Duration
	admins AdminSet
}

func NewTracker(limit int, window time.Duration, admins AdminSet) *Tracker {
	if limit < 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		limit:  limit,
		window: window,
		admins: admins,
	}
}

func (t *Tracker) Limit() int {
	return t.limit
}

func (t *Tracker) IsAdmin(userID int64) bool {
	return t.admins.Contains(userID)
}

// Admit evaluates one request of userID against its current record and
// returns the record the caller must store. On denial the returned record
// is the input after any init or reset, with the count untouched.
func (t *Tracker) Admit(userID int64, record *model.QuotaRecord, now time.Time) (model.QuotaRecord, bool) {
	current := t.refresh(record, now)

	if !t.admins.Contains(userID) && current.Count >= t.limit {
		return current, false
	}

	current.Count++
	return current, true
}

// Remaining reports how many requests userID may still make in the window
// the record belongs to. Admins get -1.
func (t *Tracker) Remaining(userID int64, record *model.QuotaRecord, now time.Time) int {
	if t.admins.Contains(userID) {
		return -1
	}
	current := t.refresh(record, now)
	if current.Count >= t.limit {
		return 0
	}
	return t.limit - current.Count
}

// ResetsAt reports when the window of the record ends.
func (t *Tracker) ResetsAt(record *model.QuotaRecord, now time.Time) time.Time {
	current := t.refresh(record, now)
	return current.LastResetTime().Add(t.window)
}

func (t *Tracker) refresh(record *model.QuotaRecord, now time.Time) model.QuotaRecord {
	if record == nil {
		return model.NewQuotaRecord(now)
	}
	current := *record
	if now.Sub(current.LastResetTime()) >= t.window {
		current = model.NewQuotaRecord(now)
	}
	return current
}
