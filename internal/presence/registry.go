// Package presence is the single source of truth for "is this user
// reachable right now". The live answer comes from counting a user's open
// sessions in memory; the last-known state is persisted as a courtesy for
// cold reads, never consulted for the live answer.
package presence

import (
	"sync"
	"time"
)

// Status is the closed presence enumeration.
type Status string

const (
	Online  Status = "online"
	Away    Status = "away"
	Busy    Status = "busy"
	Offline Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case Online, Away, Busy, Offline:
		return true
	}
	return false
}

// Record is one user's presence state.
type Record struct {
	UserID        int64     `json:"user_id"`
	Status        Status    `json:"status"`
	CustomMessage string    `json:"custom_message,omitempty"`
	LastSeen      time.Time `json:"last_seen"`
}

type entry struct {
	rec      Record
	sessions int
}

// Registry tracks presence per user. A user may hold several concurrent
// sessions (multiple devices); the registry counts them and only reports
// offline once the last one is gone. Constructed once per process and
// injected where needed; there is no ambient global.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]*entry
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[int64]*entry),
		now:     time.Now,
	}
}

// SessionUp records one more live session for the user. It reports the
// resulting record and whether the user just became reachable (was offline
// or unknown), which is the caller's cue to broadcast. A reconnecting second
// device never resets an explicit away/busy status.
func (r *Registry) SessionUp(userID int64) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		e = &entry{rec: Record{UserID: userID, Status: Offline}}
		r.entries[userID] = e
	}
	e.sessions++
	e.rec.LastSeen = r.now()

	cameOnline := e.rec.Status == Offline
	if cameOnline {
		e.rec.Status = Online
	}
	return e.rec, cameOnline
}

// SessionDown records one session ending. Only when the user's last session
// disconnects does the status flip to offline; the report tells the caller
// whether that happened.
func (r *Registry) SessionDown(userID int64) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return Record{UserID: userID, Status: Offline}, false
	}
	if e.sessions > 0 {
		e.sessions--
	}
	e.rec.LastSeen = r.now()

	if e.sessions > 0 || e.rec.Status == Offline {
		return e.rec, false
	}
	e.rec.Status = Offline
	e.rec.CustomMessage = ""
	return e.rec, true
}

// SetStatus overwrites the user's status and returns the previous record so
// the caller can skip broadcasting no-op transitions.
func (r *Registry) SetStatus(userID int64, status Status, customMessage string) (prev Record, cur Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		e = &entry{rec: Record{UserID: userID, Status: Offline}}
		r.entries[userID] = e
	}
	prev = e.rec
	e.rec.Status = status
	e.rec.CustomMessage = customMessage
	e.rec.LastSeen = r.now()
	return prev, e.rec
}

// Get returns the user's current record, or a default offline record for a
// user who has never connected.
func (r *Registry) Get(userID int64) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[userID]; ok {
		return e.rec
	}
	return Record{UserID: userID, Status: Offline}
}

// Online lists every user whose status is not offline.
func (r *Registry) Online() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.entries))
	for _, e := range r.entries {
		if e.rec.Status != Offline {
			out = append(out, e.rec)
		}
	}
	return out
}

// Sessions reports the live-session count for a user, mostly for tests and
// diagnostics.
func (r *Registry) Sessions(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[userID]; ok {
		return e.sessions
	}
	return 0
}
