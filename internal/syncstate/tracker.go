// Package syncstate tracks whether a sync is in flight, idle or failed so a UI
// can show feedback. It never gates or serializes any operation.
package syncstate

import (
	"sync"
	"time"
)

// Status is the tracker's coarse state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
)

// State is a point-in-time copy of the tracker.
type State struct {
	Status            Status     `json:"status"`
	LastSynced        *time.Time `json:"lastSynced"`
	PendingOperations int        `json:"pendingOperations"`
	Error             *string    `json:"error"`
}

// Tracker is the process-wide sync state machine: idle → syncing → {idle, error}.
type Tracker struct {
	mu     sync.Mutex
	state  State
	subs   map[int]chan State
	nextID int
	now    func() time.Time
}

// NewTracker returns a tracker in the idle state.
func NewTracker() *Tracker {
	return &Tracker{
		state: State{Status: StatusIdle},
		subs:  make(map[int]chan State),
		now:   time.Now,
	}
}

// RecordSyncStart moves to syncing and clears any previous error.
func (t *Tracker) RecordSyncStart() {
	t.update(func(s *State) {
		s.Status = StatusSyncing
		s.Error = nil
	})
}

// RecordSyncSuccess moves to idle and stamps lastSynced with ts, or now when ts is zero.
func (t *Tracker) RecordSyncSuccess(ts time.Time) {
	t.update(func(s *State) {
		if ts.IsZero() {
			ts = t.now()
		}
		ts = ts.UTC()
		s.Status = StatusIdle
		s.LastSynced = &ts
		s.Error = nil
	})
}

// RecordSyncError moves to error. lastSynced is kept.
func (t *Tracker) RecordSyncError(message string) {
	t.update(func(s *State) {
		s.Status = StatusError
		s.Error = &message
	})
}

func (t *Tracker) IncrementPending() {
	t.update(func(s *State) { s.PendingOperations++ })
}

// DecrementPending is floored at zero.
func (t *Tracker) DecrementPending() {
	t.update(func(s *State) {
		if s.PendingOperations > 0 {
			s.PendingOperations--
		}
	})
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyLocked()
}

// Subscribe returns a channel that receives the latest state after every change,
// and a function that unsubscribes. A slow reader only ever misses intermediate states.
func (t *Tracker) Subscribe() (<-chan State, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan State, 1)
	t.subs[id] = ch

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	}
}

func (t *Tracker) update(fn func(*State)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fn(&t.state)
	snap := t.copyLocked()
	for _, ch := range t.subs {
		// Drop the stale value so the channel always holds the latest state.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (t *Tracker) copyLocked() State {
	cp := t.state
	if t.state.LastSynced != nil {
		ts := *t.state.LastSynced
		cp.LastSynced = &ts
	}
	if t.state.Error != nil {
		msg := *t.state.Error
		cp.Error = &msg
	}
	return cp
}
