// Package history keeps the bounded event log the metrics engine derives rates,
// durations and API performance from.
package history

import (
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/r-heap47/eipmon/internal/models"
)

// DefaultAPIHistorySize is the number of latency samples kept per operation
const DefaultAPIHistorySize = 100

// Event - trend event (EIP change, CPIC transition or recovery)
type Event struct {
	Kind     models.EventKind
	At       time.Time
	Resource string
}

// APISample - single measured external call
type APISample struct {
	At      time.Time
	Seconds float64
	Status  models.CallStatus
}

// Success reports whether the call succeeded
func (s APISample) Success() bool {
	return s.Status == models.CallSuccess
}

type resourceState struct {
	status models.CPICStatus
	since  time.Time // zero when the transition time is unknown
}

// Config - history store config
type Config struct {
	// APIHistorySize caps the per-operation sample ring. Defaults to 100.
	APIHistorySize int
}

// Store - thread-safe bounded event log.
// Trend events are bounded by age via PruneOlderThan, API samples by count.
type Store struct {
	mu *sync.RWMutex

	events  []Event
	samples map[string]*ring
	totals  map[string]map[models.CallStatus]uint64
	states  map[string]resourceState

	apiHistorySize int
}

// New returns new history store
func New(cfg Config) *Store {
	size := cfg.APIHistorySize
	if size <= 0 {
		size = DefaultAPIHistorySize
	}

	return &Store{
		mu:             &sync.RWMutex{},
		samples:        make(map[string]*ring),
		totals:         make(map[string]map[models.CallStatus]uint64),
		states:         make(map[string]resourceState),
		apiHistorySize: size,
	}
}

// RecordTransition registers a status change of a CPIC. Leaving Error for any
// other status is additionally recorded as a recovery.
func (s *Store) RecordTransition(name string, from, to models.CPICStatus, at time.Time) {
	if from == to {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, Event{Kind: models.EventCPICTransition, At: at, Resource: name})
	if from == models.CPICError {
		s.events = append(s.events, Event{Kind: models.EventCPICRecovery, At: at, Resource: name})
	}

	s.states[name] = resourceState{status: to, since: at}
}

// Seed remembers the status of a resource seen for the first time without
// producing events. at may be zero when no transition time is known.
// Already tracked resources are left untouched.
func (s *Store) Seed(name string, status models.CPICStatus, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[name]; ok {
		return
	}

	s.states[name] = resourceState{status: status, since: at}
}

// LastStatus returns the last known status of a resource
func (s *Store) LastStatus(name string) (models.CPICStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[name]

	return st.status, ok
}

// Forget drops per-resource state of every resource not present in keep
func (s *Store) Forget(keep map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range s.states {
		if _, ok := keep[name]; !ok {
			delete(s.states, name)
		}
	}
}

// RecordChange appends a generic trend event, used for EIP assignments and unassignments
func (s *Store) RecordChange(kind models.EventKind, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, Event{Kind: kind, At: at})
}

// RecordAPICall appends a latency sample to the operation's ring, evicting the
// oldest one on overflow, and bumps the lifetime call counter.
func (s *Store) RecordAPICall(op string, seconds float64, status models.CallStatus, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.samples[op]
	if !ok {
		r = newRing(s.apiHistorySize)
		s.samples[op] = r
	}
	r.push(APISample{At: at, Seconds: seconds, Status: status})

	byStatus, ok := s.totals[op]
	if !ok {
		byStatus = make(map[models.CallStatus]uint64)
		s.totals[op] = byStatus
	}
	byStatus[status]++
}

// PruneOlderThan removes trend events older than window relative to now
func (s *Store) PruneOlderThan(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	for _, e := range s.events {
		if !e.At.Before(cutoff) {
			kept = append(kept, e)
		}
	}

	pruned := len(s.events) - len(kept)
	// zero the tail so pruned events can be collected
	for i := len(kept); i < len(s.events); i++ {
		s.events[i] = Event{}
	}
	s.events = kept

	return pruned
}

// CountInWindow returns the number of events of kind within the trailing window
func (s *Store) CountInWindow(kind models.EventKind, window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.events {
		if e.Kind == kind && !e.At.Before(cutoff) && !e.At.After(now) {
			n++
		}
	}

	return n
}

// RatePerMinute returns the number of events of kind within the trailing window
// divided by the window length in minutes. No events yields 0.
func (s *Store) RatePerMinute(kind models.EventKind, window time.Duration, now time.Time) float64 {
	if window <= 0 {
		return 0
	}

	n := s.CountInWindow(kind, window, now)
	if n == 0 {
		return 0
	}

	return float64(n) / window.Minutes()
}

// DurationInState returns how long the resource has been in status. Resources
// whose transition into status was never observed report 0.
func (s *Store) DurationInState(name string, status models.CPICStatus, now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[name]
	if !ok || st.status != status || st.since.IsZero() {
		return 0
	}

	if d := now.Sub(st.since); d > 0 {
		return d
	}

	return 0
}

// APISamples returns retained samples of op, oldest first
func (s *Store) APISamples(op string) []APISample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.samples[op]
	if !ok {
		return nil
	}

	return r.items()
}

// APICallTotals returns a copy of lifetime call counters by operation and outcome
func (s *Store) APICallTotals() map[string]map[models.CallStatus]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[models.CallStatus]uint64, len(s.totals))
	for op, byStatus := range s.totals {
		cp := make(map[models.CallStatus]uint64, len(byStatus))
		for st, n := range byStatus {
			cp[st] = n
		}
		out[op] = cp
	}

	return out
}

// Operations returns names of every instrumented operation, sorted
func (s *Store) Operations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ops := make([]string, 0, len(s.totals))
	for op := range s.totals {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	return ops
}

// Len returns the number of retained trend events
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.events)
}

// Mark - restore point of trend events and per-resource state
type Mark struct {
	events int
	states map[string]resourceState
}

// Mark returns a restore point for Rollback. API samples and call totals are not covered.
func (s *Store) Mark() Mark {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Mark{events: len(s.events), states: maps.Clone(s.states)}
}

// Rollback drops trend events recorded after m and restores per-resource state.
// Events must not be pruned between Mark and Rollback.
func (s *Store) Rollback(m Mark) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.events < len(s.events) {
		clear(s.events[m.events:])
		s.events = s.events[:m.events]
	}

	s.states = maps.Clone(m.states)
	if s.states == nil {
		s.states = make(map[string]resourceState)
	}
}
