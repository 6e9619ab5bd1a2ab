// Package progress holds the client-side view of every matrix cell's code.
package progress

import (
	"sort"
	"sync"

	"github.com/raphaelgruber/rackpatch/internal/models"
)

// Edit is the handle of one optimistic write. Only the latest edit of a key
// may settle its visible value.
type Edit struct {
	Key  models.ProgressKey
	Code int
	Seq  uint64
}

type entry struct {
	code int
	// confirmed is the last value the backend is known to hold.
	confirmed    int
	hasConfirmed bool
	confirmedSeq uint64
	// latest is the sequence of the newest edit; open while it is unsettled.
	latest uint64
	open   bool
}

// Store maps canonical keys to codes.
// All methods are thread-safe.
type Store struct {
	mu      sync.RWMutex
	entries map[models.ProgressKey]*entry
	seq     uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[models.ProgressKey]*entry)}
}

// Get returns the visible code for a key.
func (s *Store) Get(key models.ProgressKey) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key.Canonical()]
	if !ok {
		return 0, false
	}
	return e.code, true
}

// Pending reports whether a key has an unsettled edit.
func (s *Store) Pending(key models.ProgressKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key.Canonical()]
	return ok && e.open
}

// ApplyBackend records a value read from the backend. It always refreshes
// the known-good baseline; the visible value changes only when no edit of
// the key is in flight.
func (s *Store) ApplyBackend(key models.ProgressKey, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(key.Canonical())
	e.confirmed, e.hasConfirmed = code, true
	if !e.open {
		e.code = code
	}
}

// Begin applies an optimistic value and returns its edit handle.
func (s *Store) Begin(key models.ProgressKey, code int) Edit {
	s.mu.Lock()
	defer s.mu.Unlock()
	key = key.Canonical()
	s.seq++
	e := s.entry(key)
	e.code = code
	e.latest = s.seq
	e.open = true
	return Edit{Key: key, Code: code, Seq: s.seq}
}

// Commit settles an edit with the code the backend echoed. A stale edit
// only advances the known-good baseline and reports false.
func (s *Store) Commit(edit Edit, code int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(edit.Key)
	if edit.Seq >= e.confirmedSeq {
		e.confirmed, e.hasConfirmed, e.confirmedSeq = code, true, edit.Seq
	}
	if edit.Seq != e.latest {
		if !e.open {
			e.code = e.confirmed
		}
		return false
	}
	e.code = code
	e.open = false
	return true
}

// Rollback restores the known-good value after a failed edit. Stale edits
// are ignored and report false. A key that never had a backend value is
// removed, so Get reports it as absent again.
func (s *Store) Rollback(edit Edit) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[edit.Key]
	if !ok || edit.Seq != e.latest {
		return false
	}
	e.open = false
	if !e.hasConfirmed {
		delete(s.entries, edit.Key)
		return true
	}
	e.code = e.confirmed
	return true
}

// Len returns the number of keys held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns every visible code, keyed by the key's string form.
func (s *Store) Snapshot() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.entries))
	for k, e := range s.entries {
		out[k.String()] = e.code
	}
	return out
}

// Keys returns the keys of a site-unit and process, sorted by rack id.
func (s *Store) Keys(unit, process string) []models.ProgressKey {
	probe := models.NewKey(unit, "-", process)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ProgressKey
	for k := range s.entries {
		if k.SiteUnit == probe.SiteUnit && k.Process == probe.Process {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RackID < out[j].RackID })
	return out
}

// entry returns the entry for an already canonical key, creating it.
// Caller must hold the write lock.
func (s *Store) entry(key models.ProgressKey) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}
