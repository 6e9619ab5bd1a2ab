// Package runindex caches which backend run each matrix cell belongs to.
package runindex

import (
	"sort"
	"sync"

	"github.com/raphaelgruber/rackpatch/internal/models"
)

// Entry pairs a key with its run.
type Entry struct {
	Key models.ProgressKey
	Run models.RunIdentity
}

// Index maps canonical keys to run identities.
// All methods are thread-safe.
type Index struct {
	mu   sync.RWMutex
	runs map[models.ProgressKey]models.RunIdentity
}

// New creates an empty index.
func New() *Index {
	return &Index{runs: make(map[models.ProgressKey]models.RunIdentity)}
}

// Put records the run for a key. Identities without a run id are ignored.
func (x *Index) Put(key models.ProgressKey, run models.RunIdentity) {
	if !run.Valid() {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.runs[key.Canonical()] = run
}

// Get returns the run for a key, normalizing it first.
func (x *Index) Get(key models.ProgressKey) (models.RunIdentity, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	run, ok := x.runs[key.Canonical()]
	return run, ok
}

// Scan returns every entry of a site-unit and process, sorted by rack id.
func (x *Index) Scan(unit, process string) []Entry {
	probe := models.NewKey(unit, "-", process)
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []Entry
	for k, run := range x.runs {
		if k.SiteUnit == probe.SiteUnit && k.Process == probe.Process {
			out = append(out, Entry{Key: k, Run: run})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.RackID < out[j].Key.RackID })
	return out
}

// Len returns the number of indexed keys.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.runs)
}
