// Package translate converts between template codes, backend status labels,
// and backend status ids.
package translate

import (
	"sync"

	"github.com/raphaelgruber/rackpatch/internal/models"
)

type statusKey struct {
	processID int64
	label     string
}

// Catalog is the backend's process and status vocabulary.
// It is filled once during bootstrap and read concurrently afterwards.
type Catalog struct {
	mu        sync.RWMutex
	processes map[string]int64
	statuses  map[statusKey]int64
	labels    map[int64]string
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		processes: make(map[string]int64),
		statuses:  make(map[statusKey]int64),
		labels:    make(map[int64]string),
	}
}

// AddProcess records a backend process description.
func (c *Catalog) AddProcess(id int64, description string) {
	if id <= 0 || description == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processes[models.Norm(description)] = id
}

// AddStatus records one allowed status of a process.
func (c *Catalog) AddStatus(processID, statusID int64, name string) {
	if processID <= 0 || statusID <= 0 || name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[statusKey{processID, models.Norm(name)}] = statusID
	c.labels[statusID] = name
}

// ProcessID returns the backend id of a process by name.
func (c *Catalog) ProcessID(name string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.processes[models.Norm(name)]
	return id, ok
}

// StatusID returns the status id for a label of a process.
func (c *Catalog) StatusID(processID int64, label string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.statuses[statusKey{processID, models.Norm(label)}]
	return id, ok
}

// Label returns the label of a status id.
func (c *Catalog) Label(statusID int64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.labels[statusID]
	return l, ok
}

// Len returns the number of processes and statuses known.
func (c *Catalog) Len() (processes, statuses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.processes), len(c.statuses)
}
