package identity

import (
	"slices"
	"sync"

	"github.com/raphaelgruber/rackpatch/internal/models"
)

// Option is one entry of a rendered rack selector.
type Option struct {
	Value string `json:"value" validate:"required"`
	Label string `json:"label"`
}

// Enumerator lists the rack ids currently offered for a site-unit by the
// rendering surface. It backs resolution for units the static topology
// does not know.
type Enumerator interface {
	Options(unit string) []Option
}

// OptionSet is an in-memory Enumerator fed by the renderer.
// All methods are thread-safe.
type OptionSet struct {
	mu    sync.RWMutex
	units map[string][]Option
}

// NewOptionSet creates an empty option set.
func NewOptionSet() *OptionSet {
	return &OptionSet{units: make(map[string][]Option)}
}

// Set replaces the options published for a unit.
func (s *OptionSet) Set(unit string, opts []Option) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[models.CanonicalSiteUnit(unit)] = slices.Clone(opts)
}

// Options implements Enumerator.
func (s *OptionSet) Options(unit string) []Option {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.units[models.CanonicalSiteUnit(unit)])
}
