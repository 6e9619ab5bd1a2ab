package models

import (
	"fmt"
	"strings"
)

// ProgressKey identifies one (site-unit, rack, process) cell of the matrix.
// Build it with NewKey so every spelling of the same cell compares equal.
type ProgressKey struct {
	SiteUnit string `json:"su_key"`
	RackID   string `json:"rack_id"`
	Process  string `json:"process"`
}

// NewKey returns the canonical key for the given components.
func NewKey(siteUnit, rackID, process string) ProgressKey {
	return ProgressKey{
		SiteUnit: CanonicalSiteUnit(siteUnit),
		RackID:   NormRackID(rackID),
		Process:  Norm(process),
	}
}

// NormRackID is Norm with inner spaces removed.
func NormRackID(s string) string {
	return strings.ReplaceAll(Norm(s), " ", "")
}

// Canonical re-normalizes a key built by hand.
func (k ProgressKey) Canonical() ProgressKey {
	return NewKey(k.SiteUnit, k.RackID, k.Process)
}

// String renders the key as "su|rack|process".
func (k ProgressKey) String() string {
	return k.SiteUnit + "|" + k.RackID + "|" + k.Process
}

// IsZero reports whether any component is missing.
func (k ProgressKey) IsZero() bool {
	return k.SiteUnit == "" || k.RackID == "" || k.Process == ""
}

// ParseKey parses the String form back into a canonical key.
func ParseKey(s string) (ProgressKey, error) {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 {
		return ProgressKey{}, fmt.Errorf("parse key %q: want su|rack|process", s)
	}
	k := NewKey(parts[0], parts[1], parts[2])
	if k.IsZero() {
		return ProgressKey{}, fmt.Errorf("parse key %q: empty component", s)
	}
	return k, nil
}
