package models

import "time"

// EventType classifies a progress change.
type EventType string

const (
	// EventOptimistic is an operator edit that has not been confirmed yet.
	EventOptimistic EventType = "optimistic"
	// EventConfirmed is a value echoed by the backend.
	EventConfirmed EventType = "confirmed"
	// EventRollback restores the last known-good value after a failed write.
	EventRollback EventType = "rollback"
	// EventBootstrap marks a completed bootstrap or sync.
	EventBootstrap EventType = "bootstrap"
)

// Event describes one change to the progress matrix.
type Event struct {
	Type  EventType   `json:"type"`
	Key   ProgressKey `json:"key"`
	Code  int         `json:"code,omitempty"`
	Label string      `json:"label,omitempty"`
	Note  string      `json:"note,omitempty"`
	Error string      `json:"error,omitempty"`
	Time  time.Time   `json:"time"`
}

// Matches reports whether the event concerns the given unit and process.
// Empty filters match everything; bootstrap events always match.
func (e Event) Matches(unit, process string) bool {
	if e.Type == EventBootstrap {
		return true
	}
	if unit != "" && CanonicalSiteUnit(unit) != e.Key.SiteUnit {
		return false
	}
	if process != "" && Norm(process) != e.Key.Process {
		return false
	}
	return true
}
