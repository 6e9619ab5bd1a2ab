package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// RunIdentity is the backend's handle for one rack/process run.
type RunIdentity struct {
	RunID       int64  `json:"rack_process_run_id"`
	ProcessID   int64  `json:"process_id,omitempty"`
	SiteUnit    string `json:"su_key,omitempty"`
	RackName    string `json:"rack_name,omitempty"`
	ProcessName string `json:"process_name,omitempty"`
}

// Valid reports whether the identity points at a backend run.
func (r RunIdentity) Valid() bool {
	return r.RunID > 0
}

// Process is a backend process definition.
type Process struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
}

// ProcessStatus is one allowed status of a backend process.
type ProcessStatus struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// StatusUpdate is the body of an update for a known run.
type StatusUpdate struct {
	RunID       int64  `json:"rack_process_run_id" validate:"gt=0"`
	StatusID    int64  `json:"status_id" validate:"gt=0"`
	Note        string `json:"note"`
	Responsible string `json:"responsible,omitempty"`
}

// UpsertRequest creates or updates a run addressed by its natural key.
type UpsertRequest struct {
	SiteUnit    int64  `json:"su_key" validate:"gt=0"`
	RackName    string `json:"rack_name" validate:"required"`
	ProcessID   int64  `json:"process_id,omitempty" validate:"required_without=ProcessName"`
	ProcessName string `json:"process_name,omitempty"`
	StatusID    int64  `json:"status_id" validate:"gt=0"`
	Note        string `json:"note"`
}

// SideValue is a persisted note or responsible-person hint for one matrix cell.
type SideValue struct {
	ID       *surrealmodels.RecordID `json:"id,omitempty"`
	Kind     string                  `json:"kind"`
	Key      string                  `json:"key"`
	Value    string                  `json:"value"`
	Modified time.Time               `json:"modified,omitempty"`
}

// LookupQuery addresses a run by the backend's natural key.
type LookupQuery struct {
	SiteUnit    string `json:"su_key" validate:"required"`
	RackName    string `json:"rack_name" validate:"required"`
	ProcessName string `json:"process_name" validate:"required"`
}
