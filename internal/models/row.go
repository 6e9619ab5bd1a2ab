package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrMalformedRow marks a backend row that cannot be normalized.
var ErrMalformedRow = errors.New("malformed row")

// RawRow is a backend row as decoded from JSON, before normalization.
type RawRow map[string]any

// Row is the canonical form of a backend run row.
type Row struct {
	RunID       int64  `json:"rack_process_run_id" validate:"gt=0"`
	SiteUnit    string `json:"su_key,omitempty"`
	LU          string `json:"lu,omitempty"`
	RackRow     string `json:"rack_row,omitempty"`
	RackID      string `json:"rack_id,omitempty" validate:"required_without=RackName"`
	RackName    string `json:"rack_name,omitempty"`
	RackType    string `json:"rack_type,omitempty"`
	ProcessName string `json:"process_name" validate:"required"`
	ProcessID   int64  `json:"process_id,omitempty"`
	StatusLabel string `json:"status_name,omitempty"`
	StatusID    int64  `json:"status_id,omitempty"`
	Note        string `json:"note,omitempty"`
	Responsible string `json:"responsible,omitempty"`
}

// RackIdent returns the most specific rack identifier the row carries.
func (r Row) RackIdent() string {
	if r.RackID != "" {
		return r.RackID
	}
	return r.RackName
}

// Run extracts the run identity carried by the row.
func (r Row) Run() RunIdentity {
	name := r.RackName
	if name == "" {
		name = RackNameForBackend(r.RackID)
	}
	return RunIdentity{
		RunID:       r.RunID,
		ProcessID:   r.ProcessID,
		SiteUnit:    CanonicalSiteUnit(r.SiteUnit),
		RackName:    name,
		ProcessName: r.ProcessName,
	}
}

var (
	runIDFields       = []string{"rack_process_run_id", "run_id", "id"}
	siteUnitFields    = []string{"su_key", "su", "suKey", "su_id", "su_number"}
	luFields          = []string{"lu", "LU", "lu_key", "luKey"}
	rackRowFields     = []string{"rack_row", "row", "rackRow"}
	rackIDFields      = []string{"rack_id", "rackId", "rack"}
	rackNameFields    = []string{"rack_name", "rackName"}
	rackTypeFields    = []string{"rack_type", "rackType", "type"}
	processFields     = []string{"process_name", "process", "processName"}
	processIDFields   = []string{"process_id", "processId"}
	statusFields      = []string{"status_name", "status", "statusName", "current_status_name", "current_status"}
	statusIDFields    = []string{"status_id", "statusId"}
	noteFields        = []string{"note", "notes", "comment"}
	responsibleFields = []string{"responsible", "responsible_name", "responsible_employee"}

	nestedFields = []string{"rack", "rack_info", "rackInfo", "run", "process", "status", "current_status", "currentStatus"}
)

var rowValidate = validator.New()

// NormalizeRow maps the backend's field-name variants onto a canonical Row.
// Rows without a run id, a process name, or any rack identifier are
// rejected with ErrMalformedRow.
func NormalizeRow(raw RawRow) (Row, error) {
	if raw == nil {
		return Row{}, fmt.Errorf("%w: empty row", ErrMalformedRow)
	}

	row := Row{
		RunID:       raw.int64Top(runIDFields),
		SiteUnit:    raw.str(siteUnitFields),
		LU:          raw.str(luFields),
		RackRow:     raw.str(rackRowFields),
		RackID:      raw.str(rackIDFields),
		RackName:    raw.str(rackNameFields),
		RackType:    raw.str(rackTypeFields),
		ProcessName: raw.str(processFields),
		ProcessID:   raw.int64(processIDFields),
		StatusLabel: raw.str(statusFields),
		StatusID:    raw.int64(statusIDFields),
		Note:        raw.str(noteFields),
		Responsible: raw.str(responsibleFields),
	}

	if err := rowValidate.Struct(row); err != nil {
		return Row{}, fmt.Errorf("%w: %v", ErrMalformedRow, err)
	}
	return row, nil
}

// lookup returns the first non-empty scalar under any of keys, searching the
// top level first and then one level of common nesting.
func (r RawRow) lookup(keys []string, nested bool) (any, bool) {
	for _, k := range keys {
		if v, ok := scalar(r[k]); ok {
			return v, true
		}
	}
	if !nested {
		return nil, false
	}
	for _, n := range nestedFields {
		m, ok := r[n].(map[string]any)
		if !ok {
			continue
		}
		for _, k := range keys {
			if v, ok := scalar(m[k]); ok {
				return v, true
			}
		}
	}
	return nil, false
}

func (r RawRow) str(keys []string) string {
	v, ok := r.lookup(keys, true)
	if !ok {
		return ""
	}
	return asString(v)
}

func (r RawRow) int64(keys []string) int64 {
	v, ok := r.lookup(keys, true)
	if !ok {
		return 0
	}
	return asInt64(v)
}

func (r RawRow) int64Top(keys []string) int64 {
	v, ok := r.lookup(keys, false)
	if !ok {
		return 0
	}
	return asInt64(v)
}

func scalar(v any) (any, bool) {
	switch x := v.(type) {
	case nil, map[string]any, []any:
		return nil, false
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, false
		}
	}
	return v, true
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func asInt64(v any) int64 {
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0
		}
		return n
	case float64:
		return int64(x)
	case int:
		return int64(x)
	case int64:
		return x
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Text returns the first non-empty top-level value under keys as a string.
func (r RawRow) Text(keys ...string) string {
	v, ok := r.lookup(keys, false)
	if !ok {
		return ""
	}
	return asString(v)
}

// Number returns the first non-empty top-level value under keys as an int64.
func (r RawRow) Number(keys ...string) int64 {
	return r.int64Top(keys)
}
