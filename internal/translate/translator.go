package translate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/rackpatch/internal/models"
	"github.com/raphaelgruber/rackpatch/internal/templates"
)

// DefaultCode is the code assumed when a label cannot be interpreted.
const DefaultCode = 1

// ErrUnresolvable is returned when a code has no backend status id.
var ErrUnresolvable = errors.New("status not resolvable")

// Translator maps between template codes and backend statuses.
type Translator struct {
	registry *templates.Registry
	catalog  *Catalog
}

// New creates a translator.
func New(registry *templates.Registry, catalog *Catalog) *Translator {
	return &Translator{registry: registry, catalog: catalog}
}

// Catalog returns the backing status catalog.
func (t *Translator) Catalog() *Catalog {
	return t.catalog
}

// LabelToCode interprets a backend status label for a process.
//
// An exact normalized label match wins. Otherwise the label is read by
// category: anything mentioning QC maps to the highest QC code (or the
// highest non-blocked DONE code), DONE maps to the highest non-blocked DONE
// code, and PROGRESS to the lowest PROGRESS code. Anything else, and any
// label of an unknown process, yields DefaultCode.
func (t *Translator) LabelToCode(process, label string) int {
	tmpl, ok := t.registry.Template(process)
	want := models.Norm(label)
	if !ok || want == "" {
		return DefaultCode
	}

	entries := tmpl.Entries()
	for _, e := range entries {
		if models.Norm(e.Label) == want {
			return e.Code
		}
	}

	highest := func(keep func(code int, label string) bool) int {
		for i := len(entries) - 1; i >= 0; i-- {
			if keep(entries[i].Code, models.Norm(entries[i].Label)) {
				return entries[i].Code
			}
		}
		return 0
	}
	doneNotBlocked := func(code int, l string) bool {
		return strings.Contains(l, "DONE") && !tmpl.IsBlocked(code) && !strings.Contains(l, "BLOCK")
	}

	if strings.Contains(want, "QC") {
		if code := highest(func(_ int, l string) bool { return strings.Contains(l, "QC") }); code > 0 {
			return code
		}
		if code := highest(doneNotBlocked); code > 0 {
			return code
		}
	}
	if strings.Contains(want, "DONE") {
		if code := highest(doneNotBlocked); code > 0 {
			return code
		}
	}
	if strings.Contains(want, "PROGRESS") {
		for _, e := range entries {
			if strings.Contains(models.Norm(e.Label), "PROGRESS") {
				return e.Code
			}
		}
	}
	return DefaultCode
}

// RowCode reads the code a backend row reports, using the status id when
// the row carries no label.
func (t *Translator) RowCode(process string, row models.Row) int {
	label := row.StatusLabel
	if label == "" && row.StatusID > 0 {
		label, _ = t.catalog.Label(row.StatusID)
	}
	return t.LabelToCode(process, label)
}

// CodeToStatusID resolves the backend status id for a code of a process.
// It never guesses: a missing label, process id, or catalog entry is
// reported as ErrUnresolvable.
func (t *Translator) CodeToStatusID(process string, code int, processID int64) (int64, error) {
	tmpl, ok := t.registry.Template(process)
	if !ok {
		return 0, fmt.Errorf("%w: unknown process %q", ErrUnresolvable, process)
	}
	label, ok := tmpl.Label(code)
	if !ok {
		return 0, fmt.Errorf("%w: %q has no code %d", ErrUnresolvable, process, code)
	}
	if processID <= 0 {
		return 0, fmt.Errorf("%w: no backend id for process %q", ErrUnresolvable, process)
	}
	id, ok := t.catalog.StatusID(processID, label)
	if !ok {
		return 0, fmt.Errorf("%w: process %d has no status %q", ErrUnresolvable, processID, label)
	}
	return id, nil
}

// ProcessID returns the backend id for a process, preferring the catalog
// and falling back to the id a row reported.
func (t *Translator) ProcessID(process string, reported int64) int64 {
	if id, ok := t.catalog.ProcessID(process); ok {
		return id
	}
	return reported
}
