// Package topology describes the static rack layout: which racks exist in
// which site-unit, their types, aliases, and the processes each type runs.
package topology

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/raphaelgruber/rackpatch/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// GenericGPUType is the rack type every numbered site-unit carries a slot for.
const GenericGPUType = "GPU"

// Rack is one physical rack position.
type Rack struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	Type      string   `yaml:"type" json:"type"`
	Aliases   []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Processes []string `yaml:"-" json:"processes"`
}

// MatchesID reports whether ident equals the rack's id or name.
func (r Rack) MatchesID(ident string) bool {
	n := models.NormRackID(ident)
	return n != "" && (models.NormRackID(r.ID) == n || models.NormRackID(r.Name) == n)
}

// MatchesAlias reports whether ident equals one of the rack's aliases.
func (r Rack) MatchesAlias(ident string) bool {
	n := models.NormRackID(ident)
	if n == "" {
		return false
	}
	for _, a := range r.Aliases {
		if models.NormRackID(a) == n {
			return true
		}
	}
	return false
}

// Eligible reports whether the rack's type runs process.
func (r Rack) Eligible(process string) bool {
	p := models.Norm(process)
	for _, rp := range r.Processes {
		if models.Norm(rp) == p {
			return true
		}
	}
	return false
}

// SiteUnitDef declares a numbered site-unit. A master rack expands into the
// ROCE T1 rack <MASTER>-SU<key> plus the generic GPU-SU<key> slot.
type SiteUnitDef struct {
	Key     string   `yaml:"key"`
	Master  string   `yaml:"master,omitempty"`
	Aliases []string `yaml:"aliases,omitempty"`
	Racks   []Rack   `yaml:"racks,omitempty"`
}

// File is the on-disk topology format.
type File struct {
	ProcessesByType map[string][]string `yaml:"processes_by_type"`
	SiteUnits       []SiteUnitDef       `yaml:"site_units"`
	Cells           map[string][]Rack   `yaml:"cells"`
}

// Topology is the read-only rack layout.
type Topology struct {
	units           map[string][]Rack
	order           []string
	processesByType map[string][]string
	typesByProcess  map[string][]string
}

// New builds a topology from its file form.
func New(f File) (*Topology, error) {
	t := &Topology{
		units:           make(map[string][]Rack),
		processesByType: make(map[string][]string, len(f.ProcessesByType)),
		typesByProcess:  make(map[string][]string),
	}

	for rackType, procs := range f.ProcessesByType {
		tk := models.Norm(rackType)
		t.processesByType[tk] = slices.Clone(procs)
		for _, p := range procs {
			pk := models.Norm(p)
			t.typesByProcess[pk] = append(t.typesByProcess[pk], rackType)
		}
	}
	for _, types := range t.typesByProcess {
		sort.Strings(types)
	}

	for _, su := range f.SiteUnits {
		unit := models.CanonicalSiteUnit(su.Key)
		if unit == "" {
			return nil, fmt.Errorf("site-unit with empty key")
		}
		var racks []Rack
		if su.Master != "" {
			racks = append(racks,
				Rack{ID: su.Master + "-SU" + unit, Name: su.Master, Type: "ROCE T1", Aliases: su.Aliases},
				Rack{ID: GenericGPUType + "-SU" + unit, Name: GenericGPUType, Type: GenericGPUType},
			)
		}
		racks = append(racks, su.Racks...)
		if err := t.addUnit(unit, racks); err != nil {
			return nil, err
		}
	}

	cellKeys := make([]string, 0, len(f.Cells))
	for key := range f.Cells {
		cellKeys = append(cellKeys, key)
	}
	sort.Strings(cellKeys)
	for _, key := range cellKeys {
		if err := t.addUnit(models.CanonicalSiteUnit(key), f.Cells[key]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Topology) addUnit(unit string, racks []Rack) error {
	if _, dup := t.units[unit]; dup {
		return fmt.Errorf("site-unit %q declared twice", unit)
	}
	out := make([]Rack, 0, len(racks))
	for _, r := range racks {
		if r.ID == "" {
			return fmt.Errorf("site-unit %q: rack without id", unit)
		}
		if r.Name == "" {
			r.Name = r.ID
		}
		r.Processes = slices.Clone(t.processesByType[models.Norm(r.Type)])
		out = append(out, r)
	}
	t.units[unit] = out
	t.order = append(t.order, unit)
	return nil
}

// Parse builds a topology from YAML.
func Parse(data []byte) (*Topology, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	return New(f)
}

// Load reads a topology from a YAML file.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in layout.
func Default() *Topology {
	t, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in topology: %v", err))
	}
	return t
}

// Units returns every site-unit key, numbered units first in numeric order.
func (t *Topology) Units() []string {
	units := slices.Clone(t.order)
	sort.SliceStable(units, func(i, j int) bool {
		ni, ei := strconv.Atoi(units[i])
		nj, ej := strconv.Atoi(units[j])
		switch {
		case ei == nil && ej == nil:
			return ni < nj
		case ei == nil:
			return true
		case ej == nil:
			return false
		default:
			return units[i] < units[j]
		}
	})
	return units
}

// Racks returns the racks of a site-unit.
func (t *Topology) Racks(unit string) ([]Rack, bool) {
	racks, ok := t.units[models.CanonicalSiteUnit(unit)]
	return racks, ok
}

// Rack finds a rack in a site-unit by id, name, or alias.
func (t *Topology) Rack(unit, ident string) (Rack, bool) {
	racks, ok := t.Racks(unit)
	if !ok {
		return Rack{}, false
	}
	for _, r := range racks {
		if r.MatchesID(ident) {
			return r, true
		}
	}
	for _, r := range racks {
		if r.MatchesAlias(ident) {
			return r, true
		}
	}
	return Rack{}, false
}

// UnitsWithPrefix returns the site-units whose key starts with prefix.
// Cell keys built from a row's LU/row/type omit rail suffixes, so rows are
// matched by prefix.
func (t *Topology) UnitsWithPrefix(prefix string) []string {
	p := models.CanonicalSiteUnit(prefix)
	if p == "" {
		return nil
	}
	var out []string
	for _, u := range t.Units() {
		if u == p || strings.HasPrefix(u, p+"_") {
			out = append(out, u)
		}
	}
	return out
}

// CellUnitsForRack returns the non-numbered site-units containing a rack
// with the given id, name, or alias.
func (t *Topology) CellUnitsForRack(ident string) []string {
	var out []string
	for _, u := range t.Units() {
		if models.IsNumericUnit(u) {
			continue
		}
		for _, r := range t.units[u] {
			if r.MatchesID(ident) || r.MatchesAlias(ident) {
				out = append(out, u)
				break
			}
		}
	}
	return out
}

// ProcessesForType returns the processes a rack type runs.
func (t *Topology) ProcessesForType(rackType string) []string {
	return slices.Clone(t.processesByType[models.Norm(rackType)])
}

// TypesForProcess returns the rack types that run process.
func (t *Topology) TypesForProcess(process string) []string {
	return slices.Clone(t.typesByProcess[models.Norm(process)])
}

// IsType reports whether s names a known rack type.
func (t *Topology) IsType(s string) bool {
	_, ok := t.processesByType[models.Norm(s)]
	return ok
}
