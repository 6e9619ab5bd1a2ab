// Package identity maps loosely-identified backend rows onto concrete rack ids.
package identity

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/raphaelgruber/rackpatch/internal/models"
	"github.com/raphaelgruber/rackpatch/internal/topology"
)

// Match strategies, in the order they are tried.
const (
	MatchExact       = "exact"
	MatchAlias       = "alias"
	MatchType        = "type"
	MatchEnumeration = "enumeration"
	MatchLiteral     = "literal"
)

// Resolution is the outcome of resolving one row within one site-unit.
type Resolution struct {
	SiteUnit string   `json:"su_key"`
	Matched  []string `json:"matched"`
	Strategy string   `json:"strategy"`
	Literal  []string `json:"literal"`
}

// Candidates returns the matched ids followed by the literal baseline,
// without duplicates.
func (r Resolution) Candidates() []string {
	seen := make(map[string]bool, len(r.Matched)+len(r.Literal))
	out := make([]string, 0, len(r.Matched)+len(r.Literal))
	for _, id := range append(append([]string{}, r.Matched...), r.Literal...) {
		k := models.NormRackID(id)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, id)
	}
	return out
}

// Resolver turns row identifiers into candidate rack ids.
type Resolver struct {
	topo   *topology.Topology
	enum   Enumerator
	logger *slog.Logger
}

// New creates a resolver. enum may be nil.
func New(topo *topology.Topology, enum Enumerator, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{topo: topo, enum: enum, logger: logger}
}

// Topology returns the static layout the resolver works against.
func (r *Resolver) Topology() *topology.Topology {
	return r.topo
}

// SiteUnits derives the site-units a row belongs to. Numbered rows map to
// their unit; otherwise the LU/ROW/type cell key is used, and failing that
// every cell containing the row's rack.
func (r *Resolver) SiteUnits(row models.Row) []string {
	if row.SiteUnit != "" {
		return []string{models.CanonicalSiteUnit(row.SiteUnit)}
	}

	if key := models.CellKey(row.LU, row.RackRow, row.RackType); key != "" {
		if units := r.topo.UnitsWithPrefix(key); len(units) > 0 {
			return units
		}
		return []string{key}
	}

	var units []string
	for _, ident := range []string{row.RackID, row.RackName} {
		if ident == "" {
			continue
		}
		for _, u := range r.topo.CellUnitsForRack(ident) {
			if !slices.Contains(units, u) {
				units = append(units, u)
			}
		}
	}
	return units
}

// Resolve returns the candidate rack ids for row within unit.
func (r *Resolver) Resolve(unit string, row models.Row) Resolution {
	unit = models.CanonicalSiteUnit(unit)
	res := Resolution{SiteUnit: unit, Literal: literals(unit, row)}

	idents := identifiers(row)
	wantType := row.RackType
	if wantType == "" && r.topo.IsType(row.RackIdent()) {
		wantType = row.RackIdent()
	}

	racks, known := r.topo.Racks(unit)
	if known {
		if ids := collect(racks, func(rk topology.Rack) bool { return anyMatch(idents, rk.MatchesID) }); len(ids) > 0 {
			res.Matched, res.Strategy = ids, MatchExact
			return res
		}
		if ids := collect(racks, func(rk topology.Rack) bool { return anyMatch(idents, rk.MatchesAlias) }); len(ids) > 0 {
			res.Matched, res.Strategy = ids, MatchAlias
			return res
		}
		if wantType != "" {
			want := models.Norm(wantType)
			if ids := collect(racks, func(rk topology.Rack) bool { return models.Norm(rk.Type) == want }); len(ids) > 0 {
				res.Matched, res.Strategy = ids, MatchType
				return res
			}
		}
	} else if r.enum != nil {
		if ids := r.enumerate(unit, wantType, row.RackIdent()); len(ids) > 0 {
			res.Matched, res.Strategy = ids, MatchEnumeration
			return res
		}
	}

	res.Strategy = MatchLiteral
	r.logger.Debug("rack resolved by literal id only", "su", unit, "rack", row.RackIdent())
	return res
}

// enumerate filters the live options for unit by type or name substring and
// falls back to every option when the filter removes them all.
func (r *Resolver) enumerate(unit, wantType, wantName string) []string {
	opts := r.enum.Options(unit)
	if len(opts) == 0 {
		return nil
	}

	t, n := models.Norm(wantType), models.Norm(wantName)
	var filtered, all []string
	for _, o := range opts {
		if o.Value == "" {
			continue
		}
		all = append(all, o.Value)
		hay := models.Norm(o.Value + " " + o.Label)
		if (t != "" && strings.Contains(hay, t)) || (n != "" && strings.Contains(hay, n)) {
			filtered = append(filtered, o.Value)
		}
	}
	if len(filtered) > 0 {
		return filtered
	}
	return all
}

func identifiers(row models.Row) []string {
	var out []string
	for _, s := range []string{row.RackID, row.RackName} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// literals is the baseline: the row's own identifier, plus the UI form for
// short backend codes in numbered units.
func literals(unit string, row models.Row) []string {
	ident := row.RackIdent()
	if ident == "" {
		return nil
	}
	out := []string{models.Norm(ident)}
	if ui := models.UnitRackID(ident, unit); ui != out[0] {
		out = append(out, ui)
	}
	return out
}

func collect(racks []topology.Rack, keep func(topology.Rack) bool) []string {
	var ids []string
	for _, rk := range racks {
		if keep(rk) {
			ids = append(ids, rk.ID)
		}
	}
	return ids
}

func anyMatch(idents []string, match func(string) bool) bool {
	for _, id := range idents {
		if match(id) {
			return true
		}
	}
	return false
}
