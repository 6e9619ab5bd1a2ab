// Package models defines the data structures shared by the reconciliation engine.
package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	dashReplacer = strings.NewReplacer(
		"\u00a0", " ",
		"\u2010", "-", "\u2011", "-", "\u2012", "-",
		"\u2013", "-", "\u2014", "-", "\u2212", "-",
	)
	spacedDash   = regexp.MustCompile(`\s*-\s*`)
	whitespace   = regexp.MustCompile(`\s+`)
	digitRun     = regexp.MustCompile(`\d+`)
	numericUnit  = regexp.MustCompile(`^(SU)?\s*-?\s*\d+$`)
	cellUnit     = regexp.MustCompile(`^LU\d+_ROW\d+_`)
	suSuffix     = regexp.MustCompile(`(?i)-SU\d+$`)
	shortRackRe  = regexp.MustCompile(`^[A-Z0-9]{3,6}$`)
	embeddedUnit = regexp.MustCompile(`(?i)(\bSU\s*\d+\b|[-_]\s*SU\s*\d+)`)
)

// Norm canonicalizes a free-text label: NBSP and unicode dashes are folded,
// spaces around dashes dropped, whitespace collapsed, and the result upper-cased.
func Norm(s string) string {
	s = dashReplacer.Replace(s)
	s = spacedDash.ReplaceAllString(s, "-")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.ToUpper(strings.TrimSpace(s))
}

// SiteUnitNumber returns the first digit run of s without leading zeros,
// or "" when s contains no digits.
func SiteUnitNumber(s string) string {
	m := digitRun.FindString(s)
	if m == "" {
		return ""
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return m
	}
	return strconv.Itoa(n)
}

// CanonicalSiteUnit maps every spelling of a site-unit key to one form.
// "SU12", "su 12" and "12" become "12"; LU/ROW cell keys are upper-cased
// with spaces turned into underscores.
func CanonicalSiteUnit(s string) string {
	n := Norm(s)
	if n == "" {
		return ""
	}
	if numericUnit.MatchString(n) {
		return SiteUnitNumber(n)
	}
	underscored := strings.ReplaceAll(n, " ", "_")
	if cellUnit.MatchString(underscored) {
		return underscored
	}
	return n
}

// IsNumericUnit reports whether a canonical site-unit key is a numbered SU.
func IsNumericUnit(unit string) bool {
	_, err := strconv.Atoi(unit)
	return err == nil
}

// CellKey builds the LU/ROW cell site-unit key, e.g. LU1_ROW12_SIS_T1.
// Returns "" when any component is missing.
func CellKey(lu, row, rackType string) string {
	luNum := SiteUnitNumber(lu)
	rowNum := SiteUnitNumber(row)
	t := strings.ReplaceAll(Norm(rackType), " ", "_")
	if luNum == "" || rowNum == "" || t == "" {
		return ""
	}
	return fmt.Sprintf("LU%s_ROW%s_%s", luNum, rowNum, t)
}

// RackNameForBackend reduces a UI rack id to the bare name the backend keys
// runs by: "@..." and " • TYPE" decorations and a trailing "-SU<n>" are
// stripped and inner spaces removed.
func RackNameForBackend(rackID string) string {
	s := rackID
	if i := strings.Index(s, "@"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, "•"); i >= 0 {
		s = s[:i]
	}
	s = suSuffix.ReplaceAllString(strings.TrimSpace(s), "")
	return strings.ReplaceAll(s, " ", "")
}

// UnitRackID turns a short backend rack code (3 to 6 alphanumerics) into the
// UI id for a numbered site-unit ("LAC", "12" -> "LAC-SU12"). Identifiers
// that already carry a unit, or that are not short codes, are returned
// normalized but otherwise unchanged.
func UnitRackID(ident, unit string) string {
	id := Norm(ident)
	if embeddedUnit.MatchString(id) {
		return strings.ReplaceAll(id, " ", "")
	}
	if IsNumericUnit(unit) && shortRackRe.MatchString(id) {
		return id + "-SU" + unit
	}
	return id
}
