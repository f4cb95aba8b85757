package biogram

import (
	"fmt"
	"strings"
	"time"

	"github.com/KaramelBytes/biogram-cli/internal/registry"
	"github.com/KaramelBytes/biogram-cli/internal/table"
)

// Sensitivity codes. Anything that is not S, I or R is stored as NotTested.
const (
	Susceptible  = "S"
	Intermediate = "I"
	Resistant    = "R"
	NotTested    = "-"
)

// Fixed fact-table column names that follow the info columns.
const (
	ColOrganism     = "organism"
	ColGenus        = "genus"
	ColSpecies      = "species"
	ColOrganismName = "organism_name"
	ColDrug         = "drug"
	ColDrugGroup    = "drugGroup"
	ColSensitivity  = "sensitivity"
)

var fixedColumns = []string{ColOrganism, ColGenus, ColSpecies, ColOrganismName, ColDrug, ColDrugGroup, ColSensitivity}

// ColAddedAt is the load timestamp the warehouse appends to stored facts. Info columns may not use it.
const ColAddedAt = "added_at"

// NormalizeSensitivity maps a raw cell to S, I, R or NotTested.
func NormalizeSensitivity(v string) string {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case Susceptible:
		return Susceptible
	case Intermediate:
		return Intermediate
	case Resistant:
		return Resistant
	}
	return NotTested
}

// Fact is one (isolate, drug) observation.
type Fact struct {
	// Info holds values aligned with FactTable.InfoColumns. Facts of the same isolate share it.
	Info        []string
	Organism    registry.ResolvedOrganism
	Date        time.Time
	HasDate     bool
	Drug        string
	DrugGroup   string
	Sensitivity string
}

// Tested reports whether the fact carries an S, I or R result.
func (f *Fact) Tested() bool { return f.Sensitivity != NotTested }

// FactTable is the long-format output of Flatten.
type FactTable struct {
	// InfoColumns are the aliases of kept non-organism, non-drug columns in profile order.
	InfoColumns []string
	// OrganismAlias is the profile alias of the organism column; it resolves like "organism".
	OrganismAlias string
	// DateColumn is the alias of the date column, empty when none is configured.
	DateColumn string
	// DedupKeys is the isolate identity used during flattening (organism_name is implied).
	DedupKeys []string
	// Drugs are the drug column aliases in profile order.
	Drugs []string
	Facts []Fact
	// Isolates is the number of records that survived deduplication.
	Isolates int
	Warnings []string
}

// Len returns the number of fact rows.
func (t *FactTable) Len() int { return len(t.Facts) }

// Columns lists the flat export header.
func (t *FactTable) Columns() []string {
	out := make([]string, 0, len(t.InfoColumns)+len(fixedColumns))
	out = append(out, t.InfoColumns...)
	return append(out, fixedColumns...)
}

// Record renders a fact aligned with Columns.
func (t *FactTable) Record(f *Fact) []string {
	out := make([]string, 0, len(t.InfoColumns)+len(fixedColumns))
	out = append(out, f.Info...)
	return append(out,
		f.Organism.Code, f.Organism.Genus, f.Organism.Species, f.Organism.Name,
		f.Drug, f.DrugGroup, f.Sensitivity)
}

// Value returns the value of a named column for f.
func (t *FactTable) Value(f *Fact, col string) (string, bool) {
	switch col {
	case ColOrganism:
		return f.Organism.Code, true
	case ColGenus:
		return f.Organism.Genus, true
	case ColSpecies:
		return f.Organism.Species, true
	case ColOrganismName:
		return f.Organism.Name, true
	case ColDrug:
		return f.Drug, true
	case ColDrugGroup:
		return f.DrugGroup, true
	case ColSensitivity:
		return f.Sensitivity, true
	}
	if col != "" && col == t.OrganismAlias {
		return f.Organism.Code, true
	}
	if i := t.infoIndex(col); i >= 0 && i < len(f.Info) {
		return f.Info[i], true
	}
	return "", false
}

// HasColumn reports whether col can be resolved by Value.
func (t *FactTable) HasColumn(col string) bool {
	for _, c := range fixedColumns {
		if c == col {
			return true
		}
	}
	return (col != "" && col == t.OrganismAlias) || t.infoIndex(col) >= 0
}

// IndexChoices lists the columns an antibiogram can be grouped by.
func (t *FactTable) IndexChoices() []string {
	out := append([]string(nil), t.InfoColumns...)
	return append(out, ColOrganism, ColGenus, ColSpecies, ColOrganismName)
}

func (t *FactTable) infoIndex(col string) int {
	for i, c := range t.InfoColumns {
		if c == col {
			return i
		}
	}
	return -1
}

// SetDedupKeys sets the isolate identity used for cutoff counting.
func (t *FactTable) SetDedupKeys(keys []string) error {
	if len(keys) == 0 {
		return ErrMissingDedupKeys
	}
	for _, k := range keys {
		if !t.HasColumn(k) || k == ColDrug || k == ColDrugGroup || k == ColSensitivity {
			return fmt.Errorf("%w: dedup key %q", ErrUnknownColumn, k)
		}
	}
	t.DedupKeys = append([]string(nil), keys...)
	return nil
}

// SetDateColumn marks an info column as the date column and parses it on every fact.
func (t *FactTable) SetDateColumn(col string) error {
	i := t.infoIndex(col)
	if i < 0 {
		return fmt.Errorf("%w: date column %q", ErrUnknownColumn, col)
	}
	t.DateColumn = col
	for j := range t.Facts {
		f := &t.Facts[j]
		if i < len(f.Info) {
			f.Date, f.HasDate = table.ParseDate(f.Info[i])
		}
	}
	return nil
}

// Between returns the facts whose date falls inside r. Facts without a parseable date are dropped.
func (t *FactTable) Between(r DateRange) (*FactTable, error) {
	if t.DateColumn == "" {
		return nil, ErrMissingDateColumn
	}
	out := *t
	out.Facts = nil
	for i := range t.Facts {
		f := &t.Facts[i]
		if f.HasDate && r.Contains(f.Date) {
			out.Facts = append(out.Facts, *f)
		}
	}
	out.Warnings = append([]string(nil), t.Warnings...)
	return &out, nil
}

// DateRange is an inclusive window of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether d falls on or between the start and end days.
func (r DateRange) Contains(d time.Time) bool {
	day := dateOnly(d)
	return !day.Before(dateOnly(r.Start)) && !day.After(dateOnly(r.End))
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
