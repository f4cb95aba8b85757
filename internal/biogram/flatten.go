package biogram

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/KaramelBytes/biogram-cli/internal/profile"
	"github.com/KaramelBytes/biogram-cli/internal/registry"
	"github.com/KaramelBytes/biogram-cli/internal/table"
)

// FlattenOptions controls deduplication during Flatten.
type FlattenOptions struct {
	// DedupKeys are column aliases identifying one isolate record together with organism_name.
	DedupKeys []string
	// SortByDate keeps the earliest record of each isolate instead of the first in file order.
	SortByDate bool
}

type isolate struct {
	src      int
	info     []string
	organism registry.ResolvedOrganism
	date     time.Time
	hasDate  bool
}

// Flatten turns a wide isolate table into one fact per (isolate, drug).
// The organisms registry may be nil, in which case the profile overrides are used.
func Flatten(raw *table.Table, prof *profile.Profile, drugs *registry.DrugRegistry, organisms *registry.OrganismRegistry, opt FlattenOptions) (*FactTable, error) {
	if err := prof.Validate(); err != nil {
		return nil, err
	}
	if err := prof.ApplyToTable(raw); err != nil {
		return nil, err
	}
	t, err := prof.MaterializeDerivedColumns(raw)
	if err != nil {
		return nil, err
	}
	if organisms == nil {
		organisms = prof.OrganismRegistry()
	}

	ft := &FactTable{}
	var (
		orgCol   *profile.ColumnAttribute
		infoSrc  []int
		drugSrc  []int
		drugName []string
		dateSrc  = -1
		reserved = map[string]bool{}
	)
	for _, c := range fixedColumns {
		reserved[c] = true
	}
	reserved[ColAddedAt] = true
	for _, c := range prof.Kept() {
		c := c
		alias := aliasOf(c)
		idx := t.Index(c.Name)
		switch {
		case c.Organism:
			orgCol = &c
			ft.OrganismAlias = alias
		case c.Drug:
			ft.Drugs = append(ft.Drugs, alias)
			drugSrc = append(drugSrc, idx)
			drugName = append(drugName, c.Name)
		default:
			if reserved[alias] {
				return nil, fmt.Errorf("%w: column alias %q clashes with a fact column", profile.ErrInvalidProfile, alias)
			}
			if c.Date && ft.DateColumn == "" {
				ft.DateColumn = alias
				dateSrc = idx
			}
			ft.InfoColumns = append(ft.InfoColumns, alias)
			infoSrc = append(infoSrc, idx)
		}
	}
	if orgCol == nil {
		return nil, ErrMissingOrganismColumn
	}
	if err := ft.SetDedupKeys(opt.DedupKeys); err != nil {
		return nil, err
	}
	if opt.SortByDate && dateSrc < 0 {
		return nil, ErrMissingDateColumn
	}

	orgSrc := t.Index(orgCol.Name)
	var rows []isolate
	blank := 0
	for i, row := range t.Rows {
		code := strings.TrimSpace(row[orgSrc])
		if code == "" {
			blank++
			continue
		}
		iso := isolate{src: i, organism: organisms.Resolve(code)}
		iso.info = make([]string, len(infoSrc))
		for j, idx := range infoSrc {
			iso.info[j] = row[idx]
		}
		if dateSrc >= 0 {
			iso.date, iso.hasDate = table.ParseDate(row[dateSrc])
		}
		rows = append(rows, iso)
	}
	if blank > 0 {
		ft.Warnings = append(ft.Warnings, fmt.Sprintf("%d records without an organism code skipped", blank))
	}

	if opt.SortByDate {
		undated := 0
		for _, r := range rows {
			if !r.hasDate {
				undated++
			}
		}
		if undated > 0 {
			ft.Warnings = append(ft.Warnings, fmt.Sprintf("%d records with an unreadable %s sorted last", undated, ft.DateColumn))
		}
		sort.SliceStable(rows, func(a, b int) bool {
			ra, rb := rows[a], rows[b]
			if ra.hasDate != rb.hasDate {
				return ra.hasDate
			}
			return ra.hasDate && ra.date.Before(rb.date)
		})
	}

	seen := make(map[string]bool, len(rows))
	kept := rows[:0]
	for _, r := range rows {
		k := ft.isolateID(&Fact{Info: r.info, Organism: r.organism})
		if seen[k] {
			continue
		}
		seen[k] = true
		kept = append(kept, r)
	}
	if d := len(rows) - len(kept); d > 0 {
		ft.Warnings = append(ft.Warnings, fmt.Sprintf("%d duplicate records removed", d))
	}
	ft.Isolates = len(kept)

	groups := make([]string, len(ft.Drugs))
	for i, name := range drugName {
		groups[i] = drugs.LookupDrug(name).Group
	}
	ft.Facts = make([]Fact, 0, len(kept)*len(ft.Drugs))
	for _, r := range kept {
		row := t.Rows[r.src]
		for i, d := range ft.Drugs {
			ft.Facts = append(ft.Facts, Fact{
				Info:        r.info,
				Organism:    r.organism,
				Date:        r.date,
				HasDate:     r.hasDate,
				Drug:        d,
				DrugGroup:   groups[i],
				Sensitivity: NormalizeSensitivity(row[drugSrc[i]]),
			})
		}
	}
	return ft, nil
}

func aliasOf(c profile.ColumnAttribute) string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.Name
}
