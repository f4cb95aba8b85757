package biogram

import (
	"fmt"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
)

// AggregateOptions configures one antibiogram computation.
type AggregateOptions struct {
	// Index lists the grouping columns of the result rows; it may be empty.
	Index []string
	// Cutoff drops groups with fewer distinct tested isolates.
	Cutoff int
	// Range restricts facts to a date window when set.
	Range *DateRange
	// ByDrugGroup nests result columns under their drug group.
	ByDrugGroup bool
}

// Column identifies one result column. Group is empty when the result is not grouped by drug group.
type Column struct {
	Group string
	Drug  string
}

func (c Column) String() string {
	if c.Group == "" {
		return c.Drug
	}
	return c.Group + "/" + c.Drug
}

// Cell holds the statistics of one (row, drug) pair.
type Cell struct {
	Total   int
	CountS  int
	CountIR int
	PctS    float64
	PctIR   float64
	NarstS  string
	NarstIR string
}

// Defined reports whether any tested fact fell into the cell.
func (c Cell) Defined() bool { return c.Total > 0 }

// Row is one surviving group of the result.
type Row struct {
	Key      []string
	Isolates int
	Cells    []Cell
}

// Result is a computed antibiogram.
type Result struct {
	Index       []string
	ByDrugGroup bool
	Cutoff      int
	Range       *DateRange
	Columns     []Column
	Rows        []Row
	// Dropped counts groups removed by the cutoff.
	Dropped int
}

// Cell returns the cell at key and col.
func (r *Result) Cell(key []string, col Column) (Cell, bool) {
	ci := -1
	for i, c := range r.Columns {
		if c == col {
			ci = i
			break
		}
	}
	if ci < 0 {
		return Cell{}, false
	}
	for _, row := range r.Rows {
		if equalKeys(row.Key, key) {
			return row.Cells[ci], true
		}
	}
	return Cell{}, false
}

type counts struct{ total, s, ir int }

// Aggregate computes per-group susceptibility statistics from a fact table.
func Aggregate(ft *FactTable, opt AggregateOptions) (*Result, error) {
	if opt.Cutoff < 0 {
		return nil, ErrInvalidCutoff
	}
	if len(ft.DedupKeys) == 0 {
		return nil, ErrMissingDedupKeys
	}
	seenIdx := map[string]bool{}
	for _, col := range opt.Index {
		if !ft.HasColumn(col) || col == ColDrug || col == ColDrugGroup || col == ColSensitivity {
			return nil, fmt.Errorf("%w: index column %q (choose from %s)", ErrUnknownColumn, col, strings.Join(ft.IndexChoices(), ", "))
		}
		if seenIdx[col] {
			return nil, fmt.Errorf("%w: index column %q listed twice", ErrUnknownColumn, col)
		}
		seenIdx[col] = true
	}
	if opt.Range != nil && ft.DateColumn == "" {
		return nil, ErrMissingDateColumn
	}

	var tested []*Fact
	for i := range ft.Facts {
		f := &ft.Facts[i]
		if err := checkFact(i, f); err != nil {
			return nil, err
		}
		if !f.Tested() {
			continue
		}
		if opt.Range != nil && !(f.HasDate && opt.Range.Contains(f.Date)) {
			continue
		}
		tested = append(tested, f)
	}

	keys := map[string][]string{}
	isolates := map[string]map[string]bool{}
	cells := map[string]map[Column]*counts{}
	cols := map[Column]bool{}
	for _, f := range tested {
		key := make([]string, len(opt.Index))
		for j, col := range opt.Index {
			key[j], _ = ft.Value(f, col)
		}
		gk := joinKey(key)
		if _, ok := keys[gk]; !ok {
			keys[gk] = key
			isolates[gk] = map[string]bool{}
			cells[gk] = map[Column]*counts{}
		}
		isolates[gk][ft.isolateID(f)] = true

		col := Column{Drug: f.Drug}
		if opt.ByDrugGroup {
			col.Group = f.DrugGroup
		}
		cols[col] = true
		c := cells[gk][col]
		if c == nil {
			c = &counts{}
			cells[gk][col] = c
		}
		c.total++
		if f.Sensitivity == Susceptible {
			c.s++
		} else {
			c.ir++
		}
	}

	res := &Result{
		Index:       append([]string(nil), opt.Index...),
		ByDrugGroup: opt.ByDrugGroup,
		Cutoff:      opt.Cutoff,
		Range:       opt.Range,
	}
	var survivors []string
	for gk := range keys {
		if len(isolates[gk]) < opt.Cutoff {
			res.Dropped++
			continue
		}
		survivors = append(survivors, gk)
	}
	if len(survivors) == 0 {
		return nil, ErrEmptyResult
	}
	sort.Slice(survivors, func(a, b int) bool {
		return lessKeys(keys[survivors[a]], keys[survivors[b]])
	})

	// Only columns that carry data for a surviving group are emitted.
	present := map[Column]bool{}
	for _, gk := range survivors {
		for col := range cells[gk] {
			present[col] = true
		}
	}
	for col := range cols {
		if present[col] {
			res.Columns = append(res.Columns, col)
		}
	}
	sort.Slice(res.Columns, func(a, b int) bool {
		ca, cb := res.Columns[a], res.Columns[b]
		if ca.Group != cb.Group {
			return ca.Group < cb.Group
		}
		return ca.Drug < cb.Drug
	})

	for _, gk := range survivors {
		row := Row{Key: keys[gk], Isolates: len(isolates[gk]), Cells: make([]Cell, len(res.Columns))}
		for i, col := range res.Columns {
			if c := cells[gk][col]; c != nil {
				row.Cells[i] = newCell(c)
			}
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

func newCell(c *counts) Cell {
	cell := Cell{Total: c.total, CountS: c.s, CountIR: c.ir}
	if c.total == 0 {
		return cell
	}
	cell.PctS = round(float64(c.s)/float64(c.total)*100, 2)
	cell.PctIR = round(float64(c.ir)/float64(c.total)*100, 2)
	cell.NarstS = fmt.Sprintf("%.0f (%d)", round(cell.PctS, 0), c.s)
	cell.NarstIR = fmt.Sprintf("%.0f (%d)", round(cell.PctIR, 0), c.ir)
	return cell
}

// round rounds half away from zero.
func round(v float64, places int) float64 {
	r, err := stats.Round(v, places)
	if err != nil {
		return v
	}
	return r
}

func checkFact(i int, f *Fact) error {
	switch {
	case f.Drug == "":
		return &IntegrityError{Row: i, Field: ColDrug}
	case f.DrugGroup == "":
		return &IntegrityError{Row: i, Field: ColDrugGroup}
	case f.Organism.Name == "":
		return &IntegrityError{Row: i, Field: ColOrganismName}
	}
	switch f.Sensitivity {
	case Susceptible, Intermediate, Resistant, NotTested:
		return nil
	}
	return &IntegrityError{Row: i, Field: ColSensitivity, Detail: fmt.Sprintf("has unexpected value %q", f.Sensitivity)}
}

// isolateID identifies the isolate a fact belongs to: dedup key values plus organism_name.
func (t *FactTable) isolateID(f *Fact) string {
	var b strings.Builder
	for _, k := range t.DedupKeys {
		v, _ := t.Value(f, k)
		b.WriteString(v)
		b.WriteByte(0x1f)
	}
	b.WriteString(f.Organism.Name)
	return b.String()
}

func joinKey(key []string) string { return strings.Join(key, "\x1f") }

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func lessKeys(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
