package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KaramelBytes/biogram-cli/internal/biogram"
)

// Section names, in the order they appear in every output.
const (
	Total     = "total"
	CountS    = "count_s"
	CountIR   = "count_ir"
	PercentS  = "percent_s"
	PercentIR = "percent_ir"
	NarstS    = "narst_s"
	NarstIR   = "narst_ir"
	InfoSheet = "info"
)

// SectionOrder is the fixed output order. Callers may select a subset but never reorder.
var SectionOrder = []string{Total, CountS, CountIR, PercentS, PercentIR, NarstS, NarstIR, InfoSheet}

// ErrUnknownSection is returned when a requested section name is not in SectionOrder.
var ErrUnknownSection = errors.New("unknown report section")

// AllRowsLabel labels the single row of a result computed without index columns.
const AllRowsLabel = "all"

// Info is the run metadata written to the info section.
type Info struct {
	ProfilePath string
	DataSource  string
	Range       *biogram.DateRange
}

// Section is one named sub-table. Header rows are text; body cells hold int, float64, string or nil.
type Section struct {
	Name   string
	Header [][]string
	Rows   [][]any
}

// Report is an ordered set of sections ready for a sink.
type Report struct {
	Sections []Section
}

// Section returns the named section.
func (r *Report) Section(name string) (*Section, bool) {
	for i := range r.Sections {
		if r.Sections[i].Name == name {
			return &r.Sections[i], true
		}
	}
	return nil, false
}

// Names lists the section names in output order.
func (r *Report) Names() []string {
	out := make([]string, len(r.Sections))
	for i, s := range r.Sections {
		out[i] = s.Name
	}
	return out
}

// ParseSections validates a comma-separated section list. An empty list selects every section.
func ParseSections(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !known(part) {
			return nil, fmt.Errorf("%w %q (choose from %s)", ErrUnknownSection, part, strings.Join(SectionOrder, ", "))
		}
		out = append(out, part)
	}
	return out, nil
}

func known(name string) bool {
	for _, s := range SectionOrder {
		if s == name {
			return true
		}
	}
	return false
}

// Assemble arranges a result into the named sections. With no include list every section is built.
func Assemble(res *biogram.Result, info Info, include ...string) (*Report, error) {
	want := map[string]bool{}
	for _, name := range include {
		if !known(name) {
			return nil, fmt.Errorf("%w %q", ErrUnknownSection, name)
		}
		want[name] = true
	}
	rep := &Report{}
	for _, name := range SectionOrder {
		if len(want) > 0 && !want[name] {
			continue
		}
		if name == InfoSheet {
			rep.Sections = append(rep.Sections, infoSection(info))
			continue
		}
		rep.Sections = append(rep.Sections, dataSection(res, name))
	}
	return rep, nil
}

func dataSection(res *biogram.Result, name string) Section {
	s := Section{Name: name, Header: header(res)}
	for _, row := range res.Rows {
		out := make([]any, 0, indexWidth(res)+len(row.Cells))
		if len(res.Index) == 0 {
			out = append(out, AllRowsLabel)
		}
		for _, k := range row.Key {
			out = append(out, k)
		}
		for _, c := range row.Cells {
			out = append(out, value(name, c))
		}
		s.Rows = append(s.Rows, out)
	}
	return s
}

// value picks the statistic for a section. Undefined cells are nil or "" except in total.
func value(section string, c biogram.Cell) any {
	if section == Total {
		return c.Total
	}
	if !c.Defined() {
		if section == NarstS || section == NarstIR {
			return ""
		}
		return nil
	}
	switch section {
	case CountS:
		return c.CountS
	case CountIR:
		return c.CountIR
	case PercentS:
		return c.PctS
	case PercentIR:
		return c.PctIR
	case NarstS:
		return c.NarstS
	case NarstIR:
		return c.NarstIR
	}
	return nil
}

func indexWidth(res *biogram.Result) int {
	if len(res.Index) == 0 {
		return 1
	}
	return len(res.Index)
}

// header builds one row per column level: drug group then drug, or drug alone.
func header(res *biogram.Result) [][]string {
	idx := res.Index
	if len(idx) == 0 {
		idx = []string{""}
	}
	drugs := append([]string(nil), idx...)
	for _, c := range res.Columns {
		drugs = append(drugs, c.Drug)
	}
	if !res.ByDrugGroup {
		return [][]string{drugs}
	}
	groups := make([]string, len(idx), len(drugs))
	for _, c := range res.Columns {
		groups = append(groups, c.Group)
	}
	return [][]string{groups, drugs}
}

func infoSection(info Info) Section {
	keys := []string{"profile filepath", "data source"}
	vals := []any{info.ProfilePath, info.DataSource}
	if info.Range != nil {
		keys = append(keys, "startdate", "enddate")
		vals = append(vals, info.Range.Start.Format(time.DateOnly), info.Range.End.Format(time.DateOnly))
	}
	return Section{Name: InfoSheet, Header: [][]string{keys}, Rows: [][]any{vals}}
}

// Markdown renders every section as a pipe table.
func (r *Report) Markdown() string {
	var b strings.Builder
	for i, s := range r.Sections {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("[%s]\n", strings.ToUpper(s.Name)))
		width := 0
		for _, h := range s.Header {
			width = max(width, len(h))
		}
		for _, row := range s.Rows {
			width = max(width, len(row))
		}
		if len(s.Header) > 0 {
			// Drug groups are folded into the drug header as "group / drug".
			last := s.Header[len(s.Header)-1]
			cells := make([]string, width)
			for j := range cells {
				if j < len(last) {
					cells[j] = last[j]
				}
				if len(s.Header) > 1 && j < len(s.Header[0]) && s.Header[0][j] != "" {
					cells[j] = s.Header[0][j] + " / " + cells[j]
				}
			}
			writeRow(&b, cells)
		}
		sep := make([]string, width)
		for j := range sep {
			sep[j] = "---"
		}
		writeRow(&b, sep)
		for _, row := range s.Rows {
			cells := make([]string, width)
			for j := range cells {
				if j < len(row) {
					cells[j] = Format(row[j])
				}
			}
			writeRow(&b, cells)
		}
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("| ")
	for i, c := range cells {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(safeVal(c))
	}
	b.WriteString(" |\n")
}

// Format renders a section cell as text. Nil renders empty.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return fmt.Sprintf("%d", x)
	case float64:
		return fmt.Sprintf("%.2f", x)
	}
	return fmt.Sprint(v)
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
