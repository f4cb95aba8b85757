package table

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Table is an in-memory raw table with named columns and string cells.
// Every row has exactly len(Columns) cells.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// New builds a table, padding or truncating rows to the header width.
func New(name string, columns []string, rows [][]string) *Table {
	t := &Table{Name: name, Columns: append([]string(nil), columns...)}
	t.Rows = make([][]string, 0, len(rows))
	for _, r := range rows {
		t.Rows = append(t.Rows, normalizeRow(r, len(columns)))
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Has reports whether the table carries the named column.
func (t *Table) Has(name string) bool { return t.Index(name) >= 0 }

// Column returns a copy of the values of the named column.
func (t *Table) Column(name string) ([]string, bool) {
	idx := t.Index(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]string, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[idx]
	}
	return out, true
}

// Value returns a single cell by row number and column name.
func (t *Table) Value(row int, name string) string {
	idx := t.Index(name)
	if idx < 0 || row < 0 || row >= len(t.Rows) {
		return ""
	}
	return t.Rows[row][idx]
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{Name: t.Name, Columns: append([]string(nil), t.Columns...)}
	out.Rows = make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		out.Rows[i] = append([]string(nil), r...)
	}
	return out
}

// InsertColumn inserts a column at pos (clamped to the valid range).
// The receiver is modified in place.
func (t *Table) InsertColumn(pos int, name string, values []string) error {
	if t.Has(name) {
		return fmt.Errorf("column %q already exists", name)
	}
	if len(values) != len(t.Rows) {
		return fmt.Errorf("column %q: got %d values for %d rows", name, len(values), len(t.Rows))
	}
	if pos < 0 || pos > len(t.Columns) {
		pos = len(t.Columns)
	}
	t.Columns = insertAt(t.Columns, pos, name)
	for i := range t.Rows {
		t.Rows[i] = insertAt(t.Rows[i], pos, values[i])
	}
	return nil
}

func insertAt(s []string, pos int, v string) []string {
	s = append(s, "")
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

func normalizeRow(r []string, n int) []string {
	out := make([]string, n)
	for i := 0; i < n && i < len(r); i++ {
		out[i] = strings.TrimSpace(r[i])
	}
	return out
}

func blank(r []string) bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

var dateLayouts = []string{
	time.RFC3339, "2006-01-02", "2006/01/02", "02/01/2006", "01/02/2006",
	"2006-01-02 15:04", "2006-01-02 15:04:05", "2006-01-02T15:04:05", "1/2/2006 15:04", "1/2/2006 15:04:05",
	"1/2/06", "02-Jan-2006",
}

// ParseDate parses the date formats commonly found in lab exports.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// InferKind classifies a column as numeric, datetime or text by its predominant values.
func InferKind(values []string) string {
	var num, dt, txt int
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			num++
			continue
		}
		if _, ok := ParseDate(v); ok {
			dt++
			continue
		}
		txt++
	}
	switch {
	case num > 0 && num >= dt && num >= txt:
		return "numeric"
	case dt > 0 && dt >= txt:
		return "datetime"
	case txt > 0:
		return "text"
	default:
		return "unknown"
	}
}
