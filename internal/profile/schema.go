package profile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/KaramelBytes/biogram-cli/internal/registry"
	"github.com/KaramelBytes/biogram-cli/internal/table"
)

// ErrSchemaMismatch matches any *SchemaMismatchError.
var ErrSchemaMismatch = errors.New("schema mismatch")

// SchemaMismatchError lists the symmetric difference between profile and table columns.
type SchemaMismatchError struct {
	// Missing are profile columns absent from the table.
	Missing []string
	// Unexpected are table columns absent from the profile.
	Unexpected []string
}

func (e *SchemaMismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing from data: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "not in profile: "+strings.Join(e.Unexpected, ", "))
	}
	return fmt.Sprintf("profile and data columns differ (%s)", strings.Join(parts, "; "))
}

// Is lets errors.Is(err, ErrSchemaMismatch) match.
func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

// ApplyToTable verifies that the table's columns equal the profile's non-derived columns.
// Derived columns already present in the table are ignored on both sides.
func (p *Profile) ApplyToTable(t *table.Table) error {
	derived := map[string]bool{}
	expected := map[string]bool{}
	for _, c := range p.Columns {
		if c.Derived() {
			derived[c.Name] = true
			continue
		}
		expected[c.Name] = true
	}
	present := map[string]bool{}
	var unexpected []string
	for _, name := range t.Columns {
		if derived[name] {
			continue
		}
		present[name] = true
		if !expected[name] {
			unexpected = append(unexpected, name)
		}
	}
	var missing []string
	for _, c := range p.Columns {
		if !c.Derived() && !present[c.Name] {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		return &SchemaMismatchError{Missing: missing, Unexpected: unexpected}
	}
	return nil
}

// MaterializeDerivedColumns returns a copy of t with every derived column that t lacks,
// computed from its source column and inserted at its profile position.
func (p *Profile) MaterializeDerivedColumns(t *table.Table) (*table.Table, error) {
	out := t.Clone()
	for i, c := range p.Columns {
		if !c.Derived() || out.Has(c.Name) {
			continue
		}
		src, ok := out.Column(c.Derivation.Source)
		if !ok {
			return nil, &SchemaMismatchError{Missing: []string{c.Derivation.Source}}
		}
		vals := make([]string, len(src))
		for j, v := range src {
			vals[j] = c.Derivation.Apply(v)
		}
		if err := out.InsertColumn(i, c.Name, vals); err != nil {
			return nil, fmt.Errorf("materialize %s: %w", c.Name, err)
		}
	}
	return out, nil
}

// NewFromTable builds a default profile for t: every column kept under its own name,
// flagged as a drug when the name is a registered abbreviation.
func NewFromTable(t *table.Table, drugs *registry.DrugRegistry) *Profile {
	p := &Profile{Organisms: map[string]registry.Organism{}}
	for _, name := range t.Columns {
		vals, _ := t.Column(name)
		p.Columns = append(p.Columns, ColumnAttribute{
			Name:  name,
			Alias: name,
			Drug:  drugs.Has(name),
			Keep:  true,
			Type:  table.InferKind(vals),
		})
	}
	return p
}

// AddDerivedColumn registers a grouping of source's values as a new kept column placed
// right after source. The name gets the derived prefix, and a "-copy" suffix if already taken.
// It returns the final column name.
func (p *Profile) AddDerivedColumn(source, name string, groups map[string]string) (string, error) {
	idx := p.Index(source)
	if idx < 0 {
		if c, ok := p.ColumnByAlias(source); ok {
			source = c.Name
			idx = p.Index(source)
		}
	}
	if idx < 0 {
		return "", fmt.Errorf("column %q not in profile", source)
	}
	name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), DerivedPrefix))
	if name == "" {
		return "", errors.New("derived column name is required")
	}
	name = DerivedPrefix + name
	for p.Index(name) >= 0 {
		name += "-copy"
	}
	m := make(map[string]string, len(groups))
	for k, v := range groups {
		m[k] = v
	}
	col := ColumnAttribute{
		Name:       name,
		Alias:      name,
		Keep:       true,
		Type:       "text",
		Derivation: &Derivation{Source: source, Groups: m},
	}
	cols := make([]ColumnAttribute, 0, len(p.Columns)+1)
	cols = append(cols, p.Columns[:idx+1]...)
	cols = append(cols, col)
	cols = append(cols, p.Columns[idx+1:]...)
	prev := p.Columns
	p.Columns = cols
	if err := p.Validate(); err != nil {
		p.Columns = prev
		return "", err
	}
	return name, nil
}
