package registry

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/biogram-cli/internal/table"
)

// Organism holds the genus/species pair stored for a raw organism code.
type Organism struct {
	Genus   string `json:"genus"`
	Species string `json:"species"`
}

// ResolvedOrganism is the identity attached to every fact row.
type ResolvedOrganism struct {
	Code    string
	Genus   string
	Species string
	Name    string
}

// OrganismRegistry maps raw organism codes to genus/species.
type OrganismRegistry struct {
	overrides map[string]Organism
}

// NewOrganismRegistry copies the given overrides.
func NewOrganismRegistry(overrides map[string]Organism) *OrganismRegistry {
	m := make(map[string]Organism, len(overrides))
	for k, v := range overrides {
		m[strings.TrimSpace(k)] = v
	}
	return &OrganismRegistry{overrides: m}
}

// Merge returns a registry where entries of other take precedence over r.
func (r *OrganismRegistry) Merge(other *OrganismRegistry) *OrganismRegistry {
	m := map[string]Organism{}
	if r != nil {
		for k, v := range r.overrides {
			m[k] = v
		}
	}
	if other != nil {
		for k, v := range other.overrides {
			m[k] = v
		}
	}
	return &OrganismRegistry{overrides: m}
}

// Len returns the number of override entries.
func (r *OrganismRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.overrides)
}

// Resolve looks up a code. Unknown codes fall back to genus = species = code,
// so the organism name becomes "{code} {code}".
func (r *OrganismRegistry) Resolve(code string) ResolvedOrganism {
	code = strings.TrimSpace(code)
	genus, species := code, code
	if r != nil {
		if o, ok := r.overrides[code]; ok {
			if g := strings.TrimSpace(o.Genus); g != "" {
				genus = g
			}
			if s := strings.TrimSpace(o.Species); s != "" {
				species = s
			}
		}
	}
	return ResolvedOrganism{
		Code:    code,
		Genus:   genus,
		Species: species,
		Name:    strings.TrimSpace(genus + " " + species),
	}
}

// OrganismsFromTable reads code, genus and species from the first three columns.
func OrganismsFromTable(t *table.Table) (map[string]Organism, error) {
	if len(t.Columns) < 3 {
		return nil, fmt.Errorf("organism table needs 3 columns (code, genus, species), got %d", len(t.Columns))
	}
	out := make(map[string]Organism, len(t.Rows))
	for _, row := range t.Rows {
		code := strings.TrimSpace(row[0])
		if code == "" {
			continue
		}
		out[code] = Organism{Genus: row[1], Species: row[2]}
	}
	return out, nil
}

// LoadOrganisms reads an organism override table from disk.
func LoadOrganisms(path string, opt table.Options) (*OrganismRegistry, error) {
	t, err := table.Read(path, opt)
	if err != nil {
		return nil, fmt.Errorf("read organisms: %w", err)
	}
	m, err := OrganismsFromTable(t)
	if err != nil {
		return nil, err
	}
	return NewOrganismRegistry(m), nil
}
