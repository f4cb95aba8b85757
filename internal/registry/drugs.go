package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KaramelBytes/biogram-cli/internal/table"
)

// Unspecified is the group assigned to abbreviations missing from the registry.
const Unspecified = "unspecified"

// Drug is one catalog entry. Several abbreviations may name the same drug.
type Drug struct {
	Name          string   `json:"drug"`
	Abbreviations []string `json:"abbreviations"`
	Group         string   `json:"group"`
}

// DrugInfo is the resolved metadata for one abbreviation.
type DrugInfo struct {
	Name  string
	Group string
}

// DrugRegistry is an immutable, case-insensitive abbreviation lookup.
type DrugRegistry struct {
	drugs  []Drug
	lookup map[string]DrugInfo
}

// NewDrugRegistry indexes entries by abbreviation. Entries are ordered by group;
// when two entries share an abbreviation the later one in that order wins.
func NewDrugRegistry(entries []Drug) *DrugRegistry {
	drugs := make([]Drug, 0, len(entries))
	for _, d := range entries {
		d.Name = strings.TrimSpace(d.Name)
		d.Group = strings.TrimSpace(d.Group)
		var abbrs []string
		for _, a := range d.Abbreviations {
			if a = strings.TrimSpace(a); a != "" {
				abbrs = append(abbrs, a)
			}
		}
		d.Abbreviations = abbrs
		drugs = append(drugs, d)
	}
	sort.SliceStable(drugs, func(i, j int) bool { return drugs[i].Group < drugs[j].Group })
	r := &DrugRegistry{drugs: drugs, lookup: make(map[string]DrugInfo)}
	for _, d := range drugs {
		for _, a := range d.Abbreviations {
			r.lookup[strings.ToLower(a)] = DrugInfo{Name: d.Name, Group: d.Group}
		}
	}
	return r
}

// Lookup resolves an abbreviation, reporting whether it is registered.
func (r *DrugRegistry) Lookup(abbr string) (DrugInfo, bool) {
	if r == nil {
		return DrugInfo{}, false
	}
	info, ok := r.lookup[strings.ToLower(strings.TrimSpace(abbr))]
	return info, ok
}

// LookupDrug never fails: unknown abbreviations resolve to group "unspecified"
// with the abbreviation itself as the drug name.
func (r *DrugRegistry) LookupDrug(abbr string) DrugInfo {
	if info, ok := r.Lookup(abbr); ok {
		if info.Group == "" {
			info.Group = Unspecified
		}
		return info
	}
	return DrugInfo{Name: strings.TrimSpace(abbr), Group: Unspecified}
}

// Has reports whether abbr is a registered abbreviation.
func (r *DrugRegistry) Has(abbr string) bool {
	_, ok := r.Lookup(abbr)
	return ok
}

// Drugs returns the catalog entries ordered by group.
func (r *DrugRegistry) Drugs() []Drug {
	if r == nil {
		return nil
	}
	out := make([]Drug, len(r.drugs))
	copy(out, r.drugs)
	return out
}

// Len returns the number of catalog entries.
func (r *DrugRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.drugs)
}

// DrugsFromTable reads a registry table with columns drug, abbreviation (comma-separated) and group.
// Column names are matched case-insensitively.
func DrugsFromTable(t *table.Table) (*DrugRegistry, error) {
	idx := map[string]int{}
	for i, c := range t.Columns {
		idx[strings.ToLower(strings.TrimSpace(c))] = i
	}
	for _, need := range []string{"drug", "abbreviation", "group"} {
		if _, ok := idx[need]; !ok {
			return nil, fmt.Errorf("drug registry: missing column %q (have %s)", need, strings.Join(t.Columns, ", "))
		}
	}
	entries := make([]Drug, 0, len(t.Rows))
	for _, row := range t.Rows {
		entries = append(entries, Drug{
			Name:          row[idx["drug"]],
			Abbreviations: splitAbbreviations(row[idx["abbreviation"]]),
			Group:         row[idx["group"]],
		})
	}
	return NewDrugRegistry(entries), nil
}

// LoadDrugs reads a registry file. JSON files hold an array of
// {"drug","abbreviation","group"} records; other formats go through the table readers.
func LoadDrugs(path string, opt table.Options) (*DrugRegistry, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read drug registry: %w", err)
		}
		var recs []struct {
			Drug         string `json:"drug"`
			Abbreviation string `json:"abbreviation"`
			Group        string `json:"group"`
		}
		if err := json.Unmarshal(b, &recs); err != nil {
			return nil, fmt.Errorf("parse drug registry: %w", err)
		}
		entries := make([]Drug, 0, len(recs))
		for _, r := range recs {
			entries = append(entries, Drug{Name: r.Drug, Abbreviations: splitAbbreviations(r.Abbreviation), Group: r.Group})
		}
		return NewDrugRegistry(entries), nil
	}
	t, err := table.Read(path, opt)
	if err != nil {
		return nil, fmt.Errorf("read drug registry: %w", err)
	}
	return DrugsFromTable(t)
}

func splitAbbreviations(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
