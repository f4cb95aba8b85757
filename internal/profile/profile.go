package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/KaramelBytes/biogram-cli/internal/registry"
	"github.com/KaramelBytes/biogram-cli/internal/utils"
)

// DerivedPrefix marks synthetic columns built by grouping the values of another column.
const DerivedPrefix = "@"

// Role is a participation flag of a column in the analysis.
type Role int

const (
	RoleKey Role = iota
	RoleOrganism
	RoleDrug
	RoleDate
	// RoleInfo matches every kept column that is neither organism nor drug.
	RoleInfo
)

func (r Role) String() string {
	switch r {
	case RoleKey:
		return "key"
	case RoleOrganism:
		return "organism"
	case RoleDrug:
		return "drug"
	case RoleDate:
		return "date"
	case RoleInfo:
		return "info"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole maps a role name to its Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "key":
		return RoleKey, nil
	case "organism":
		return RoleOrganism, nil
	case "drug":
		return RoleDrug, nil
	case "date":
		return RoleDate, nil
	case "info":
		return RoleInfo, nil
	}
	return 0, fmt.Errorf("unknown role %q (use key|organism|drug|date|info)", s)
}

// Derivation replays a value-to-group mapping against a source column.
type Derivation struct {
	Source string            `json:"from"`
	Groups map[string]string `json:"data"`
}

// Apply maps v through the groups; unmapped values pass through unchanged.
func (d *Derivation) Apply(v string) string {
	if g, ok := d.Groups[v]; ok {
		return g
	}
	return v
}

// ColumnAttribute describes how one raw column participates in analysis.
type ColumnAttribute struct {
	Name        string      `json:"name"`
	Alias       string      `json:"alias"`
	Key         bool        `json:"key"`
	Organism    bool        `json:"organism"`
	Drug        bool        `json:"drug"`
	Date        bool        `json:"date"`
	Keep        bool        `json:"keep"`
	Type        string      `json:"type,omitempty"`
	Description string      `json:"desc"`
	Derivation  *Derivation `json:"aggregate,omitempty"`
}

// Derived reports whether the column is materialized from another column.
func (c ColumnAttribute) Derived() bool { return c.Derivation != nil }

// Has reports whether the column carries the role.
func (c ColumnAttribute) Has(r Role) bool {
	switch r {
	case RoleKey:
		return c.Key
	case RoleOrganism:
		return c.Organism
	case RoleDrug:
		return c.Drug
	case RoleDate:
		return c.Date
	case RoleInfo:
		return !c.Organism && !c.Drug
	}
	return false
}

// Profile is the ordered set of column attributes plus organism overrides.
// Column order defines display order and the id-variable order of the flattened table.
type Profile struct {
	// Path is where the profile was loaded from or last saved to.
	Path      string
	Columns   []ColumnAttribute
	Organisms map[string]registry.Organism
}

// ErrInvalidProfile is returned when a profile document breaks a structural rule.
var ErrInvalidProfile = errors.New("invalid profile")

type document struct {
	Columns   []string                     `json:"columns"`
	Data      map[string]ColumnAttribute   `json:"data"`
	Organisms map[string]registry.Organism `json:"organisms"`
}

// MarshalJSON writes the {columns, data, organisms} document shape.
func (p *Profile) MarshalJSON() ([]byte, error) {
	doc := document{
		Columns:   make([]string, 0, len(p.Columns)),
		Data:      make(map[string]ColumnAttribute, len(p.Columns)),
		Organisms: p.Organisms,
	}
	if doc.Organisms == nil {
		doc.Organisms = map[string]registry.Organism{}
	}
	for _, c := range p.Columns {
		doc.Columns = append(doc.Columns, c.Name)
		doc.Data[c.Name] = c
	}
	return json.Marshal(doc)
}

// UnmarshalJSON reads the {columns, data, organisms} document shape.
func (p *Profile) UnmarshalJSON(b []byte) error {
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	cols := make([]ColumnAttribute, 0, len(doc.Columns))
	for _, name := range doc.Columns {
		c, ok := doc.Data[name]
		if !ok {
			return fmt.Errorf("%w: column %q listed without attributes", ErrInvalidProfile, name)
		}
		if c.Name == "" {
			c.Name = name
		}
		if c.Alias == "" {
			c.Alias = c.Name
		}
		cols = append(cols, c)
	}
	p.Columns = cols
	p.Organisms = doc.Organisms
	if p.Organisms == nil {
		p.Organisms = map[string]registry.Organism{}
	}
	return nil
}

// Parse decodes and validates a profile document.
func Parse(b []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads and validates a profile from disk.
func Load(path string) (*Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("profile not found at %s: %w", path, err)
		}
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p, err := Parse(b)
	if err != nil {
		return nil, err
	}
	p.Path = path
	return p, nil
}

// Save writes the profile to p.Path using an atomic write.
func (p *Profile) Save() error {
	if p.Path == "" {
		return errors.New("profile path not set")
	}
	return p.SaveAs(p.Path)
}

// SaveAs validates and writes the profile to path, then remembers the path.
func (p *Profile) SaveAs(path string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := utils.PrettyJSON(p)
	if err != nil {
		return err
	}
	if err := utils.SafeWriteFile(path, data); err != nil {
		return err
	}
	p.Path = path
	return nil
}

// Validate checks the structural rules every profile must satisfy before use.
func (p *Profile) Validate() error {
	names := map[string]int{}
	aliases := map[string]string{}
	organisms := 0
	for i, c := range p.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%w: column %d has no name", ErrInvalidProfile, i+1)
		}
		if _, dup := names[c.Name]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidProfile, c.Name)
		}
		names[c.Name] = i
		alias := c.Alias
		if alias == "" {
			alias = c.Name
		}
		if other, dup := aliases[alias]; dup {
			return fmt.Errorf("%w: alias %q used by both %q and %q", ErrInvalidProfile, alias, other, c.Name)
		}
		aliases[alias] = c.Name
		if c.Drug && (c.Organism || c.Date) {
			return fmt.Errorf("%w: drug column %q cannot also be an organism or date column", ErrInvalidProfile, c.Name)
		}
		if c.Keep && c.Organism {
			organisms++
		}
		if strings.HasPrefix(c.Name, DerivedPrefix) && c.Derivation == nil {
			return fmt.Errorf("%w: derived column %q has no derivation", ErrInvalidProfile, c.Name)
		}
	}
	if organisms > 1 {
		return fmt.Errorf("%w: %d kept organism columns, at most one allowed", ErrInvalidProfile, organisms)
	}
	for _, c := range p.Columns {
		if !c.Derived() {
			continue
		}
		if _, ok := names[c.Derivation.Source]; !ok {
			return fmt.Errorf("%w: derived column %q refers to unknown column %q", ErrInvalidProfile, c.Name, c.Derivation.Source)
		}
	}
	return nil
}

// Column returns the attributes of the named column.
func (p *Profile) Column(name string) (ColumnAttribute, bool) {
	for _, c := range p.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnAttribute{}, false
}

// ColumnByAlias returns the attributes of the column displayed as alias.
func (p *Profile) ColumnByAlias(alias string) (ColumnAttribute, bool) {
	for _, c := range p.Columns {
		if c.Alias == alias {
			return c, true
		}
	}
	return ColumnAttribute{}, false
}

// Index returns the position of the named column, or -1.
func (p *Profile) Index(name string) int {
	for i, c := range p.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnsWithRole returns the aliases of kept columns carrying the role, in profile order.
func (p *Profile) ColumnsWithRole(r Role) []string {
	var out []string
	for _, c := range p.Columns {
		if c.Keep && c.Has(r) {
			out = append(out, c.Alias)
		}
	}
	return out
}

// Kept returns the kept columns in profile order.
func (p *Profile) Kept() []ColumnAttribute {
	var out []ColumnAttribute
	for _, c := range p.Columns {
		if c.Keep {
			out = append(out, c)
		}
	}
	return out
}

// OrganismRegistry exposes the profile overrides as a lookup.
func (p *Profile) OrganismRegistry() *registry.OrganismRegistry {
	return registry.NewOrganismRegistry(p.Organisms)
}

// SetOrganisms replaces the organism overrides.
func (p *Profile) SetOrganisms(m map[string]registry.Organism) {
	p.Organisms = make(map[string]registry.Organism, len(m))
	for k, v := range m {
		p.Organisms[k] = v
	}
}

// Update edits one column in place and rejects the change if the profile becomes invalid.
func (p *Profile) Update(name string, fn func(c *ColumnAttribute)) error {
	idx := p.Index(name)
	if idx < 0 {
		return fmt.Errorf("column %q not in profile", name)
	}
	prev := p.Columns[idx]
	fn(&p.Columns[idx])
	p.Columns[idx].Name = prev.Name
	if err := p.Validate(); err != nil {
		p.Columns[idx] = prev
		return err
	}
	return nil
}
