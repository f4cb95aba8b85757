package profile_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/biogram-cli/internal/profile"
	"github.com/KaramelBytes/biogram-cli/internal/registry"
	"github.com/KaramelBytes/biogram-cli/internal/table"
)

const doc = `{
  "columns": ["hn", "ward", "org", "AMK"],
  "data": {
    "hn":   {"name": "hn", "alias": "patient", "key": true, "keep": true, "desc": "hospital number"},
    "ward": {"name": "ward", "keep": true},
    "org":  {"name": "org", "alias": "organism", "organism": true, "keep": true},
    "AMK":  {"name": "AMK", "drug": true, "keep": true}
  },
  "organisms": {"ECOLI": {"genus": "Escherichia", "species": "coli"}}
}`

func TestParse_DocumentShape(t *testing.T) {
	p, err := profile.Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, p.Columns, 4)
	assert.Equal(t, "patient", p.Columns[0].Alias)
	assert.Equal(t, "ward", p.Columns[1].Alias, "alias defaults to name")
	assert.Equal(t, []string{"patient"}, p.ColumnsWithRole(profile.RoleKey))
	assert.Equal(t, []string{"AMK"}, p.ColumnsWithRole(profile.RoleDrug))
	assert.Equal(t, []string{"patient", "ward"}, p.ColumnsWithRole(profile.RoleInfo))
	assert.Equal(t, "Escherichia coli", p.OrganismRegistry().Resolve("ECOLI").Name)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	again, err := profile.Parse(b)
	require.NoError(t, err)
	assert.Equal(t, p.Columns, again.Columns)
	assert.Equal(t, p.Organisms, again.Organisms)
}

func TestParse_RejectsInvalidProfiles(t *testing.T) {
	cases := map[string]string{
		"missing attrs":   `{"columns":["a"],"data":{}}`,
		"duplicate alias": `{"columns":["a","b"],"data":{"a":{"alias":"x"},"b":{"alias":"x"}}}`,
		"drug organism":   `{"columns":["a"],"data":{"a":{"drug":true,"organism":true}}}`,
		"two organisms":   `{"columns":["a","b"],"data":{"a":{"organism":true,"keep":true},"b":{"organism":true,"keep":true}}}`,
		"prefix no deriv": `{"columns":["@a"],"data":{"@a":{}}}`,
		"unknown source":  `{"columns":["@a"],"data":{"@a":{"aggregate":{"from":"zz","data":{}}}}}`,
	}
	for name, in := range cases {
		_, err := profile.Parse([]byte(in))
		assert.ErrorIs(t, err, profile.ErrInvalidProfile, name)
	}
}

func TestApplyToTable_SymmetricDifference(t *testing.T) {
	p, err := profile.Parse([]byte(doc))
	require.NoError(t, err)
	_, err = p.AddDerivedColumn("ward", "area", map[string]string{"ICU": "critical"})
	require.NoError(t, err)

	ok := table.New("lab", []string{"hn", "ward", "org", "AMK"}, nil)
	assert.NoError(t, p.ApplyToTable(ok))

	withDerived := table.New("lab", []string{"hn", "ward", "@area", "org", "AMK"}, nil)
	assert.NoError(t, p.ApplyToTable(withDerived), "materialized derived columns are tolerated")

	bad := table.New("lab", []string{"hn", "org", "AMK", "CIP"}, nil)
	err = p.ApplyToTable(bad)
	require.ErrorIs(t, err, profile.ErrSchemaMismatch)
	var sm *profile.SchemaMismatchError
	require.True(t, errors.As(err, &sm))
	assert.Equal(t, []string{"ward"}, sm.Missing)
	assert.Equal(t, []string{"CIP"}, sm.Unexpected)
}

func TestMaterializeDerivedColumns(t *testing.T) {
	p, err := profile.Parse([]byte(doc))
	require.NoError(t, err)
	name, err := p.AddDerivedColumn("ward", "area", map[string]string{"ICU": "critical", "CCU": "critical"})
	require.NoError(t, err)
	assert.Equal(t, "@area", name)
	assert.Equal(t, 2, p.Index(name), "derived column sits right after its source")

	raw := table.New("lab", []string{"hn", "ward", "org", "AMK"}, [][]string{
		{"1", "ICU", "ECOLI", "S"},
		{"2", "OPD", "ECOLI", "R"},
	})
	out, err := p.MaterializeDerivedColumns(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"hn", "ward", "@area", "org", "AMK"}, out.Columns)
	vals, _ := out.Column("@area")
	assert.Equal(t, []string{"critical", "OPD"}, vals, "unmapped values pass through")
	assert.False(t, raw.Has("@area"), "input table is left untouched")

	again, err := p.AddDerivedColumn("ward", "@area", nil)
	require.NoError(t, err)
	assert.Equal(t, "@area-copy", again)
}

func TestAddDerivedColumn_Errors(t *testing.T) {
	p, err := profile.Parse([]byte(doc))
	require.NoError(t, err)
	_, err = p.AddDerivedColumn("nope", "x", nil)
	assert.Error(t, err)
	_, err = p.AddDerivedColumn("ward", " @ ", nil)
	assert.Error(t, err)

	byAlias, err := p.AddDerivedColumn("patient", "cohort", map[string]string{})
	require.NoError(t, err)
	c, _ := p.Column(byAlias)
	assert.Equal(t, "hn", c.Derivation.Source)
}

func TestNewFromTable_FlagsRegisteredDrugs(t *testing.T) {
	drugs := registry.NewDrugRegistry([]registry.Drug{{Name: "Amikacin", Abbreviations: []string{"AMK"}, Group: "Aminoglycosides"}})
	raw := table.New("lab", []string{"hn", "collected", "AMK"}, [][]string{{"1", "2024-01-01", "S"}})
	p := profile.NewFromTable(raw, drugs)
	require.Len(t, p.Columns, 3)
	assert.False(t, p.Columns[0].Drug)
	assert.Equal(t, "numeric", p.Columns[0].Type)
	assert.Equal(t, "datetime", p.Columns[1].Type)
	assert.True(t, p.Columns[2].Drug)
	assert.NoError(t, p.ApplyToTable(raw))
}

func TestSaveLoadAndUpdate(t *testing.T) {
	p, err := profile.Parse([]byte(doc))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "nested", "profile.json")
	require.NoError(t, p.SaveAs(path))
	assert.Equal(t, path, p.Path)

	loaded, err := profile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, p.Columns, loaded.Columns)

	err = loaded.Update("ward", func(c *profile.ColumnAttribute) { c.Alias = "patient" })
	assert.ErrorIs(t, err, profile.ErrInvalidProfile)
	c, _ := loaded.Column("ward")
	assert.Equal(t, "ward", c.Alias, "failed update is reverted")

	require.NoError(t, loaded.Update("ward", func(c *profile.ColumnAttribute) { c.Keep = false }))
	require.NoError(t, loaded.Save())
	reread, err := profile.Load(path)
	require.NoError(t, err)
	c, _ = reread.Column("ward")
	assert.False(t, c.Keep)

	_, err = profile.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
