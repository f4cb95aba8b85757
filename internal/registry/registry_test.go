package registry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/biogram-cli/internal/registry"
	"github.com/KaramelBytes/biogram-cli/internal/table"
)

func TestDrugRegistry_CaseInsensitiveLookup(t *testing.T) {
	r := registry.NewDrugRegistry([]registry.Drug{
		{Name: "Ciprofloxacin", Abbreviations: []string{"CIP"}, Group: "Quinolones"},
		{Name: "Amikacin", Abbreviations: []string{"AMK", " an "}, Group: "Aminoglycosides"},
	})
	info, ok := r.Lookup("amk")
	require.True(t, ok)
	assert.Equal(t, registry.DrugInfo{Name: "Amikacin", Group: "Aminoglycosides"}, info)

	info, ok = r.Lookup("AN")
	require.True(t, ok)
	assert.Equal(t, "Amikacin", info.Name)

	assert.Equal(t, registry.DrugInfo{Name: "XYZ", Group: registry.Unspecified}, r.LookupDrug("XYZ"))
	assert.False(t, r.Has("XYZ"))

	drugs := r.Drugs()
	require.Len(t, drugs, 2)
	assert.Equal(t, "Aminoglycosides", drugs[0].Group, "entries are ordered by group")
}

func TestDrugRegistry_NilIsUsable(t *testing.T) {
	var r *registry.DrugRegistry
	assert.Equal(t, registry.Unspecified, r.LookupDrug("AMK").Group)
	assert.Zero(t, r.Len())
}

func TestDrugRegistry_EmptyGroupIsUnspecified(t *testing.T) {
	r := registry.NewDrugRegistry([]registry.Drug{{Name: "Colistin", Abbreviations: []string{"CS"}}})
	assert.Equal(t, registry.Unspecified, r.LookupDrug("cs").Group)
}

func TestLoadDrugs_CSVAndJSON(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "drugs.csv")
	csv := "Drug,Abbreviation,Group\n" +
		"Amikacin,\"AMK, AN\",Aminoglycosides\n" +
		"Ampicillin,AMP,Penicillins\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(csv), 0o644))
	r, err := registry.LoadDrugs(csvPath, table.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, "Amikacin", r.LookupDrug("an").Name)

	jsonPath := filepath.Join(dir, "drugs.json")
	js := `[{"drug":"Ampicillin","abbreviation":"AMP,AM","group":"Penicillins"}]`
	require.NoError(t, os.WriteFile(jsonPath, []byte(js), 0o644))
	r, err = registry.LoadDrugs(jsonPath, table.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Penicillins", r.LookupDrug("am").Group)

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("name,code\nx,y\n"), 0o644))
	_, err = registry.LoadDrugs(bad, table.Options{})
	assert.ErrorContains(t, err, "missing column")
}

func TestOrganismRegistry_ResolveFallsBackToCode(t *testing.T) {
	r := registry.NewOrganismRegistry(map[string]registry.Organism{
		"ECOLI": {Genus: "Escherichia", Species: "coli"},
		"KSP":   {Genus: "Klebsiella"},
	})
	assert.Equal(t, registry.ResolvedOrganism{Code: "ECOLI", Genus: "Escherichia", Species: "coli", Name: "Escherichia coli"}, r.Resolve(" ECOLI "))
	assert.Equal(t, "Klebsiella KSP", r.Resolve("KSP").Name)
	assert.Equal(t, "PAE PAE", r.Resolve("PAE").Name)

	var nilReg *registry.OrganismRegistry
	assert.Equal(t, "PAE PAE", nilReg.Resolve("PAE").Name)
}

func TestOrganismRegistry_MergeAndLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "organisms.csv")
	require.NoError(t, os.WriteFile(p, []byte("code,genus,species\nECOLI,E.,coli\n,ignored,row\nSAU,Staphylococcus,aureus\n"), 0o644))
	file, err := registry.LoadOrganisms(p, table.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, file.Len())

	base := registry.NewOrganismRegistry(map[string]registry.Organism{"ECOLI": {Genus: "Escherichia", Species: "coli"}})
	merged := base.Merge(file)
	assert.Equal(t, "E. coli", merged.Resolve("ECOLI").Name)
	assert.Equal(t, "Staphylococcus aureus", merged.Resolve("SAU").Name)
	assert.Equal(t, "Escherichia coli", base.Resolve("ECOLI").Name, "merge must not mutate the receiver")

	_, err = registry.OrganismsFromTable(table.New("t", []string{"code"}, nil))
	assert.Error(t, err)
}
