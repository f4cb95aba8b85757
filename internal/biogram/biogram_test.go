package biogram_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/biogram-cli/internal/biogram"
	"github.com/KaramelBytes/biogram-cli/internal/profile"
	"github.com/KaramelBytes/biogram-cli/internal/registry"
	"github.com/KaramelBytes/biogram-cli/internal/table"
)

func testProfile(drugs ...string) *profile.Profile {
	p := &profile.Profile{Organisms: map[string]registry.Organism{}}
	p.Columns = []profile.ColumnAttribute{
		{Name: "patientId", Alias: "patientId", Key: true, Keep: true},
		{Name: "ward", Alias: "ward", Keep: true},
		{Name: "collected", Alias: "collected", Date: true, Keep: true},
		{Name: "org", Alias: "organism", Organism: true, Keep: true},
	}
	for _, d := range drugs {
		p.Columns = append(p.Columns, profile.ColumnAttribute{Name: d, Alias: d, Drug: true, Keep: true})
	}
	return p
}

func testDrugs() *registry.DrugRegistry {
	return registry.NewDrugRegistry([]registry.Drug{
		{Name: "Amikacin", Abbreviations: []string{"AMK", "AN"}, Group: "Aminoglycosides"},
		{Name: "Ciprofloxacin", Abbreviations: []string{"CIP"}, Group: "Quinolones"},
	})
}

func flatten(t *testing.T, raw *table.Table, p *profile.Profile) *biogram.FactTable {
	t.Helper()
	ft, err := biogram.Flatten(raw, p, testDrugs(), nil, biogram.FlattenOptions{
		DedupKeys:  []string{"patientId"},
		SortByDate: true,
	})
	require.NoError(t, err)
	return ft
}

func TestFlatten_KeepsEarliestDuplicate(t *testing.T) {
	raw := table.New("lab", []string{"patientId", "ward", "collected", "org", "AMK"}, [][]string{
		{"P1", "ICU", "2024-03-10", "ECOLI", "S"},
		{"P1", "ICU", "2024-01-05", "ECOLI", "R"},
		{"P2", "ER", "2024-02-01", "ECOLI", "S"},
	})
	ft := flatten(t, raw, testProfile("AMK"))

	require.Equal(t, 2, ft.Isolates)
	require.Len(t, ft.Facts, 2)
	assert.Equal(t, "R", ft.Facts[0].Sensitivity, "earliest P1 record must survive")
	assert.Equal(t, "S", ft.Facts[1].Sensitivity)
	assert.Contains(t, ft.Warnings, "1 duplicate records removed")

	res, err := biogram.Aggregate(ft, biogram.AggregateOptions{ByDrugGroup: true})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	cell, ok := res.Cell([]string{}, biogram.Column{Group: "Aminoglycosides", Drug: "AMK"})
	require.True(t, ok)
	assert.Equal(t, 2, cell.Total)
	assert.Equal(t, 1, cell.CountS)
	assert.Equal(t, 1, cell.CountIR)
	assert.Equal(t, 50.0, cell.PctS)
	assert.Equal(t, "50 (1)", cell.NarstS)
}

func TestFlatten_FileOrderWithoutDateSort(t *testing.T) {
	raw := table.New("lab", []string{"patientId", "ward", "collected", "org", "AMK"}, [][]string{
		{"P1", "ICU", "2024-03-10", "ECOLI", "S"},
		{"P1", "ICU", "2024-01-05", "ECOLI", "R"},
	})
	ft, err := biogram.Flatten(raw, testProfile("AMK"), testDrugs(), nil, biogram.FlattenOptions{DedupKeys: []string{"patientId"}})
	require.NoError(t, err)
	require.Len(t, ft.Facts, 1)
	assert.Equal(t, "S", ft.Facts[0].Sensitivity)
}

func TestFlatten_RowCountLaw(t *testing.T) {
	raw := table.New("lab", []string{"patientId", "ward", "collected", "org", "AMK", "CIP", "XYZ"}, [][]string{
		{"P1", "ICU", "2024-01-01", "ECOLI", "S", "R", ""},
		{"P1", "ICU", "2024-01-02", "ECOLI", "S", "R", "S"},
		{"P1", "ICU", "2024-01-03", "KPNEU", "S", "-", "S"},
		{"P2", "ER", "2024-01-04", "ECOLI", "I", "S", "R"},
	})
	ft := flatten(t, raw, testProfile("AMK", "CIP", "XYZ"))
	assert.Equal(t, 3, ft.Isolates)
	assert.Equal(t, ft.Isolates*len(ft.Drugs), ft.Len())
}

func TestFlatten_UnknownDrugAndOrganism(t *testing.T) {
	raw := table.New("lab", []string{"patientId", "ward", "collected", "org", "XYZ"}, [][]string{
		{"P1", "ICU", "2024-01-01", "QQQ", "S"},
	})
	ft := flatten(t, raw, testProfile("XYZ"))
	require.Len(t, ft.Facts, 1)
	assert.Equal(t, registry.Unspecified, ft.Facts[0].DrugGroup)
	assert.Equal(t, "QQQ QQQ", ft.Facts[0].Organism.Name)
}

func TestFlatten_OrganismOverridesAndNotTested(t *testing.T) {
	p := testProfile("AMK")
	p.Organisms["ECOLI"] = registry.Organism{Genus: "Escherichia", Species: "coli"}
	raw := table.New("lab", []string{"patientId", "ward", "collected", "org", "AMK"}, [][]string{
		{"P1", "ICU", "2024-01-01", "ECOLI", " s "},
		{"P2", "ICU", "2024-01-01", "ECOLI", "NT"},
		{"P3", "ICU", "2024-01-01", "", "S"},
	})
	ft := flatten(t, raw, p)
	require.Len(t, ft.Facts, 2)
	assert.Equal(t, "Escherichia coli", ft.Facts[0].Organism.Name)
	assert.Equal(t, biogram.Susceptible, ft.Facts[0].Sensitivity)
	assert.Equal(t, biogram.NotTested, ft.Facts[1].Sensitivity)
	assert.Contains(t, ft.Warnings, "1 records without an organism code skipped")
}

func TestFlatten_ConfigurationErrors(t *testing.T) {
	raw := table.New("lab", []string{"patientId", "ward", "collected", "org", "AMK"}, nil)

	noOrg := testProfile("AMK")
	noOrg.Columns[3].Keep = false
	_, err := biogram.Flatten(raw, noOrg, testDrugs(), nil, biogram.FlattenOptions{DedupKeys: []string{"patientId"}})
	assert.ErrorIs(t, err, biogram.ErrMissingOrganismColumn)

	_, err = biogram.Flatten(raw, testProfile("AMK"), testDrugs(), nil, biogram.FlattenOptions{})
	assert.ErrorIs(t, err, biogram.ErrMissingDedupKeys)

	noDate := testProfile("AMK")
	noDate.Columns[2].Date = false
	_, err = biogram.Flatten(raw, noDate, testDrugs(), nil, biogram.FlattenOptions{DedupKeys: []string{"patientId"}, SortByDate: true})
	assert.ErrorIs(t, err, biogram.ErrMissingDateColumn)

	_, err = biogram.Flatten(raw, testProfile("AMK"), testDrugs(), nil, biogram.FlattenOptions{DedupKeys: []string{"nope"}})
	assert.ErrorIs(t, err, biogram.ErrUnknownColumn)
	assert.Equal(t, biogram.KindConfiguration, biogram.Kind(err))

	stamped := testProfile("AMK")
	stamped.Columns[1].Alias = biogram.ColAddedAt
	_, err = biogram.Flatten(raw, stamped, testDrugs(), nil, biogram.FlattenOptions{DedupKeys: []string{"patientId"}})
	assert.ErrorIs(t, err, profile.ErrInvalidProfile)

	wrong := table.New("lab", []string{"patientId", "ward", "org", "AMK", "extra"}, nil)
	_, err = biogram.Flatten(wrong, testProfile("AMK"), testDrugs(), nil, biogram.FlattenOptions{DedupKeys: []string{"patientId"}})
	var sm *profile.SchemaMismatchError
	require.True(t, errors.As(err, &sm))
	assert.Equal(t, []string{"collected"}, sm.Missing)
	assert.Equal(t, []string{"extra"}, sm.Unexpected)
	assert.Equal(t, biogram.KindSchemaMismatch, biogram.Kind(err))
}

func TestFlatten_DerivedColumnIsIndexable(t *testing.T) {
	p := testProfile("AMK")
	name, err := p.AddDerivedColumn("ward", "area", map[string]string{"ICU": "critical", "CCU": "critical"})
	require.NoError(t, err)
	raw := table.New("lab", []string{"patientId", "ward", "collected", "org", "AMK"}, [][]string{
		{"P1", "ICU", "2024-01-01", "ECOLI", "S"},
		{"P2", "CCU", "2024-01-01", "ECOLI", "R"},
		{"P3", "ER", "2024-01-01", "ECOLI", "S"},
	})
	ft := flatten(t, raw, p)
	res, err := biogram.Aggregate(ft, biogram.AggregateOptions{Index: []string{name}})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []string{"ER"}, res.Rows[0].Key)
	assert.Equal(t, []string{"critical"}, res.Rows[1].Key)
	assert.Equal(t, 2, res.Rows[1].Isolates)
}

func multiOrgFacts(t *testing.T) *biogram.FactTable {
	t.Helper()
	rows := [][]string{}
	for i := 0; i < 6; i++ {
		rows = append(rows, []string{fmt.Sprintf("E%d", i), "ICU", fmt.Sprintf("2024-01-%02d", i+1), "ECOLI", []string{"S", "R", "I"}[i%3], "S"})
	}
	for i := 0; i < 2; i++ {
		rows = append(rows, []string{fmt.Sprintf("K%d", i), "ER", "2024-02-01", "KPNEU", "R", "-"})
	}
	raw := table.New("lab", []string{"patientId", "ward", "collected", "org", "AMK", "CIP"}, rows)
	return flatten(t, raw, testProfile("AMK", "CIP"))
}

func TestAggregate_CutoffEmptyResult(t *testing.T) {
	raw := table.New("lab", []string{"patientId", "ward", "collected", "org", "AMK"}, [][]string{
		{"P1", "ICU", "2024-01-01", "ECOLI", "S"},
		{"P2", "ICU", "2024-01-02", "ECOLI", "R"},
	})
	ft := flatten(t, raw, testProfile("AMK"))
	_, err := biogram.Aggregate(ft, biogram.AggregateOptions{Index: []string{"organism_name"}, Cutoff: 5})
	require.ErrorIs(t, err, biogram.ErrEmptyResult)
	assert.Equal(t, biogram.KindEmptyResult, biogram.Kind(err))
}

func TestAggregate_CutoffMonotonic(t *testing.T) {
	ft := multiOrgFacts(t)
	prev := -1
	for cutoff := 0; cutoff <= 8; cutoff++ {
		res, err := biogram.Aggregate(ft, biogram.AggregateOptions{Index: []string{"organism"}, Cutoff: cutoff})
		n := 0
		if err == nil {
			n = len(res.Rows)
		} else {
			require.ErrorIs(t, err, biogram.ErrEmptyResult)
		}
		if prev >= 0 {
			assert.LessOrEqual(t, n, prev, "cutoff %d", cutoff)
		}
		prev = n
	}
	res, err := biogram.Aggregate(ft, biogram.AggregateOptions{Index: []string{"organism"}, Cutoff: 3})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"ECOLI"}, res.Rows[0].Key)
	assert.Equal(t, 1, res.Dropped)
}

func TestAggregate_PercentageBoundAndEmptyCells(t *testing.T) {
	ft := multiOrgFacts(t)
	res, err := biogram.Aggregate(ft, biogram.AggregateOptions{Index: []string{"organism_name"}, ByDrugGroup: true})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []biogram.Column{
		{Group: "Aminoglycosides", Drug: "AMK"},
		{Group: "Quinolones", Drug: "CIP"},
	}, res.Columns)

	for _, row := range res.Rows {
		for _, c := range row.Cells {
			if !c.Defined() {
				assert.Zero(t, c.PctS)
				assert.Zero(t, c.PctIR)
				assert.Empty(t, c.NarstS)
				assert.Empty(t, c.NarstIR)
				continue
			}
			assert.GreaterOrEqual(t, c.PctS, 0.0)
			assert.LessOrEqual(t, c.PctS, 100.0)
			assert.InDelta(t, 100.0, c.PctS+c.PctIR, 0.01)
		}
	}

	ecoli, ok := res.Cell([]string{"ECOLI ECOLI"}, biogram.Column{Group: "Aminoglycosides", Drug: "AMK"})
	require.True(t, ok)
	assert.Equal(t, 6, ecoli.Total)
	assert.Equal(t, 2, ecoli.CountS)
	assert.Equal(t, 33.33, ecoli.PctS)
	assert.Equal(t, 66.67, ecoli.PctIR)
	assert.Equal(t, "33 (2)", ecoli.NarstS)
	assert.Equal(t, "67 (4)", ecoli.NarstIR)

	kpneuCIP, ok := res.Cell([]string{"KPNEU KPNEU"}, biogram.Column{Group: "Quinolones", Drug: "CIP"})
	require.True(t, ok)
	assert.False(t, kpneuCIP.Defined())
}

func TestAggregate_ByDrugOnly(t *testing.T) {
	res, err := biogram.Aggregate(multiOrgFacts(t), biogram.AggregateOptions{})
	require.NoError(t, err)
	assert.Equal(t, []biogram.Column{{Drug: "AMK"}, {Drug: "CIP"}}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, 8, res.Rows[0].Isolates)
}

func TestAggregate_DateRange(t *testing.T) {
	ft := multiOrgFacts(t)
	r := &biogram.DateRange{}
	r.Start, _ = table.ParseDate("2024-01-02")
	r.End, _ = table.ParseDate("2024-01-03")
	res, err := biogram.Aggregate(ft, biogram.AggregateOptions{Range: r})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows[0].Isolates)
	assert.Equal(t, 2, res.Rows[0].Cells[0].Total)

	sub, err := ft.Between(*r)
	require.NoError(t, err)
	assert.Equal(t, 4, sub.Len())
}

func TestAggregate_Deterministic(t *testing.T) {
	ft := multiOrgFacts(t)
	opt := biogram.AggregateOptions{Index: []string{"ward", "organism_name"}, ByDrugGroup: true}
	a, err := biogram.Aggregate(ft, opt)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		b, err := biogram.Aggregate(ft, opt)
		require.NoError(t, err)
		require.Equal(t, a, b)
	}
}

func TestAggregate_Errors(t *testing.T) {
	ft := multiOrgFacts(t)
	_, err := biogram.Aggregate(ft, biogram.AggregateOptions{Cutoff: -1})
	assert.ErrorIs(t, err, biogram.ErrInvalidCutoff)

	_, err = biogram.Aggregate(ft, biogram.AggregateOptions{Index: []string{"sensitivity"}})
	assert.ErrorIs(t, err, biogram.ErrUnknownColumn)
	assert.Contains(t, err.Error(), "choose from")
	for _, c := range ft.IndexChoices() {
		assert.Contains(t, err.Error(), c)
	}

	broken := *ft
	broken.Facts = append([]biogram.Fact(nil), ft.Facts...)
	broken.Facts[3].Drug = ""
	_, err = biogram.Aggregate(&broken, biogram.AggregateOptions{})
	var ie *biogram.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 3, ie.Row)
	assert.Equal(t, biogram.KindIntegrity, biogram.Kind(err))
}
