package warehouse_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/biogram-cli/internal/biogram"
	"github.com/KaramelBytes/biogram-cli/internal/profile"
	"github.com/KaramelBytes/biogram-cli/internal/registry"
	"github.com/KaramelBytes/biogram-cli/internal/table"
	"github.com/KaramelBytes/biogram-cli/internal/warehouse"
)

func openStore(t *testing.T) (*warehouse.Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := warehouse.Open(context.Background(), "sqlite", filepath.Join(dir, "db", "biogram.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func labProfile() *profile.Profile {
	return &profile.Profile{
		Organisms: map[string]registry.Organism{"ECOLI": {Genus: "Escherichia", Species: "coli"}},
		Columns: []profile.ColumnAttribute{
			{Name: "hn", Alias: "patient", Key: true, Keep: true},
			{Name: "collected", Alias: "collected", Date: true, Keep: true},
			{Name: "org", Alias: "organism", Organism: true, Keep: true},
			{Name: "AMK", Alias: "AMK", Drug: true, Keep: true},
			{Name: "CIP", Alias: "CIP", Drug: true, Keep: true},
		},
	}
}

func labTable() *table.Table {
	return table.New("lab", []string{"hn", "collected", "org", "AMK", "CIP"}, [][]string{
		{"P1", "2024-01-02", "ECOLI", "S", "R"},
		{"P2", "2024-02-03", "ECOLI", "R", ""},
		{"P3", "2024-03-04", "KPNEU", "S", "S"},
	})
}

func labFacts(t *testing.T) *biogram.FactTable {
	t.Helper()
	drugs := registry.NewDrugRegistry([]registry.Drug{{Name: "Amikacin", Abbreviations: []string{"AMK"}, Group: "Aminoglycosides"}})
	ft, err := biogram.Flatten(labTable(), labProfile(), drugs, nil, biogram.FlattenOptions{DedupKeys: []string{"patient"}, SortByDate: true})
	require.NoError(t, err)
	return ft
}

func TestSaveAndLoadFacts(t *testing.T) {
	ctx := context.Background()
	s, dir := openStore(t)
	ft := labFacts(t)

	n, err := s.SaveFacts(ctx, ft, filepath.Join(dir, "profile.json"), warehouse.ModeReplace)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	snap, err := s.LoadFacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "profile.json"), snap.ProfilePath)
	got := snap.Facts
	assert.Equal(t, []string{"patient", "collected"}, got.InfoColumns)
	assert.Equal(t, []string{"AMK", "CIP"}, got.Drugs)
	assert.Equal(t, 3, got.Isolates)
	require.Len(t, got.Facts, 6)
	assert.Equal(t, "Escherichia coli", got.Facts[0].Organism.Name)
	for _, f := range got.Facts {
		if f.Drug == "CIP" {
			assert.Equal(t, registry.Unspecified, f.DrugGroup)
		}
	}

	require.NoError(t, got.SetDedupKeys([]string{"patient"}))
	require.NoError(t, got.SetDateColumn("collected"))
	res, err := biogram.Aggregate(got, biogram.AggregateOptions{Index: []string{"organism"}})
	require.NoError(t, err)
	want, err := biogram.Aggregate(ft, biogram.AggregateOptions{Index: []string{"organism"}})
	require.NoError(t, err)
	assert.Equal(t, want.Rows, res.Rows, "warehouse round trip preserves the antibiogram")
}

func TestSaveFactsAppend(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t)
	ft := labFacts(t)

	_, err := s.SaveFacts(ctx, ft, "p.json", warehouse.ModeAppend)
	require.NoError(t, err, "append into an empty warehouse creates the table")
	_, err = s.SaveFacts(ctx, ft, "p.json", warehouse.ModeAppend)
	require.NoError(t, err)
	snap, err := s.LoadFacts(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Facts.Facts, 12)

	other := *ft
	other.InfoColumns = []string{"patient"}
	_, err = s.SaveFacts(ctx, &other, "p.json", warehouse.ModeAppend)
	assert.ErrorIs(t, err, warehouse.ErrColumnsDiffer)

	_, err = s.SaveFacts(ctx, ft, "p.json", warehouse.ModeReplace)
	require.NoError(t, err)
	snap, err = s.LoadFacts(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Facts.Facts, 6)
}

func TestLoadFactsEmpty(t *testing.T) {
	s, _ := openStore(t)
	_, err := s.LoadFacts(context.Background())
	assert.ErrorIs(t, err, warehouse.ErrNoData)
}

func TestRecordsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t)
	p := labProfile()
	p.Path = "lab-profile.json"

	n, err := s.SaveRecords(ctx, labTable(), p)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.LoadRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hn", "collected", "org", "AMK", "CIP"}, got.Columns)
	assert.Equal(t, labTable().Rows, got.Rows)
	assert.NoError(t, p.ApplyToTable(got))

	meta, err := s.LatestMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "lab-profile.json", meta.Profile)

	bad := table.New("lab", []string{"hn"}, nil)
	_, err = s.SaveRecords(ctx, bad, p)
	assert.ErrorIs(t, err, profile.ErrSchemaMismatch)

	// a drug column with no result in any row still comes back
	blankCIP := table.New("lab", []string{"hn", "collected", "org", "AMK", "CIP"}, [][]string{
		{"P1", "2024-01-02", "ECOLI", "S", ""},
		{"P2", "2024-02-03", "ECOLI", "R", ""},
	})
	_, err = s.SaveRecords(ctx, blankCIP, p)
	require.NoError(t, err)
	got, err = s.LoadRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hn", "collected", "org", "AMK", "CIP"}, got.Columns)
	assert.Equal(t, blankCIP.Rows, got.Rows)
	assert.NoError(t, p.ApplyToTable(got))

	empty := table.New("lab", []string{"hn", "collected", "org", "AMK", "CIP"}, nil)
	n, err = s.SaveRecords(ctx, empty, p)
	require.NoError(t, err)
	assert.Zero(t, n)
	got, err = s.LoadRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hn", "collected", "org", "AMK", "CIP"}, got.Columns)
	assert.Empty(t, got.Rows)
}

func TestLatestMetadataPicksNewestSave(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t)
	ft := labFacts(t)
	for _, path := range []string{"first.json", "second.json", "third.json"} {
		_, err := s.SaveFacts(ctx, ft, path, warehouse.ModeReplace)
		require.NoError(t, err)
	}
	meta, err := s.LatestMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "third.json", meta.Profile)
}

func TestResolveProfilePath(t *testing.T) {
	s, dir := openStore(t)
	next := filepath.Join(dir, "db", "profile.json")
	require.NoError(t, os.WriteFile(next, []byte("{}"), 0o644))

	got, err := s.ResolveProfilePath("/elsewhere/profile.json")
	require.NoError(t, err)
	assert.Equal(t, next, got)

	_, err = s.ResolveProfilePath("/elsewhere/missing.json")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseModeAndDriver(t *testing.T) {
	m, err := warehouse.ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, warehouse.ModeReplace, m)
	m, err = warehouse.ParseMode("APPEND")
	require.NoError(t, err)
	assert.Equal(t, warehouse.ModeAppend, m)
	_, err = warehouse.ParseMode("merge")
	assert.Error(t, err)

	d, err := warehouse.NormalizeDriver("postgresql")
	require.NoError(t, err)
	assert.Equal(t, warehouse.DriverPostgres, d)
	_, err = warehouse.NormalizeDriver("mysql")
	assert.Error(t, err)
}
