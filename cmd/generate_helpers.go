package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/KaramelBytes/biogram-cli/internal/biogram"
	cfgpkg "github.com/KaramelBytes/biogram-cli/internal/config"
	"github.com/KaramelBytes/biogram-cli/internal/profile"
	"github.com/KaramelBytes/biogram-cli/internal/registry"
	"github.com/KaramelBytes/biogram-cli/internal/report"
	"github.com/KaramelBytes/biogram-cli/internal/table"
	"github.com/KaramelBytes/biogram-cli/internal/warehouse"
)

// pipelineOptions carries everything one generate run needs after flags and config are merged.
type pipelineOptions struct {
	ProfilePath string
	DataPath    string
	// FromWarehouse builds from stored facts instead of DataPath.
	FromWarehouse bool
	Index         []string
	Dedup         []string
	Cutoff        int
	Range         *biogram.DateRange
	Sections      []string
	ByDrugGroup   bool
	SortByDate    bool
	// SortExplicit is set when the user asked for date sorting on the command line.
	SortExplicit bool
}

// factsRun is a flattened fact table plus where it came from.
type factsRun struct {
	Facts   *biogram.FactTable
	Profile *profile.Profile
	Source  string
}

func tableOptions(c *cfgpkg.Global) table.Options {
	return table.Options{Delimiter: c.DelimiterRune(), SheetName: c.SheetName, SheetIndex: c.SheetIndex}
}

// loadDrugs reads the configured drug registry. Without one every drug is "unspecified".
func loadDrugs(c *cfgpkg.Global) (*registry.DrugRegistry, error) {
	if c.DrugRegistry == "" {
		slog.Warn("no drug_registry configured; drug groups will be unspecified")
		return registry.NewDrugRegistry(nil), nil
	}
	return registry.LoadDrugs(c.DrugRegistry, tableOptions(c))
}

// loadOrganisms merges the configured override table under the profile overrides.
func loadOrganisms(c *cfgpkg.Global, prof *profile.Profile) (*registry.OrganismRegistry, error) {
	if c.OrganismFile == "" {
		return prof.OrganismRegistry(), nil
	}
	base, err := registry.LoadOrganisms(c.OrganismFile, tableOptions(c))
	if err != nil {
		return nil, err
	}
	return base.Merge(prof.OrganismRegistry()), nil
}

// isRecordStore reports whether path names a SQLite records store rather than a flat file.
func isRecordStore(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

// readRaw loads the raw table from a CSV/XLSX file or a records store.
func readRaw(ctx context.Context, c *cfgpkg.Global, path string) (*table.Table, error) {
	if !isRecordStore(path) {
		return table.Read(path, tableOptions(c))
	}
	s, err := warehouse.Open(ctx, warehouse.DriverSQLite, path)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.LoadRecords(ctx)
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseRange builds an inclusive date window. Both ends are required when either is set.
func parseRange(start, end string) (*biogram.DateRange, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, errors.New("--start and --end must be given together")
	}
	s, ok := table.ParseDate(start)
	if !ok {
		return nil, fmt.Errorf("invalid --start date: %s", start)
	}
	e, ok := table.ParseDate(end)
	if !ok {
		return nil, fmt.Errorf("invalid --end date: %s", end)
	}
	if e.Before(s) {
		return nil, fmt.Errorf("--end %s is before --start %s", end, start)
	}
	return &biogram.DateRange{Start: s, End: e}, nil
}

// dedupKeys picks the explicit keys, else the profile's key columns.
func dedupKeys(prof *profile.Profile, explicit []string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	return prof.ColumnsWithRole(profile.RoleKey)
}

// buildFacts runs the flattener on a raw file, or loads stored facts from the warehouse.
func buildFacts(ctx context.Context, c *cfgpkg.Global, opt pipelineOptions) (*factsRun, error) {
	if opt.FromWarehouse {
		return warehouseFacts(ctx, c, opt)
	}
	if opt.ProfilePath == "" {
		return nil, errors.New("--profile is required")
	}
	if opt.DataPath == "" {
		return nil, errors.New("--data is required (or use --warehouse)")
	}
	prof, err := profile.Load(opt.ProfilePath)
	if err != nil {
		return nil, err
	}
	raw, err := readRaw(ctx, c, opt.DataPath)
	if err != nil {
		return nil, err
	}
	drugs, err := loadDrugs(c)
	if err != nil {
		return nil, err
	}
	orgs, err := loadOrganisms(c, prof)
	if err != nil {
		return nil, err
	}
	sortByDate := opt.SortByDate
	if sortByDate && !opt.SortExplicit && len(prof.ColumnsWithRole(profile.RoleDate)) == 0 {
		slog.Debug("profile has no date column; keeping file order for deduplication")
		sortByDate = false
	}
	ft, err := biogram.Flatten(raw, prof, drugs, orgs, biogram.FlattenOptions{
		DedupKeys:  dedupKeys(prof, opt.Dedup),
		SortByDate: sortByDate,
	})
	if err != nil {
		return nil, err
	}
	for _, w := range ft.Warnings {
		slog.Warn(w, "data", opt.DataPath)
	}
	slog.Debug("flattened", "records", raw.Len(), "isolates", ft.Isolates, "facts", ft.Len())
	return &factsRun{Facts: ft, Profile: prof, Source: opt.DataPath}, nil
}

func warehouseFacts(ctx context.Context, c *cfgpkg.Global, opt pipelineOptions) (*factsRun, error) {
	s, err := warehouse.Open(ctx, c.WarehouseDriver, c.WarehouseDSN)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	snap, err := s.LoadFacts(ctx)
	if err != nil {
		return nil, err
	}
	path := opt.ProfilePath
	if path == "" {
		if path, err = s.ResolveProfilePath(snap.ProfilePath); err != nil {
			return nil, err
		}
	}
	prof, err := profile.Load(path)
	if err != nil {
		return nil, err
	}
	ft := snap.Facts
	if err := ft.SetDedupKeys(dedupKeys(prof, opt.Dedup)); err != nil {
		return nil, err
	}
	if dates := prof.ColumnsWithRole(profile.RoleDate); len(dates) > 0 && ft.HasColumn(dates[0]) {
		if err := ft.SetDateColumn(dates[0]); err != nil {
			return nil, err
		}
	}
	slog.Debug("loaded warehouse facts", "driver", s.Driver(), "facts", ft.Len(), "updated_at", snap.UpdatedAt)
	return &factsRun{Facts: ft, Profile: prof, Source: s.Driver() + ":" + maskDSN(s.DSN())}, nil
}

// runPipeline flattens, aggregates and assembles one report.
func runPipeline(ctx context.Context, c *cfgpkg.Global, opt pipelineOptions) (*report.Report, *factsRun, error) {
	run, err := buildFacts(ctx, c, opt)
	if err != nil {
		return nil, nil, err
	}
	res, err := biogram.Aggregate(run.Facts, biogram.AggregateOptions{
		Index:       opt.Index,
		Cutoff:      opt.Cutoff,
		Range:       opt.Range,
		ByDrugGroup: opt.ByDrugGroup,
	})
	if err != nil {
		return nil, run, err
	}
	if res.Dropped > 0 {
		slog.Info("groups below cutoff removed", "dropped", res.Dropped, "cutoff", opt.Cutoff)
	}
	rep, err := report.Assemble(res, report.Info{
		ProfilePath: run.Profile.Path,
		DataSource:  run.Source,
		Range:       opt.Range,
	}, opt.Sections...)
	if err != nil {
		return nil, run, err
	}
	return rep, run, nil
}

// explain adds an actionable hint to pipeline errors.
func explain(err error) error {
	if err == nil {
		return nil
	}
	switch biogram.Kind(err) {
	case biogram.KindSchemaMismatch:
		return fmt.Errorf("%w\n  Hint: run 'biogram profile check' and update the profile to match the data", err)
	case biogram.KindConfiguration:
		return fmt.Errorf("%w\n  Hint: check the profile roles and the --index/--dedup/--cutoff flags", err)
	case biogram.KindEmptyResult:
		return fmt.Errorf("%w\n  Hint: lower --cutoff or widen the date range", err)
	case biogram.KindIntegrity:
		return fmt.Errorf("%w\n  Hint: the fact table is inconsistent; rebuild it from the raw data", err)
	}
	return err
}
