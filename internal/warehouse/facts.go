package warehouse

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KaramelBytes/biogram-cli/internal/biogram"
	"github.com/KaramelBytes/biogram-cli/internal/registry"
)

// SaveFacts writes the fact table and a metadata row in one transaction. It returns the rows written.
func (s *Store) SaveFacts(ctx context.Context, ft *biogram.FactTable, profilePath string, mode Mode) (int, error) {
	cols := append(ft.Columns(), biogram.ColAddedAt)
	if mode == ModeAppend {
		existing, err := s.columns(ctx, FactsTable)
		switch {
		case errors.Is(err, ErrNoData):
			mode = ModeReplace
		case err != nil:
			return 0, err
		case !sameColumns(existing, cols):
			return 0, fmt.Errorf("%w: stored %s, new %s", ErrColumnsDiffer, strings.Join(existing, ","), strings.Join(cols, ","))
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := createTable(ctx, tx, FactsTable, cols, mode == ModeReplace); err != nil {
		return 0, err
	}
	stmt, err := insertStmt(ctx, tx, FactsTable, cols)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	added := time.Now().UTC().Format(time.RFC3339)
	for i := range ft.Facts {
		rec := ft.Record(&ft.Facts[i])
		args := make([]any, 0, len(cols))
		for _, v := range rec {
			args = append(args, v)
		}
		args = append(args, added)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("insert fact %d: %w", i, err)
		}
	}
	if err := s.writeMetadata(ctx, tx, profilePath); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(ft.Facts), nil
}

// Snapshot is a fact table loaded from the warehouse plus its metadata.
type Snapshot struct {
	Facts       *biogram.FactTable
	ProfilePath string
	UpdatedAt   string
}

// LoadFacts reads the stored facts. Dedup keys and the date column are not stored and must be
// set on the returned table by the caller.
func (s *Store) LoadFacts(ctx context.Context) (*Snapshot, error) {
	meta, err := s.LatestMetadata(ctx)
	if err != nil {
		return nil, err
	}
	cols, err := s.columns(ctx, FactsTable)
	if err != nil {
		return nil, err
	}
	pos := map[string]int{}
	for i, c := range cols {
		pos[c] = i
	}
	fixed := []string{biogram.ColOrganism, biogram.ColGenus, biogram.ColSpecies, biogram.ColOrganismName,
		biogram.ColDrug, biogram.ColDrugGroup, biogram.ColSensitivity}
	for _, c := range fixed {
		if _, ok := pos[c]; !ok {
			return nil, fmt.Errorf("%w: facts table lacks column %q", ErrNoData, c)
		}
	}
	ft := &biogram.FactTable{OrganismAlias: biogram.ColOrganism}
	var infoPos []int
	for i, c := range cols {
		if c == biogram.ColOrganism {
			break
		}
		ft.InfoColumns = append(ft.InfoColumns, c)
		infoPos = append(infoPos, i)
	}

	rows, err := s.db.QueryxContext(ctx, fmt.Sprintf("SELECT * FROM %s", quote(FactsTable)))
	if err != nil {
		return nil, fmt.Errorf("select facts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	recs, err := scanStrings(rows, len(cols))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: facts table is empty", ErrNoData)
	}

	// Facts of one isolate share their info slice, as Flatten produces them.
	shared := map[string][]string{}
	seenDrug := map[string]bool{}
	ft.Facts = make([]biogram.Fact, 0, len(recs))
	for _, r := range recs {
		info := make([]string, len(infoPos))
		for j, p := range infoPos {
			info[j] = r[p]
		}
		org := registry.ResolvedOrganism{
			Code:    r[pos[biogram.ColOrganism]],
			Genus:   r[pos[biogram.ColGenus]],
			Species: r[pos[biogram.ColSpecies]],
			Name:    r[pos[biogram.ColOrganismName]],
		}
		key := strings.Join(info, "\x1f") + "\x1e" + org.Name
		if prev, ok := shared[key]; ok {
			info = prev
		} else {
			shared[key] = info
		}
		drug := r[pos[biogram.ColDrug]]
		if !seenDrug[drug] {
			seenDrug[drug] = true
			ft.Drugs = append(ft.Drugs, drug)
		}
		ft.Facts = append(ft.Facts, biogram.Fact{
			Info:        info,
			Organism:    org,
			Drug:        drug,
			DrugGroup:   r[pos[biogram.ColDrugGroup]],
			Sensitivity: r[pos[biogram.ColSensitivity]],
		})
	}
	ft.Isolates = len(shared)
	return &Snapshot{Facts: ft, ProfilePath: meta.Profile, UpdatedAt: meta.UpdatedAt}, nil
}

// ResolveProfilePath returns the stored profile path when it exists, else the file of the
// same name next to the SQLite database.
func (s *Store) ResolveProfilePath(stored string) (string, error) {
	if stored == "" {
		return "", fmt.Errorf("%w: no profile recorded", ErrNoData)
	}
	if _, err := os.Stat(stored); err == nil {
		return stored, nil
	}
	if s.driver == DriverSQLite {
		alt := filepath.Join(filepath.Dir(s.dsn), filepath.Base(stored))
		if _, err := os.Stat(alt); err == nil {
			return alt, nil
		}
	}
	return "", fmt.Errorf("profile %s: %w", stored, fs.ErrNotExist)
}
