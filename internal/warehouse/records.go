package warehouse

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/KaramelBytes/biogram-cli/internal/profile"
	"github.com/KaramelBytes/biogram-cli/internal/table"
)

const surKeyColumn = "sur_key"

// SaveRecords stores a raw table in normalized form: non-drug columns in records, one row per
// (record, drug) result in drugs, linked by a generated surrogate key, and the drug column order
// in drug_columns. Existing record tables are replaced.
func (s *Store) SaveRecords(ctx context.Context, raw *table.Table, prof *profile.Profile) (int, error) {
	if err := prof.ApplyToTable(raw); err != nil {
		return 0, err
	}
	var infoCols, drugCols []string
	for _, c := range raw.Columns {
		if attr, ok := prof.Column(c); ok && attr.Drug {
			drugCols = append(drugCols, c)
			continue
		}
		infoCols = append(infoCols, c)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	recCols := append([]string{surKeyColumn}, infoCols...)
	drugTableCols := []string{surKeyColumn, "drug", "sensitivity"}
	drugColumnCols := []string{"position", "drug"}
	if err := createTable(ctx, tx, RecordsTable, recCols, true); err != nil {
		return 0, err
	}
	if err := createTable(ctx, tx, DrugsTable, drugTableCols, true); err != nil {
		return 0, err
	}
	if err := createTable(ctx, tx, DrugColumnsTable, drugColumnCols, true); err != nil {
		return 0, err
	}
	colStmt, err := insertStmt(ctx, tx, DrugColumnsTable, drugColumnCols)
	if err != nil {
		return 0, fmt.Errorf("prepare drug columns insert: %w", err)
	}
	defer colStmt.Close()
	for i, c := range drugCols {
		if _, err := colStmt.ExecContext(ctx, strconv.Itoa(i), c); err != nil {
			return 0, fmt.Errorf("insert drug column %s: %w", c, err)
		}
	}
	recStmt, err := insertStmt(ctx, tx, RecordsTable, recCols)
	if err != nil {
		return 0, fmt.Errorf("prepare records insert: %w", err)
	}
	defer recStmt.Close()
	drugStmt, err := insertStmt(ctx, tx, DrugsTable, drugTableCols)
	if err != nil {
		return 0, fmt.Errorf("prepare drugs insert: %w", err)
	}
	defer drugStmt.Close()

	infoIdx := make([]int, len(infoCols))
	for i, c := range infoCols {
		infoIdx[i] = raw.Index(c)
	}
	drugIdx := make([]int, len(drugCols))
	for i, c := range drugCols {
		drugIdx[i] = raw.Index(c)
	}
	for n, row := range raw.Rows {
		key := uuid.NewString()
		args := make([]any, 0, len(recCols))
		args = append(args, key)
		for _, i := range infoIdx {
			args = append(args, row[i])
		}
		if _, err := recStmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("insert record %d: %w", n, err)
		}
		for j, i := range drugIdx {
			if row[i] == "" {
				continue
			}
			if _, err := drugStmt.ExecContext(ctx, key, drugCols[j], row[i]); err != nil {
				return 0, fmt.Errorf("insert record %d drug %s: %w", n, drugCols[j], err)
			}
		}
	}
	if err := s.writeMetadata(ctx, tx, prof.Path); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(raw.Rows), nil
}

// LoadRecords rebuilds the wide raw table: record columns in stored order followed by every
// stored drug column. Missing results load as empty cells.
func (s *Store) LoadRecords(ctx context.Context) (*table.Table, error) {
	cols, err := s.columns(ctx, RecordsTable)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 || cols[0] != surKeyColumn {
		return nil, fmt.Errorf("%w: records table lacks %s", ErrNoData, surKeyColumn)
	}
	rows, err := s.db.QueryxContext(ctx, fmt.Sprintf("SELECT * FROM %s", quote(RecordsTable)))
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	recs, err := scanStrings(rows, len(cols))
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("SELECT %s, %s, %s FROM %s", quote(surKeyColumn), quote("drug"), quote("sensitivity"), quote(DrugsTable))
	drows, err := s.db.QueryxContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select drugs: %w", err)
	}
	results, err := scanStrings(drows, 3)
	_ = drows.Close()
	if err != nil {
		return nil, err
	}

	drugs, err := s.drugColumns(ctx)
	if err != nil {
		return nil, err
	}
	drugPos := map[string]int{}
	for i, d := range drugs {
		drugPos[d] = i
	}
	byKey := map[string]map[string]string{}
	for _, r := range results {
		key, drug, sens := r[0], r[1], r[2]
		if _, ok := drugPos[drug]; !ok {
			drugPos[drug] = len(drugs)
			drugs = append(drugs, drug)
		}
		if byKey[key] == nil {
			byKey[key] = map[string]string{}
		}
		byKey[key][drug] = sens
	}

	header := append(append([]string(nil), cols[1:]...), drugs...)
	out := make([][]string, 0, len(recs))
	for _, r := range recs {
		row := append([]string(nil), r[1:]...)
		for _, d := range drugs {
			row = append(row, byKey[r[0]][d])
		}
		out = append(out, row)
	}
	return table.New(RecordsTable, header, out), nil
}

// drugColumns returns the stored drug column order. Stores written without drug_columns yield
// nil, and LoadRecords falls back to the order drugs first appear in results.
func (s *Store) drugColumns(ctx context.Context) ([]string, error) {
	if _, err := s.columns(ctx, DrugColumnsTable); err != nil {
		if errors.Is(err, ErrNoData) {
			return nil, nil
		}
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s, %s FROM %s", quote("position"), quote("drug"), quote(DrugColumnsTable))
	rows, err := s.db.QueryxContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select drug columns: %w", err)
	}
	recs, err := scanStrings(rows, 2)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}
	type col struct {
		pos  int
		name string
	}
	cols := make([]col, 0, len(recs))
	for _, r := range recs {
		n, err := strconv.Atoi(r[0])
		if err != nil {
			return nil, fmt.Errorf("drug column %s: bad position %q", r[1], r[0])
		}
		cols = append(cols, col{n, r[1]})
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].pos < cols[j].pos })
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.name
	}
	return out, nil
}
