// Package warehouse persists fact tables and raw records to SQLite or PostgreSQL.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/KaramelBytes/biogram-cli/internal/utils"
)

// Table names.
const (
	FactsTable    = "facts"
	MetadataTable = "metadata"
	RecordsTable  = "records"
	DrugsTable    = "drugs"
	// DrugColumnsTable lists the drug columns of the records store in their original order.
	DrugColumnsTable = "drug_columns"
)

// stampLayout is fixed width so metadata timestamps sort as strings.
const stampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func stamp(t time.Time) string { return t.UTC().Format(stampLayout) }

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Mode selects how SaveFacts treats an existing facts table.
type Mode string

const (
	ModeReplace Mode = "replace"
	ModeAppend  Mode = "append"
)

// ParseMode maps a flag value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeReplace:
		return ModeReplace, nil
	case ModeAppend:
		return ModeAppend, nil
	}
	return "", fmt.Errorf("unknown save mode %q (use replace|append)", s)
}

var (
	// ErrNoData is returned when a required table is missing or empty.
	ErrNoData = errors.New("warehouse holds no data")
	// ErrColumnsDiffer is returned when appending facts whose columns differ from the stored table.
	ErrColumnsDiffer = errors.New("fact columns differ from the stored table")
)

// Store wraps a warehouse connection.
type Store struct {
	db     *sqlx.DB
	driver string
	dsn    string
}

// NormalizeDriver maps driver aliases to a supported driver name.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pq":
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("unsupported warehouse driver %q (use sqlite|postgres)", driver)
}

// Open connects to the warehouse. For SQLite the DSN is a file path whose directory is created.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	driver, err := NormalizeDriver(driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("warehouse DSN is required")
	}
	if driver == DriverSQLite && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dsn, err = utils.ExpandHome(dsn); err != nil {
			return nil, err
		}
		if err := utils.EnsureDir(filepath.Dir(dsn)); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, driver: driver, dsn: dsn}, nil
}

// Close releases the connection.
func (s *Store) Close() error { return s.db.Close() }

// Driver returns the normalized driver name.
func (s *Store) Driver() string { return s.driver }

// DSN returns the connection string the store was opened with.
func (s *Store) DSN() string { return s.dsn }

// columns returns the column names of a table, or ErrNoData if it does not exist.
func (s *Store) columns(ctx context.Context, tbl string) ([]string, error) {
	rows, err := s.db.QueryxContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE 1=0", quote(tbl)))
	if err != nil {
		return nil, fmt.Errorf("%w: table %s: %v", ErrNoData, tbl, err)
	}
	defer func() { _ = rows.Close() }()
	return rows.Columns()
}

func (s *Store) writeMetadata(ctx context.Context, tx *sqlx.Tx, profilePath string) error {
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s TEXT, %s TEXT)", quote(MetadataTable), quote("profile"), quote("updatedAt"))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}
	ins := tx.Rebind(fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?)", quote(MetadataTable), quote("profile"), quote("updatedAt")))
	if _, err := tx.ExecContext(ctx, ins, profilePath, stamp(time.Now())); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Metadata is the most recent metadata row.
type Metadata struct {
	Profile   string `db:"profile"`
	UpdatedAt string `db:"updatedAt"`
}

// LatestMetadata returns the newest metadata row.
func (s *Store) LatestMetadata(ctx context.Context) (Metadata, error) {
	var m Metadata
	q := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s DESC LIMIT 1",
		quote("profile"), quote("updatedAt"), quote(MetadataTable), quote("updatedAt"))
	if err := s.db.GetContext(ctx, &m, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return m, fmt.Errorf("%w: metadata is empty", ErrNoData)
		}
		return m, fmt.Errorf("%w: read metadata: %v", ErrNoData, err)
	}
	return m, nil
}

// createTable drops (when replace is set) and creates a table of TEXT columns.
func createTable(ctx context.Context, tx *sqlx.Tx, tbl string, cols []string, replace bool) error {
	if replace {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(tbl)); err != nil {
			return fmt.Errorf("drop %s: %w", tbl, err)
		}
	}
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quote(c) + " TEXT"
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(tbl), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", tbl, err)
	}
	return nil
}

func insertStmt(ctx context.Context, tx *sqlx.Tx, tbl string, cols []string) (*sqlx.Stmt, error) {
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quote(c)
		marks[i] = "?"
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(tbl), strings.Join(names, ", "), strings.Join(marks, ", "))
	return tx.PreparexContext(ctx, tx.Rebind(q))
}

// scanStrings reads every row of rows as nullable strings.
func scanStrings(rows *sqlx.Rows, width int) ([][]string, error) {
	var out [][]string
	for rows.Next() {
		vals := make([]sql.NullString, width)
		ptrs := make([]any, width)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec := make([]string, width)
		for i, v := range vals {
			rec[i] = v.String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// quote renders an identifier valid for both SQLite and PostgreSQL.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
