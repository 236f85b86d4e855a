package table

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/tools/sqldatabase"
	"github.com/tmc/langchaingo/tools/sqldatabase/sqlite3"
	"go.uber.org/multierr"
)

// FrameTable is the SQL name of an uploaded table inside its Frame.
const FrameTable = "df"

var ErrReadOnlyQuery = errors.New("only SELECT statements can be run against the table")

// Frame is a parsed table copied into its own in-memory sqlite database so
// it can be queried with SQL.
type Frame struct {
	table *Table
	owner *sql.DB
	db    *sqldatabase.SQLDatabase
}

// OpenFrame loads t into a private in-memory database. Column types are
// inferred: a column whose non-empty cells all parse as integers becomes
// INTEGER, as numbers REAL, anything else TEXT. Empty cells become NULL.
func OpenFrame(ctx context.Context, t *Table) (*Frame, error) {
	dsn := fmt.Sprintf("file:frame-%s?mode=memory&cache=shared", uuid.NewString())

	// The owner connection keeps the shared in-memory database alive.
	owner, err := sql.Open(sqlite3.EngineName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	owner.SetMaxOpenConns(1)

	if err := fill(ctx, owner, t); err != nil {
		return nil, multierr.Append(fmt.Errorf("load frame: %w", err), owner.Close())
	}

	engine, err := sqlite3.NewSQLite3(dsn)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("open frame engine: %w", err), owner.Close())
	}
	if _, _, err := engine.Query(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, multierr.Combine(fmt.Errorf("lock frame: %w", err), engine.Close(), owner.Close())
	}
	db, err := sqldatabase.NewSQLDatabase(engine, nil)
	if err != nil {
		return nil, multierr.Combine(fmt.Errorf("open frame database: %w", err), engine.Close(), owner.Close())
	}
	db.SampleRowsNumber = 5

	return &Frame{table: t, owner: owner, db: db}, nil
}

func (f *Frame) Table() *Table { return f.table }

// Describe returns the CREATE TABLE statement and the first rows.
func (f *Frame) Describe(ctx context.Context) (string, error) {
	return f.db.TableInfo(ctx, []string{FrameTable})
}

// Query runs one read-only statement and returns a tab separated result with a
// header line.
func (f *Frame) Query(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	query = strings.TrimSuffix(query, ";")
	if !readOnly(query) {
		return "", ErrReadOnlyQuery
	}
	return f.db.Query(ctx, query)
}

func (f *Frame) Close() error {
	return multierr.Append(f.db.Close(), f.owner.Close())
}

func readOnly(query string) bool {
	if strings.Contains(query, ";") {
		return false
	}
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH":
		return true
	}
	return false
}

type columnType int

const (
	integerColumn columnType = iota
	realColumn
	textColumn
)

func (c columnType) sql() string {
	switch c {
	case integerColumn:
		return "INTEGER"
	case realColumn:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (c columnType) value(cell string) any {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil
	}
	switch c {
	case integerColumn:
		n, _ := strconv.ParseInt(cell, 10, 64)
		return n
	case realColumn:
		n, _ := strconv.ParseFloat(cell, 64)
		return n
	default:
		return cell
	}
}

func inferTypes(t *Table) []columnType {
	types := make([]columnType, len(t.Columns))
	for j := range t.Columns {
		typ := integerColumn
		seen := false
		for _, row := range t.Rows {
			cell := strings.TrimSpace(row[j])
			if cell == "" {
				continue
			}
			seen = true
			if typ == integerColumn {
				if _, err := strconv.ParseInt(cell, 10, 64); err == nil {
					continue
				}
				typ = realColumn
			}
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				typ = textColumn
				break
			}
		}
		if !seen {
			typ = textColumn
		}
		types[j] = typ
	}
	return types
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func fill(ctx context.Context, db *sql.DB, t *Table) error {
	types := inferTypes(t)

	defs := make([]string, len(t.Columns))
	for j, name := range t.Columns {
		defs[j] = quoteIdent(name) + " " + types[j].sql()
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", FrameTable, strings.Join(defs, ", "))); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", FrameTable, placeholders))
	if err != nil {
		return err
	}
	defer stmt.Close()

	args := make([]any, len(t.Columns))
	for _, row := range t.Rows {
		for j := range args {
			args[j] = types[j].value(row[j])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}
