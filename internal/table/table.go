// Package table loads uploaded tabular files and makes them queryable with SQL.
package table

import (
	"errors"
	"strconv"
	"strings"
)

var ErrEmptyTable = errors.New("file contains no header row")

// Table is a parsed dataset: one header row and string cells. It is read-only
// once loaded.
type Table struct {
	Columns []string
	Rows    [][]string
}

func (t *Table) Len() int { return len(t.Rows) }

// fromRecords treats the first non-blank record as the header, names blank or
// duplicate headers the way spreadsheet tools do, and pads ragged rows.
func fromRecords(records [][]string) (*Table, error) {
	start := 0
	for start < len(records) && blank(records[start]) {
		start++
	}
	if start == len(records) {
		return nil, ErrEmptyTable
	}

	header := records[start]
	width := len(header)
	var rows [][]string
	for _, rec := range records[start+1:] {
		if blank(rec) {
			continue
		}
		if len(rec) > width {
			width = len(rec)
		}
		rows = append(rows, rec)
	}

	columns := make([]string, width)
	seen := make(map[string]int, width)
	for i := range columns {
		name := ""
		if i < len(header) {
			name = strings.TrimSpace(header[i])
		}
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = name + "." + strconv.Itoa(n+1)
		} else {
			seen[name] = 0
		}
		columns[i] = name
	}

	for i, row := range rows {
		if len(row) < width {
			padded := make([]string, width)
			copy(padded, row)
			rows[i] = padded
		}
	}

	return &Table{Columns: columns, Rows: rows}, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
