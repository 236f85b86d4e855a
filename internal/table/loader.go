package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrBinaryWorkbook is returned for .xlsb uploads. The format is recognised
	// but no parser here can decode BIFF12.
	ErrBinaryWorkbook = errors.New("binary workbooks (.xlsb) are recognised but cannot be read")
	ErrNoWorkbook     = errors.New("file has no workbook stream")
)

// UnsupportedFormatError names the rejected extension.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format: %s", e.Ext)
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

type parseFunc func(data []byte) (*Table, error)

var parsers = map[string]parseFunc{
	"csv":  ParseCSV,
	"xls":  parseXLS,
	"xlsx": parseOOXML,
	"xlsm": parseOOXML,
	"xlsb": parseXLSB,
}

// Extensions lists the accepted upload extensions, without dots.
func Extensions() []string {
	exts := make([]string, 0, len(parsers))
	for ext := range parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Load picks a parser by the file name's extension.
func Load(name string, data []byte) (*Table, error) {
	ext := Extension(name)
	parse, ok := parsers[ext]
	if !ok {
		return nil, &UnsupportedFormatError{Ext: ext}
	}
	t, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", ext, err)
	}
	return t, nil
}

func ParseCSV(data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.ReuseRecord = false
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	return fromRecords(records)
}

func parseOOXML(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyTable
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return fromRecords(records)
}

func parseXLS(data []byte) (*Table, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, err
	}
	if wb == nil {
		return nil, ErrNoWorkbook
	}
	if wb.NumSheets() == 0 {
		return nil, ErrEmptyTable
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, ErrEmptyTable
	}

	records := make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheetRow(sheet, i)
		if row == nil {
			records = append(records, nil)
			continue
		}
		rec := make([]string, 0, row.LastCol())
		for j := 0; j < row.LastCol(); j++ {
			rec = append(rec, row.Col(j))
		}
		records = append(records, rec)
	}
	return fromRecords(records)
}

// sheetRow returns nil for rows the sheet never stored; xls.WorkSheet.Row
// panics on those.
func sheetRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}

func parseXLSB(_ []byte) (*Table, error) {
	return nil, ErrBinaryWorkbook
}
