package parse

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// csvFile reads one GTFS table row by row. Columns are looked up by header
// name once; reads through a column record missing required values so the
// caller can skip the row.
type csvFile struct {
	name        string
	closer      io.Closer
	reader      *csv.Reader
	header      map[string]int
	row         []string
	err         error
	missingCols []string
	missingKeys []string
}

type csvColumn struct {
	file     *csvFile
	name     string
	index    int
	required bool
}

func openCSVFile(name string, zf *zip.File) (*csvFile, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	f := &csvFile{name: name, closer: rc, reader: r, header: map[string]int{}}

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return f, nil
	}
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	for i, col := range header {
		col = strings.TrimSpace(col)
		if i == 0 {
			col = strings.TrimPrefix(col, "\ufeff")
		}
		f.header[col] = i
	}
	return f, nil
}

func (f *csvFile) column(name string, required bool) csvColumn {
	idx, ok := f.header[name]
	if !ok {
		idx = -1
		if required {
			f.missingCols = append(f.missingCols, name)
		}
	}
	return csvColumn{file: f, name: name, index: idx, required: required}
}

func (f *csvFile) RequiredColumn(name string) csvColumn { return f.column(name, true) }
func (f *csvFile) OptionalColumn(name string) csvColumn { return f.column(name, false) }

// MissingRequiredColumns fails when the header lacks a required column. A file
// with no header at all is treated as empty rather than malformed.
func (f *csvFile) MissingRequiredColumns() error {
	if len(f.header) == 0 || len(f.missingCols) == 0 {
		return nil
	}
	return fmt.Errorf("missing required columns %v", f.missingCols)
}

func (f *csvFile) NextRow() bool {
	if f.err != nil || len(f.header) == 0 {
		return false
	}
	row, err := f.reader.Read()
	if errors.Is(err, io.EOF) {
		return false
	}
	if err != nil {
		f.err = err
		return false
	}
	f.row = row
	f.missingKeys = f.missingKeys[:0]
	return true
}

// MissingRowKeys lists required columns that were empty in the current row.
func (f *csvFile) MissingRowKeys() []string {
	return f.missingKeys
}

func (f *csvFile) Err() error {
	return f.err
}

func (f *csvFile) Close() error {
	return f.closer.Close()
}

func (c csvColumn) Read() string {
	var v string
	if c.index >= 0 && c.index < len(c.file.row) {
		v = strings.TrimSpace(c.file.row[c.index])
	}
	if v == "" && c.required {
		c.file.missingKeys = append(c.file.missingKeys, c.name)
	}
	return v
}
