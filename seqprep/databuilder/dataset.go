package databuilder

import (
	"encoding/csv"
	"fmt"
	"os"
)

// Row is one source/target text pair (plus any extra columns) keyed by
// column name. Rows are read-only input to the encoder.
type Row map[string]string

// Dataset is an ordered collection of rows sharing a schema.
type Dataset struct {
	columns []string
	rows    []Row
}

// NewDataset builds a dataset from a schema and its rows.
func NewDataset(columns []string, rows []Row) *Dataset {
	return &Dataset{columns: columns, rows: rows}
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.rows) }

// Columns returns the schema column names.
func (d *Dataset) Columns() []string { return d.columns }

// HasColumn reports whether the schema contains the named column.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.columns {
		if c == name {
			return true
		}
	}
	return false
}

// Row returns the row at index i.
func (d *Dataset) Row(i int) Row { return d.rows[i] }

// Rows returns the slice of rows in order.
func (d *Dataset) Rows() []Row { return d.rows }

// Map applies fn to every row in order and returns a new dataset with the
// results. The transform is total: no row is skipped or reordered.
func (d *Dataset) Map(fn func(Row) Row) *Dataset {
	out := make([]Row, len(d.rows))
	for i, row := range d.rows {
		out[i] = fn(row)
	}
	return &Dataset{columns: d.columns, rows: out}
}

// ReadTSV loads a tab-separated file whose header row defines the schema.
// Every cell is kept as a string.
func ReadTSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s has no header row", path)
	}

	columns := records[0]
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(Row, len(columns))
		for i, col := range columns {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}

	return &Dataset{columns: columns, rows: rows}, nil
}
