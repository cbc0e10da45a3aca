// Package tabular streams rows from a CSV file whose first record is the
// header.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Row is one record keyed by the header. Line is the 1-based line index of
// the record in the file; the header is line 1.
type Row struct {
	Line   int
	header map[string]int
	values []string
}

// Lookup returns the value of column and whether the column exists.
func (r Row) Lookup(column string) (string, bool) {
	i, ok := r.header[column]
	if !ok || i >= len(r.values) {
		return "", false
	}
	return r.values[i], true
}

// Get returns the value of column, or "" when it does not exist.
func (r Row) Get(column string) string {
	v, _ := r.Lookup(column)
	return v
}

// Values returns a copy of the row's fields in column order.
func (r Row) Values() []string {
	return append([]string(nil), r.values...)
}

// Reader yields rows in source order.
type Reader struct {
	csv    *csv.Reader
	closer io.Closer
	header map[string]int
	names  []string
}

// Open opens path and reads its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewReader reads the header from src.
func NewReader(src io.Reader) (*Reader, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	names, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("missing header")
	}
	if err != nil {
		return nil, err
	}
	header := make(map[string]int, len(names))
	for i, n := range names {
		if i == 0 {
			n = strings.TrimPrefix(n, "\ufeff")
			names[0] = n
		}
		if _, dup := header[n]; !dup {
			header[n] = i
		}
	}
	return &Reader{csv: cr, header: header, names: names}, nil
}

// Header returns the column names in file order.
func (r *Reader) Header() []string {
	return append([]string(nil), r.names...)
}

// Next returns the next row or io.EOF after the last one.
func (r *Reader) Next() (Row, error) {
	values, err := r.csv.Read()
	if err != nil {
		return Row{}, err
	}
	line, _ := r.csv.FieldPos(0)
	return Row{Line: line, header: r.header, values: values}, nil
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
