package etl

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrMalformedFile marks a file whose header is unusable: not parseable as
// CSV or missing required columns. Nothing can be loaded from such a file.
var ErrMalformedFile = errors.New("malformed source file")

// Row is one data row of the wide extract, keyed by header column name.
// Values are raw strings; coercion happens in the transformer.
type Row struct {
	// Number is the 1-based data row number, excluding the header.
	Number int
	Values map[string]string
}

// Reader streams rows from a wide-format CSV extract one at a time, so file
// size never dictates memory use.
type Reader struct {
	file   *os.File
	csv    *csv.Reader
	header []string
	size   int64
	row    int
}

// Open opens a wide-format extract and validates its header against the
// mapping's required columns. The caller owns Close.
func Open(path string, mapping *Mapping) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat source file: %w", err)
	}

	cr := csv.NewReader(f)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty file", ErrMalformedFile)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}

	cols := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		cols[i] = h
		seen[h] = struct{}{}
	}

	var missing []string
	for _, req := range mapping.Required {
		if _, ok := seen[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		f.Close()
		return nil, fmt.Errorf("%w: missing required columns %s",
			ErrMalformedFile, strings.Join(missing, ", "))
	}

	return &Reader{
		file:   f,
		csv:    cr,
		header: cols,
		size:   info.Size(),
	}, nil
}

// Header returns the trimmed header columns in file order.
func (r *Reader) Header() []string { return r.header }

// Size returns the source file size in bytes.
func (r *Reader) Size() int64 { return r.size }

// Next returns the next data row, or io.EOF when the file is exhausted.
// A row with the wrong field count is returned as an error the caller can
// skip past; the reader stays usable.
func (r *Reader) Next() (Row, error) {
	record, err := r.csv.Read()
	if err == io.EOF {
		return Row{}, io.EOF
	}
	r.row++
	if err != nil {
		return Row{Number: r.row}, fmt.Errorf("row %d: %w", r.row, err)
	}

	values := make(map[string]string, len(r.header))
	for i, col := range r.header {
		if i < len(record) {
			values[col] = strings.TrimSpace(record[i])
		}
	}
	return Row{Number: r.row, Values: values}, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error { return r.file.Close() }
