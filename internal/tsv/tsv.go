// Package tsv reads and writes the tab-separated tables exchanged with
// fMRIPrep and the behavioural exports.
//
// Input bytes are decoded through a BOM sniffer (UTF-8, UTF-16LE/BE) and all
// header and cell strings are NFC-normalized, so exports from different
// acquisition sites compare equal after renaming.
package tsv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/midrel/internal/stage"
)

// Table is an in-memory TSV table with a header row.
type Table struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

// ReadFile reads the table at path.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, stage.MissingInput(path, "table not found")
	}
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

// Read parses a TSV stream.
func Read(r io.Reader) (*Table, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	cr := csv.NewReader(decoded)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, stage.Invalid("table has no header row")
	}

	t := &Table{Header: normalizeAll(records[0])}
	for i, rec := range records[1:] {
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) != len(t.Header) {
			return nil, stage.Invalid("row %d has %d fields, header has %d", i+2, len(rec), len(t.Header))
		}
		t.Rows = append(t.Rows, normalizeAll(rec))
	}
	t.reindex()
	return t, nil
}

func normalizeAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = norm.NFC.String(strings.TrimSpace(s))
	}
	return out
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		if _, dup := t.index[h]; !dup {
			t.index[h] = i
		}
	}
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Has reports whether col is in the header.
func (t *Table) Has(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Rename applies a column rename map. Columns not in the map keep their name.
func (t *Table) Rename(names map[string]string) {
	for i, h := range t.Header {
		if to, ok := names[h]; ok {
			t.Header[i] = to
		}
	}
	t.reindex()
}

// Strings returns the raw values of col.
func (t *Table) Strings(col string) ([]string, error) {
	i, ok := t.index[col]
	if !ok {
		return nil, stage.MissingInput("", "column %q not found", col)
	}
	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out, nil
}

// SetStrings replaces or appends col.
func (t *Table) SetStrings(col string, values []string) error {
	if len(values) != len(t.Rows) {
		return fmt.Errorf("column %q: %d values for %d rows", col, len(values), len(t.Rows))
	}
	i, ok := t.index[col]
	if !ok {
		t.Header = append(t.Header, col)
		i = len(t.Header) - 1
		t.index[col] = i
		for r := range t.Rows {
			t.Rows[r] = append(t.Rows[r], "")
		}
	}
	for r, v := range values {
		t.Rows[r][i] = v
	}
	return nil
}

// Floats parses col as numbers. Empty and "n/a" cells become missing.
func (t *Table) Floats(col string, missing float64) ([]float64, error) {
	raw, err := t.Strings(col)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(raw))
	for r, s := range raw {
		if IsMissing(s) {
			out[r] = missing
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, stage.Invalid("column %q row %d: %q is not a number", col, r+2, s)
		}
		out[r] = v
	}
	return out, nil
}

// IsMissing reports whether a cell holds no value.
func IsMissing(s string) bool {
	switch strings.ToLower(s) {
	case "", "n/a", "na", "nan":
		return true
	}
	return false
}

// Write emits header and rows as TSV.
func Write(w io.Writer, header []string, rows [][]string) error {
	if _, err := io.WriteString(w, strings.Join(header, "\t")+"\n"); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := io.WriteString(w, strings.Join(row, "\t")+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// FormatFloat renders v for TSV output. NaN becomes "n/a".
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'g', 10, 64)
}
