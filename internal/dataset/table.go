// Package dataset reads delimited flow-feature files into an in-memory Table.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Kind is the inferred type of a column.
type Kind int

const (
	Numeric Kind = iota
	Categorical
)

func (k Kind) String() string {
	if k == Numeric {
		return "numeric"
	}
	return "categorical"
}

// Column holds one column of the table. Numeric columns keep NaN for missing
// cells and preserve ±Inf; categorical columns keep the trimmed raw strings.
type Column struct {
	Name string
	Kind Kind
	Nums []float64
	Strs []string
}

// Len returns the number of cells in the column.
func (c *Column) Len() int {
	if c.Kind == Numeric {
		return len(c.Nums)
	}
	return len(c.Strs)
}

// Table is a column-oriented view of a delimited file.
type Table struct {
	Name      string
	Columns   []*Column
	Truncated bool // true when the row limit stopped reading early

	rows  int
	index map[string]int
}

// LoadError reports a file that is missing, empty or not parseable as delimited text.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load dataset %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SchemaError reports an expected column that is absent or has the wrong kind.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return "schema: " + e.Reason
	}
	if e.Reason == "" {
		return fmt.Sprintf("schema: column %q not found", e.Column)
	}
	return fmt.Sprintf("schema: column %q %s", e.Column, e.Reason)
}

// Load reads a comma-delimited file with a header row. When rowLimit > 0 only
// the first rowLimit data rows are read (head truncation, not sampling).
func Load(path string, rowLimit int) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer f.Close()
	t, err := Read(f, rowLimit)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	t.Name = filepath.Base(path)
	return t, nil
}

// Read parses delimited text from r. See Load.
func Read(r io.Reader, rowLimit int) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = ','
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	ncol := len(header)
	if ncol == 0 || (ncol == 1 && strings.TrimSpace(header[0]) == "") {
		return nil, errors.New("missing header")
	}

	raw := make([][]string, ncol)
	t := &Table{index: make(map[string]int, ncol)}
	for {
		if rowLimit > 0 && t.rows >= rowLimit {
			// Peek to learn whether anything was left unread.
			if _, err := cr.Read(); err == nil {
				t.Truncated = true
			}
			break
		}
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", t.rows+1, err)
		}
		if len(rec) > ncol {
			return nil, fmt.Errorf("read row %d: %d fields, header has %d", t.rows+1, len(rec), ncol)
		}
		for j := 0; j < ncol; j++ {
			v := ""
			if j < len(rec) {
				v = strings.TrimSpace(rec[j])
			}
			raw[j] = append(raw[j], v)
		}
		t.rows++
	}
	if t.rows == 0 {
		return nil, errors.New("no data rows")
	}

	t.Columns = make([]*Column, ncol)
	for j, name := range header {
		name = strings.TrimSpace(name)
		t.Columns[j] = inferColumn(name, raw[j])
		raw[j] = nil
		if _, dup := t.index[name]; !dup {
			t.index[name] = j
		}
	}
	return t, nil
}

// NumRows returns the number of data rows held in memory.
func (t *Table) NumRows() int { return t.rows }

// ColumnNames returns the header in file order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Column looks up a column by its exact header name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.Columns[i], true
}

// NumericColumns returns numeric columns in file order, skipping the named ones.
func (t *Table) NumericColumns(exclude ...string) []*Column {
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	var out []*Column
	for _, c := range t.Columns {
		if c.Kind == Numeric && !skip[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

// missingTokens are treated as empty cells, like common dataframe readers do.
var missingTokens = map[string]bool{
	"": true, "na": true, "n/a": true, "nan": true, "null": true, "none": true,
}

func isMissing(s string) bool {
	return missingTokens[strings.ToLower(s)]
}

func parseCell(s string) (float64, bool) {
	if isMissing(s) {
		return math.NaN(), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var numErr *strconv.NumError
		// Out-of-range values still carry a usable ±Inf.
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return f, true
		}
		return 0, false
	}
	return f, true
}

func inferColumn(name string, vals []string) *Column {
	nums := make([]float64, len(vals))
	numeric := true
	for i, v := range vals {
		f, ok := parseCell(v)
		if !ok {
			numeric = false
			break
		}
		nums[i] = f
	}
	if numeric {
		return &Column{Name: name, Kind: Numeric, Nums: nums}
	}
	strs := make([]string, len(vals))
	copy(strs, vals)
	return &Column{Name: name, Kind: Categorical, Strs: strs}
}
