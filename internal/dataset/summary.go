package dataset

import (
	"math"
	"strconv"
)

// Sample is the first rows of a table in a JSON-safe form.
type Sample struct {
	Columns []string `json:"columns" yaml:"columns"`
	Rows    [][]any  `json:"rows" yaml:"rows"`
}

// Head returns up to n leading rows. Non-finite numbers are rendered as
// strings ("+Inf", "-Inf") or null for NaN.
func (t *Table) Head(n int) Sample {
	if n < 0 {
		n = 0
	}
	if n > t.rows {
		n = t.rows
	}
	s := Sample{Columns: t.ColumnNames(), Rows: make([][]any, n)}
	for i := 0; i < n; i++ {
		row := make([]any, len(t.Columns))
		for j, c := range t.Columns {
			if c.Kind == Categorical {
				row[j] = c.Strs[i]
				continue
			}
			row[j] = jsonNumber(c.Nums[i])
		}
		s.Rows[i] = row
	}
	return s
}

func jsonNumber(v float64) any {
	switch {
	case math.IsNaN(v):
		return nil
	case math.IsInf(v, 0):
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return v
	}
}

// Stats summarizes table size and label balance.
type Stats struct {
	TotalRows    int `json:"total_rows" yaml:"total_rows"`
	TotalColumns int `json:"total_columns" yaml:"total_columns"`
	MalwareCount int `json:"malware_count" yaml:"malware_count"`
	BenignCount  int `json:"benign_count" yaml:"benign_count"`
}

// Stats counts rows whose label equals benign versus all others.
func (t *Table) Stats(label, benign string) (Stats, error) {
	col, ok := t.Column(label)
	if !ok {
		return Stats{}, &SchemaError{Column: label}
	}
	st := Stats{TotalRows: t.rows, TotalColumns: len(t.Columns)}
	for _, v := range LabelStrings(col) {
		if v == benign {
			st.BenignCount++
		} else {
			st.MalwareCount++
		}
	}
	return st, nil
}

// LabelStrings returns the column cells as class labels. Numeric labels are
// formatted without trailing zeros; missing numeric cells become "NaN".
func LabelStrings(c *Column) []string {
	if c.Kind == Categorical {
		return c.Strs
	}
	out := make([]string, len(c.Nums))
	for i, v := range c.Nums {
		out[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out
}
