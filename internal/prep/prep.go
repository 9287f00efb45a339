// Package prep turns a loaded table into split, cleaned feature matrices for
// the classification and regression tasks.
package prep

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/KaramelBytes/flowlens/internal/dataset"
)

// LabeledPart is one subset of the classification data.
type LabeledPart struct {
	Rows []int // source row indices
	X    *mat.Dense
	Y    []string
}

// Len returns the number of rows in the subset.
func (p LabeledPart) Len() int { return len(p.Y) }

// ContinuousPart is one subset of the regression data.
type ContinuousPart struct {
	Rows []int
	X    *mat.Dense
	Y    []float64
}

// Len returns the number of rows in the subset.
func (p ContinuousPart) Len() int { return len(p.Y) }

// ClassificationSet is the prepared classification task.
type ClassificationSet struct {
	Features   []string
	Scaler     *RobustScaler
	Partition  Partition
	Train      LabeledPart
	Validation LabeledPart
	Test       LabeledPart
}

// RegressionSet is the prepared regression task.
type RegressionSet struct {
	Features    []string
	Dropped     []string // leakage columns that were present and removed
	RowsDropped int      // rows removed for missing values
	Partition   Partition
	Train       ContinuousPart
	Validation  ContinuousPart
	Test        ContinuousPart
}

// ClassificationOptions controls Classification.
type ClassificationOptions struct {
	Label string
	Seed  int64
	// ImputeFromTrain computes fill values on the train subset only instead
	// of on every row before splitting.
	ImputeFromTrain bool
}

// RegressionOptions controls Regression.
type RegressionOptions struct {
	Target  string
	Leakage []string
	Seed    int64
}

// Classification selects every numeric column except the label, replaces
// ±Inf with NaN, fills NaN with column means, splits with label
// stratification and robust-scales all subsets with train statistics.
func Classification(t *dataset.Table, opts ClassificationOptions) (*ClassificationSet, error) {
	label, ok := t.Column(opts.Label)
	if !ok {
		return nil, &dataset.SchemaError{Column: opts.Label}
	}
	cols := t.NumericColumns(opts.Label)
	if len(cols) == 0 {
		return nil, &dataset.SchemaError{Reason: "no numeric feature columns"}
	}
	y := dataset.LabelStrings(label)
	n := t.NumRows()
	part := Split(n, y, opts.Seed)

	fillFrom := seq(n)
	if opts.ImputeFromTrain {
		fillFrom = part.Train
	}
	data := make([][]float64, len(cols))
	for j, c := range cols {
		v := make([]float64, n)
		copy(v, c.Nums)
		for i := range v {
			if math.IsInf(v[i], 0) {
				v[i] = math.NaN()
			}
		}
		m := columnMean(v, fillFrom)
		for i := range v {
			if math.IsNaN(v[i]) {
				v[i] = m
			}
		}
		data[j] = v
	}

	set := &ClassificationSet{Features: names(cols), Partition: part}
	train := labeledPart(data, y, part.Train)
	if train.X != nil {
		set.Scaler = FitRobustScaler(train.X)
	} else {
		set.Scaler = identityScaler(len(cols))
	}
	val := labeledPart(data, y, part.Validation)
	test := labeledPart(data, y, part.Test)
	train.X = set.Scaler.Transform(train.X)
	val.X = set.Scaler.Transform(val.X)
	test.X = set.Scaler.Transform(test.X)
	set.Train, set.Validation, set.Test = train, val, test
	return set, nil
}

// Regression selects numeric columns minus the target and any present leakage
// columns and splits without stratification. A row is dropped when any numeric
// column of the table, leakage columns included, is missing or infinite.
// Features are not scaled.
func Regression(t *dataset.Table, opts RegressionOptions) (*RegressionSet, error) {
	target, ok := t.Column(opts.Target)
	if !ok {
		return nil, &dataset.SchemaError{Column: opts.Target}
	}
	if target.Kind != dataset.Numeric {
		return nil, &dataset.SchemaError{Column: opts.Target, Reason: "is not numeric"}
	}
	set := &RegressionSet{}
	for _, l := range opts.Leakage {
		if l == opts.Target {
			continue
		}
		if _, present := t.Column(l); present {
			set.Dropped = append(set.Dropped, l)
		}
	}
	cols := t.NumericColumns(append([]string{opts.Target}, set.Dropped...)...)
	if len(cols) == 0 {
		return nil, &dataset.SchemaError{Reason: "no numeric feature columns after removing target and leakage columns"}
	}
	set.Features = names(cols)

	numeric := t.NumericColumns()
	var keep []int
	for i := 0; i < t.NumRows(); i++ {
		ok := true
		for _, c := range numeric {
			if !usable(c.Nums[i]) {
				ok = false
				break
			}
		}
		if ok {
			keep = append(keep, i)
		}
	}
	set.RowsDropped = t.NumRows() - len(keep)

	data := make([][]float64, len(cols))
	for j, c := range cols {
		v := make([]float64, len(keep))
		for k, i := range keep {
			v[k] = c.Nums[i]
		}
		data[j] = v
	}
	y := make([]float64, len(keep))
	for k, i := range keep {
		y[k] = target.Nums[i]
	}

	set.Partition = Split(len(keep), nil, opts.Seed)
	set.Train = continuousPart(data, y, keep, set.Partition.Train)
	set.Validation = continuousPart(data, y, keep, set.Partition.Validation)
	set.Test = continuousPart(data, y, keep, set.Partition.Test)
	return set, nil
}

func usable(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// columnMean averages the non-NaN cells of v at rows. A column with no
// observed values fills with 0.
func columnMean(v []float64, rows []int) float64 {
	obs := make([]float64, 0, len(rows))
	for _, i := range rows {
		if !math.IsNaN(v[i]) {
			obs = append(obs, v[i])
		}
	}
	if len(obs) == 0 {
		return 0
	}
	return stat.Mean(obs, nil)
}

// gather builds a rows x features matrix, or nil when rows is empty.
func gather(data [][]float64, rows []int) *mat.Dense {
	if len(rows) == 0 || len(data) == 0 {
		return nil
	}
	x := mat.NewDense(len(rows), len(data), nil)
	for k, i := range rows {
		for j := range data {
			x.Set(k, j, data[j][i])
		}
	}
	return x
}

func labeledPart(data [][]float64, y []string, rows []int) LabeledPart {
	p := LabeledPart{Rows: rows, X: gather(data, rows), Y: make([]string, len(rows))}
	for k, i := range rows {
		p.Y[k] = y[i]
	}
	return p
}

func continuousPart(data [][]float64, y []float64, source, rows []int) ContinuousPart {
	p := ContinuousPart{Rows: make([]int, len(rows)), X: gather(data, rows), Y: make([]float64, len(rows))}
	for k, i := range rows {
		p.Rows[k] = source[i]
		p.Y[k] = y[i]
	}
	return p
}

func identityScaler(p int) *RobustScaler {
	s := &RobustScaler{Center: make([]float64, p), Scale: make([]float64, p)}
	for j := range s.Scale {
		s.Scale[j] = 1
	}
	return s
}

func names(cols []*dataset.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}
