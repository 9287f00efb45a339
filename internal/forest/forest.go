// Package forest implements random forests of CART trees for classification
// and regression.
package forest

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Config controls forest size and tree growth.
type Config struct {
	Trees           int
	MaxDepth        int // 0 grows until leaves are pure
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures is the number of features tried per split. 0 picks
	// sqrt(p) for classification and p for regression.
	MaxFeatures int
	Seed        int64
	Jobs        int // -1 uses every CPU
}

// DefaultConfig mirrors a standard 100-tree forest.
func DefaultConfig() Config {
	return Config{Trees: 100, MinSamplesSplit: 2, MinSamplesLeaf: 1, Seed: 42, Jobs: -1}
}

func (c Config) normalized() Config {
	if c.Trees < 1 {
		c.Trees = 1
	}
	if c.MinSamplesSplit < 2 {
		c.MinSamplesSplit = 2
	}
	if c.MinSamplesLeaf < 1 {
		c.MinSamplesLeaf = 1
	}
	if c.Jobs < 1 {
		c.Jobs = runtime.NumCPU()
	}
	return c
}

// TrainingError reports a training set the forest cannot be fit on.
type TrainingError struct {
	Task   string
	Reason string
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("train %s: %s", e.Task, e.Reason)
}

// Classifier is a fitted classification forest.
type Classifier struct {
	Classes     []string
	trees       []*tree
	nFeatures   int
	importances []float64
}

// Regressor is a fitted regression forest.
type Regressor struct {
	trees       []*tree
	nFeatures   int
	importances []float64
}

// FitClassifier trains a classifier on rows of x labelled y.
func FitClassifier(x *mat.Dense, y []string, cfg Config) (*Classifier, error) {
	if x == nil || len(y) == 0 {
		return nil, &TrainingError{Task: "classification", Reason: "empty training set"}
	}
	r, p := x.Dims()
	if r != len(y) {
		return nil, &TrainingError{Task: "classification", Reason: fmt.Sprintf("%d rows but %d labels", r, len(y))}
	}
	classes, encoded := encode(y)
	if len(classes) < 2 {
		return nil, &TrainingError{Task: "classification", Reason: fmt.Sprintf("training set has a single class %q", classes[0])}
	}
	cfg = cfg.normalized()
	mtry := cfg.MaxFeatures
	if mtry <= 0 {
		mtry = max(1, int(math.Sqrt(float64(p))))
	}
	mtry = min(mtry, p)

	cols := columns(x)
	trees, imp := fit(cfg, p, func(i int) *grower {
		return newGrower(cols, encoded, len(classes), nil, cfg, mtry, cfg.Seed+int64(i))
	})
	return &Classifier{Classes: classes, trees: trees, nFeatures: p, importances: imp}, nil
}

// FitRegressor trains a regressor on rows of x with targets y.
func FitRegressor(x *mat.Dense, y []float64, cfg Config) (*Regressor, error) {
	if x == nil || len(y) == 0 {
		return nil, &TrainingError{Task: "regression", Reason: "empty training set"}
	}
	r, p := x.Dims()
	if r != len(y) {
		return nil, &TrainingError{Task: "regression", Reason: fmt.Sprintf("%d rows but %d targets", r, len(y))}
	}
	cfg = cfg.normalized()
	mtry := cfg.MaxFeatures
	if mtry <= 0 || mtry > p {
		mtry = p
	}
	cols := columns(x)
	trees, imp := fit(cfg, p, func(i int) *grower {
		return newGrower(cols, nil, 0, y, cfg, mtry, cfg.Seed+int64(i))
	})
	return &Regressor{trees: trees, nFeatures: p, importances: imp}, nil
}

// fit grows cfg.Trees trees on at most cfg.Jobs goroutines. Each tree owns
// its rng, so the result does not depend on scheduling.
func fit(cfg Config, p int, newTree func(i int) *grower) ([]*tree, []float64) {
	trees := make([]*tree, cfg.Trees)
	perTree := make([][]float64, cfg.Trees)
	wp := pool.New().WithMaxGoroutines(cfg.Jobs)
	for i := range trees {
		i := i
		wp.Go(func() {
			g := newTree(i)
			trees[i] = g.grow()
			perTree[i] = g.importance
		})
	}
	wp.Wait()

	imp := make([]float64, p)
	for _, ti := range perTree {
		if s := floats.Sum(ti); s > 0 {
			floats.AddScaled(imp, 1/s, ti)
		}
	}
	if s := floats.Sum(imp); s > 0 {
		floats.Scale(1/s, imp)
	}
	return trees, imp
}

// Predict returns the majority-probability class for each row of x.
func (c *Classifier) Predict(x *mat.Dense) []string {
	if x == nil {
		return nil
	}
	r, _ := x.Dims()
	out := make([]string, r)
	prob := make([]float64, len(c.Classes))
	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		clear(prob)
		for _, t := range c.trees {
			floats.Add(prob, t.predict(row))
		}
		out[i] = c.Classes[floats.MaxIdx(prob)]
	}
	return out
}

// FeatureImportances returns the normalised mean impurity decrease per feature.
func (c *Classifier) FeatureImportances() []float64 {
	return append([]float64(nil), c.importances...)
}

// Predict averages tree outputs for each row of x.
func (r *Regressor) Predict(x *mat.Dense) []float64 {
	if x == nil {
		return nil
	}
	rows, _ := x.Dims()
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)
		var s float64
		for _, t := range r.trees {
			s += t.predict(row)[0]
		}
		out[i] = s / float64(len(r.trees))
	}
	return out
}

// FeatureImportances returns the normalised mean impurity decrease per feature.
func (r *Regressor) FeatureImportances() []float64 {
	return append([]float64(nil), r.importances...)
}

func encode(y []string) ([]string, []int) {
	seen := map[string]bool{}
	for _, v := range y {
		seen[v] = true
	}
	classes := make([]string, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Strings(classes)
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	enc := make([]int, len(y))
	for i, v := range y {
		enc[i] = index[v]
	}
	return classes, enc
}

func columns(x *mat.Dense) [][]float64 {
	_, p := x.Dims()
	cols := make([][]float64, p)
	for j := range cols {
		cols[j] = mat.Col(nil, j, x)
	}
	return cols
}
