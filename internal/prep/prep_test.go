package prep

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/KaramelBytes/flowlens/internal/dataset"
)

func synthTable(t *testing.T, n int) *dataset.Table {
	t.Helper()
	var b strings.Builder
	b.WriteString("duration,total_fiat,mean_idle,packets,bytes,calss\n")
	classes := []string{"benign", "asware", "GeneralMalware"}
	for i := 0; i < n; i++ {
		dur := fmt.Sprintf("%d", i*3)
		if i%17 == 5 {
			dur = ""
		}
		bytes := fmt.Sprintf("%d", (i*7)%50)
		if i%23 == 0 {
			bytes = "inf"
		}
		fmt.Fprintf(&b, "%s,%d,%d,%d,%s,%s\n", dur, i*2, i%5, i%11, bytes, classes[i%3])
	}
	tab, err := dataset.Read(strings.NewReader(b.String()), 0)
	require.NoError(t, err)
	return tab
}

func TestSplitCoversAndDisjoint(t *testing.T) {
	p := Split(103, nil, 42)
	assert.Equal(t, 62, len(p.Train))
	assert.Equal(t, 21, len(p.Validation))
	assert.Equal(t, 20, len(p.Test))

	seen := map[int]bool{}
	for _, s := range [][]int{p.Train, p.Validation, p.Test} {
		for _, i := range s {
			require.False(t, seen[i], "row %d appears twice", i)
			seen[i] = true
		}
	}
	assert.Len(t, seen, 103)
}

func TestSplitStratified(t *testing.T) {
	var labels []string
	counts := map[string]int{"a": 50, "b": 31, "c": 7}
	for c, k := range counts {
		for i := 0; i < k; i++ {
			labels = append(labels, c)
		}
	}
	p := Split(len(labels), labels, 42)
	require.Equal(t, len(labels), p.Len())

	shares := []float64{0.6, 0.2, 0.2}
	for si, subset := range [][]int{p.Train, p.Validation, p.Test} {
		got := map[string]int{}
		for _, i := range subset {
			got[labels[i]]++
		}
		for c, total := range counts {
			ideal := shares[si] * float64(total)
			assert.LessOrEqual(t, math.Abs(float64(got[c])-ideal), 1.0, "subset %d class %s", si, c)
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	labels := make([]string, 200)
	for i := range labels {
		labels[i] = fmt.Sprint(i % 4)
	}
	assert.Equal(t, Split(200, labels, 7), Split(200, labels, 7))
	assert.NotEqual(t, Split(200, labels, 7).Train, Split(200, labels, 8).Train)
}

func TestQuantileLinear(t *testing.T) {
	s := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1.75, quantile(s, 0.25), 1e-12)
	assert.InDelta(t, 2.5, quantile(s, 0.5), 1e-12)
	assert.InDelta(t, 3.25, quantile(s, 0.75), 1e-12)
}

func TestRobustScalerZeroIQR(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{
		5, 1,
		5, 2,
		5, 3,
		5, 4,
	})
	s := FitRobustScaler(x)
	assert.Equal(t, []float64{5, 2.5}, s.Center)
	assert.Equal(t, []float64{1, 1.5}, s.Scale)
	out := s.Transform(x)
	assert.Equal(t, 0.0, out.At(0, 0))
	assert.InDelta(t, -1.0, out.At(0, 1), 1e-12)
	assert.Equal(t, 5.0, x.At(0, 0), "input must not be modified")
}

func TestClassificationCleansAndScales(t *testing.T) {
	tab := synthTable(t, 300)
	set, err := Classification(tab, ClassificationOptions{Label: "calss", Seed: 42})
	require.NoError(t, err)

	assert.NotContains(t, set.Features, "calss")
	assert.Len(t, set.Features, 5)
	assert.Equal(t, 300, set.Train.Len()+set.Validation.Len()+set.Test.Len())
	assert.Equal(t, 180, set.Train.Len())

	for _, x := range []*mat.Dense{set.Train.X, set.Validation.X, set.Test.X} {
		r, c := x.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				v := x.At(i, j)
				require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "non-finite at %d,%d", i, j)
			}
		}
	}
}

func TestClassificationScalerIgnoresValidationRows(t *testing.T) {
	for _, fromTrain := range []bool{false, true} {
		t.Run(fmt.Sprintf("impute_from_train=%v", fromTrain), func(t *testing.T) {
			tab := synthTable(t, 300)
			opts := ClassificationOptions{Label: "calss", Seed: 42, ImputeFromTrain: fromTrain}
			before, err := Classification(tab, opts)
			require.NoError(t, err)

			// packets has no missing cells, so the mean fill never reads it.
			col, _ := tab.Column("packets")
			col.Nums[before.Validation.Rows[0]] = 1e9
			col.Nums[before.Test.Rows[0]] = -1e9

			after, err := Classification(tab, opts)
			require.NoError(t, err)
			assert.Equal(t, before.Partition, after.Partition)
			assert.Equal(t, before.Scaler, after.Scaler)
			assert.Equal(t, before.Train.X, after.Train.X)
		})
	}
}

func TestClassificationMissingLabel(t *testing.T) {
	tab := synthTable(t, 30)
	_, err := Classification(tab, ClassificationOptions{Label: "label", Seed: 42})
	var se *dataset.SchemaError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "label", se.Column)
}

func TestRegressionExcludesTargetAndLeakage(t *testing.T) {
	tab := synthTable(t, 300)
	set, err := Regression(tab, RegressionOptions{
		Target:  "duration",
		Leakage: []string{"total_fiat", "mean_idle", "max_active"},
		Seed:    42,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"packets", "bytes"}, set.Features)
	assert.Equal(t, []string{"total_fiat", "mean_idle"}, set.Dropped)

	// rows with an empty duration or an infinite byte count are dropped
	dropped := 0
	for i := 0; i < 300; i++ {
		if i%17 == 5 || i%23 == 0 {
			dropped++
		}
	}
	assert.Equal(t, dropped, set.RowsDropped)
	assert.Equal(t, 300-dropped, set.Partition.Len())
	for _, y := range set.Train.Y {
		assert.False(t, math.IsNaN(y))
	}
}

func TestRegressionDropsRowsMissingOnlyInLeakageColumn(t *testing.T) {
	var b strings.Builder
	b.WriteString("duration,total_fiat,packets,calss\n")
	for i := 0; i < 40; i++ {
		fiat := fmt.Sprintf("%d", i*2)
		switch i {
		case 0:
			fiat = ""
		case 7:
			fiat = "-inf"
		}
		fmt.Fprintf(&b, "%d,%s,%d,c%d\n", i, fiat, i%9, i%2)
	}
	tab, err := dataset.Read(strings.NewReader(b.String()), 0)
	require.NoError(t, err)

	set, err := Regression(tab, RegressionOptions{Target: "duration", Leakage: []string{"total_fiat"}, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, []string{"packets"}, set.Features)
	assert.Equal(t, 2, set.RowsDropped)
	assert.Equal(t, 38, set.Partition.Len())
	for _, part := range [][]int{set.Partition.Train, set.Partition.Validation, set.Partition.Test} {
		assert.NotContains(t, part, 0)
		assert.NotContains(t, part, 7)
	}
}

func TestRegressionRejectsNonNumericTarget(t *testing.T) {
	tab := synthTable(t, 30)
	_, err := Regression(tab, RegressionOptions{Target: "calss", Seed: 42})
	var se *dataset.SchemaError
	require.True(t, errors.As(err, &se), "got %v", err)
}
