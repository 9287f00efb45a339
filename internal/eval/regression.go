package eval

import (
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"
)

// RegScores holds error metrics for one subset.
type RegScores struct {
	MSE  float64 `json:"mse" yaml:"mse"`
	RMSE float64 `json:"rmse" yaml:"rmse"`
	MAE  float64 `json:"mae" yaml:"mae"`
	R2   float64 `json:"r2" yaml:"r2"`
}

// Regression computes MSE, RMSE, MAE and R². With a constant yTrue, R² is 1
// for a perfect prediction and 0 otherwise.
func Regression(yTrue, yPred []float64) RegScores {
	n := len(yTrue)
	if n == 0 {
		return RegScores{}
	}
	var sse, sae float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		sse += d * d
		sae += math.Abs(d)
	}
	mse := sse / float64(n)
	mean := stat.Mean(yTrue, nil)
	var sst float64
	for _, v := range yTrue {
		sst += (v - mean) * (v - mean)
	}
	var r2 float64
	switch {
	case sst != 0:
		r2 = 1 - sse/sst
	case sse == 0:
		r2 = 1
	}
	return RegScores{MSE: mse, RMSE: math.Sqrt(mse), MAE: sae / float64(n), R2: r2}
}

// Importance is one ranked feature score.
type Importance struct {
	Feature    string  `json:"feature" yaml:"feature"`
	Column     string  `json:"column" yaml:"column"`
	Importance float64 `json:"importance" yaml:"importance"`
}

// TopFeatures ranks scores in non-increasing order and keeps at most k.
// Features are named positionally (Feature_<i>); the source column name is
// attached when names has an entry for i. Equal scores keep column order.
func TopFeatures(scores []float64, names []string, k int) []Importance {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	if k < 0 {
		k = 0
	}
	if k > len(order) {
		k = len(order)
	}
	out := make([]Importance, k)
	for r := 0; r < k; r++ {
		i := order[r]
		out[r] = Importance{Feature: FeatureName(i), Importance: scores[i]}
		if i < len(names) {
			out[r].Column = names[i]
		}
	}
	return out
}

// FeatureName is the positional label used in rankings.
func FeatureName(i int) string {
	return "Feature_" + strconv.Itoa(i)
}
