package prep

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// RobustScaler centers each feature on its median and divides by its
// interquartile range. Features with zero IQR keep scale 1.
type RobustScaler struct {
	Center []float64
	Scale  []float64
}

// FitRobustScaler learns medians and IQRs column by column. NaN cells are ignored.
func FitRobustScaler(x *mat.Dense) *RobustScaler {
	_, c := x.Dims()
	s := &RobustScaler{Center: make([]float64, c), Scale: make([]float64, c)}
	for j := 0; j < c; j++ {
		col := finite(mat.Col(nil, j, x))
		sort.Float64s(col)
		s.Center[j] = quantile(col, 0.5)
		iqr := quantile(col, 0.75) - quantile(col, 0.25)
		if iqr == 0 || math.IsNaN(iqr) {
			iqr = 1
		}
		s.Scale[j] = iqr
	}
	return s
}

// Transform returns a scaled copy of x. x is left untouched.
func (s *RobustScaler) Transform(x *mat.Dense) *mat.Dense {
	if x == nil {
		return nil
	}
	out := mat.DenseCopyOf(x)
	out.Apply(func(_, j int, v float64) float64 {
		return (v - s.Center[j]) / s.Scale[j]
	}, out)
	return out
}

// quantile uses linear interpolation between closest ranks on sorted data.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

func finite(v []float64) []float64 {
	out := v[:0]
	for _, f := range v {
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			out = append(out, f)
		}
	}
	return out
}
