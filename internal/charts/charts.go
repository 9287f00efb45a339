// Package charts renders result charts as PNG images.
package charts

import (
	"bytes"
	"errors"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/KaramelBytes/flowlens/internal/analyzer"
	"github.com/KaramelBytes/flowlens/internal/eval"
)

// ErrNoData is returned when there is nothing to draw.
var ErrNoData = errors.New("charts: no data")

const (
	width  = 8 * vg.Inch
	height = 5 * vg.Inch
)

// Group is one bar series of a grouped chart, one value per category.
type Group struct {
	Name   string
	Values []float64
}

// FeatureImportance draws ranked importances as a bar chart. Bars are
// labelled with the source column when known.
func FeatureImportance(title string, items []eval.Importance) ([]byte, error) {
	if len(items) == 0 {
		return nil, ErrNoData
	}
	values := make(plotter.Values, len(items))
	names := make([]string, len(items))
	for i, it := range items {
		values[i] = it.Importance
		names[i] = it.Feature
		if it.Column != "" {
			names[i] = it.Column
		}
	}

	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "importance"
	bars, err := plotter.NewBarChart(values, vg.Points(14))
	if err != nil {
		return nil, fmt.Errorf("bar chart: %w", err)
	}
	bars.LineStyle.Width = vg.Length(0)
	bars.Color = plotutil.Color(0)
	p.Add(bars, plotter.NewGrid())
	p.NominalX(names...)
	p.X.Tick.Label.Rotation = 0.8
	p.X.Tick.Label.XAlign = draw.XRight
	return render(p)
}

// Grouped draws one bar per (category, group) pair, groups side by side.
func Grouped(title string, categories []string, groups []Group) ([]byte, error) {
	if len(categories) == 0 || len(groups) == 0 {
		return nil, ErrNoData
	}
	p := plot.New()
	p.Title.Text = title
	p.Legend.Top = true

	w := vg.Points(12)
	for i, g := range groups {
		if len(g.Values) != len(categories) {
			return nil, fmt.Errorf("group %q has %d values for %d categories", g.Name, len(g.Values), len(categories))
		}
		bars, err := plotter.NewBarChart(plotter.Values(g.Values), w)
		if err != nil {
			return nil, fmt.Errorf("bar chart: %w", err)
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = plotutil.Color(i)
		bars.Offset = w * vg.Length(float64(i)-float64(len(groups)-1)/2)
		p.Add(bars)
		p.Legend.Add(g.Name, bars)
	}
	p.Add(plotter.NewGrid())
	p.NominalX(categories...)
	return render(p)
}

// Classification charts accuracy, precision, recall and F1 per subset.
func Classification(m analyzer.ClassificationMetrics) ([]byte, error) {
	cats := []string{"accuracy", "precision", "recall", "f1_score"}
	row := func(s eval.ClassScores) []float64 {
		return []float64{s.Accuracy, s.Precision, s.Recall, s.F1}
	}
	return Grouped("Classification metrics", cats, []Group{
		{Name: "train", Values: row(m.Train)},
		{Name: "validation", Values: row(m.Validation)},
		{Name: "test", Values: row(m.Test)},
	})
}

// Regression charts MAE, RMSE and R² per subset. MSE is left out since its
// scale dwarfs the others.
func Regression(m analyzer.RegressionMetrics) ([]byte, error) {
	cats := []string{"mae", "rmse", "r2"}
	row := func(s eval.RegScores) []float64 {
		return []float64{s.MAE, s.RMSE, s.R2}
	}
	return Grouped("Regression metrics", cats, []Group{
		{Name: "train", Values: row(m.Train)},
		{Name: "validation", Values: row(m.Validation)},
		{Name: "test", Values: row(m.Test)},
	})
}

func render(p *plot.Plot) ([]byte, error) {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return nil, fmt.Errorf("render png: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
