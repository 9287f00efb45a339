// Package report collects analyzer results into a single document and
// renders it as Markdown, JSON, YAML or a directory of files with charts.
package report

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/flowlens/internal/analyzer"
	"github.com/KaramelBytes/flowlens/internal/charts"
	"github.com/KaramelBytes/flowlens/internal/dataset"
	"github.com/KaramelBytes/flowlens/internal/eval"
	"github.com/KaramelBytes/flowlens/internal/utils"
)

// Source is the part of the analyzer a report reads.
type Source interface {
	Summary(ctx context.Context) (analyzer.Summary, error)
	DatasetStats(ctx context.Context) (dataset.Stats, error)
	ClassificationMetrics(ctx context.Context) (analyzer.ClassificationMetrics, error)
	RegressionMetrics(ctx context.Context) (analyzer.RegressionMetrics, error)
	FeatureImportance(ctx context.Context, task analyzer.Task, topK int) ([]eval.Importance, error)
}

// Report is a full analysis result.
type Report struct {
	Summary        analyzer.Summary               `json:"summary" yaml:"summary"`
	Dataset        dataset.Stats                  `json:"dataset" yaml:"dataset"`
	Classification analyzer.ClassificationMetrics `json:"classification" yaml:"classification"`
	Regression     analyzer.RegressionMetrics     `json:"regression" yaml:"regression"`
	ClassifierTop  []eval.Importance              `json:"classifier_importance" yaml:"classifier_importance"`
	RegressorTop   []eval.Importance              `json:"regressor_importance" yaml:"regressor_importance"`
}

// Build queries src for every section. topK bounds both importance lists.
func Build(ctx context.Context, src Source, topK int) (*Report, error) {
	var (
		r   Report
		err error
	)
	if r.Summary, err = src.Summary(ctx); err != nil {
		return nil, err
	}
	if r.Dataset, err = src.DatasetStats(ctx); err != nil {
		return nil, err
	}
	if r.Classification, err = src.ClassificationMetrics(ctx); err != nil {
		return nil, err
	}
	if r.Regression, err = src.RegressionMetrics(ctx); err != nil {
		return nil, err
	}
	if r.ClassifierTop, err = src.FeatureImportance(ctx, analyzer.TaskClassifier, topK); err != nil {
		return nil, err
	}
	if r.RegressorTop, err = src.FeatureImportance(ctx, analyzer.TaskRegressor, topK); err != nil {
		return nil, err
	}
	return &r, nil
}

// Render encodes the report as "markdown", "json" or "yaml".
func (r *Report) Render(format string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "markdown", "md":
		return []byte(r.Markdown()), nil
	case "json":
		return utils.PrettyJSON(r)
	case "yaml", "yml":
		b, err := yaml.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal yaml: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported format: %s (use markdown|json|yaml)", format)
}

// Markdown renders a compact, sectioned text summary.
func (r *Report) Markdown() string {
	var b strings.Builder
	s := r.Summary
	b.WriteString("[ANALYSIS RUN]\n")
	b.WriteString(fmt.Sprintf("Run: %s\n", s.RunID))
	if s.Dataset != "" {
		b.WriteString(fmt.Sprintf("File: %s\n", s.Dataset))
	}
	if s.Truncated {
		b.WriteString(fmt.Sprintf("Rows: %d (first %d rows only)\n", s.Rows, s.RowLimit))
	} else {
		b.WriteString(fmt.Sprintf("Rows: %d\n", s.Rows))
	}
	b.WriteString(fmt.Sprintf("Columns: %d\n", s.Columns))
	mode := "full"
	if s.Bounded {
		mode = "memory-bounded"
	}
	b.WriteString(fmt.Sprintf("Forest: %d trees, max depth %s (%s)\n", s.Trees, depth(s.MaxDepth), mode))
	b.WriteString(fmt.Sprintf("Took: %.1fs\n\n", s.Duration))

	b.WriteString("[DATASET]\n")
	b.WriteString(fmt.Sprintf("- malware: %d\n- benign: %d\n\n", r.Dataset.MalwareCount, r.Dataset.BenignCount))

	c := r.Classification
	b.WriteString("[CLASSIFICATION]\n")
	b.WriteString("| split | accuracy | precision | recall | f1 |\n|---|---|---|---|---|\n")
	for _, row := range []struct {
		name string
		s    eval.ClassScores
	}{{"train", c.Train}, {"validation", c.Validation}, {"test", c.Test}} {
		b.WriteString(fmt.Sprintf("| %s | %.4f | %.4f | %.4f | %.4f |\n", row.name, row.s.Accuracy, row.s.Precision, row.s.Recall, row.s.F1))
	}
	if len(c.ClassificationReport.Classes) > 0 {
		b.WriteString("\nPer class (test):\n")
		classes := append([]string(nil), c.ClassificationReport.Classes...)
		sort.Strings(classes)
		for _, name := range classes {
			e := c.ClassificationReport.PerClass[name]
			b.WriteString(fmt.Sprintf("- %s: precision %.3f, recall %.3f, f1 %.3f (n=%d)\n", safeVal(name), e.Precision, e.Recall, e.F1, e.Support))
		}
	}
	writeImportances(&b, r.ClassifierTop)

	g := r.Regression
	b.WriteString("\n[REGRESSION]\n")
	b.WriteString("| split | mse | rmse | mae | r2 |\n|---|---|---|---|---|\n")
	for _, row := range []struct {
		name string
		s    eval.RegScores
	}{{"train", g.Train}, {"validation", g.Validation}, {"test", g.Test}} {
		b.WriteString(fmt.Sprintf("| %s | %.4g | %.4g | %.4g | %.4f |\n", row.name, row.s.MSE, row.s.RMSE, row.s.MAE, row.s.R2))
	}
	if len(s.LeakageDropped) > 0 {
		b.WriteString(fmt.Sprintf("\nExcluded timing columns: %s\n", strings.Join(s.LeakageDropped, ", ")))
	}
	if s.RegRowsDropped > 0 {
		b.WriteString(fmt.Sprintf("Rows dropped for missing values: %d\n", s.RegRowsDropped))
	}
	writeImportances(&b, r.RegressorTop)
	return b.String()
}

func writeImportances(b *strings.Builder, items []eval.Importance) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\nTop features:\n")
	for i, it := range items {
		label := it.Feature
		if it.Column != "" {
			label = fmt.Sprintf("%s (%s)", it.Feature, safeVal(it.Column))
		}
		b.WriteString(fmt.Sprintf("%d. %s: %.4f\n", i+1, label, it.Importance))
	}
}

func depth(d int) string {
	if d <= 0 {
		return "unbounded"
	}
	return fmt.Sprint(d)
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }

// WriteDir writes report.json, report.md and one PNG per chart into dir and
// returns the paths written. A chart with no data is skipped.
func WriteDir(dir string, r *Report) ([]string, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, err
	}
	var written []string
	write := func(name string, data []byte) error {
		p := filepath.Join(dir, name)
		if err := utils.SafeWriteFile(p, data); err != nil {
			return err
		}
		written = append(written, p)
		return nil
	}

	js, err := r.Render("json")
	if err != nil {
		return nil, err
	}
	if err := write("report.json", js); err != nil {
		return written, err
	}
	if err := write("report.md", []byte(r.Markdown())); err != nil {
		return written, err
	}

	pngs := []struct {
		name string
		fn   func() ([]byte, error)
	}{
		{"importance-classifier.png", func() ([]byte, error) {
			return charts.FeatureImportance("Classifier feature importance", r.ClassifierTop)
		}},
		{"importance-regressor.png", func() ([]byte, error) {
			return charts.FeatureImportance("Regressor feature importance", r.RegressorTop)
		}},
		{"classification.png", func() ([]byte, error) { return charts.Classification(r.Classification) }},
		{"regression.png", func() ([]byte, error) { return charts.Regression(r.Regression) }},
	}
	for _, c := range pngs {
		data, err := c.fn()
		if errors.Is(err, charts.ErrNoData) {
			continue
		}
		if err != nil {
			return written, fmt.Errorf("%s: %w", c.name, err)
		}
		if err := write(c.name, data); err != nil {
			return written, err
		}
	}
	return written, nil
}
