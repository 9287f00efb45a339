package analyzer

import (
	"time"

	"github.com/KaramelBytes/flowlens/internal/eval"
)

// ClassificationMetrics holds per-subset scores plus the test confusion
// matrix and report.
type ClassificationMetrics struct {
	Train                eval.ClassScores `json:"train" yaml:"train"`
	Validation           eval.ClassScores `json:"validation" yaml:"validation"`
	Test                 eval.ClassScores `json:"test" yaml:"test"`
	Labels               []string         `json:"labels" yaml:"labels"`
	ConfusionMatrix      [][]int          `json:"confusion_matrix" yaml:"confusion_matrix"`
	ClassificationReport eval.Report      `json:"classification_report" yaml:"classification_report"`
}

// RegressionMetrics holds per-subset error scores.
type RegressionMetrics struct {
	Train      eval.RegScores `json:"train" yaml:"train"`
	Validation eval.RegScores `json:"validation" yaml:"validation"`
	Test       eval.RegScores `json:"test" yaml:"test"`
}

// Summary describes the run behind the current snapshot.
type Summary struct {
	RunID          string             `json:"run_id" yaml:"run_id"`
	State          State              `json:"state" yaml:"state"`
	Dataset        string             `json:"dataset" yaml:"dataset"`
	RowLimit       int                `json:"row_limit" yaml:"row_limit"`
	Bounded        bool               `json:"memory_bounded" yaml:"memory_bounded"`
	Trees          int                `json:"trees" yaml:"trees"`
	MaxDepth       int                `json:"max_depth" yaml:"max_depth"`
	Rows           int                `json:"rows" yaml:"rows"`
	Columns        int                `json:"columns" yaml:"columns"`
	Truncated      bool               `json:"truncated" yaml:"truncated"`
	ClassFeatures  []string           `json:"classification_features" yaml:"classification_features"`
	RegFeatures    []string           `json:"regression_features" yaml:"regression_features"`
	LeakageDropped []string           `json:"leakage_dropped" yaml:"leakage_dropped"`
	RegRowsDropped int                `json:"regression_rows_dropped" yaml:"regression_rows_dropped"`
	StartedAt      time.Time          `json:"started_at" yaml:"started_at"`
	Duration       float64            `json:"duration_seconds" yaml:"duration_seconds"`
	Stages         map[string]float64 `json:"stage_seconds" yaml:"stage_seconds"`
}
