// Package eval computes classification and regression scores and ranks
// feature importances. Every function is a pure function of its inputs.
package eval

import (
	"sort"
)

// ClassScores holds the headline scores for one subset.
type ClassScores struct {
	Accuracy  float64 `json:"accuracy" yaml:"accuracy"`
	Precision float64 `json:"precision" yaml:"precision"`
	Recall    float64 `json:"recall" yaml:"recall"`
	F1        float64 `json:"f1_score" yaml:"f1_score"`
}

// ReportEntry is one row of a classification report.
type ReportEntry struct {
	Precision float64 `json:"precision" yaml:"precision"`
	Recall    float64 `json:"recall" yaml:"recall"`
	F1        float64 `json:"f1-score" yaml:"f1-score"`
	Support   int     `json:"support" yaml:"support"`
}

// Report is a per-class breakdown plus accuracy and macro/weighted averages.
type Report struct {
	Classes     []string               `json:"classes" yaml:"classes"`
	PerClass    map[string]ReportEntry `json:"per_class" yaml:"per_class"`
	Accuracy    float64                `json:"accuracy" yaml:"accuracy"`
	MacroAvg    ReportEntry            `json:"macro avg" yaml:"macro avg"`
	WeightedAvg ReportEntry            `json:"weighted avg" yaml:"weighted avg"`
}

// Labels returns the sorted union of the labels in a and b.
func Labels(a, b []string) []string {
	seen := map[string]bool{}
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		seen[v] = true
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ConfusionMatrix counts (true, predicted) pairs. Rows are true labels and
// columns predictions, both ordered by labels.
func ConfusionMatrix(yTrue, yPred, labels []string) [][]int {
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	m := make([][]int, len(labels))
	for i := range m {
		m[i] = make([]int, len(labels))
	}
	for i := range yTrue {
		t, okT := index[yTrue[i]]
		p, okP := index[yPred[i]]
		if okT && okP {
			m[t][p]++
		}
	}
	return m
}

type perClass struct {
	precision, recall, f1 float64
	support, predicted    int
	truePositive          int
}

func tally(yTrue, yPred []string) ([]string, []perClass) {
	labels := Labels(yTrue, yPred)
	cm := ConfusionMatrix(yTrue, yPred, labels)
	stats := make([]perClass, len(labels))
	for i := range labels {
		s := &stats[i]
		s.truePositive = cm[i][i]
		for j := range labels {
			s.support += cm[i][j]
			s.predicted += cm[j][i]
		}
		s.precision = safeDiv(float64(s.truePositive), float64(s.predicted))
		s.recall = safeDiv(float64(s.truePositive), float64(s.support))
		s.f1 = safeDiv(2*s.precision*s.recall, s.precision+s.recall)
	}
	return labels, stats
}

// Accuracy is the share of exact matches. It is 0 for empty input.
func Accuracy(yTrue, yPred []string) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	ok := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			ok++
		}
	}
	return float64(ok) / float64(len(yTrue))
}

// Classification returns accuracy and support-weighted precision, recall and
// F1. Undefined ratios count as 0.
func Classification(yTrue, yPred []string) ClassScores {
	_, stats := tally(yTrue, yPred)
	w := weighted(stats, len(yTrue))
	return ClassScores{
		Accuracy:  Accuracy(yTrue, yPred),
		Precision: w.Precision,
		Recall:    w.Recall,
		F1:        w.F1,
	}
}

// ClassificationReport builds the per-class table for one subset.
func ClassificationReport(yTrue, yPred []string) Report {
	labels, stats := tally(yTrue, yPred)
	r := Report{
		Classes:  labels,
		PerClass: make(map[string]ReportEntry, len(labels)),
		Accuracy: Accuracy(yTrue, yPred),
	}
	var macro ReportEntry
	for i, l := range labels {
		s := stats[i]
		r.PerClass[l] = ReportEntry{Precision: s.precision, Recall: s.recall, F1: s.f1, Support: s.support}
		macro.Precision += s.precision
		macro.Recall += s.recall
		macro.F1 += s.f1
	}
	if k := float64(len(labels)); k > 0 {
		macro.Precision /= k
		macro.Recall /= k
		macro.F1 /= k
	}
	macro.Support = len(yTrue)
	r.MacroAvg = macro
	r.WeightedAvg = weighted(stats, len(yTrue))
	return r
}

func weighted(stats []perClass, n int) ReportEntry {
	e := ReportEntry{Support: n}
	if n == 0 {
		return e
	}
	for _, s := range stats {
		w := float64(s.support) / float64(n)
		e.Precision += w * s.precision
		e.Recall += w * s.recall
		e.F1 += w * s.f1
	}
	return e
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
