package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/flowlens/internal/config"
	"github.com/KaramelBytes/flowlens/internal/dataset"
	"github.com/KaramelBytes/flowlens/internal/forest"
	"github.com/KaramelBytes/flowlens/internal/source"
	"github.com/KaramelBytes/flowlens/internal/telemetry"
)

// writeFlows writes n synthetic flow rows with three balanced classes. When
// withLabel is false the label column is omitted; when withTarget is false
// the duration column is.
func writeFlows(t *testing.T, dir string, n int, withLabel, withTarget bool) string {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	classes := []string{"benign", "asware", "GeneralMalware"}
	var b strings.Builder
	var head []string
	if withTarget {
		head = append(head, "duration")
	}
	head = append(head, "total_fiat", "mean_idle", "packets", "bytes", "flags")
	if withLabel {
		head = append(head, "calss")
	}
	b.WriteString(strings.Join(head, ",") + "\n")
	for i := 0; i < n; i++ {
		c := i % 3
		packets := float64(c*10) + rng.Float64()*8
		bytes := rng.Float64() * 100
		dur := bytes*3 + rng.Float64()
		var row []string
		if withTarget {
			row = append(row, fmt.Sprintf("%.4f", dur))
		}
		row = append(row,
			fmt.Sprintf("%.4f", dur*2),
			fmt.Sprintf("%.4f", dur/4),
			fmt.Sprintf("%.4f", packets),
			fmt.Sprintf("%.4f", bytes),
			fmt.Sprintf("%d", rng.Intn(4)),
		)
		if withLabel {
			row = append(row, classes[c])
		}
		b.WriteString(strings.Join(row, ",") + "\n")
	}
	path := filepath.Join(dir, fmt.Sprintf("flows-%d-%v-%v.csv", n, withLabel, withTarget))
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

// switchResolver returns whatever path or error it currently holds.
type switchResolver struct {
	mu   sync.Mutex
	path string
	err  error
}

func (s *switchResolver) Resolve(context.Context, string, source.RemoteRef) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path, s.err
}

func (s *switchResolver) set(path string, err error) {
	s.mu.Lock()
	s.path, s.err = path, err
	s.mu.Unlock()
}

func testOptions(path string) Options {
	fc := forest.DefaultConfig()
	fc.Trees = 8
	fc.Jobs = 2
	return Options{
		DatasetPath:     path,
		LabelColumn:     "calss",
		BenignLabel:     "benign",
		TargetColumn:    "duration",
		LeakageColumns:  config.DefaultLeakageColumns,
		Forest:          fc,
		BoundedTrees:    6,
		BoundedMaxDepth: 8,
	}
}

func TestRetrainProducesClassificationMetrics(t *testing.T) {
	path := writeFlows(t, t.TempDir(), 1000, true, true)
	a := New(testOptions(path))
	assert.Equal(t, Uninitialized, a.State())

	sum, err := a.Retrain(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, Ready, a.State())
	assert.True(t, sum.Bounded)
	assert.Equal(t, 6, sum.Trees)
	assert.Equal(t, 8, sum.MaxDepth)
	assert.Equal(t, 1000, sum.Rows)
	assert.NotEmpty(t, sum.RunID)

	m, err := a.ClassificationMetrics(context.Background())
	require.NoError(t, err)
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	var keys map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &keys))
	for _, k := range []string{"train", "validation", "test", "confusion_matrix", "classification_report"} {
		assert.Contains(t, keys, k)
	}
	for _, s := range []float64{m.Train.Accuracy, m.Validation.Accuracy, m.Test.Accuracy} {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
	assert.Len(t, m.ConfusionMatrix, 3)
	cells := 0
	for _, row := range m.ConfusionMatrix {
		for _, v := range row {
			cells += v
		}
	}
	assert.Equal(t, cells, m.ClassificationReport.WeightedAvg.Support)

	stats, err := a.DatasetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dataset.Stats{TotalRows: 1000, TotalColumns: 7, MalwareCount: 666, BenignCount: 334}, stats)
}

func TestFirstQueryRunsPipelineLazily(t *testing.T) {
	path := writeFlows(t, t.TempDir(), 300, true, true)
	a := New(testOptions(path))
	rm, err := a.RegressionMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ready, a.State())
	assert.Greater(t, rm.Train.R2, 0.5)

	sum, err := a.Summary(context.Background())
	require.NoError(t, err)
	assert.False(t, sum.Bounded)
	assert.Equal(t, 8, sum.Trees)
	assert.Equal(t, []string{"total_fiat", "mean_idle"}, sum.LeakageDropped)
	assert.NotContains(t, sum.RegFeatures, "duration")
	assert.NotContains(t, sum.RegFeatures, "total_fiat")
	for _, stage := range []string{"load", "prepare_classification", "train_classification", "prepare_regression", "train_regression"} {
		assert.Contains(t, sum.Stages, stage)
	}
}

func TestCancelledCallerDoesNotAbortRun(t *testing.T) {
	path := writeFlows(t, t.TempDir(), 300, true, true)
	a := New(testOptions(path))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.ClassificationMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, Ready, a.State())

	_, err = a.RegressionMetrics(context.Background())
	require.NoError(t, err)

	sum, err := a.Retrain(ctx, 150)
	require.NoError(t, err)
	assert.Equal(t, 150, sum.Rows)
	assert.Equal(t, Ready, a.State())
}

func TestMissingLabelFailsBeforeTraining(t *testing.T) {
	path := writeFlows(t, t.TempDir(), 120, false, true)
	a := New(testOptions(path))
	_, err := a.ClassificationMetrics(context.Background())

	var schema *dataset.SchemaError
	require.True(t, errors.As(err, &schema), "got %v", err)
	assert.Equal(t, "calss", schema.Column)
	var se *stageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "prepare_classification", se.stage)
	var nr *NotReadyError
	assert.True(t, errors.As(err, &nr))
	assert.Equal(t, Failed, a.State())
}

func TestMissingSourceIsUnavailable(t *testing.T) {
	opts := testOptions(filepath.Join(t.TempDir(), "absent.csv"))
	opts.Resolver = source.NewResolver(source.Options{CacheDir: t.TempDir()})
	a := New(opts)
	_, err := a.DatasetStats(context.Background())
	var su *source.SourceUnavailableError
	require.True(t, errors.As(err, &su), "got %v", err)
	assert.Equal(t, Failed, a.State())
}

func TestRetrainLoadFailureLeavesFailedUntilSuccess(t *testing.T) {
	dir := t.TempDir()
	good := writeFlows(t, dir, 200, true, true)
	res := &switchResolver{path: good}
	opts := testOptions("")
	opts.Resolver = res
	a := New(opts)

	_, err := a.Retrain(context.Background(), 0)
	require.NoError(t, err)

	res.set("", &source.SourceUnavailableError{Reason: "gone"})
	_, err = a.Retrain(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, Failed, a.State())

	for i := 0; i < 2; i++ {
		_, err = a.ClassificationMetrics(context.Background())
		var nr *NotReadyError
		require.True(t, errors.As(err, &nr), "query %d: got %v", i, err)
		assert.Equal(t, Failed, nr.State)
	}

	res.set(good, nil)
	_, err = a.Retrain(context.Background(), 0)
	require.NoError(t, err)
	_, err = a.ClassificationMetrics(context.Background())
	assert.NoError(t, err)
}

func TestRetrainLaterFailureRestoresPrevious(t *testing.T) {
	dir := t.TempDir()
	good := writeFlows(t, dir, 200, true, true)
	noTarget := writeFlows(t, dir, 200, true, false)
	res := &switchResolver{path: good}
	opts := testOptions("")
	opts.Resolver = res
	a := New(opts)

	first, err := a.Retrain(context.Background(), 0)
	require.NoError(t, err)

	res.set(noTarget, nil)
	_, err = a.Retrain(context.Background(), 0)
	var schema *dataset.SchemaError
	require.True(t, errors.As(err, &schema), "got %v", err)
	assert.Equal(t, "duration", schema.Column)
	assert.Equal(t, Ready, a.State())

	sum, err := a.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.RunID, sum.RunID)
}

func TestRerunIsDeterministic(t *testing.T) {
	path := writeFlows(t, t.TempDir(), 300, true, true)
	a := New(testOptions(path))
	b := New(testOptions(path))
	ma, err := a.ClassificationMetrics(context.Background())
	require.NoError(t, err)
	mb, err := b.ClassificationMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ma, mb)

	ra, err := a.RegressionMetrics(context.Background())
	require.NoError(t, err)
	rb, err := b.RegressionMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ra, rb)
}

func TestFeatureImportanceTopK(t *testing.T) {
	path := writeFlows(t, t.TempDir(), 300, true, true)
	a := New(testOptions(path))
	top, err := a.FeatureImportance(context.Background(), TaskClassifier, 20)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(top), 20)
	assert.Len(t, top, 6)
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].Importance, top[i].Importance)
	}
	assert.Equal(t, "packets", top[0].Column)

	top, err = a.FeatureImportance(context.Background(), TaskRegressor, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)

	_, err = a.FeatureImportance(context.Background(), Task("bogus"), 5)
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestQueriesDuringRetrainSeeWholeSnapshots(t *testing.T) {
	path := writeFlows(t, t.TempDir(), 200, true, true)
	opts := testOptions(path)
	opts.Telemetry = telemetry.NewRecorder()
	a := New(opts)
	_, err := a.Retrain(context.Background(), 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sum, err := a.Summary(context.Background())
			if err != nil {
				errs <- err
				return
			}
			if sum.Stages == nil || sum.RunID == "" {
				errs <- fmt.Errorf("partial summary: %+v", sum)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := a.Retrain(context.Background(), 100); err != nil {
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent access: %v", err)
	}
}

func TestParseTask(t *testing.T) {
	for in, want := range map[string]Task{"classifier": TaskClassifier, "classification": TaskClassifier, "regressor": TaskRegressor, "regression": TaskRegressor} {
		got, err := ParseTask(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseTask("cluster")
	assert.ErrorIs(t, err, ErrUnknownTask)
}
