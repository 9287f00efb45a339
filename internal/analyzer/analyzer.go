// Package analyzer owns the end-to-end pipeline (resolve, load, prepare,
// train, evaluate) and serves its results to the CLI and the HTTP API.
package analyzer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KaramelBytes/flowlens/internal/config"
	"github.com/KaramelBytes/flowlens/internal/dataset"
	"github.com/KaramelBytes/flowlens/internal/eval"
	"github.com/KaramelBytes/flowlens/internal/forest"
	"github.com/KaramelBytes/flowlens/internal/logging"
	"github.com/KaramelBytes/flowlens/internal/prep"
	"github.com/KaramelBytes/flowlens/internal/source"
	"github.com/KaramelBytes/flowlens/internal/telemetry"
)

// Resolver produces a readable dataset path.
type Resolver interface {
	Resolve(ctx context.Context, localPath string, ref source.RemoteRef) (string, error)
}

// Options configures an Analyzer.
type Options struct {
	DatasetPath     string
	Remote          source.RemoteRef
	Resolver        Resolver
	RowLimit        int
	LabelColumn     string
	BenignLabel     string
	TargetColumn    string
	LeakageColumns  []string
	Forest          forest.Config
	BoundedTrees    int
	BoundedMaxDepth int
	ImputeFromTrain bool

	Logger    *zap.Logger
	Telemetry *telemetry.Recorder
}

// OptionsFromConfig maps the global configuration onto analyzer options.
func OptionsFromConfig(c *config.Global) Options {
	fc := forest.DefaultConfig()
	fc.Trees = c.Trees
	fc.MaxDepth = c.MaxDepth
	fc.Jobs = c.Jobs
	fc.Seed = c.Seed
	return Options{
		DatasetPath: c.DatasetPath,
		Remote: source.RemoteRef{
			FileID:   c.RemoteFileID,
			FolderID: c.RemoteFolderID,
			FileName: c.RemoteFileName,
		},
		RowLimit:        c.RowLimit,
		LabelColumn:     c.LabelColumn,
		BenignLabel:     c.BenignLabel,
		TargetColumn:    c.TargetColumn,
		LeakageColumns:  c.LeakageColumns,
		Forest:          fc,
		BoundedTrees:    c.BoundedTrees,
		BoundedMaxDepth: c.BoundedMaxDepth,
		ImputeFromTrain: c.ImputeFromTrain,
	}
}

// Analyzer runs the pipeline once on first use and again on Retrain. The
// whole run holds the write lock; queries take the read lock and therefore
// wait for a running pipeline and never see a half-built snapshot.
type Analyzer struct {
	opts  Options
	log   *zap.Logger
	tel   *telemetry.Recorder
	state atomic.Int32

	mu      sync.RWMutex
	snap    *snapshot
	lastErr error
}

type snapshot struct {
	summary    Summary
	table      *dataset.Table
	stats      dataset.Stats
	clfMetrics ClassificationMetrics
	regMetrics RegressionMetrics
	clfImp     []float64
	regImp     []float64
}

// New returns an Analyzer in the Uninitialized state. Nothing runs until
// the first query or Retrain.
func New(opts Options) *Analyzer {
	if opts.Forest.Trees == 0 {
		opts.Forest = forest.DefaultConfig()
	}
	if opts.BoundedTrees <= 0 {
		opts.BoundedTrees = 30
	}
	if opts.BoundedMaxDepth <= 0 {
		opts.BoundedMaxDepth = 12
	}
	log := logging.OrNop(opts.Logger)
	if opts.Resolver == nil {
		opts.Resolver = source.NewResolver(source.Options{Logger: log, Telemetry: opts.Telemetry})
	}
	return &Analyzer{opts: opts, log: log, tel: opts.Telemetry}
}

// State reports the lifecycle state without blocking.
func (a *Analyzer) State() State { return State(a.state.Load()) }

func (a *Analyzer) setState(s State) { a.state.Store(int32(s)) }

// ensure runs the pipeline once if nothing has run yet.
func (a *Analyzer) ensure(ctx context.Context) {
	if a.State() != Uninitialized {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.State() != Uninitialized {
		return
	}
	// A run always completes; a caller going away must not abort training.
	snap, err := a.run(context.WithoutCancel(ctx), a.opts.RowLimit)
	if err != nil {
		a.lastErr = err
		a.setState(Failed)
		return
	}
	a.snap = snap
	a.lastErr = nil
	a.setState(Ready)
}

// current returns the published snapshot, running the pipeline lazily.
func (a *Analyzer) current(ctx context.Context) (*snapshot, error) {
	a.ensure(ctx)
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.snap == nil {
		return nil, &NotReadyError{State: a.State(), Err: a.lastErr}
	}
	return a.snap, nil
}

// Retrain discards the current snapshot and reruns the pipeline with
// rowLimit (0 reads every row). If resolving or loading the data fails the
// analyzer is left Failed; a failure in a later stage restores the previous
// snapshot. The error is returned in both cases.
func (a *Analyzer) Retrain(ctx context.Context, rowLimit int) (Summary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev, prevErr := a.snap, a.lastErr
	a.snap = nil
	snap, err := a.run(context.WithoutCancel(ctx), rowLimit)
	if err == nil {
		a.snap = snap
		a.lastErr = nil
		a.setState(Ready)
		sum := snap.summary
		sum.State = Ready
		return sum, nil
	}

	var se *stageError
	if (errors.As(err, &se) && se.stage == stageLoad) || prev == nil {
		a.lastErr = err
		a.setState(Failed)
		return Summary{}, err
	}
	a.snap, a.lastErr = prev, prevErr
	a.setState(Ready)
	a.log.Warn("retrain failed, previous results kept", zap.String("run_id", prev.summary.RunID), zap.Error(err))
	return Summary{}, err
}

// ClassificationMetrics returns per-subset classifier scores.
func (a *Analyzer) ClassificationMetrics(ctx context.Context) (ClassificationMetrics, error) {
	s, err := a.current(ctx)
	if err != nil {
		return ClassificationMetrics{}, err
	}
	return s.clfMetrics, nil
}

// RegressionMetrics returns per-subset regressor scores.
func (a *Analyzer) RegressionMetrics(ctx context.Context) (RegressionMetrics, error) {
	s, err := a.current(ctx)
	if err != nil {
		return RegressionMetrics{}, err
	}
	return s.regMetrics, nil
}

// FeatureImportance returns at most topK ranked features of one model.
func (a *Analyzer) FeatureImportance(ctx context.Context, task Task, topK int) ([]eval.Importance, error) {
	if task != TaskClassifier && task != TaskRegressor {
		return nil, ErrUnknownTask
	}
	s, err := a.current(ctx)
	if err != nil {
		return nil, err
	}
	if task == TaskClassifier {
		return eval.TopFeatures(s.clfImp, s.summary.ClassFeatures, topK), nil
	}
	return eval.TopFeatures(s.regImp, s.summary.RegFeatures, topK), nil
}

// RawSample returns the first n rows of the loaded table.
func (a *Analyzer) RawSample(ctx context.Context, n int) (dataset.Sample, error) {
	s, err := a.current(ctx)
	if err != nil {
		return dataset.Sample{}, err
	}
	return s.table.Head(n), nil
}

// DatasetStats returns size and label balance of the loaded table.
func (a *Analyzer) DatasetStats(ctx context.Context) (dataset.Stats, error) {
	s, err := a.current(ctx)
	if err != nil {
		return dataset.Stats{}, err
	}
	return s.stats, nil
}

// Summary describes the run behind the current results.
func (a *Analyzer) Summary(ctx context.Context) (Summary, error) {
	s, err := a.current(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum := s.summary
	sum.State = a.State()
	return sum, nil
}

// run executes the full pipeline. It publishes nothing; the caller swaps the
// returned snapshot in.
func (a *Analyzer) run(ctx context.Context, rowLimit int) (snap *snapshot, err error) {
	runID := uuid.NewString()
	log := a.log.With(zap.String("run_id", runID))
	started := time.Now()
	sum := Summary{RunID: runID, RowLimit: rowLimit, StartedAt: started, Stages: map[string]float64{}}
	defer func() {
		a.tel.RunFinished(err)
		if err != nil {
			log.Error("analysis failed", zap.Error(err))
		}
	}()

	stage := func(name string, fn func() error) error {
		t0 := time.Now()
		err := fn()
		d := time.Since(t0)
		a.tel.ObserveStage(name, d)
		sum.Stages[name] = d.Seconds()
		if err != nil {
			return &stageError{stage: name, err: err}
		}
		log.Debug("stage done", zap.String("stage", name), zap.Duration("took", d))
		return nil
	}

	fc := a.opts.Forest
	if rowLimit > 0 {
		fc.Trees = a.opts.BoundedTrees
		fc.MaxDepth = a.opts.BoundedMaxDepth
		fc.Jobs = 1
		sum.Bounded = true
	}
	sum.Trees, sum.MaxDepth = fc.Trees, fc.MaxDepth
	log.Info("analysis started", zap.Int("row_limit", rowLimit), zap.Bool("memory_bounded", sum.Bounded), zap.Int("trees", fc.Trees))

	s := &snapshot{}
	a.setState(Loading)
	if err := stage(stageLoad, func() error {
		path, err := a.opts.Resolver.Resolve(ctx, a.opts.DatasetPath, a.opts.Remote)
		if err != nil {
			return err
		}
		t, err := dataset.Load(path, rowLimit)
		if err != nil {
			return err
		}
		s.table = t
		sum.Dataset = path
		return nil
	}); err != nil {
		return nil, err
	}
	sum.Rows, sum.Columns, sum.Truncated = s.table.NumRows(), len(s.table.Columns), s.table.Truncated
	a.tel.SetDatasetRows(sum.Rows)
	log.Info("dataset loaded", zap.String("path", sum.Dataset), zap.Int("rows", sum.Rows), zap.Int("columns", sum.Columns))

	a.setState(TrainingClassification)
	var clfSet *prep.ClassificationSet
	if err := stage("prepare_classification", func() error {
		var err error
		clfSet, err = prep.Classification(s.table, prep.ClassificationOptions{
			Label:           a.opts.LabelColumn,
			Seed:            fc.Seed,
			ImputeFromTrain: a.opts.ImputeFromTrain,
		})
		if err != nil {
			return err
		}
		s.stats, err = s.table.Stats(a.opts.LabelColumn, a.opts.BenignLabel)
		return err
	}); err != nil {
		return nil, err
	}
	sum.ClassFeatures = clfSet.Features
	if err := stage("train_classification", func() error {
		clf, err := forest.FitClassifier(clfSet.Train.X, clfSet.Train.Y, fc)
		if err != nil {
			return err
		}
		s.clfImp = clf.FeatureImportances()
		s.clfMetrics = classificationMetrics(clf, clfSet)
		return nil
	}); err != nil {
		return nil, err
	}

	a.setState(TrainingRegression)
	var regSet *prep.RegressionSet
	if err := stage("prepare_regression", func() error {
		var err error
		regSet, err = prep.Regression(s.table, prep.RegressionOptions{
			Target:  a.opts.TargetColumn,
			Leakage: a.opts.LeakageColumns,
			Seed:    fc.Seed,
		})
		return err
	}); err != nil {
		return nil, err
	}
	sum.RegFeatures, sum.LeakageDropped, sum.RegRowsDropped = regSet.Features, regSet.Dropped, regSet.RowsDropped
	if err := stage("train_regression", func() error {
		reg, err := forest.FitRegressor(regSet.Train.X, regSet.Train.Y, fc)
		if err != nil {
			return err
		}
		s.regImp = reg.FeatureImportances()
		s.regMetrics = RegressionMetrics{
			Train:      eval.Regression(regSet.Train.Y, reg.Predict(regSet.Train.X)),
			Validation: eval.Regression(regSet.Validation.Y, reg.Predict(regSet.Validation.X)),
			Test:       eval.Regression(regSet.Test.Y, reg.Predict(regSet.Test.X)),
		}
		return nil
	}); err != nil {
		return nil, err
	}

	sum.Duration = time.Since(started).Seconds()
	s.summary = sum
	log.Info("analysis finished",
		zap.Float64("seconds", sum.Duration),
		zap.Float64("test_accuracy", s.clfMetrics.Test.Accuracy),
		zap.Float64("test_r2", s.regMetrics.Test.R2))
	return s, nil
}

const stageLoad = "load"

func classificationMetrics(clf *forest.Classifier, set *prep.ClassificationSet) ClassificationMetrics {
	testPred := clf.Predict(set.Test.X)
	labels := eval.Labels(set.Test.Y, testPred)
	return ClassificationMetrics{
		Train:                eval.Classification(set.Train.Y, clf.Predict(set.Train.X)),
		Validation:           eval.Classification(set.Validation.Y, clf.Predict(set.Validation.X)),
		Test:                 eval.Classification(set.Test.Y, testPred),
		Labels:               labels,
		ConfusionMatrix:      eval.ConfusionMatrix(set.Test.Y, testPred, labels),
		ClassificationReport: eval.ClassificationReport(set.Test.Y, testPred),
	}
}
