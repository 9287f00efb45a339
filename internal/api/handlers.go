// Package api serves analyzer results as JSON and PNG charts over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/KaramelBytes/flowlens/internal/analyzer"
	"github.com/KaramelBytes/flowlens/internal/charts"
	"github.com/KaramelBytes/flowlens/internal/dataset"
	"github.com/KaramelBytes/flowlens/internal/eval"
	"github.com/KaramelBytes/flowlens/internal/forest"
	"github.com/KaramelBytes/flowlens/internal/logging"
	"github.com/KaramelBytes/flowlens/internal/source"
	"github.com/KaramelBytes/flowlens/internal/telemetry"
)

// Analyzer is the query surface the handlers need.
type Analyzer interface {
	State() analyzer.State
	ClassificationMetrics(ctx context.Context) (analyzer.ClassificationMetrics, error)
	RegressionMetrics(ctx context.Context) (analyzer.RegressionMetrics, error)
	FeatureImportance(ctx context.Context, task analyzer.Task, topK int) ([]eval.Importance, error)
	RawSample(ctx context.Context, n int) (dataset.Sample, error)
	DatasetStats(ctx context.Context) (dataset.Stats, error)
	Summary(ctx context.Context) (analyzer.Summary, error)
	Retrain(ctx context.Context, rowLimit int) (analyzer.Summary, error)
}

const (
	defaultSampleRows = 100
	maxSampleRows     = 5000
	pageImportances   = 10
	chartCacheSize    = 32
)

// Handler handles API requests.
type Handler struct {
	an     Analyzer
	tel    *telemetry.Recorder
	log    *zap.Logger
	charts *lru.Cache[string, []byte]
}

// NewHandler creates a new API handler.
func NewHandler(an Analyzer, tel *telemetry.Recorder, log *zap.Logger) *Handler {
	cache, err := lru.New[string, []byte](chartCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Handler{an: an, tel: tel, log: logging.OrNop(log), charts: cache}
}

// NewRouter returns a gin engine with recovery, request logging and all routes.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.log))
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.handleHealth)
	r.GET("/metrics", gin.WrapH(h.tel.Handler()))
	api := r.Group("/api")
	{
		api.GET("/status", h.handleStatus)
		api.GET("/metrics", h.handleMetrics)
		api.GET("/classification", h.handleClassification)
		api.GET("/regression", h.handleRegression)
		api.GET("/importance/:task", h.handleImportance)
		api.GET("/dataset", h.handleDataset)
		api.POST("/retrain", h.handleRetrain)
		api.GET("/charts/:name", h.handleChart)
	}
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus never blocks on a running pipeline.
func (h *Handler) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.an.State()})
}

func (h *Handler) handleMetrics(c *gin.Context) {
	ctx := c.Request.Context()
	cm, err := h.an.ClassificationMetrics(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	rm, err := h.an.RegressionMetrics(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	sum, err := h.an.Summary(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classification": cm, "regression": rm, "summary": sum})
}

func (h *Handler) handleClassification(c *gin.Context) {
	ctx := c.Request.Context()
	cm, err := h.an.ClassificationMetrics(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	top, err := h.an.FeatureImportance(ctx, analyzer.TaskClassifier, pageImportances)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": cm, "feature_importance": top})
}

func (h *Handler) handleRegression(c *gin.Context) {
	ctx := c.Request.Context()
	rm, err := h.an.RegressionMetrics(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	top, err := h.an.FeatureImportance(ctx, analyzer.TaskRegressor, pageImportances)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": rm, "feature_importance": top})
}

func (h *Handler) handleImportance(c *gin.Context) {
	task, err := analyzer.ParseTask(c.Param("task"))
	if err != nil {
		h.fail(c, err)
		return
	}
	top, err := queryInt(c, "top", 20)
	if err != nil || top < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "top must be a non-negative integer"})
		return
	}
	items, err := h.an.FeatureImportance(c.Request.Context(), task, top)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task, "feature_importance": items})
}

func (h *Handler) handleDataset(c *gin.Context) {
	rows, err := queryInt(c, "rows", defaultSampleRows)
	if err != nil || rows < 0 || rows > maxSampleRows {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rows must be an integer between 0 and " + strconv.Itoa(maxSampleRows)})
		return
	}
	ctx := c.Request.Context()
	sample, err := h.an.RawSample(ctx, rows)
	if err != nil {
		h.fail(c, err)
		return
	}
	stats, err := h.an.DatasetStats(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sample": sample, "stats": stats})
}

// RetrainRequest is the body of POST /api/retrain.
type RetrainRequest struct {
	RowLimit *int `json:"row_limit"`
}

func (h *Handler) handleRetrain(c *gin.Context) {
	var req RetrainRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	limit := 0
	if req.RowLimit != nil {
		limit = *req.RowLimit
	}
	if limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "row_limit must be >= 0"})
		return
	}
	h.log.Info("retrain requested", zap.Int("row_limit", limit), zap.String("client", c.ClientIP()))
	sum, err := h.an.Retrain(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "summary": sum})
}

func (h *Handler) handleChart(c *gin.Context) {
	name := c.Param("name")
	render, ok := h.chartRenderer(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown chart " + strconv.Quote(name)})
		return
	}
	ctx := c.Request.Context()
	sum, err := h.an.Summary(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	key := sum.RunID + "/" + name
	png, ok := h.charts.Get(key)
	if !ok {
		png, err = render(ctx)
		if err != nil {
			h.fail(c, err)
			return
		}
		h.charts.Add(key, png)
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) chartRenderer(name string) (func(context.Context) ([]byte, error), bool) {
	switch name {
	case "importance-classifier", "importance-regressor":
		task := analyzer.TaskClassifier
		title := "Classifier feature importance"
		if name == "importance-regressor" {
			task, title = analyzer.TaskRegressor, "Regressor feature importance"
		}
		return func(ctx context.Context) ([]byte, error) {
			items, err := h.an.FeatureImportance(ctx, task, 20)
			if err != nil {
				return nil, err
			}
			return charts.FeatureImportance(title, items)
		}, true
	case "classification":
		return func(ctx context.Context) ([]byte, error) {
			m, err := h.an.ClassificationMetrics(ctx)
			if err != nil {
				return nil, err
			}
			return charts.Classification(m)
		}, true
	case "regression":
		return func(ctx context.Context) ([]byte, error) {
			m, err := h.an.RegressionMetrics(ctx)
			if err != nil {
				return nil, err
			}
			return charts.Regression(m)
		}, true
	}
	return nil, false
}

// StatusFor maps pipeline errors onto HTTP status codes.
func StatusFor(err error) int {
	var (
		schema   *dataset.SchemaError
		training *forest.TrainingError
		notReady *analyzer.NotReadyError
		unavail  *source.SourceUnavailableError
	)
	switch {
	case errors.Is(err, analyzer.ErrUnknownTask):
		return http.StatusBadRequest
	case errors.As(err, &schema), errors.As(err, &training):
		return http.StatusUnprocessableEntity
	case errors.As(err, &notReady), errors.As(err, &unavail):
		return http.StatusServiceUnavailable
	case errors.Is(err, charts.ErrNoData):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "state": h.an.State()})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
