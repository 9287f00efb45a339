// Package source locates the dataset file, downloading it from a public
// Drive share into a local cache when no local copy exists.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/peterbourgon/diskv"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/KaramelBytes/flowlens/internal/logging"
	"github.com/KaramelBytes/flowlens/internal/telemetry"
)

// DefaultBaseURL is the public Drive host.
const DefaultBaseURL = "https://drive.google.com"

// RemoteRef identifies the dataset in remote storage. Either id may be empty.
type RemoteRef struct {
	FileID   string
	FolderID string
	FileName string
}

func (r RemoteRef) empty() bool {
	return strings.TrimSpace(r.FileID) == "" && strings.TrimSpace(r.FolderID) == ""
}

// Options configures a Resolver. Zero values pick sensible defaults.
type Options struct {
	CacheDir   string
	Timeout    time.Duration
	BaseURL    string
	HTTPClient *http.Client
	// Progress receives a progress bar while downloading; nil disables it.
	Progress  io.Writer
	Logger    *zap.Logger
	Telemetry *telemetry.Recorder
}

// Resolver turns a local path plus an optional remote reference into a
// readable file path.
type Resolver struct {
	cache      *diskv.Diskv
	cacheDir   string
	baseURL    string
	httpClient *http.Client
	progress   io.Writer
	log        *zap.Logger
	tel        *telemetry.Recorder
}

// NewResolver builds a Resolver whose downloads land in opts.CacheDir.
func NewResolver(opts Options) *Resolver {
	if opts.CacheDir == "" {
		opts.CacheDir = "temp_data"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Resolver{
		cache: diskv.New(diskv.Options{
			BasePath:  opts.CacheDir,
			Transform: func(string) []string { return []string{} },
		}),
		cacheDir:   opts.CacheDir,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: hc,
		progress:   opts.Progress,
		log:        logging.OrNop(opts.Logger),
		tel:        opts.Telemetry,
	}
}

// CachePath is where a downloaded file named name is stored.
func (r *Resolver) CachePath(name string) string {
	return filepath.Join(r.cacheDir, cacheKey(name))
}

// Resolve returns localPath when it exists. Otherwise it returns the cached
// download, fetching it first if needed: one attempt with the file id, then
// one attempt through the folder listing. Nothing is retried beyond that.
func (r *Resolver) Resolve(ctx context.Context, localPath string, ref RemoteRef) (string, error) {
	if localPath != "" {
		if info, err := os.Stat(localPath); err == nil && !info.IsDir() {
			r.log.Debug("using local dataset", zap.String("path", localPath))
			return localPath, nil
		}
	}
	if ref.empty() {
		return "", &SourceUnavailableError{
			Reason: fmt.Sprintf("%q not found and no remote identifier configured", localPath),
			Remedy: remedyConfigure,
		}
	}

	key := cacheKey(ref.FileName)
	path := r.CachePath(ref.FileName)
	if r.cache.Has(key) {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			r.log.Info("using cached dataset", zap.String("path", path), zap.String("size", humanize.Bytes(uint64(info.Size()))))
			return path, nil
		}
		_ = r.cache.Erase(key)
	}

	type attempt struct {
		kind string
		run  func(context.Context) (*http.Response, error)
	}
	var attempts []attempt
	if id := strings.TrimSpace(ref.FileID); id != "" {
		attempts = append(attempts, attempt{"file", func(ctx context.Context) (*http.Response, error) {
			return r.openFile(ctx, id)
		}})
	}
	if id := strings.TrimSpace(ref.FolderID); id != "" {
		attempts = append(attempts, attempt{"folder", func(ctx context.Context) (*http.Response, error) {
			return r.openFromFolder(ctx, id, ref.FileName)
		}})
	}

	var errs error
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		r.log.Info("downloading dataset", zap.String("via", a.kind), zap.String("dest", path))
		resp, err := a.run(ctx)
		if err == nil {
			err = r.store(key, resp)
		}
		if err == nil {
			return path, nil
		}
		r.log.Warn("download attempt failed", zap.String("via", a.kind), zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("%s id: %w", a.kind, err))
	}
	return "", &SourceUnavailableError{
		Reason: "download failed",
		Remedy: "check that the Drive share is public or place the CSV at dataset_path",
		Err:    errs,
	}
}

var errEmptyDownload = errors.New("downloaded file is empty")

// store streams the response body into the cache. Empty or partial files are erased.
func (r *Resolver) store(key string, resp *http.Response) (err error) {
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if r.progress != nil {
		bar := pb.New64(resp.ContentLength).
			SetTemplate(pb.Full).
			SetWriter(r.progress).
			Set(pb.Bytes, true).
			Start()
		defer bar.Finish()
		body = bar.NewProxyReader(body)
	}
	cr := &countingReader{r: body}
	if err := r.cache.WriteStream(key, cr, true); err != nil {
		_ = r.cache.Erase(key)
		return fmt.Errorf("write cache: %w", err)
	}
	r.tel.AddDownloadBytes(cr.n)
	if cr.n == 0 {
		_ = r.cache.Erase(key)
		return errEmptyDownload
	}
	r.log.Info("dataset downloaded", zap.String("key", key), zap.String("size", humanize.Bytes(uint64(cr.n))))
	return nil
}

func cacheKey(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "dataset.csv"
	}
	return name
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
