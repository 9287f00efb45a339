package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

const csvBody = "duration,calss\n1,benign\n2,asware\n"

type ipv4Server struct {
	URL string
	srv *http.Server
}

func newIPv4Server(t *testing.T, handler http.Handler) *ipv4Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("test server serve: %v", err))
		}
	}()
	s := &ipv4Server{URL: "http://" + ln.Addr().String(), srv: srv}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.srv.Shutdown(ctx)
	})
	return s
}

func newTestResolver(t *testing.T, baseURL string) *Resolver {
	t.Helper()
	return NewResolver(Options{CacheDir: filepath.Join(t.TempDir(), "cache"), BaseURL: baseURL, Timeout: 5 * time.Second})
}

func TestResolveLocalPathSkipsNetwork(t *testing.T) {
	var hits int32
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	local := filepath.Join(t.TempDir(), "flows.csv")
	if err := os.WriteFile(local, []byte(csvBody), 0o644); err != nil {
		t.Fatal(err)
	}
	r := newTestResolver(t, srv.URL)
	got, err := r.Resolve(context.Background(), local, RemoteRef{FileID: "abc", FileName: "flows.csv"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != local {
		t.Fatalf("got %q want %q", got, local)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("expected no network access, got %d requests", hits)
	}
}

func TestResolveWithoutSourceFails(t *testing.T) {
	r := newTestResolver(t, "http://127.0.0.1:1")
	_, err := r.Resolve(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), RemoteRef{FileName: "x.csv"})
	var su *SourceUnavailableError
	if !errors.As(err, &su) {
		t.Fatalf("want SourceUnavailableError, got %v", err)
	}
	if su.Remedy == "" {
		t.Fatalf("expected remedy text")
	}
}

func TestResolveDownloadsOnceThenUsesCache(t *testing.T) {
	var hits int32
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/uc" || r.URL.Query().Get("id") != "file123" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(csvBody))
	}))
	r := newTestResolver(t, srv.URL)
	ref := RemoteRef{FileID: "file123", FileName: "flows.csv"}
	path, err := r.Resolve(context.Background(), "", ref)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != csvBody {
		t.Fatalf("cached content mismatch: %q (%v)", b, err)
	}
	again, err := r.Resolve(context.Background(), "", ref)
	if err != nil || again != path {
		t.Fatalf("second Resolve: %q %v", again, err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("expected exactly one download, got %d", n)
	}
}

func TestResolveFollowsConfirmToken(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("confirm") == "t0k" && r.URL.Query().Get("uuid") == "u-1" {
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte(csvBody))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<form><input type="hidden" name="confirm" value="t0k"><input type="hidden" name="uuid" value="u-1"></form>`))
	}))
	r := newTestResolver(t, srv.URL)
	path, err := r.Resolve(context.Background(), "", RemoteRef{FileID: "big", FileName: "flows.csv"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b, _ := os.ReadFile(path); string(b) != csvBody {
		t.Fatalf("unexpected content %q", b)
	}
}

func TestResolveFallsBackToFolder(t *testing.T) {
	listing := `<div class="flip-entry"><a href="https://drive.google.com/file/d/other1/view?usp=drive_web" target="_blank"><div class="flip-entry-title">notes.txt</div></a></div>
<div class="flip-entry"><a href="https://drive.google.com/file/d/want22/view?usp=drive_web" target="_blank"><div class="flip-entry-title">flows.csv</div></a></div>`
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/embeddedfolderview":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(listing))
		case r.URL.Path == "/uc" && r.URL.Query().Get("id") == "want22":
			w.Header().Set("Content-Type", "text/csv")
			_, _ = w.Write([]byte(csvBody))
		default:
			http.Error(w, "gone", http.StatusNotFound)
		}
	}))
	r := newTestResolver(t, srv.URL)
	path, err := r.Resolve(context.Background(), "", RemoteRef{FileID: "stale", FolderID: "dir", FileName: "flows.csv"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b, _ := os.ReadFile(path); string(b) != csvBody {
		t.Fatalf("unexpected content %q", b)
	}
}

func TestResolveEmptyDownloadIsRemoved(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
	}))
	r := newTestResolver(t, srv.URL)
	_, err := r.Resolve(context.Background(), "", RemoteRef{FileID: "empty", FileName: "flows.csv"})
	var su *SourceUnavailableError
	if !errors.As(err, &su) {
		t.Fatalf("want SourceUnavailableError, got %v", err)
	}
	if !errors.Is(err, errEmptyDownload) {
		t.Fatalf("expected empty download cause, got %v", err)
	}
	if _, statErr := os.Stat(r.CachePath("flows.csv")); !os.IsNotExist(statErr) {
		t.Fatalf("empty cache file should be removed, stat err=%v", statErr)
	}
}

func TestPickFolderEntryPrefersNameThenFirstCSV(t *testing.T) {
	page := []byte(`<a href="/file/d/a1/view"><div class="flip-entry-title">a.csv</div></a><a href="/file/d/b2/view"><div class="flip-entry-title">b.csv</div></a>`)
	if id, _ := pickFolderEntry(page, "b.csv"); id != "b2" {
		t.Fatalf("exact name: got %q", id)
	}
	if id, _ := pickFolderEntry(page, "missing.csv"); id != "a1" {
		t.Fatalf("first csv: got %q", id)
	}
	if _, err := pickFolderEntry([]byte("<html></html>"), "x.csv"); err == nil {
		t.Fatalf("expected error for empty listing")
	}
}
