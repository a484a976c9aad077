package library

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetcherReusesFreshFile(t *testing.T) {
	t.Parallel()

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Etag", `"v1"`)
		_, _ = w.Write([]byte("%PDF-1.4\nHello"))
	}))
	t.Cleanup(server.Close)

	f, err := NewFetcher(t.TempDir(), server.Client())
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	ctx := context.Background()

	path, err := f.Fetch(ctx, server.URL+"/doc.pdf")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("cached file missing: %v", err)
	}
	path2, err := f.Fetch(ctx, server.URL+"/doc.pdf")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if path != path2 || hits != 1 {
		t.Fatalf("expected cached reuse, paths %s/%s hits %d", path, path2, hits)
	}
}

func TestFetcherRevalidatesStaleFile(t *testing.T) {
	t.Parallel()

	var conditional bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v2"` {
			conditional = true
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Etag", `"v2"`)
		_, _ = w.Write([]byte("%PDF-1.4\nUpdated"))
	}))
	t.Cleanup(server.Close)

	f, err := NewFetcher(t.TempDir(), server.Client())
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	ctx := context.Background()
	path, err := f.Fetch(ctx, server.URL+"/stale.pdf")
	if err != nil {
		t.Fatalf("initial fetch: %v", err)
	}
	old := time.Now().Add(-2 * fetchTTL)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if _, err := f.Fetch(ctx, server.URL+"/stale.pdf"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !conditional {
		t.Fatalf("expected conditional request")
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "Updated") {
		t.Fatalf("cached content lost: %q", data)
	}
}

func TestFetcherResumesPartialDownload(t *testing.T) {
	t.Parallel()

	full := "%PDF-1.4\nabcdefghijklmnopqrstuvwxyz"
	var gotRange string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		if gotRange == "bytes=10-" {
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte(full[10:]))
			return
		}
		_, _ = w.Write([]byte(full))
	}))
	t.Cleanup(server.Close)

	f, err := NewFetcher(t.TempDir(), server.Client())
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	rawURL := server.URL + "/big.pdf"
	_, _, partial := f.pathsFor(fetchKey(rawURL))
	if err := os.WriteFile(partial, []byte(full[:10]), 0o644); err != nil {
		t.Fatalf("seed partial: %v", err)
	}
	path, err := f.Fetch(context.Background(), rawURL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotRange != "bytes=10-" {
		t.Fatalf("Range header = %q", gotRange)
	}
	data, _ := os.ReadFile(path)
	if string(data) != full {
		t.Fatalf("resumed content = %q", data)
	}
}

func TestFetcherFallsBackToCachedCopy(t *testing.T) {
	t.Parallel()

	var down atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			http.Error(w, "gone", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("%PDF-1.4\nv1"))
	}))
	t.Cleanup(server.Close)

	f, err := NewFetcher(t.TempDir(), server.Client())
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	path, err := f.Fetch(context.Background(), server.URL+"/x.pdf")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	old := time.Now().Add(-2 * fetchTTL)
	_ = os.Chtimes(path, old, old)
	down.Store(true)
	if got, err := f.Fetch(context.Background(), server.URL+"/x.pdf"); err != nil || got != path {
		t.Fatalf("fallback = %s, %v", got, err)
	}
	if _, err := f.Fetch(context.Background(), server.URL+"/never.pdf"); err == nil {
		t.Fatalf("expected error for uncached failure")
	}
	if _, err := f.Fetch(context.Background(), "ftp://example.com/a.pdf"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}
