package library

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	fetchTTL           = 24 * time.Hour
	partialSuffix      = ".part"
	metaSuffix         = ".meta"
	defaultHTTPTimeout = 90 * time.Second
)

// Fetcher downloads documents into a local cache. Fresh files are reused,
// stale ones revalidated with ETag/Last-Modified, and interrupted downloads
// resumed with a Range request.
type Fetcher struct {
	dir    string
	client *http.Client
}

type fetchMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag"`
	LastModified string    `json:"lastModified"`
	CachedAt     time.Time `json:"cachedAt"`
	Size         int64     `json:"size"`
}

func NewFetcher(dir string, client *http.Client) (*Fetcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Fetcher{dir: dir, client: client}, nil
}

// Fetch returns the local path of the document at rawURL. A failed refresh
// falls back to a previously cached copy.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("unsupported url %q", rawURL)
	}
	key := fetchKey(rawURL)
	docPath, metaPath, partialPath := f.pathsFor(key)

	if info, err := os.Stat(docPath); err == nil && time.Since(info.ModTime()) < fetchTTL && info.Size() > 0 {
		return docPath, nil
	}

	meta, _ := readFetchMeta(metaPath)
	info, _ := os.Stat(docPath)
	p, err := f.download(ctx, rawURL, docPath, metaPath, partialPath, meta, info)
	if err == nil {
		return p, nil
	}
	if info != nil && info.Size() > 0 {
		return docPath, nil
	}
	return "", err
}

func (f *Fetcher) download(ctx context.Context, rawURL, docPath, metaPath, partialPath string, meta fetchMeta, current os.FileInfo) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	if current != nil && current.Size() > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	var partialSize int64
	if info, err := os.Stat(partialPath); err == nil && info.Size() > 0 {
		partialSize = info.Size()
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", partialSize))
		if meta.ETag != "" {
			req.Header.Set("If-Range", meta.ETag)
		} else if meta.LastModified != "" {
			req.Header.Set("If-Range", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		if current != nil && current.Size() > 0 {
			meta.CachedAt = time.Now().UTC()
			_ = writeFetchMeta(metaPath, meta)
			now := time.Now()
			_ = os.Chtimes(docPath, now, now)
			return docPath, nil
		}
		return f.download(ctx, rawURL, docPath, metaPath, partialPath, fetchMeta{}, nil)
	case http.StatusOK:
		return f.saveBody(resp, docPath, metaPath, partialPath, false)
	case http.StatusPartialContent:
		return f.saveBody(resp, docPath, metaPath, partialPath, partialSize > 0)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("download failed: %s (%s)", resp.Status, strings.TrimSpace(string(body)))
	}
}

func (f *Fetcher) saveBody(resp *http.Response, docPath, metaPath, partialPath string, appendExisting bool) (string, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if appendExisting {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(partialPath, flags, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(partialPath, docPath); err != nil {
		return "", err
	}

	meta := fetchMeta{
		URL:          resp.Request.URL.String(),
		ETag:         resp.Header.Get("Etag"),
		LastModified: resp.Header.Get("Last-Modified"),
		CachedAt:     time.Now().UTC(),
	}
	if info, err := os.Stat(docPath); err == nil {
		meta.Size = info.Size()
	}
	if err := writeFetchMeta(metaPath, meta); err != nil {
		return "", err
	}
	return docPath, nil
}

func (f *Fetcher) pathsFor(key string) (string, string, string) {
	return filepath.Join(f.dir, key+".pdf"), filepath.Join(f.dir, key+metaSuffix), filepath.Join(f.dir, key+partialSuffix)
}

func fetchKey(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// nameFromURL derives a display name from the last path segment.
func nameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." || base == "" {
		return u.Host
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return base
}

func readFetchMeta(p string) (fetchMeta, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return fetchMeta{}, err
	}
	var meta fetchMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fetchMeta{}, err
	}
	return meta, nil
}

func writeFetchMeta(p string, meta fetchMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}
