// Package library manages imported documents: their metadata records, their
// bytes, and reading progress.
package library

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/csheth/lumiread/internal/annotations"
	"github.com/csheth/lumiread/internal/document"
	"github.com/csheth/lumiread/internal/storage"
)

var (
	ErrUnsupported = errors.New("library: only PDF documents are supported")
	ErrMissingBlob = errors.New("library: document bytes missing")
)

// clearConcurrency bounds parallel deletes in Clear.
const clearConcurrency = 4

var pdfSuffix = regexp.MustCompile(`(?i)\.pdf$`)

func init() {
	api.DisableConfigDir()
}

// Meta is the library record of one document.
type Meta struct {
	ID        string    `json:"id" firestore:"id"`
	Name      string    `json:"name" firestore:"name"`
	Size      int64     `json:"size" firestore:"size"`
	Added     time.Time `json:"added" firestore:"added"`
	LastPage  int       `json:"lastPage" firestore:"lastPage"`
	Progress  int       `json:"progress" firestore:"progress"`
	PageCount int       `json:"pageCount,omitempty" firestore:"pageCount,omitempty"`
	Source    string    `json:"source,omitempty" firestore:"source,omitempty"`
}

// Progress returns the rounded percentage of page out of total.
func Progress(page, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(page) / float64(total) * 100))
}

type Config struct {
	Records storage.Records[Meta]
	Blobs   storage.Blobs
	Decoder document.Decoder
	Writer  *storage.SerialWriter
	// CacheDir holds downloads made by ImportURL.
	CacheDir string
	Fetcher  *Fetcher
	Logger   *slog.Logger
}

type Library struct {
	records storage.Records[Meta]
	blobs   storage.Blobs
	decoder document.Decoder
	writer  *storage.SerialWriter
	fetcher *Fetcher
	logger  *slog.Logger
	now     func() time.Time
}

func New(cfg Config) (*Library, error) {
	if cfg.Records == nil || cfg.Blobs == nil || cfg.Decoder == nil {
		return nil, fmt.Errorf("library: records, blobs and decoder are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writer := cfg.Writer
	if writer == nil {
		writer = storage.NewSerialWriter(logger)
	}
	fetcher := cfg.Fetcher
	if fetcher == nil && cfg.CacheDir != "" {
		f, err := NewFetcher(cfg.CacheDir, nil)
		if err != nil {
			return nil, err
		}
		fetcher = f
	}
	return &Library{
		records: cfg.Records,
		blobs:   cfg.Blobs,
		decoder: cfg.Decoder,
		writer:  writer,
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Import stores data as a new document named after name (without a .pdf
// suffix). The blob is written before the record so a listed document always
// has bytes.
func (l *Library) Import(ctx context.Context, name string, data []byte) (Meta, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return Meta{}, ErrUnsupported
	}
	name = strings.TrimSpace(pdfSuffix.ReplaceAllString(filepath.Base(name), ""))
	if name == "" {
		name = "Untitled"
	}
	meta := Meta{
		ID:       annotations.NewID(),
		Name:     name,
		Size:     int64(len(data)),
		Added:    l.now().UTC(),
		LastPage: 1,
	}
	meta.PageCount = pageCount(data, l.logger.With("document", meta.ID))

	logCtx := l.logger.With("document", meta.ID, "name", meta.Name, "size", meta.Size)
	if err := l.blobs.PutBlob(ctx, meta.ID, data); err != nil {
		logCtx.Error("failed to store document bytes", "error", err)
		return Meta{}, fmt.Errorf("store document: %w", err)
	}
	if err := l.records.Put(ctx, meta.ID, meta); err != nil {
		_ = l.blobs.DeleteBlob(ctx, meta.ID)
		logCtx.Error("failed to store document record", "error", err)
		return Meta{}, fmt.Errorf("store document record: %w", err)
	}
	logCtx.Info("document imported", "pages", meta.PageCount)
	return meta, nil
}

// pageCount asks pdfcpu in relaxed mode. Zero means unknown; the decoder
// fills it in on first open.
func pageCount(data []byte, logger *slog.Logger) (n int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("page count unavailable", "error", r)
			n = 0
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		logger.Warn("page count unavailable", "error", err)
		return 0
	}
	return n
}

func (l *Library) ImportFile(ctx context.Context, path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, fmt.Errorf("read %s: %w", path, err)
	}
	meta, err := l.Import(ctx, filepath.Base(path), data)
	if err != nil {
		return Meta{}, err
	}
	if abs, err := filepath.Abs(path); err == nil {
		meta.Source = abs
		if err := l.records.Put(ctx, meta.ID, meta); err != nil {
			l.logger.Warn("failed to record document source", "document", meta.ID, "error", err)
		}
	}
	return meta, nil
}

// ImportURL downloads through the fetch cache and imports the result.
func (l *Library) ImportURL(ctx context.Context, rawURL string) (Meta, error) {
	if l.fetcher == nil {
		return Meta{}, fmt.Errorf("library: URL import is not configured")
	}
	path, err := l.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return Meta{}, fmt.Errorf("download %s: %w", rawURL, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, err
	}
	meta, err := l.Import(ctx, nameFromURL(rawURL), data)
	if err != nil {
		return Meta{}, err
	}
	meta.Source = rawURL
	if err := l.records.Put(ctx, meta.ID, meta); err != nil {
		l.logger.Warn("failed to record document source", "document", meta.ID, "error", err)
	}
	return meta, nil
}

// List returns every document in the order it was added.
func (l *Library) List(ctx context.Context) ([]Meta, error) {
	metas, err := l.records.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(metas, func(i, j int) bool {
		if !metas[i].Added.Equal(metas[j].Added) {
			return metas[i].Added.Before(metas[j].Added)
		}
		return metas[i].ID < metas[j].ID
	})
	return metas, nil
}

// Filter keeps documents whose name contains query, case-insensitively.
func Filter(metas []Meta, query string) []Meta {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return metas
	}
	var out []Meta
	for _, m := range metas {
		if strings.Contains(strings.ToLower(m.Name), q) {
			out = append(out, m)
		}
	}
	return out
}

func (l *Library) Get(ctx context.Context, id string) (Meta, error) {
	return l.records.Get(ctx, id)
}

// Open loads and decodes a document.
func (l *Library) Open(ctx context.Context, id string) (Meta, document.Document, error) {
	meta, err := l.records.Get(ctx, id)
	if err != nil {
		return Meta{}, nil, err
	}
	data, err := l.blobs.GetBlob(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return meta, nil, fmt.Errorf("%w: %s", ErrMissingBlob, id)
		}
		return meta, nil, err
	}
	doc, err := l.decoder.Open(data)
	if err != nil {
		l.logger.Error("document failed to decode", "document", id, "error", err)
		return meta, nil, err
	}
	if meta.PageCount != doc.PageCount() {
		meta.PageCount = doc.PageCount()
		l.writer.Submit(id, "page-count", func(ctx context.Context) error {
			return l.update(ctx, id, func(m *Meta) { m.PageCount = meta.PageCount })
		})
	}
	return meta, doc, nil
}

// Delete removes the record and the bytes of a document.
func (l *Library) Delete(ctx context.Context, id string) error {
	if err := l.records.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err := l.blobs.DeleteBlob(ctx, id); err != nil {
		return err
	}
	l.logger.Info("document deleted", "document", id)
	return nil
}

// Clear deletes every document, plus any bytes left without a record, and
// returns the deleted ids.
func (l *Library) Clear(ctx context.Context) ([]string, error) {
	metas, err := l.records.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(metas))
	seen := map[string]bool{}
	for _, m := range metas {
		ids = append(ids, m.ID)
		seen[m.ID] = true
	}
	if lister, ok := l.blobs.(storage.KeyLister); ok {
		keys, err := lister.Keys(ctx)
		if err != nil {
			l.logger.Warn("failed to list blobs", "error", err)
		}
		for _, k := range keys {
			if !seen[k] {
				ids = append(ids, k)
			}
		}
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(clearConcurrency)
	for _, id := range ids {
		id := id
		eg.Go(func() error {
			if err := l.Delete(gctx, id); err != nil {
				return fmt.Errorf("document %s: %w", id, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// SaveProgress records the reading position in the background. Writes for
// one document apply in order.
func (l *Library) SaveProgress(id string, page, total int) {
	l.writer.Submit(id, "progress", func(ctx context.Context) error {
		return l.update(ctx, id, func(m *Meta) {
			m.LastPage = page
			m.Progress = Progress(page, total)
			if total > 0 {
				m.PageCount = total
			}
		})
	})
}

// Wait blocks until background writes have finished.
func (l *Library) Wait(ctx context.Context) error {
	return l.writer.Wait(ctx)
}

func (l *Library) update(ctx context.Context, id string, fn func(*Meta)) error {
	m, err := l.records.Get(ctx, id)
	if err != nil {
		return err
	}
	fn(&m)
	return l.records.Put(ctx, id, m)
}
