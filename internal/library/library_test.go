package library

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/csheth/lumiread/internal/document"
	"github.com/csheth/lumiread/internal/storage"
)

type stubDoc struct{ pages int }

func (d stubDoc) PageCount() int { return d.pages }
func (d stubDoc) Page(int) (document.Page, error) {
	return nil, document.ErrPage
}

type stubDecoder struct{ pages int }

func (s stubDecoder) Open(data []byte) (document.Document, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: too short", document.ErrDecode)
	}
	return stubDoc{pages: s.pages}, nil
}

const samplePDF = "%PDF-1.4\n%stub document body\n%%EOF\n"

func newLibrary(t *testing.T) (*Library, *storage.FSBlobs) {
	t.Helper()
	dir := t.TempDir()
	records, err := storage.NewFSRecords[Meta](filepath.Join(dir, "meta"))
	if err != nil {
		t.Fatalf("NewFSRecords() error = %v", err)
	}
	blobs, err := storage.NewFSBlobs(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("NewFSBlobs() error = %v", err)
	}
	lib, err := New(Config{
		Records:  records,
		Blobs:    blobs,
		Decoder:  stubDecoder{pages: 12},
		CacheDir: filepath.Join(dir, "cache"),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return lib, blobs
}

func waitWrites(t *testing.T, lib *Library) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lib.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestImportAndOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lib, _ := newLibrary(t)

	meta, err := lib.Import(ctx, "Deep Learning.PDF", []byte(samplePDF))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if meta.Name != "Deep Learning" || meta.LastPage != 1 || meta.Progress != 0 || meta.Size != int64(len(samplePDF)) {
		t.Fatalf("meta = %+v", meta)
	}

	got, doc, err := lib.Open(ctx, meta.ID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if doc.PageCount() != 12 || got.PageCount != 12 {
		t.Fatalf("page count = %d / %d", doc.PageCount(), got.PageCount)
	}
	waitWrites(t, lib)
	stored, err := lib.Get(ctx, meta.ID)
	if err != nil || stored.PageCount != 12 {
		t.Fatalf("stored meta = %+v, %v", stored, err)
	}
}

func TestImportRejectsNonPDF(t *testing.T) {
	t.Parallel()

	lib, _ := newLibrary(t)
	if _, err := lib.Import(context.Background(), "notes.txt", []byte("hello")); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Import() error = %v want ErrUnsupported", err)
	}
	metas, _ := lib.List(context.Background())
	if len(metas) != 0 {
		t.Fatalf("rejected import was listed: %+v", metas)
	}
}

func TestOpenMissingBlobAndRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lib, blobs := newLibrary(t)
	meta, err := lib.Import(ctx, "a.pdf", []byte(samplePDF))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if err := blobs.DeleteBlob(ctx, meta.ID); err != nil {
		t.Fatalf("DeleteBlob() error = %v", err)
	}
	if _, _, err := lib.Open(ctx, meta.ID); !errors.Is(err, ErrMissingBlob) {
		t.Fatalf("Open() error = %v want ErrMissingBlob", err)
	}
	if _, _, err := lib.Open(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Open() error = %v want ErrNotFound", err)
	}
}

func TestListFilterDeleteClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lib, blobs := newLibrary(t)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lib.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	var ids []string
	for _, name := range []string{"Physics.pdf", "Chemistry.pdf", "Astrophysics.pdf"} {
		m, err := lib.Import(ctx, name, []byte(samplePDF))
		if err != nil {
			t.Fatalf("Import(%s) error = %v", name, err)
		}
		ids = append(ids, m.ID)
	}
	all, err := lib.List(ctx)
	if err != nil || len(all) != 3 || all[0].Name != "Physics" || all[2].Name != "Astrophysics" {
		t.Fatalf("List() = %+v, %v", all, err)
	}
	if got := Filter(all, "PHYSICS"); len(got) != 2 {
		t.Fatalf("Filter() = %+v", got)
	}
	if got := Filter(all, "  "); len(got) != 3 {
		t.Fatalf("blank filter should keep everything")
	}

	if err := lib.Delete(ctx, ids[1]); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	all, _ = lib.List(ctx)
	if len(all) != 2 {
		t.Fatalf("after Delete() = %+v", all)
	}

	// bytes without a record are swept by Clear too.
	if err := blobs.PutBlob(ctx, "orphan", []byte(samplePDF)); err != nil {
		t.Fatalf("PutBlob() error = %v", err)
	}
	cleared, err := lib.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if len(cleared) != 3 {
		t.Fatalf("Clear() removed %v", cleared)
	}
	keys, _ := blobs.Keys(ctx)
	all, _ = lib.List(ctx)
	if len(keys) != 0 || len(all) != 0 {
		t.Fatalf("library not empty: keys=%v metas=%v", keys, all)
	}
}

func TestSaveProgressAppliesInOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lib, _ := newLibrary(t)
	meta, err := lib.Import(ctx, "book.pdf", []byte(samplePDF))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	for page := 1; page <= 7; page++ {
		lib.SaveProgress(meta.ID, page, 8)
	}
	waitWrites(t, lib)
	got, err := lib.Get(ctx, meta.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastPage != 7 || got.Progress != 88 || got.PageCount != 8 {
		t.Fatalf("progress = %+v", got)
	}
}

func TestProgress(t *testing.T) {
	t.Parallel()

	cases := []struct{ page, total, want int }{{1, 3, 33}, {2, 3, 67}, {3, 3, 100}, {5, 0, 0}}
	for _, tc := range cases {
		if got := Progress(tc.page, tc.total); got != tc.want {
			t.Fatalf("Progress(%d,%d) = %d want %d", tc.page, tc.total, got, tc.want)
		}
	}
}

func TestImportURL(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Etag", `"v1"`)
		_, _ = w.Write([]byte(samplePDF))
	}))
	t.Cleanup(server.Close)

	lib, _ := newLibrary(t)
	meta, err := lib.ImportURL(context.Background(), server.URL+"/papers/Attention%20Is%20All.pdf?dl=1")
	if err != nil {
		t.Fatalf("ImportURL() error = %v", err)
	}
	if meta.Name != "Attention Is All" {
		t.Fatalf("Name = %q", meta.Name)
	}
	stored, _ := lib.Get(context.Background(), meta.ID)
	if stored.Source == "" {
		t.Fatalf("source not recorded")
	}
}

func TestImportFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "Report.pdf")
	if err := os.WriteFile(path, []byte(samplePDF), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	lib, _ := newLibrary(t)
	meta, err := lib.ImportFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}
	if meta.Name != "Report" || meta.Source != path {
		t.Fatalf("meta = %+v", meta)
	}
}

// flakyRecords fails every Put after the first.
type flakyRecords struct {
	storage.Records[Meta]
	puts int
}

func (f *flakyRecords) Put(ctx context.Context, id string, v Meta) error {
	f.puts++
	if f.puts > 1 {
		return errors.New("disk full")
	}
	return f.Records.Put(ctx, id, v)
}

func TestImportFileLogsSourceFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "Report.pdf")
	if err := os.WriteFile(path, []byte(samplePDF), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	inner, err := storage.NewFSRecords[Meta](filepath.Join(dir, "meta"))
	if err != nil {
		t.Fatalf("NewFSRecords() error = %v", err)
	}
	blobs, err := storage.NewFSBlobs(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("NewFSBlobs() error = %v", err)
	}
	var logs bytes.Buffer
	lib, err := New(Config{
		Records: &flakyRecords{Records: inner},
		Blobs:   blobs,
		Decoder: stubDecoder{pages: 12},
		Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	meta, err := lib.ImportFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}
	if meta.Source != path {
		t.Fatalf("meta.Source = %q", meta.Source)
	}
	if got := logs.String(); !strings.Contains(got, "failed to record document source") || !strings.Contains(got, "disk full") {
		t.Fatalf("logs = %s", got)
	}
	stored, err := inner.Get(context.Background(), meta.ID)
	if err != nil || stored.Source != "" {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
}
