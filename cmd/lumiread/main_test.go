package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/csheth/lumiread/internal/document"
	"github.com/csheth/lumiread/internal/geom"
	"github.com/csheth/lumiread/internal/viewport"
)

type fixturePage struct {
	n     int
	lines []string
}

func (p fixturePage) Number() int     { return p.n }
func (p fixturePage) Size() geom.Size { return geom.Size{W: 612, H: 792} }

func (p fixturePage) Render(_ context.Context, vp viewport.Viewport, dpr float64) (*image.RGBA, error) {
	w, h := document.SurfaceSize(vp, dpr)
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}

func (p fixturePage) ExtractText(context.Context) ([]document.TextItem, error) {
	items := make([]document.TextItem, len(p.lines))
	for i, s := range p.lines {
		items[i] = document.TextItem{S: s, Matrix: [6]float64{11, 0, 0, 11, 72, 700 - float64(i)*16}, Width: 120}
	}
	return items, nil
}

type fixtureDoc map[int][]string

func (d fixtureDoc) PageCount() int { return len(d) }

func (d fixtureDoc) Page(n int) (document.Page, error) {
	lines, ok := d[n]
	if !ok {
		return nil, document.ErrPage
	}
	return fixturePage{n: n, lines: lines}, nil
}

type fixtureDecoder struct{}

func (fixtureDecoder) Open([]byte) (document.Document, error) {
	return fixtureDoc{
		1: {"Field notes", "on the red fox"},
		2: {"The fox hunts", "at dusk"},
	}, nil
}

type cli struct {
	dir string
}

func newCLI(t *testing.T) cli {
	t.Helper()
	t.Setenv("LUMIREAD_STORAGE", "")
	t.Setenv("LUMIREAD_PASSWORD", "")
	return cli{dir: t.TempDir()}
}

func (c cli) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	full := append([]string{"-data", c.dir, "-no-llm", "-tts", "true"}, args...)
	err := run(context.Background(), full, &out, fixtureDecoder{})
	return out.String(), err
}

func (c cli) importFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(c.dir, "Fox Notes.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.7\n%fixture\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	out, err := c.run(t, "import", path)
	if err != nil {
		t.Fatalf("import error = %v", err)
	}
	fields := strings.Fields(out)
	if len(fields) < 3 || fields[0] != "imported" || !strings.Contains(out, "Fox Notes") {
		t.Fatalf("import output = %q", out)
	}
	return fields[1]
}

func TestImportAndList(t *testing.T) {
	c := newCLI(t)

	out, err := c.run(t, "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(out, "library is empty") {
		t.Fatalf("list output = %q", out)
	}

	id := c.importFixture(t)
	out, err = c.run(t, "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.HasPrefix(out, id) || !strings.Contains(out, "0%  Fox Notes") {
		t.Fatalf("list output = %q", out)
	}
}

func TestImportRejectsNonPDF(t *testing.T) {
	c := newCLI(t)
	path := filepath.Join(c.dir, "notes.txt")
	if err := os.WriteFile(path, []byte("plain text"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := c.run(t, "import", path); err == nil || !strings.Contains(err.Error(), "notes.txt") {
		t.Fatalf("import error = %v, want one naming the file", err)
	}
}

func TestExportAndSearch(t *testing.T) {
	c := newCLI(t)
	id := c.importFixture(t)

	out, err := c.run(t, "export", "-format", "txt", id)
	if err != nil {
		t.Fatalf("export error = %v", err)
	}
	if !strings.HasPrefix(out, "Fox Notes\n") {
		t.Fatalf("export output = %q", out)
	}

	target := filepath.Join(c.dir, "out.md")
	if _, err := c.run(t, "export", "-o", target, id); err != nil {
		t.Fatalf("export error = %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "# Fox Notes") {
		t.Fatalf("markdown export = %q", data)
	}

	out, err = c.run(t, "search", id, "fox")
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "p.1") || !strings.HasPrefix(lines[1], "p.2") {
		t.Fatalf("search output = %q", out)
	}

	out, err = c.run(t, "search", id, "badger")
	if err != nil || !strings.Contains(out, "No matches") {
		t.Fatalf("search miss = %q, %v", out, err)
	}
}

func TestSnapshotWritesPNG(t *testing.T) {
	c := newCLI(t)
	id := c.importFixture(t)

	target := filepath.Join(c.dir, "page2.png")
	if _, err := c.run(t, "snapshot", "-page", "2", "-dpr", "2", "-o", target, id); err != nil {
		t.Fatalf("snapshot error = %v", err)
	}
	f, err := os.Open(target)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		t.Fatalf("snapshot bounds = %v", b)
	}
}

func TestCommandErrors(t *testing.T) {
	c := newCLI(t)

	cases := [][]string{
		{"frobnicate"},
		{"open"},
		{"import"},
		{"export"},
		{"search", "only-id"},
		{"snapshot", "some-id"},
		{"export", "-format", "docx", "some-id"},
	}
	for _, args := range cases {
		if _, err := c.run(t, args...); err == nil {
			t.Fatalf("run(%v) should fail", args)
		}
	}
}
