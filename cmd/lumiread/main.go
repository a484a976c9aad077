package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/lumiread/internal/config"
	"github.com/csheth/lumiread/internal/document"
	"github.com/csheth/lumiread/internal/document/pdfdoc"
	"github.com/csheth/lumiread/internal/export"
	"github.com/csheth/lumiread/internal/geom"
	"github.com/csheth/lumiread/internal/library"
	"github.com/csheth/lumiread/internal/llm"
	"github.com/csheth/lumiread/internal/prefs"
	"github.com/csheth/lumiread/internal/reader"
	"github.com/csheth/lumiread/internal/render"
	"github.com/csheth/lumiread/internal/speech"
	"github.com/csheth/lumiread/internal/storage"
	"github.com/csheth/lumiread/internal/tui"
)

const usage = `usage: lumiread [flags] [command]

commands:
  (none)                         open the library
  open <id>                      open a document straight away
  import <path|url>...           add documents to the library
  list                           list the library
  export [-format md] [-o file] <id>
                                 write highlights, notes and bookmarks
  search <id> <query>            list the pages matching query
  snapshot [-page n] [-dpr 2] -o file.png <id>
                                 render a page with its highlights to PNG

A locked library reads its password from LUMIREAD_PASSWORD.`

// headlessPage is the reading area used by commands that render without a
// terminal.
var headlessPage = geom.Size{W: 816, H: 1056}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, pdfdoc.New()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "lumiread:", err)
		os.Exit(1)
	}
}

type app struct {
	cfg     config.Config
	logger  *slog.Logger
	lib     *library.Library
	prefs   *prefs.Store
	speaker speech.Speaker
	llm     llm.Client
	stdout  io.Writer
	closers []func() error
}

func run(ctx context.Context, args []string, stdout io.Writer, decoder document.Decoder) error {
	fs := flag.NewFlagSet("lumiread", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), usage)
		fmt.Fprintln(fs.Output(), "\nflags:")
		fs.PrintDefaults()
	}
	cfg, err := config.Parse(fs, args)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, stdout, decoder)
	if err != nil {
		return err
	}
	defer a.close()

	if len(cfg.Args) == 0 {
		return a.runTUI("")
	}
	cmd, rest := cfg.Args[0], cfg.Args[1:]
	switch cmd {
	case "open":
		if len(rest) != 1 {
			return fmt.Errorf("open needs a document id")
		}
		return a.runTUI(rest[0])
	case "import":
		return a.importCmd(ctx, rest)
	case "list":
		return a.listCmd(ctx)
	case "export":
		return a.exportCmd(ctx, rest)
	case "search":
		return a.searchCmd(ctx, rest)
	case "snapshot":
		return a.snapshotCmd(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

func newApp(ctx context.Context, cfg config.Config, stdout io.Writer, decoder document.Decoder) (*app, error) {
	logger, logFile, err := cfg.OpenLog()
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	slog.SetDefault(logger)
	a := &app{cfg: cfg, logger: logger, stdout: stdout, closers: []func() error{logFile.Close}}

	records, blobs, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	if closeStorage != nil {
		a.closers = append(a.closers, closeStorage)
	}
	a.lib, err = library.New(library.Config{
		Records:  records,
		Blobs:    blobs,
		Decoder:  decoder,
		CacheDir: cfg.CacheDir(),
		Logger:   logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.prefs = prefs.New(cfg.PrefsPath())

	if sp, err := speech.Detect(cfg.TTSCommand); err != nil {
		logger.Info("text-to-speech disabled", "error", err)
	} else {
		a.speaker = sp
	}
	if !cfg.NoLLM {
		client, err := llm.NewFromEnv(llm.Config{Model: cfg.LLMModel, Endpoint: cfg.LLMEndpoint})
		if err != nil {
			logger.Warn("LLM disabled", "error", err)
		} else {
			a.llm = client
		}
	}
	return a, nil
}

func openStorage(ctx context.Context, cfg config.Config) (storage.Records[library.Meta], storage.Blobs, func() error, error) {
	if cfg.Backend == config.BackendGCP {
		clients, err := storage.DialGCP(ctx, cfg.GCP)
		if err != nil {
			return nil, nil, nil, err
		}
		records := storage.NewFirestoreRecords[library.Meta](clients.Firestore, cfg.GCP.Collection)
		return records, storage.NewGCSBlobs(clients.Storage, cfg.GCP.Bucket, "documents/"), clients.Close, nil
	}
	records, err := storage.NewFSRecords[library.Meta](cfg.MetaDir())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open library: %w", err)
	}
	blobs, err := storage.NewFSBlobs(cfg.BlobDir())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open library: %w", err)
	}
	return records, blobs, nil, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

func (a *app) newReader(container func() geom.Size, dpr float64) (*reader.Reader, error) {
	cfg := reader.Config{
		Library:   a.lib,
		Prefs:     a.prefs,
		Container: container,
		DPR:       dpr,
		Speaker:   a.speaker,
		LLM:       a.llm,
		Logger:    a.logger,
	}
	return reader.New(cfg)
}

// flush waits for queued progress writes before the process exits.
func (a *app) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.lib.Wait(ctx); err != nil {
		a.logger.Warn("pending library writes lost", "error", err)
	}
}

func (a *app) runTUI(openID string) error {
	screen := tui.NewScreen()
	rd, err := a.newReader(screen.Container, 1)
	if err != nil {
		return err
	}
	defer a.flush()
	defer rd.Close()

	opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if !a.cfg.NoAltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	program := tea.NewProgram(
		tui.New(tui.Config{
			Reader: rd,
			Screen: screen,
			OpenID: openID,
			Logger: a.logger,
		}),
		opts...,
	)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("program error: %w", err)
	}
	return nil
}

func (a *app) importCmd(ctx context.Context, sources []string) error {
	if len(sources) == 0 {
		return fmt.Errorf("import needs at least one path or URL")
	}
	defer a.flush()
	var errs []error
	for _, src := range sources {
		var (
			meta library.Meta
			err  error
		)
		if lower := strings.ToLower(src); strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			meta, err = a.lib.ImportURL(ctx, src)
		} else {
			meta, err = a.lib.ImportFile(ctx, src)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src, err))
			continue
		}
		fmt.Fprintf(a.stdout, "imported %s  %s\n", meta.ID, meta.Name)
	}
	return errors.Join(errs...)
}

func (a *app) listCmd(ctx context.Context) error {
	metas, err := a.lib.List(ctx)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Fprintln(a.stdout, "The library is empty. Import a PDF with: lumiread import <path|url>")
		return nil
	}
	for _, m := range metas {
		fmt.Fprintf(a.stdout, "%s  %3d%%  %s\n", m.ID, m.Progress, m.Name)
	}
	return nil
}

// openHeadless opens id in a reader sized for rendering without a terminal.
func (a *app) openHeadless(ctx context.Context, id string, dpr float64) (*reader.Reader, error) {
	rd, err := a.newReader(func() geom.Size { return headlessPage }, dpr)
	if err != nil {
		return nil, err
	}
	if _, err := rd.Open(ctx, id, os.Getenv("LUMIREAD_PASSWORD")); err != nil {
		rd.Close()
		return nil, err
	}
	return rd, nil
}

func (a *app) exportCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	format := fs.String("format", string(export.FormatMarkdown), "md, txt, html or pdf")
	outPath := fs.String("o", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("export needs a document id")
	}
	f, err := export.ParseFormat(*format)
	if err != nil {
		return err
	}
	rd, err := a.openHeadless(ctx, fs.Arg(0), 1)
	if err != nil {
		return err
	}
	defer a.flush()
	defer rd.Close()

	if *outPath == "" {
		return rd.Export(a.stdout, f)
	}
	out, err := os.Create(*outPath)
	if err != nil {
		return err
	}
	if err := rd.Export(out, f); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (a *app) searchCmd(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("search needs a document id and a query")
	}
	rd, err := a.openHeadless(ctx, args[0], 1)
	if err != nil {
		return err
	}
	defer a.flush()
	defer rd.Close()

	res, err := rd.Search(ctx, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	if res.Len() == 0 {
		fmt.Fprintf(a.stdout, "No matches for %q.\n", res.Query)
		return nil
	}
	for _, h := range res.Hits {
		fmt.Fprintf(a.stdout, "p.%-4d %s\n", h.Page, h.Snippet)
	}
	return nil
}

func (a *app) snapshotCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	page := fs.Int("page", 0, "page to render (default: the last page read)")
	dpr := fs.Float64("dpr", 1, "device pixel ratio")
	outPath := fs.String("o", "", "PNG file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || *outPath == "" {
		return fmt.Errorf("snapshot needs -o file.png and a document id")
	}
	rd, err := a.openHeadless(ctx, fs.Arg(0), *dpr)
	if err != nil {
		return err
	}
	defer a.flush()
	defer rd.Close()

	n := *page
	if n > 0 {
		if n, err = rd.GoTo(ctx, n); err != nil {
			return err
		}
	} else {
		state, err := rd.State()
		if err != nil {
			return err
		}
		n = state.Page
	}
	surface, ok := rd.Pipeline().View(n)
	if !ok {
		return fmt.Errorf("page %d did not render", n)
	}
	out, err := os.Create(*outPath)
	if err != nil {
		return err
	}
	if err := png.Encode(out, render.Composite(surface, rd.Boxes(n), *dpr)); err != nil {
		out.Close()
		return err
	}
	a.logger.Info("snapshot written", "page", n, "path", *outPath)
	return out.Close()
}
