// Package config reads command-line flags with environment fallbacks.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/csheth/lumiread/internal/storage"
)

const (
	BackendFS  = "fs"
	BackendGCP = "gcp"
)

type Config struct {
	DataDir     string
	Backend     string
	GCP         storage.GCPConfig
	LogPath     string
	Verbose     bool
	NoAltScreen bool
	LLMModel    string
	LLMEndpoint string
	NoLLM       bool
	TTSCommand  string
	// Args holds the positional arguments left after the flags.
	Args []string
}

// DefaultDataDir is LUMIREAD_DATA_DIR, else lumiread under the user config
// directory, else ./.lumiread.
func DefaultDataDir() string {
	if dir := os.Getenv("LUMIREAD_DATA_DIR"); dir != "" {
		return dir
	}
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, "lumiread")
	}
	return ".lumiread"
}

// Parse registers the global flags on fs and parses args.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	var c Config
	fs.StringVar(&c.DataDir, "data", DefaultDataDir(), "directory holding the library, preferences and logs")
	fs.StringVar(&c.Backend, "storage", storage.GetEnv("LUMIREAD_STORAGE", BackendFS), "library backend: fs or gcp")
	fs.StringVar(&c.GCP.ProjectID, "gcp-project", storage.GetEnv("LUMIREAD_GCP_PROJECT", ""), "GCP project for the gcp backend")
	fs.StringVar(&c.GCP.Bucket, "gcs-bucket", storage.GetEnv("LUMIREAD_GCS_BUCKET", ""), "GCS bucket holding document bytes")
	fs.StringVar(&c.GCP.Collection, "firestore-collection", storage.GetEnv("LUMIREAD_FIRESTORE_COLLECTION", "documents"), "Firestore collection holding document records")
	fs.StringVar(&c.LogPath, "log", "", "log file (default <data>/lumiread.log)")
	fs.BoolVar(&c.Verbose, "v", false, "debug logging")
	fs.BoolVar(&c.NoAltScreen, "no-alt-screen", false, "disable the alternate screen buffer")
	fs.StringVar(&c.LLMModel, "llm-model", "", "override the default Ollama model (ministral-3:latest)")
	fs.StringVar(&c.LLMEndpoint, "llm-endpoint", "", "custom Ollama host (eg. http://localhost:11434)")
	fs.BoolVar(&c.NoLLM, "no-llm", false, "disable the language model features")
	fs.StringVar(&c.TTSCommand, "tts", os.Getenv("LUMIREAD_TTS_COMMAND"), "text-to-speech command reading stdin (default: espeak-ng, espeak or say)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	c.Args = fs.Args()

	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	c.DataDir = abs
	if c.LogPath == "" {
		c.LogPath = filepath.Join(c.DataDir, "lumiread.log")
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendFS:
		return nil
	case BackendGCP:
		return c.GCP.Validate()
	default:
		return fmt.Errorf("unknown storage backend %q (want fs or gcp)", c.Backend)
	}
}

func (c Config) MetaDir() string { return filepath.Join(c.DataDir, "library") }

func (c Config) BlobDir() string { return filepath.Join(c.DataDir, "blobs") }

func (c Config) CacheDir() string { return filepath.Join(c.DataDir, "cache") }

func (c Config) PrefsPath() string { return filepath.Join(c.DataDir, "prefs.json") }

// OpenLog opens the log file for appending and returns a text logger
// writing to it.
func (c Config) OpenLog() (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(c.LogPath), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})), f, nil
}
