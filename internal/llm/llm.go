// Package llm asks a local Ollama server to condense a document's study
// digest and to answer questions about the page being read.
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/csheth/lumiread/internal/storage"
)

const (
	DefaultHost  = "http://localhost:11434"
	DefaultModel = "ministral-3:latest"
)

// Budgets for the text sent with a request, in runes.
const (
	digestBudget  = 48_000
	passageBudget = 24_000
)

const requestTimeout = 3 * time.Minute

var (
	ErrEmptyInput    = errors.New("llm: nothing to send")
	ErrEmptyResponse = errors.New("llm: model returned no text")
)

type Config struct {
	Model    string
	Endpoint string
	// Temperature is passed through as a model option when set.
	Temperature float64
	HTTPClient  *http.Client
}

type Client interface {
	// Condense turns the study digest of a document into a few revision
	// bullets.
	Condense(ctx context.Context, title, digest string) (string, error)
	// Answer answers question from pageText alone.
	Answer(ctx context.Context, title, question, pageText string) (string, error)
	Name() string
}

// NewFromEnv builds an Ollama client. Empty fields fall back to OLLAMA_HOST
// and OLLAMA_MODEL.
func NewFromEnv(cfg Config) (Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = storage.GetEnv("OLLAMA_HOST", DefaultHost)
	}
	if cfg.Model == "" {
		cfg.Model = storage.GetEnv("OLLAMA_MODEL", DefaultModel)
	}
	if !strings.Contains(cfg.Endpoint, "://") {
		cfg.Endpoint = "http://" + cfg.Endpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Ollama{
		base:        strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		http:        httpClient,
	}, nil
}
