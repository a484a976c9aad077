package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Ollama talks to the /api/chat endpoint without streaming.
type Ollama struct {
	base        string
	model       string
	temperature float64
	http        *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error"`
}

const (
	condenseSystem = "You are a study assistant. You receive a reader's highlights, bookmarks and notes, each tagged with its page. " +
		"Reply with at most 7 revision bullets. Keep the page tag, such as [p.12], on every bullet and add nothing that is not in the notes."
	answerSystem = "You are a reading assistant. Answer from the passage you are given and nothing else. " +
		"If the passage does not contain the answer, say that you could not find it on this page."
)

func (o *Ollama) Name() string { return "Ollama (" + o.model + ")" }

func (o *Ollama) Condense(ctx context.Context, title, digest string) (string, error) {
	digest = clip(strings.TrimSpace(digest), digestBudget)
	if digest == "" {
		return "", fmt.Errorf("condense: %w", ErrEmptyInput)
	}
	return o.chat(ctx, condenseSystem, fmt.Sprintf("Notes from %s:\n\n%s", titleOr(title), digest))
}

func (o *Ollama) Answer(ctx context.Context, title, question, pageText string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("answer: empty question: %w", ErrEmptyInput)
	}
	passage := relevantPassage(pageText, question, passageBudget)
	if passage == "" {
		return "", fmt.Errorf("answer: page has no text: %w", ErrEmptyInput)
	}
	user := fmt.Sprintf("Document: %s\n\nPassage:\n%s\n\nQuestion: %s", titleOr(title), passage, question)
	return o.chat(ctx, answerSystem, user)
}

func (o *Ollama) chat(ctx context.Context, system, user string) (string, error) {
	body := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	if o.temperature > 0 {
		body.Options = map[string]any{"temperature": o.temperature}
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/api/chat", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}
	text := strings.TrimSpace(out.Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func titleOr(title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return "an untitled document"
}
