// Package speech reads page text aloud through an external text-to-speech
// command. At most one utterance plays at a time.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

var (
	ErrNoText        = errors.New("speech: no readable text")
	ErrNotConfigured = errors.New("speech: no text-to-speech command available")
)

// candidates are tried in order when no command is configured. Each reads
// the utterance from stdin.
var candidates = [][]string{
	{"espeak-ng", "--stdin"},
	{"espeak", "--stdin"},
	{"say"},
}

// Speaker plays text and returns when playback ends or ctx is cancelled.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// CommandSpeaker pipes the text into an external command.
type CommandSpeaker struct {
	Name string
	Args []string
}

// ParseCommand splits a command line such as "espeak-ng -s 150 --stdin".
func ParseCommand(line string) (CommandSpeaker, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return CommandSpeaker{}, ErrNotConfigured
	}
	return CommandSpeaker{Name: fields[0], Args: fields[1:]}, nil
}

// Detect returns the configured command, or the first known speech command
// found on PATH.
func Detect(configured string) (CommandSpeaker, error) {
	if strings.TrimSpace(configured) != "" {
		return ParseCommand(configured)
	}
	for _, c := range candidates {
		if _, err := exec.LookPath(c[0]); err == nil {
			return CommandSpeaker{Name: c[0], Args: c[1:]}, nil
		}
	}
	return CommandSpeaker{}, ErrNotConfigured
}

func (s CommandSpeaker) Speak(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, s.Name, s.Args...)
	cmd.Stdin = strings.NewReader(text)
	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("%s: %w (%s)", s.Name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Controller owns the single active utterance.
type Controller struct {
	speaker Speaker
	logger  *slog.Logger

	mu     sync.Mutex
	seq    uint64
	page   int
	cancel context.CancelFunc
}

func NewController(speaker Speaker, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{speaker: speaker, logger: logger}
}

// Start stops any current utterance and reads text for page. The returned
// channel receives the playback result once and is then closed; a stopped
// utterance reports context.Canceled.
func (c *Controller) Start(page int, text string) (<-chan error, error) {
	if c.speaker == nil {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.seq++
	seq := c.seq
	c.page = page
	c.cancel = cancel
	c.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer close(done)
		err := c.speaker.Speak(ctx, text)
		c.mu.Lock()
		if c.seq == seq {
			c.cancel = nil
			c.page = 0
		}
		c.mu.Unlock()
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("speech failed", "page", page, "error", err)
		}
		done <- err
	}()
	c.logger.Info("speech started", "page", page, "chars", len(text))
	return done, nil
}

// Stop cancels the current utterance, if any.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.seq++
	c.logger.Info("speech stopped", "page", c.page)
	c.page = 0
}

// Active reports the page being read.
func (c *Controller) Active() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page, c.cancel != nil
}
