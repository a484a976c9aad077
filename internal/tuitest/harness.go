// Package tuitest drives the lumiread binary inside a pseudo terminal and
// records what it draws.
package tuitest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
)

const (
	defaultCols    = 100
	defaultRows    = 30
	defaultTimeout = 10 * time.Second
)

// Step is one scripted interaction: an optional pause followed by input.
type Step struct {
	Pause time.Duration
	Input []byte
}

// Type writes s as typed text.
func Type(s string) Step { return Step{Input: []byte(s)} }

// Press writes one key.
func Press(k []byte) Step { return Step{Input: k} }

// Wait pauses the script for d.
func Wait(d time.Duration) Step { return Step{Pause: d} }

// Config describes the program to spawn and the script to replay.
type Config struct {
	Command []string
	Dir     string
	// Env is appended to the current environment.
	Env     []string
	Cols    int
	Rows    int
	Script  []Step
	Timeout time.Duration
	// AllowInterrupt accepts an exit caused by Ctrl+C.
	AllowInterrupt bool
}

// Recording is the raw terminal stream and the frames parsed from it.
type Recording struct {
	Raw      []byte
	Frames   []Frame
	Duration time.Duration
}

// Run starts the program in a pseudo terminal, replays the script and waits
// for the program to exit.
func Run(ctx context.Context, cfg Config) (*Recording, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("tuitest: command is required")
	}
	cfg = withDefaults(cfg)
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Env = environ(cfg.Env)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(cfg.Rows), Cols: uint16(cfg.Cols)})
	if err != nil {
		return nil, fmt.Errorf("tuitest: start program: %w", err)
	}
	defer ptmx.Close()

	var (
		mu  sync.Mutex
		out bytes.Buffer
	)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		replies := newResponder(ptmx)
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				replies.Process(buf[:n])
				mu.Lock()
				out.Write(buf[:n])
				mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()

	start := time.Now()
	if err := replay(ctx, ptmx, cfg.Script); err != nil {
		return nil, err
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	select {
	case err := <-exited:
		if err != nil && !(cfg.AllowInterrupt && strings.Contains(err.Error(), "signal: interrupt")) {
			return nil, fmt.Errorf("tuitest: program exited with error: %w", err)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("tuitest: timeout waiting for program exit: %w", ctx.Err())
	}

	ptmx.Close()
	<-drained
	mu.Lock()
	raw := append([]byte(nil), out.Bytes()...)
	mu.Unlock()
	return &Recording{Raw: raw, Frames: parseFrames(raw), Duration: time.Since(start)}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Cols <= 0 {
		cfg.Cols = defaultCols
	}
	if cfg.Rows <= 0 {
		cfg.Rows = defaultRows
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return cfg
}

func replay(ctx context.Context, w *os.File, script []Step) error {
	for i, step := range script {
		if step.Pause > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("tuitest: script stopped at step %d: %w", i, ctx.Err())
			case <-time.After(step.Pause):
			}
		}
		if len(step.Input) == 0 {
			continue
		}
		if _, err := w.Write(step.Input); err != nil {
			return fmt.Errorf("tuitest: write step %d: %w", i, err)
		}
	}
	return nil
}

func environ(extra []string) []string {
	env := append(os.Environ(), extra...)
	for _, e := range env {
		if strings.HasPrefix(e, "TERM=") {
			return env
		}
	}
	return append(env, "TERM=xterm-256color")
}

// Keys understood by the reader.
var (
	KeyEnter = []byte{'\r'}
	KeyEsc   = []byte{27}
	KeyCtrlC = []byte{3}
	KeyCtrlK = []byte{11}
	KeyUp    = []byte("\x1b[A")
	KeyDown  = []byte("\x1b[B")
)
