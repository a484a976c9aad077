package speech

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

type blockingSpeaker struct {
	started chan string
}

func (b blockingSpeaker) Speak(ctx context.Context, text string) error {
	b.started <- text
	<-ctx.Done()
	return ctx.Err()
}

type instantSpeaker struct{}

func (instantSpeaker) Speak(context.Context, string) error { return nil }

func TestStartStop(t *testing.T) {
	t.Parallel()

	sp := blockingSpeaker{started: make(chan string, 2)}
	c := NewController(sp, nil)
	done, err := c.Start(4, "page four")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := <-sp.started; got != "page four" {
		t.Fatalf("spoke %q", got)
	}
	if page, ok := c.Active(); !ok || page != 4 {
		t.Fatalf("Active() = %d, %v", page, ok)
	}
	c.Stop()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("stopped utterance error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("utterance did not stop")
	}
	if _, ok := c.Active(); ok {
		t.Fatalf("still active after Stop()")
	}
	c.Stop()
}

func TestStartReplacesCurrent(t *testing.T) {
	t.Parallel()

	sp := blockingSpeaker{started: make(chan string, 2)}
	c := NewController(sp, nil)
	first, _ := c.Start(1, "one")
	<-sp.started
	second, err := c.Start(2, "two")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("first utterance error = %v", err)
	}
	<-sp.started
	if page, ok := c.Active(); !ok || page != 2 {
		t.Fatalf("Active() = %d, %v", page, ok)
	}
	c.Stop()
	<-second
}

func TestFinishedUtteranceClearsActive(t *testing.T) {
	t.Parallel()

	c := NewController(instantSpeaker{}, nil)
	done, err := c.Start(1, "short")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("utterance error = %v", err)
	}
	if _, ok := c.Active(); ok {
		t.Fatalf("finished utterance still active")
	}
}

func TestStartErrors(t *testing.T) {
	t.Parallel()

	if _, err := NewController(instantSpeaker{}, nil).Start(1, "  \n"); !errors.Is(err, ErrNoText) {
		t.Fatalf("blank text error = %v", err)
	}
	if _, err := NewController(nil, nil).Start(1, "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("nil speaker error = %v", err)
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	sp, err := ParseCommand("espeak-ng -s 150 --stdin")
	if err != nil || sp.Name != "espeak-ng" || len(sp.Args) != 3 {
		t.Fatalf("ParseCommand() = %+v, %v", sp, err)
	}
	if _, err := ParseCommand("  "); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("blank command error = %v", err)
	}
}

func TestCommandSpeaker(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	if err := (CommandSpeaker{Name: "cat"}).Speak(context.Background(), "hello"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if err := (CommandSpeaker{Name: "false"}).Speak(context.Background(), "hello"); err == nil {
		t.Fatalf("failing command should error")
	}
}
