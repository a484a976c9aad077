package tuitest

import (
	"bytes"
	"testing"
)

func TestParseFrames(t *testing.T) {
	t.Parallel()

	raw := []byte("\x1b[2J\x1b[H\x1b[1mLumiRead\x1b[0m   \r\n\r\n\x1b[2J\x1b[H\x1b]0;title\x07Library  \r\n")
	frames := parseFrames(raw)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if frames[0].Plain != "LumiRead" || frames[1].Plain != "Library" || frames[1].Index != 1 {
		t.Fatalf("frames = %+v", frames)
	}

	rec := &Recording{Raw: raw, Frames: frames}
	if f, ok := rec.FinalFrame(); !ok || f.Plain != "Library" {
		t.Fatalf("FinalFrame() = %+v, %v", f, ok)
	}
	if f, ok := rec.Find("Lumi"); !ok || f.Index != 0 {
		t.Fatalf("Find() = %+v, %v", f, ok)
	}
	if _, ok := rec.Find("missing"); ok {
		t.Fatal("Find() matched text that was never drawn")
	}
}

func TestResponderAnswersQueries(t *testing.T) {
	t.Parallel()

	var replies bytes.Buffer
	r := newResponder(&replies)
	r.Process([]byte("draw\x1b]11;?"))
	if replies.Len() != 0 {
		t.Fatalf("a partial query must wait for the rest")
	}
	r.Process([]byte("\x07more\x1b[6n"))
	want := "\x1b]11;rgb:0000/0000/0000\x07\x1b[1;1R"
	if replies.String() != want {
		t.Fatalf("replies = %q, want %q", replies.String(), want)
	}
}
