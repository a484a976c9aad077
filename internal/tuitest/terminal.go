package tuitest

import (
	"bytes"
	"io"
)

// queries are the terminal reports lipgloss and bubbletea ask for at start,
// with the answers a plain dark terminal would give.
var queries = []struct{ ask, reply string }{
	{"\x1b[6n", "\x1b[1;1R"},
	{"\x1b]10;?\x07", "\x1b]10;rgb:cccc/cccc/cccc\x07"},
	{"\x1b]10;?\x1b\\", "\x1b]10;rgb:cccc/cccc/cccc\x1b\\"},
	{"\x1b]11;?\x07", "\x1b]11;rgb:0000/0000/0000\x07"},
	{"\x1b]11;?\x1b\\", "\x1b]11;rgb:0000/0000/0000\x1b\\"},
}

// responder answers terminal queries found in the output stream so the
// program does not stall waiting for them.
type responder struct {
	w    io.Writer
	tail []byte
}

func newResponder(w io.Writer) *responder { return &responder{w: w} }

func (r *responder) Process(chunk []byte) {
	r.tail = append(r.tail, chunk...)
	for r.answerOne() {
	}
	// A query may straddle two reads.
	if len(r.tail) > 256 {
		r.tail = append([]byte(nil), r.tail[len(r.tail)-64:]...)
	}
}

// answerOne replies to the earliest pending query.
func (r *responder) answerOne() bool {
	first, which := -1, -1
	for i, q := range queries {
		if idx := bytes.Index(r.tail, []byte(q.ask)); idx >= 0 && (first < 0 || idx < first) {
			first, which = idx, i
		}
	}
	if which < 0 {
		return false
	}
	q := queries[which]
	r.tail = r.tail[first+len(q.ask):]
	_, _ = io.WriteString(r.w, q.reply)
	return true
}
