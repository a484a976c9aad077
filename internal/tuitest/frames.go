package tuitest

import (
	"regexp"
	"strings"
)

// Frame is one screen the program drew, with and without escape codes.
type Frame struct {
	Index int
	ANSI  string
	Plain string
}

var (
	clearScreen = regexp.MustCompile(`\x1b\[[0-9;]*J`)
	csiSeq      = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	oscSeq      = regexp.MustCompile(`\x1b\][^\x07]*(\x07|\x1b\\)`)
)

// parseFrames splits the stream at every screen clear and keeps the
// segments that show any text.
func parseFrames(raw []byte) []Frame {
	stream := strings.ReplaceAll(string(raw), "\r", "")
	var frames []Frame
	for _, seg := range clearScreen.Split(stream, -1) {
		seg = strings.TrimPrefix(strings.Trim(seg, "\x00"), "\x1b[H")
		plain := tidy(stripEscapes(seg))
		if strings.TrimSpace(plain) == "" {
			continue
		}
		frames = append(frames, Frame{Index: len(frames), ANSI: seg, Plain: plain})
	}
	if len(frames) == 0 && stream != "" {
		frames = append(frames, Frame{ANSI: stream, Plain: tidy(stripEscapes(stream))})
	}
	return frames
}

// FinalFrame is the last frame drawn before the program exited.
func (r *Recording) FinalFrame() (Frame, bool) {
	if r == nil || len(r.Frames) == 0 {
		return Frame{}, false
	}
	return r.Frames[len(r.Frames)-1], true
}

// Find returns the first frame whose text contains s.
func (r *Recording) Find(s string) (Frame, bool) {
	if r == nil {
		return Frame{}, false
	}
	for _, f := range r.Frames {
		if strings.Contains(f.Plain, s) {
			return f, true
		}
	}
	// The renderer repaints changed lines only, so text may never share a
	// frame with a screen clear.
	if strings.Contains(tidy(stripEscapes(string(r.Raw))), s) {
		return Frame{Index: -1, Plain: s}, true
	}
	return Frame{}, false
}

func stripEscapes(s string) string {
	s = oscSeq.ReplaceAllString(s, "")
	s = csiSeq.ReplaceAllString(s, "")
	return strings.NewReplacer("\x0e", "", "\x0f", "").Replace(s)
}

// tidy drops trailing spaces and blank trailing lines.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
