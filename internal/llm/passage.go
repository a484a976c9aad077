package llm

import (
	"sort"
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"about": true, "after": true, "and": true, "are": true, "does": true,
	"for": true, "from": true, "how": true, "page": true, "that": true,
	"the": true, "this": true, "what": true, "when": true, "where": true,
	"which": true, "who": true, "why": true, "with": true,
}

// clip cuts s to at most n runes.
func clip(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func terms(s string) []string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if len([]rune(w)) >= 3 && !stopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

func sentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// relevantPassage picks the sentences of text that share the most terms
// with question and returns them in reading order within budget runes. Text
// with no matching sentence is returned clipped.
func relevantPassage(text, question string, budget int) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	want := terms(question)
	if len(want) == 0 {
		return clip(text, budget)
	}

	type scored struct {
		idx   int
		score int
		s     string
	}
	var ranked []scored
	for i, s := range sentences(text) {
		have := map[string]bool{}
		for _, t := range terms(s) {
			have[t] = true
		}
		score := 0
		for _, t := range want {
			if have[t] {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{idx: i, score: score, s: s})
		}
	}
	if len(ranked) == 0 {
		return clip(text, budget)
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	var kept []scored
	used := 0
	for _, r := range ranked {
		n := len([]rune(r.s)) + 1
		if used+n > budget && len(kept) > 0 {
			continue
		}
		kept = append(kept, r)
		used += n
	}
	sort.Slice(kept, func(a, b int) bool { return kept[a].idx < kept[b].idx })
	parts := make([]string, len(kept))
	for i, k := range kept {
		parts[i] = k.s
	}
	return clip(strings.Join(parts, " "), budget)
}
