package knowledge

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultMaxChars bounds chunk size for prose documents.
	DefaultMaxChars = 500
	// minChunkLen drops tiny fragments that carry no retrievable signal.
	minChunkLen = 20
	// chatBlockLines groups transcript lines into fixed-size blocks.
	chatBlockLines = 6
)

// ChunkText splits prose into retrieval chunks. Paragraphs (blank-line
// separated) are greedily packed up to maxChars; any packed chunk still over
// the limit is re-split on sentence boundaries with the same greedy rule. A
// single sentence longer than maxChars is kept whole. Fragments of 20 chars
// or less are dropped.
func ChunkText(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}

	var chunks []string
	current := ""
	for _, para := range paragraphs {
		if runeLen(current)+runeLen(para)+2 > maxChars && current != "" {
			chunks = append(chunks, strings.TrimSpace(current))
			current = para
		} else if current == "" {
			current = para
		} else {
			current = current + "\n\n" + para
		}
	}
	if strings.TrimSpace(current) != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}

	var final []string
	for _, chunk := range chunks {
		if runeLen(chunk) <= maxChars {
			final = append(final, chunk)
			continue
		}
		buf := ""
		for _, s := range splitSentences(chunk) {
			if runeLen(buf)+runeLen(s)+1 > maxChars && buf != "" {
				final = append(final, strings.TrimSpace(buf))
				buf = s
			} else if buf == "" {
				buf = s
			} else {
				buf = buf + " " + s
			}
		}
		if strings.TrimSpace(buf) != "" {
			final = append(final, strings.TrimSpace(buf))
		}
	}

	var kept []string
	for _, c := range final {
		if runeLen(c) > minChunkLen {
			kept = append(kept, c)
		}
	}
	return kept
}

// ChunkChatExport groups raw transcript lines into fixed blocks of 6 lines
// regardless of content. Transcripts are example interactions, not prose, so
// block boundaries need no semantic sensitivity. Blocks keep their positional
// index; callers drop blocks of 20 chars or less.
func ChunkChatExport(text string) []string {
	lines := strings.Split(strings.TrimSpace(text), "\n")

	var blocks []string
	var current []string
	for _, line := range lines {
		current = append(current, line)
		if len(current) >= chatBlockLines {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	return blocks
}

// splitSentences cuts after `.`, `!` or `?` followed by whitespace, consuming
// the whitespace. The trailing punctuation stays with its sentence.
func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	var cur []rune
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		cur = append(cur, r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			sentences = append(sentences, string(cur))
			cur = nil
			for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				i++
			}
		}
	}
	if len(cur) > 0 {
		sentences = append(sentences, string(cur))
	}
	return sentences
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
