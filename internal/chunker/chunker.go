// Package chunker splits raw document text into overlapping, word-bounded
// windows and fingerprints their content for cache lookups.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Default window geometry, in whitespace-delimited word tokens.
const (
	// DefaultSize is the target number of word tokens per chunk.
	DefaultSize = 600

	// DefaultOverlap is the number of word tokens shared by consecutive chunks.
	DefaultOverlap = 120
)

// Chunk is one window of a document's text. Index is 0-based and gapless
// within the returned sequence.
type Chunk struct {
	Index int
	Text  string
}

// token records the byte range of one whitespace-delimited word.
type token struct {
	start int
	end   int // exclusive
}

// Split divides text into overlapping windows of DefaultSize word tokens with
// DefaultOverlap tokens of overlap. Empty or whitespace-only input yields no
// chunks. Split is a pure function of its input.
func Split(text string) []Chunk {
	return split(text, DefaultSize, DefaultOverlap)
}

func split(text string, size, overlap int) []Chunk {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	stride := size - overlap
	if stride < 1 {
		stride = 1
	}

	var chunks []Chunk
	for start := 0; start < len(tokens); start += stride {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}

		// The window's text spans from the first token's start to the last
		// token's end, plus at most one whitespace character immediately
		// following the last token so natural spacing survives.
		byteEnd := tokens[end-1].end
		if r, n := utf8.DecodeRuneInString(text[byteEnd:]); n > 0 && unicode.IsSpace(r) {
			byteEnd += n
		}

		window := strings.TrimSpace(text[tokens[start].start:byteEnd])
		if window != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: window})
		}

		// The final window always reaches the end of the token sequence;
		// stop here so no truncated duplicate window trails it.
		if end == len(tokens) {
			break
		}
	}

	return chunks
}

// tokenize returns the byte ranges of all whitespace-delimited words in text.
func tokenize(text string) []token {
	var tokens []token
	inWord := false
	start := 0

	for i, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				tokens = append(tokens, token{start: start, end: i})
				inWord = false
			}
			continue
		}
		if !inWord {
			start = i
			inWord = true
		}
	}
	if inWord {
		tokens = append(tokens, token{start: start, end: len(text)})
	}

	return tokens
}
