package chunker

import (
	"fmt"
	"strings"
	"testing"
)

// words builds a deterministic n-word text: "w0 w1 w2 ...".
func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func wordsOf(chunk Chunk) []string {
	return strings.Fields(chunk.Text)
}

func TestSplit_EmptyInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "spaces only", input: "   "},
		{name: "mixed whitespace", input: " \t\n \r "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Split(tt.input); got != nil {
				t.Errorf("Split(%q) = %v, want nil", tt.input, got)
			}
		})
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	chunks := Split(text)

	if len(chunks) != 1 {
		t.Fatalf("Split() returned %d chunks, want 1", len(chunks))
	}
	if chunks[0].Index != 0 {
		t.Errorf("chunk index = %d, want 0", chunks[0].Index)
	}
	if chunks[0].Text != text {
		t.Errorf("chunk text = %q, want %q", chunks[0].Text, text)
	}
}

func TestSplit_TrimsWindowText(t *testing.T) {
	chunks := Split("  hello world  \n")
	if len(chunks) != 1 {
		t.Fatalf("Split() returned %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "hello world" {
		t.Errorf("chunk text = %q, want %q", chunks[0].Text, "hello world")
	}
}

func TestSplit_WindowGeometry(t *testing.T) {
	// 1300 words with size 600 / stride 480: windows [0,600), [480,1080),
	// [960,1300).
	chunks := Split(words(1300))

	if len(chunks) != 3 {
		t.Fatalf("Split(1300 words) returned %d chunks, want 3", len(chunks))
	}

	wantCounts := []int{600, 600, 340}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d index = %d, want %d", i, c.Index, i)
		}
		if got := len(wordsOf(c)); got != wantCounts[i] {
			t.Errorf("chunk %d word count = %d, want %d", i, got, wantCounts[i])
		}
	}

	// First chunk starts at the first word, last chunk ends at the last word.
	if first := wordsOf(chunks[0])[0]; first != "w0" {
		t.Errorf("first word = %q, want w0", first)
	}
	last := wordsOf(chunks[2])
	if got := last[len(last)-1]; got != "w1299" {
		t.Errorf("last word = %q, want w1299", got)
	}
}

func TestSplit_ConsecutiveChunksShareOverlap(t *testing.T) {
	chunks := Split(words(1300))
	if len(chunks) < 2 {
		t.Fatalf("Split(1300 words) returned %d chunks, want >= 2", len(chunks))
	}

	for i := 0; i < len(chunks)-1; i++ {
		cur := wordsOf(chunks[i])
		next := wordsOf(chunks[i+1])

		tail := cur[len(cur)-DefaultOverlap:]
		head := next[:DefaultOverlap]
		for j := range tail {
			if tail[j] != head[j] {
				t.Fatalf("chunks %d/%d overlap mismatch at %d: %q != %q",
					i, i+1, j, tail[j], head[j])
			}
		}
	}
}

func TestSplit_NoTruncatedTrailingWindow(t *testing.T) {
	// 1080 words: window [480,1080) already reaches the end, so no third
	// window [960,1080) duplicating its suffix.
	chunks := Split(words(1080))
	if len(chunks) != 2 {
		t.Fatalf("Split(1080 words) returned %d chunks, want 2", len(chunks))
	}
}

func TestSplit_ExactSizeSingleChunk(t *testing.T) {
	chunks := Split(words(600))
	if len(chunks) != 1 {
		t.Fatalf("Split(600 words) returned %d chunks, want 1", len(chunks))
	}
	if got := len(wordsOf(chunks[0])); got != 600 {
		t.Errorf("chunk word count = %d, want 600", got)
	}
}

func TestSplit_SmallWindows(t *testing.T) {
	// Exercise the internal geometry directly with small numbers.
	chunks := split(words(10), 4, 2)

	wantTexts := []string{
		"w0 w1 w2 w3",
		"w2 w3 w4 w5",
		"w4 w5 w6 w7",
		"w6 w7 w8 w9",
	}
	if len(chunks) != len(wantTexts) {
		t.Fatalf("split() returned %d chunks, want %d", len(chunks), len(wantTexts))
	}
	for i, want := range wantTexts {
		if chunks[i].Text != want {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i].Text, want)
		}
	}
}

func TestSplit_StrideNeverBelowOne(t *testing.T) {
	// overlap >= size would stall the loop without the stride floor.
	chunks := split(words(6), 2, 5)
	if len(chunks) != 5 {
		t.Fatalf("split(6 words, size 2, overlap 5) returned %d chunks, want 5", len(chunks))
	}
}

func TestHash(t *testing.T) {
	h1 := Hash("some chunk text")
	h2 := Hash("some chunk text")
	h3 := Hash("different chunk text")

	if h1 != h2 {
		t.Errorf("Hash() not deterministic: %q != %q", h1, h2)
	}
	if h1 == h3 {
		t.Errorf("Hash() collision for different inputs: %q", h1)
	}
	if len(h1) != 64 {
		t.Errorf("Hash() length = %d, want 64 hex chars", len(h1))
	}
	if h1 != strings.ToLower(h1) {
		t.Errorf("Hash() = %q, want lowercase hex", h1)
	}
}

func TestHash_EmptyInput(t *testing.T) {
	// SHA-256 of the empty string, stable by definition.
	const want = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Hash(""); got != want {
		t.Errorf("Hash(\"\") = %q, want %q", got, want)
	}
}
