// Package langdetect identifies the language of document text.
//
// Detection runs only when a document carries no manual language override;
// results are stored alongside chunks so retrieval consumers can filter or
// route by language.
package langdetect

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// TagUndetermined is returned when no language can be identified.
const TagUndetermined = "und"

// Detection is the result of language identification.
type Detection struct {
	// Tag is a lowercase ISO 639-1 code, or TagUndetermined.
	Tag string

	// Confidence is in [0, 1]; 0 when undetermined.
	Confidence float64
}

// Detector wraps a lingua language detector. Building the underlying models
// is expensive, so construct once and share; Detector is safe for concurrent
// use.
type Detector struct {
	inner lingua.LanguageDetector
}

// New creates a Detector covering all languages lingua supports.
func New() *Detector {
	return &Detector{
		inner: lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			Build(),
	}
}

// Detect identifies the dominant language of text.
func (d *Detector) Detect(text string) Detection {
	lang, ok := d.inner.DetectLanguageOf(text)
	if !ok {
		return Detection{Tag: TagUndetermined}
	}

	confidence := d.inner.ComputeLanguageConfidence(text, lang)
	return Detection{
		Tag:        NormalizeTag(lang.IsoCode639_1().String()),
		Confidence: confidence,
	}
}

// NormalizeTag lowercases and trims a language tag, mapping empty input to
// TagUndetermined. Manual overrides pass through here too so stored tags stay
// uniform.
func NormalizeTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return TagUndetermined
	}
	return tag
}
