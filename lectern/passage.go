package lectern

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// rleMarker / pdfMarker are the Unicode bidi embedding controls
	// wrapped around verse-number markers for right-to-left texts, so
	// the arabic numerals don't visually reorder against the text.
	rleMarker = "‫"
	pdfMarker = "‬"
)

// Passage is a resolved, normalized text body together with the
// [VerseRange] it answers and the abbreviation of the version it came
// from. Value type; equality by content.
type Passage struct {
	Range   VerseRange
	Text    string
	Version string
}

// Citation returns the display citation, e.g. "John 3:16 (ESV)".
func (p Passage) Citation() string {
	if p.Version == "" {
		return p.Range.String()
	}
	return fmt.Sprintf("%s (%s)", p.Range.String(), p.Version)
}

// SearchResults is one page of search hits plus the provider's
// reported total match count, which may exceed the page size. An empty
// Passages slice with Total == 0 is the ordinary zero-match result.
type SearchResults struct {
	Passages []Passage
	Total    int
}

var (
	whitespaceRun    = regexp.MustCompile(`\s+`)
	verseMarker      = regexp.MustCompile(`__BOLD__(\d+)\.__BOLD__`)
	danglingMarker   = regexp.MustCompile(`\s+([.,;:!?])`)
	emptyEmphasis    = regexp.MustCompile(`\*\*\s*\*\*|\*\s*\*`)
	multipleNewlines = regexp.MustCompile(`\n{3,}`)
)

// normalizePassageText applies the uniform post-processing rules to
// provider output: collapse whitespace runs, re-emit verse-number
// markers in bold ahead of their verse text, drop empty emphasis
// artifacts, and for right-to-left versions wrap each verse marker in
// RTL embedding controls.
//
// Adapters emit verse numbers as __BOLD__N.__BOLD__ placeholders so
// markup normalization stays provider-independent.
func normalizePassageText(text string, rtl bool) string {
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = danglingMarker.ReplaceAllString(text, "$1")

	marker := "**$1.**"
	if rtl {
		marker = rleMarker + "**$1.**" + pdfMarker
	}
	text = verseMarker.ReplaceAllString(text, marker)

	text = emptyEmphasis.ReplaceAllString(text, "")
	text = multipleNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// verseMarkerPlaceholder formats a verse number as the placeholder
// understood by normalizePassageText.
func verseMarkerPlaceholder(number string) string {
	return fmt.Sprintf("__BOLD__%s.__BOLD__", strings.TrimSpace(number))
}

// truncatePassage reduces a passage body to fit within limit runes,
// appending a truncation notice when content is dropped. Discord
// message bodies cap at 2000 characters and embed descriptions at 4096.
func truncatePassage(s string, limit int) string {
	if len([]rune(s)) <= limit {
		return s
	}
	suffix := "\n\n**(truncated)**"
	runes := []rune(s)
	keep := limit - len([]rune(suffix))
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + suffix
}
