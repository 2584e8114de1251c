package lectern

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrReferenceNotUnderstood indicates the input text didn't match the
// verse-reference pattern at all.
var ErrReferenceNotUnderstood = errors.New("reference not understood")

// VerseRange is a resolved verse reference: canonical book, start
// chapter:verse, optional end chapter:verse, and an optional explicit
// version override. Immutable after construction; equality is defined
// by canonical string form (see [VerseRange.Equal]), not identity.
type VerseRange struct {
	Book         Book
	StartChapter int
	StartVerse   int

	// EndChapter/EndVerse are zero when the reference is a single
	// verse. When the source text omits the end chapter, it inherits
	// the start chapter.
	EndChapter int
	EndVerse   int

	// Version is the command token of an explicitly requested Bible
	// version, or empty to use preference resolution.
	Version string
}

// String returns the canonical form of the reference, e.g.
// "Isaiah 54:2-23" or "John 3:36-4:2".
func (v VerseRange) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %d:%d", v.Book.Name, v.StartChapter, v.StartVerse)
	switch {
	case v.EndVerse == 0:
	case v.EndChapter != 0 && v.EndChapter != v.StartChapter:
		fmt.Fprintf(&sb, "-%d:%d", v.EndChapter, v.EndVerse)
	default:
		fmt.Fprintf(&sb, "-%d", v.EndVerse)
	}
	return sb.String()
}

// Equal reports whether two ranges refer to the same span. Two
// independently parsed instances of the same reference are equal.
func (v VerseRange) Equal(other VerseRange) bool {
	return v.String() == other.String()
}

// Mask returns the book mask covered by the reference.
func (v VerseRange) Mask() BookMask {
	return v.Book.Mask()
}

// WithVersion returns a copy of the range with an explicit version
// override token.
func (v VerseRange) WithVersion(version string) VerseRange {
	v.Version = version
	return v
}

// referencePattern matches a single verse reference. The book token may
// carry a leading ordinal (arabic or roman) and a trailing period; the
// range separator accepts hyphen, en dash and em dash, with arbitrary
// surrounding whitespace.
var referencePattern = regexp.MustCompile(
	`((?:[1-3]|[Ii]{1,3})?[\s.]*[A-Za-z]+(?:\s+[A-Za-z]+)*\.?)\s+` +
		`(\d{1,3})\s*:\s*(\d{1,3})` +
		`(?:\s*[-\x{2013}\x{2014}]\s*(?:(\d{1,3})\s*:\s*)?(\d{1,3}))?`,
)

// bracketedPattern matches delimiter-wrapped text, used when scanning
// free-form chat messages: only references inside [brackets] are
// recognized in that mode.
var bracketedPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)

// ParseReference parses a dedicated command argument into a VerseRange.
// It fails with [ErrReferenceNotUnderstood] when the text doesn't match
// the verse-reference pattern, and with [BookNotUnderstoodError] when
// the book token doesn't match any known alias.
func ParseReference(text string) (VerseRange, error) {
	m := referencePattern.FindStringSubmatch(text)
	if m == nil {
		return VerseRange{}, fmt.Errorf("%w: %q", ErrReferenceNotUnderstood, text)
	}
	return rangeFromMatch(m)
}

// ExtractReferences extracts every verse reference from free-form text.
// When bracketedOnly is set, only references wrapped in a [delimiter
// pair] are recognized - the mode used when scanning ordinary chat
// messages, as opposed to parsing a command argument. Unrecognized book
// tokens within candidate matches are skipped rather than failing the
// whole scan.
func ExtractReferences(text string, bracketedOnly bool) []VerseRange {
	var refs []VerseRange
	if bracketedOnly {
		for _, m := range bracketedPattern.FindAllStringSubmatch(text, -1) {
			ref, err := ParseReference(m[1])
			if err != nil {
				continue
			}
			refs = append(refs, ref)
		}
		return refs
	}
	for _, m := range referencePattern.FindAllStringSubmatch(text, -1) {
		ref, err := rangeFromMatch(m)
		if err != nil {
			var notUnderstood BookNotUnderstoodError
			if !errors.As(err, &notUnderstood) {
				continue
			}
			// The book token is greedy and may have swallowed leading
			// prose ("see John 3:16"); retry with shorter suffixes.
			words := strings.Fields(m[1])
			for i := 1; i < len(words); i++ {
				m[1] = strings.Join(words[i:], " ")
				if ref, err = rangeFromMatch(m); err == nil {
					break
				}
			}
			if err != nil {
				continue
			}
		}
		refs = append(refs, ref)
	}
	return refs
}

func rangeFromMatch(m []string) (VerseRange, error) {
	book, ok := LookupBook(m[1])
	if !ok {
		return VerseRange{}, BookNotUnderstoodError{Token: strings.TrimSpace(m[1])}
	}

	startChapter, err := strconv.Atoi(m[2])
	if err != nil {
		return VerseRange{}, fmt.Errorf("%w: %q", ErrReferenceNotUnderstood, m[0])
	}
	startVerse, err := strconv.Atoi(m[3])
	if err != nil {
		return VerseRange{}, fmt.Errorf("%w: %q", ErrReferenceNotUnderstood, m[0])
	}

	ref := VerseRange{
		Book:         book,
		StartChapter: startChapter,
		StartVerse:   startVerse,
	}

	if m[5] != "" {
		ref.EndVerse, err = strconv.Atoi(m[5])
		if err != nil {
			return VerseRange{}, fmt.Errorf("%w: %q", ErrReferenceNotUnderstood, m[0])
		}
		if m[4] != "" {
			ref.EndChapter, err = strconv.Atoi(m[4])
			if err != nil {
				return VerseRange{}, fmt.Errorf("%w: %q", ErrReferenceNotUnderstood, m[0])
			}
		} else {
			// an end verse without a chapter shares the start chapter
			ref.EndChapter = ref.StartChapter
		}
	}

	return ref, nil
}
