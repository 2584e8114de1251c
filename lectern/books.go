package lectern

import (
	"fmt"
	"regexp"
	"strings"
)

// Section identifies the broad division of the canon a book belongs to.
type Section int

const (
	SectionOldTestament Section = iota
	SectionNewTestament
	SectionDeuterocanon
)

func (s Section) String() string {
	switch s {
	case SectionOldTestament:
		return "Old Testament"
	case SectionNewTestament:
		return "New Testament"
	case SectionDeuterocanon:
		return "Deuterocanon"
	default:
		return fmt.Sprintf("Section(%d)", int(s))
	}
}

// Book is one entry in the static canonical book table. Books are
// immutable and looked up case-insensitively by canonical name, OSIS
// abbreviation, or any configured alias (a trailing period on
// abbreviated tokens is tolerated).
//
// Ordinal is 1-based and stable - it determines the book's bit in a
// [BookMask], so it must never be reordered.
type Book struct {
	Name    string
	OSIS    string
	Aliases []string
	Ordinal int
	Section Section
}

// Mask returns the mask containing only this book's bit.
func (b Book) Mask() BookMask {
	return maskBit(b.Ordinal)
}

// BookMask is a bitset with one bit per book in the canonical table.
// A Bible version's mask is the union of the bits for every book it
// contains; a verse lookup is valid for a version iff the reference's
// mask is a subset of the version's mask.
//
// The table has more than 64 entries, so the set is split across two
// words. The zero value is the empty mask.
type BookMask struct {
	lo uint64
	hi uint64
}

func maskBit(ordinal int) BookMask {
	i := ordinal - 1
	if i < 0 || i >= 128 {
		return BookMask{}
	}
	if i < 64 {
		return BookMask{lo: 1 << uint(i)}
	}
	return BookMask{hi: 1 << uint(i-64)}
}

// Contains reports whether every bit set in other is also set in m.
func (m BookMask) Contains(other BookMask) bool {
	return m.lo&other.lo == other.lo && m.hi&other.hi == other.hi
}

// Union returns the bitwise union of m and other.
func (m BookMask) Union(other BookMask) BookMask {
	return BookMask{lo: m.lo | other.lo, hi: m.hi | other.hi}
}

// IsZero reports whether no bits are set.
func (m BookMask) IsZero() bool {
	return m.lo == 0 && m.hi == 0
}

// String returns the mask as a fixed-width hex string (high word
// first). This is also the storage format - see [BookMask.Value].
func (m BookMask) String() string {
	return fmt.Sprintf("%016x%016x", m.hi, m.lo)
}

// ParseBookMaskHex parses the fixed-width hex form produced
// by [BookMask.String].
func ParseBookMaskHex(s string) (BookMask, error) {
	if len(s) != 32 {
		return BookMask{}, fmt.Errorf("invalid book mask %q", s)
	}
	var m BookMask
	if _, err := fmt.Sscanf(s, "%016x%016x", &m.hi, &m.lo); err != nil {
		return BookMask{}, fmt.Errorf("invalid book mask %q: %w", s, err)
	}
	return m, nil
}

// ParseBookMask builds a mask from a human-entered comma-separated list
// of book names and ranges, e.g. "Gen-Mal, Matt, 1 Pet-Jude". The
// shorthand tokens "OT" and "NT" expand to exactly the Old/New
// Testament book sets. An unrecognized token fails the whole parse.
func ParseBookMask(spec string) (BookMask, error) {
	var mask BookMask
	for _, tok := range strings.Split(spec, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		switch strings.ToUpper(tok) {
		case "OT":
			mask = mask.Union(MaskOldTestament())
			continue
		case "NT":
			mask = mask.Union(MaskNewTestament())
			continue
		}
		if start, end, ok := strings.Cut(tok, "-"); ok {
			from, found := LookupBook(start)
			if !found {
				return BookMask{}, BookNotUnderstoodError{Token: strings.TrimSpace(start)}
			}
			to, found := LookupBook(end)
			if !found {
				return BookMask{}, BookNotUnderstoodError{Token: strings.TrimSpace(end)}
			}
			if to.Ordinal < from.Ordinal {
				from, to = to, from
			}
			for ord := from.Ordinal; ord <= to.Ordinal; ord++ {
				mask = mask.Union(maskBit(ord))
			}
			continue
		}
		book, found := LookupBook(tok)
		if !found {
			return BookMask{}, BookNotUnderstoodError{Token: tok}
		}
		mask = mask.Union(book.Mask())
	}
	return mask, nil
}

// MaskOldTestament returns the union of every Old Testament book bit.
func MaskOldTestament() BookMask {
	return sectionMasks[SectionOldTestament]
}

// MaskNewTestament returns the union of every New Testament book bit.
func MaskNewTestament() BookMask {
	return sectionMasks[SectionNewTestament]
}

// MaskDeuterocanon returns the union of every deuterocanonical book bit.
func MaskDeuterocanon() BookMask {
	return sectionMasks[SectionDeuterocanon]
}

// BookNotUnderstoodError indicates a candidate book token didn't match
// any known book alias. The offending token is quoted back to the user.
type BookNotUnderstoodError struct {
	Token string
}

func (e BookNotUnderstoodError) Error() string {
	return fmt.Sprintf("book not understood: %q", e.Token)
}

// books is the canonical book table. Ordinals are 1-based and assigned
// in canon order: Old Testament, New Testament, then the deuterocanon.
// The first alias position is reserved for common short forms; the
// OSIS abbreviation is always accepted as well.
var books = []Book{
	{Name: "Genesis", OSIS: "Gen", Aliases: []string{"Ge", "Gn"}},
	{Name: "Exodus", OSIS: "Exod", Aliases: []string{"Ex", "Exo"}},
	{Name: "Leviticus", OSIS: "Lev", Aliases: []string{"Le", "Lv"}},
	{Name: "Numbers", OSIS: "Num", Aliases: []string{"Nu", "Nm", "Nb"}},
	{Name: "Deuteronomy", OSIS: "Deut", Aliases: []string{"De", "Dt"}},
	{Name: "Joshua", OSIS: "Josh", Aliases: []string{"Jos", "Jsh"}},
	{Name: "Judges", OSIS: "Judg", Aliases: []string{"Jdg", "Jg", "Jdgs"}},
	{Name: "Ruth", OSIS: "Ruth", Aliases: []string{"Rth", "Ru"}},
	{Name: "1 Samuel", OSIS: "1Sam", Aliases: []string{"1 Sam", "1Sa", "1 Sm"}},
	{Name: "2 Samuel", OSIS: "2Sam", Aliases: []string{"2 Sam", "2Sa", "2 Sm"}},
	{Name: "1 Kings", OSIS: "1Kgs", Aliases: []string{"1 Kgs", "1Ki", "1 Kin"}},
	{Name: "2 Kings", OSIS: "2Kgs", Aliases: []string{"2 Kgs", "2Ki", "2 Kin"}},
	{Name: "1 Chronicles", OSIS: "1Chr", Aliases: []string{"1 Chr", "1Ch", "1 Chron"}},
	{Name: "2 Chronicles", OSIS: "2Chr", Aliases: []string{"2 Chr", "2Ch", "2 Chron"}},
	{Name: "Ezra", OSIS: "Ezra", Aliases: []string{"Ezr"}},
	{Name: "Nehemiah", OSIS: "Neh", Aliases: []string{"Ne"}},
	{Name: "Esther", OSIS: "Esth", Aliases: []string{"Es", "Est"}},
	{Name: "Job", OSIS: "Job", Aliases: []string{"Jb"}},
	{Name: "Psalms", OSIS: "Ps", Aliases: []string{"Psalm", "Psa", "Pss", "Pslm"}},
	{Name: "Proverbs", OSIS: "Prov", Aliases: []string{"Pr", "Prv", "Pro"}},
	{Name: "Ecclesiastes", OSIS: "Eccl", Aliases: []string{"Ec", "Ecc", "Qoheleth"}},
	{Name: "Song of Solomon", OSIS: "Song", Aliases: []string{"Song of Songs", "SOS", "Canticles", "Cant"}},
	{Name: "Isaiah", OSIS: "Isa", Aliases: []string{"Is"}},
	{Name: "Jeremiah", OSIS: "Jer", Aliases: []string{"Je", "Jr"}},
	{Name: "Lamentations", OSIS: "Lam", Aliases: []string{"La"}},
	{Name: "Ezekiel", OSIS: "Ezek", Aliases: []string{"Eze", "Ezk"}},
	{Name: "Daniel", OSIS: "Dan", Aliases: []string{"Da", "Dn"}},
	{Name: "Hosea", OSIS: "Hos", Aliases: []string{"Ho"}},
	{Name: "Joel", OSIS: "Joel", Aliases: []string{"Jl"}},
	{Name: "Amos", OSIS: "Amos", Aliases: []string{"Am"}},
	{Name: "Obadiah", OSIS: "Obad", Aliases: []string{"Ob"}},
	{Name: "Jonah", OSIS: "Jonah", Aliases: []string{"Jnh", "Jon"}},
	{Name: "Micah", OSIS: "Mic", Aliases: []string{"Mc"}},
	{Name: "Nahum", OSIS: "Nah", Aliases: []string{"Na"}},
	{Name: "Habakkuk", OSIS: "Hab", Aliases: []string{"Hb"}},
	{Name: "Zephaniah", OSIS: "Zeph", Aliases: []string{"Zep", "Zp"}},
	{Name: "Haggai", OSIS: "Hag", Aliases: []string{"Hg"}},
	{Name: "Zechariah", OSIS: "Zech", Aliases: []string{"Zec", "Zc"}},
	{Name: "Malachi", OSIS: "Mal", Aliases: []string{"Ml"}},
	{Name: "Matthew", OSIS: "Matt", Aliases: []string{"Mt"}},
	{Name: "Mark", OSIS: "Mark", Aliases: []string{"Mrk", "Mk", "Mr"}},
	{Name: "Luke", OSIS: "Luke", Aliases: []string{"Luk", "Lk"}},
	{Name: "John", OSIS: "John", Aliases: []string{"Jn", "Jhn"}},
	{Name: "Acts", OSIS: "Acts", Aliases: []string{"Ac", "Acts of the Apostles"}},
	{Name: "Romans", OSIS: "Rom", Aliases: []string{"Ro", "Rm"}},
	{Name: "1 Corinthians", OSIS: "1Cor", Aliases: []string{"1 Cor", "1Co"}},
	{Name: "2 Corinthians", OSIS: "2Cor", Aliases: []string{"2 Cor", "2Co"}},
	{Name: "Galatians", OSIS: "Gal", Aliases: []string{"Ga"}},
	{Name: "Ephesians", OSIS: "Eph", Aliases: []string{"Ephes"}},
	{Name: "Philippians", OSIS: "Phil", Aliases: []string{"Php", "Pp"}},
	{Name: "Colossians", OSIS: "Col", Aliases: []string{"Co"}},
	{Name: "1 Thessalonians", OSIS: "1Thess", Aliases: []string{"1 Thess", "1Th", "1 Thes"}},
	{Name: "2 Thessalonians", OSIS: "2Thess", Aliases: []string{"2 Thess", "2Th", "2 Thes"}},
	{Name: "1 Timothy", OSIS: "1Tim", Aliases: []string{"1 Tim", "1Ti"}},
	{Name: "2 Timothy", OSIS: "2Tim", Aliases: []string{"2 Tim", "2Ti"}},
	{Name: "Titus", OSIS: "Titus", Aliases: []string{"Tit"}},
	{Name: "Philemon", OSIS: "Phlm", Aliases: []string{"Philem", "Phm"}},
	{Name: "Hebrews", OSIS: "Heb", Aliases: []string{"He"}},
	{Name: "James", OSIS: "Jas", Aliases: []string{"Jm", "Jam"}},
	{Name: "1 Peter", OSIS: "1Pet", Aliases: []string{"1 Pet", "1Pe", "1 Pt"}},
	{Name: "2 Peter", OSIS: "2Pet", Aliases: []string{"2 Pet", "2Pe", "2 Pt"}},
	{Name: "1 John", OSIS: "1John", Aliases: []string{"1 Jn", "1Jn", "1 Jhn"}},
	{Name: "2 John", OSIS: "2John", Aliases: []string{"2 Jn", "2Jn", "2 Jhn"}},
	{Name: "3 John", OSIS: "3John", Aliases: []string{"3 Jn", "3Jn", "3 Jhn"}},
	{Name: "Jude", OSIS: "Jude", Aliases: []string{"Jud"}},
	{Name: "Revelation", OSIS: "Rev", Aliases: []string{"Re", "Apocalypse", "Revelation of John"}},
	{Name: "Tobit", OSIS: "Tob", Aliases: []string{"Tb"}},
	{Name: "Judith", OSIS: "Jdt", Aliases: []string{"Jth"}},
	{Name: "Wisdom", OSIS: "Wis", Aliases: []string{"Wisdom of Solomon", "Ws"}},
	{Name: "Sirach", OSIS: "Sir", Aliases: []string{"Ecclesiasticus", "Ecclus"}},
	{Name: "Baruch", OSIS: "Bar", Aliases: []string{"Br"}},
	{Name: "1 Maccabees", OSIS: "1Macc", Aliases: []string{"1 Macc", "1Ma"}},
	{Name: "2 Maccabees", OSIS: "2Macc", Aliases: []string{"2 Macc", "2Ma"}},
}

const (
	oldTestamentBookCount = 39
	newTestamentBookCount = 27
)

var (
	bookIndex    map[string]int
	sectionMasks map[Section]BookMask
)

var romanPrefixPattern = regexp.MustCompile(`^(i{1,3})[\s.]+`)

// normalizeBookToken reduces a candidate book token to the lookup key
// form: trailing period stripped, roman numeral ordinals converted to
// digits, all remaining whitespace and periods removed, lowercased.
func normalizeBookToken(token string) string {
	s := strings.ToLower(strings.TrimSpace(token))
	s = strings.TrimSuffix(s, ".")
	if m := romanPrefixPattern.FindStringSubmatch(s); m != nil {
		s = fmt.Sprintf("%d %s", len(m[1]), s[len(m[0]):])
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.Join(strings.Fields(s), "")
	return s
}

// LookupBook resolves a book token against the canonical table. A miss
// is an ordinary result, not an error - callers decide whether to wrap
// it in a [BookNotUnderstoodError].
func LookupBook(token string) (Book, bool) {
	i, ok := bookIndex[normalizeBookToken(token)]
	if !ok {
		return Book{}, false
	}
	return books[i], true
}

// Books returns the full canonical book table, in canon order.
func Books() []Book {
	out := make([]Book, len(books))
	copy(out, books)
	return out
}

func init() {
	bookIndex = make(map[string]int, len(books)*4)
	sectionMasks = map[Section]BookMask{}

	for i := range books {
		b := &books[i]
		b.Ordinal = i + 1
		switch {
		case i < oldTestamentBookCount:
			b.Section = SectionOldTestament
		case i < oldTestamentBookCount+newTestamentBookCount:
			b.Section = SectionNewTestament
		default:
			b.Section = SectionDeuterocanon
		}
		sectionMasks[b.Section] = sectionMasks[b.Section].Union(b.Mask())

		bookIndex[normalizeBookToken(b.Name)] = i
		bookIndex[normalizeBookToken(b.OSIS)] = i
		for _, alias := range b.Aliases {
			bookIndex[normalizeBookToken(alias)] = i
		}
	}
}
