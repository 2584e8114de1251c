package lectern

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// ConfessionType tags the section-numbering shape of a confessional
// document.
type ConfessionType string

const (
	// ConfessionTypeArticles - flat numbered articles (e.g. creeds and
	// catechism-adjacent articles of faith).
	ConfessionTypeArticles ConfessionType = "articles"

	// ConfessionTypeChapters - chapters containing numbered paragraphs.
	ConfessionTypeChapters ConfessionType = "chapters"

	// ConfessionTypeQA - question-and-answer catechisms.
	ConfessionTypeQA ConfessionType = "qa"

	// ConfessionTypeSections - flat sections with no sub-numbering.
	ConfessionTypeSections ConfessionType = "sections"
)

// SectionKind returns the human name for this type's sections, used in
// error messages and headings.
func (t ConfessionType) SectionKind() string {
	switch t {
	case ConfessionTypeArticles:
		return "article"
	case ConfessionTypeChapters:
		return "paragraph"
	case ConfessionTypeQA:
		return "question"
	default:
		return "section"
	}
}

// NumberingStyle selects how section numbers render for display.
type NumberingStyle string

const (
	NumberingArabic NumberingStyle = "arabic"
	NumberingRoman  NumberingStyle = "roman"
	NumberingAlpha  NumberingStyle = "alpha"
)

// Confession is a confessional document: confession, catechism, or
// creed. Confessions and their sections are seeded via one-time data
// migrations and are read-only in normal operation.
type Confession struct {
	ModelUintID
	ModelUnixTime

	// Command is the unique token used to select this document,
	// e.g. "wcf".
	Command string `gorm:"uniqueIndex" json:"command"`

	Name string         `gorm:"not null" json:"name"`
	Type ConfessionType `gorm:"not null" json:"type"`

	// Numbering renders top-level section numbers; SubNumbering, when
	// set, renders paragraph numbers.
	Numbering    NumberingStyle `gorm:"not null;default:arabic" json:"numbering"`
	SubNumbering NumberingStyle `json:"sub_numbering,omitempty"`

	Sections []ConfessionSection `json:"-"`
}

// ConfessionSection is one retrievable unit of a confession: an
// article, a chapter paragraph, a catechism question, or a flat
// section.
type ConfessionSection struct {
	ModelUintID
	ConfessionID uint `gorm:"index:idx_confession_section,unique" json:"confession_id"`

	Number    int  `gorm:"index:idx_confession_section,unique;not null" json:"number"`
	SubNumber *int `gorm:"index:idx_confession_section,unique" json:"sub_number,omitempty"`

	Title string `json:"title,omitempty"`
	Body  string `gorm:"not null" json:"body"`

	// SearchVector is a generated full-text search column, populated
	// by the postgres migration; unused on sqlite, where search falls
	// back to LIKE matching.
	SearchVector string `gorm:"->;type:text" json:"-"`
}

// SectionLocatorError indicates a confession-section locator didn't
// match the compact grammar for the document's type.
type SectionLocatorError struct {
	Text string
	Type ConfessionType
}

func (e SectionLocatorError) Error() string {
	return fmt.Sprintf(
		"%q is not a valid %s reference",
		e.Text,
		e.Type.SectionKind(),
	)
}

// NoSectionError indicates the requested section doesn't exist,
// naming the confession, the requested locator, and the section kind.
type NoSectionError struct {
	Confession string
	Locator    string
	Kind       string
}

func (e NoSectionError) Error() string {
	return fmt.Sprintf(
		"%s has no %s %s",
		e.Confession,
		e.Kind,
		e.Locator,
	)
}

// ConfessionNotFoundError indicates no confession exists for the
// requested command token.
type ConfessionNotFoundError struct {
	Token string
}

func (e ConfessionNotFoundError) Error() string {
	return fmt.Sprintf("unknown confession: %q", e.Token)
}

var (
	chapterParagraphPattern = regexp.MustCompile(`^(\d+)\.(\d+)$`)
	questionPattern         = regexp.MustCompile(`^[qa]?\s*(\d+)$`)
	articlePattern          = regexp.MustCompile(`^(\d+)$`)
)

// ParseConfessionReference parses the compact locator grammar for the
// given document type: chapters accept "<chapter>.<paragraph>",
// question-answer accepts an optional leading q/a marker plus an
// integer, and articles/sections accept a bare integer.
func ParseConfessionReference(confessionType ConfessionType, text string) (
	number int,
	subNumber *int,
	err error,
) {
	text = strings.ToLower(strings.TrimSpace(text))

	switch confessionType {
	case ConfessionTypeChapters:
		m := chapterParagraphPattern.FindStringSubmatch(text)
		if m == nil {
			return 0, nil, SectionLocatorError{Text: text, Type: confessionType}
		}
		number, _ = strconv.Atoi(m[1])
		sub, _ := strconv.Atoi(m[2])
		return number, &sub, nil
	case ConfessionTypeQA:
		m := questionPattern.FindStringSubmatch(text)
		if m == nil {
			return 0, nil, SectionLocatorError{Text: text, Type: confessionType}
		}
		number, _ = strconv.Atoi(m[1])
		return number, nil, nil
	default:
		m := articlePattern.FindStringSubmatch(text)
		if m == nil {
			return 0, nil, SectionLocatorError{Text: text, Type: confessionType}
		}
		number, _ = strconv.Atoi(m[1])
		return number, nil, nil
	}
}

// GetConfession loads a confession by command token.
func GetConfession(ctx context.Context, db *gorm.DB, token string) (
	*Confession,
	error,
) {
	var confession Confession
	err := db.WithContext(ctx).Where("command = ?", token).Take(&confession).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ConfessionNotFoundError{Token: token}
		}
		return nil, err
	}
	return &confession, nil
}

// ListConfessions returns all seeded confessions ordered by command
// token.
func ListConfessions(ctx context.Context, db *gorm.DB) ([]Confession, error) {
	var confessions []Confession
	err := db.WithContext(ctx).Order("command asc").Find(&confessions).Error
	return confessions, err
}

// GetSection retrieves a confession section by parsed locator.
func GetSection(
	ctx context.Context,
	db *gorm.DB,
	confession *Confession,
	number int,
	subNumber *int,
) (*ConfessionSection, error) {
	query := db.WithContext(ctx).
		Where("confession_id = ? AND number = ?", confession.ID, number)
	if subNumber != nil {
		query = query.Where("sub_number = ?", *subNumber)
	}

	var section ConfessionSection
	if err := query.Take(&section).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			locator := strconv.Itoa(number)
			if subNumber != nil {
				locator = fmt.Sprintf("%d.%d", number, *subNumber)
			}
			return nil, NoSectionError{
				Confession: confession.Name,
				Locator:    locator,
				Kind:       confession.Type.SectionKind(),
			}
		}
		return nil, err
	}
	return &section, nil
}

// SearchSections runs a full-text match over section titles and
// bodies. Results are ranked by the document's natural section order,
// not relevance score. On postgres the generated tsvector column is
// used; sqlite falls back to per-term LIKE matching.
func SearchSections(
	ctx context.Context,
	db *gorm.DB,
	confession *Confession,
	terms string,
) ([]ConfessionSection, error) {
	query := db.WithContext(ctx).
		Where("confession_id = ?", confession.ID).
		Order("number asc, sub_number asc")

	if db.Dialector.Name() == "postgres" {
		query = query.Where(
			"search_vector @@ plainto_tsquery('english', ?)",
			terms,
		)
	} else {
		for _, term := range strings.Fields(terms) {
			pattern := "%" + strings.ToLower(term) + "%"
			query = query.Where(
				"lower(title) LIKE ? OR lower(body) LIKE ?",
				pattern,
				pattern,
			)
		}
	}

	var sections []ConfessionSection
	if err := query.Find(&sections).Error; err != nil {
		return nil, err
	}
	return sections, nil
}

// Citation renders a section's display citation in the confession's
// numbering styles, e.g. "WCF I.2" or "Heidelberg Q1".
func (c Confession) Citation(section *ConfessionSection) string {
	number := formatNumber(c.Numbering, section.Number)
	switch c.Type {
	case ConfessionTypeQA:
		return fmt.Sprintf("%s Q%s", c.Name, number)
	case ConfessionTypeChapters:
		if section.SubNumber != nil {
			sub := formatNumber(c.SubNumbering, *section.SubNumber)
			return fmt.Sprintf("%s %s.%s", c.Name, number, sub)
		}
		return fmt.Sprintf("%s %s", c.Name, number)
	default:
		return fmt.Sprintf("%s %s", c.Name, number)
	}
}

// formatNumber renders n in the given numbering style. Unknown styles
// and the empty style fall back to arabic.
func formatNumber(style NumberingStyle, n int) string {
	switch style {
	case NumberingRoman:
		return romanNumeral(n)
	case NumberingAlpha:
		return alphaNumeral(n)
	default:
		return strconv.Itoa(n)
	}
}

var romanValues = []struct {
	value  int
	symbol string
}{
	{1000, "M"}, {900, "CM"}, {500, "D"}, {400, "CD"},
	{100, "C"}, {90, "XC"}, {50, "L"}, {40, "XL"},
	{10, "X"}, {9, "IX"}, {5, "V"}, {4, "IV"}, {1, "I"},
}

func romanNumeral(n int) string {
	if n <= 0 {
		return strconv.Itoa(n)
	}
	var sb strings.Builder
	for _, rv := range romanValues {
		for n >= rv.value {
			sb.WriteString(rv.symbol)
			n -= rv.value
		}
	}
	return sb.String()
}

// alphaNumeral renders 1 as "a", 26 as "z", 27 as "aa".
func alphaNumeral(n int) string {
	if n <= 0 {
		return strconv.Itoa(n)
	}
	var sb strings.Builder
	for n > 0 {
		n--
		sb.WriteByte(byte('a' + n%26))
		n /= 26
	}
	runes := []rune(sb.String())
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
