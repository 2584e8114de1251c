package lectern

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfessionReference(t *testing.T) {
	t.Parallel()

	t.Run("chapters", func(t *testing.T) {
		number, sub, err := ParseConfessionReference(ConfessionTypeChapters, "1.2")
		require.NoError(t, err)
		assert.Equal(t, 1, number)
		require.NotNil(t, sub)
		assert.Equal(t, 2, *sub)

		number, sub, err = ParseConfessionReference(ConfessionTypeChapters, " 21.1 ")
		require.NoError(t, err)
		assert.Equal(t, 21, number)
		require.NotNil(t, sub)
		assert.Equal(t, 1, *sub)

		for _, bad := range []string{"1", "1.2.3", "one.two", ""} {
			_, _, err = ParseConfessionReference(ConfessionTypeChapters, bad)
			var locErr SectionLocatorError
			require.ErrorAs(t, err, &locErr, "input %q", bad)
			assert.Equal(t, ConfessionTypeChapters, locErr.Type)
		}
	})

	t.Run("qa", func(t *testing.T) {
		for _, input := range []string{"21", "q21", "Q21", "q 21", "a21"} {
			number, sub, err := ParseConfessionReference(ConfessionTypeQA, input)
			require.NoError(t, err, "input %q", input)
			assert.Equal(t, 21, number)
			assert.Nil(t, sub)
		}

		_, _, err := ParseConfessionReference(ConfessionTypeQA, "q1.2")
		var locErr SectionLocatorError
		require.ErrorAs(t, err, &locErr)
	})

	t.Run("articles", func(t *testing.T) {
		number, sub, err := ParseConfessionReference(ConfessionTypeArticles, "3")
		require.NoError(t, err)
		assert.Equal(t, 3, number)
		assert.Nil(t, sub)

		_, _, err = ParseConfessionReference(ConfessionTypeArticles, "q3")
		var locErr SectionLocatorError
		require.ErrorAs(t, err, &locErr)
		assert.Equal(t, "article", locErr.Type.SectionKind())
	})
}

func TestGetConfession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := gormDB(t)

	confession, err := GetConfession(ctx, db, "hc")
	require.NoError(t, err)
	assert.Equal(t, "The Heidelberg Catechism", confession.Name)
	assert.Equal(t, ConfessionTypeQA, confession.Type)

	_, err = GetConfession(ctx, db, "nope")
	var notFound ConfessionNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope", notFound.Token)
}

func TestListConfessions(t *testing.T) {
	t.Parallel()

	db := gormDB(t)
	confessions, err := ListConfessions(context.Background(), db)
	require.NoError(t, err)

	var commands []string
	for _, c := range confessions {
		commands = append(commands, c.Command)
	}
	// ordered by command token
	assert.Equal(t, []string{"creed", "hc", "wcf"}, commands)
}

func TestGetSection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := gormDB(t)

	hc, err := GetConfession(ctx, db, "hc")
	require.NoError(t, err)

	section, err := GetSection(ctx, db, hc, 21, nil)
	require.NoError(t, err)
	assert.Equal(t, "What is true faith?", section.Title)

	_, err = GetSection(ctx, db, hc, 999, nil)
	var noSection NoSectionError
	require.ErrorAs(t, err, &noSection)
	assert.Equal(t, "The Heidelberg Catechism", noSection.Confession)
	assert.Equal(t, "999", noSection.Locator)
	assert.Equal(t, "question", noSection.Kind)

	wcf, err := GetConfession(ctx, db, "wcf")
	require.NoError(t, err)

	sub := 2
	section, err = GetSection(ctx, db, wcf, 1, &sub)
	require.NoError(t, err)
	assert.Equal(t, "Of the Holy Scripture", section.Title)
	assert.Contains(t, section.Body, "Word of God written")

	missing := 9
	_, err = GetSection(ctx, db, wcf, 1, &missing)
	require.ErrorAs(t, err, &noSection)
	assert.Equal(t, "1.9", noSection.Locator)
	assert.Equal(t, "paragraph", noSection.Kind)
}

func TestSearchSections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := gormDB(t)

	hc, err := GetConfession(ctx, db, "hc")
	require.NoError(t, err)

	sections, err := SearchSections(ctx, db, hc, "comfort")
	require.NoError(t, err)
	require.NotEmpty(t, sections)
	assert.Equal(t, 1, sections[0].Number)

	// every term must match
	sections, err = SearchSections(ctx, db, hc, "comfort zeppelin")
	require.NoError(t, err)
	assert.Empty(t, sections)

	sections, err = SearchSections(ctx, db, hc, "TRUE FAITH")
	require.NoError(t, err)
	require.NotEmpty(t, sections)

	var numbers []int
	for _, s := range sections {
		numbers = append(numbers, s.Number)
	}
	assert.Contains(t, numbers, 21)
	assert.IsNonDecreasing(t, numbers)
}

func TestConfessionCitation(t *testing.T) {
	t.Parallel()

	sub := 2
	wcf := Confession{
		Name:         "The Westminster Confession of Faith",
		Type:         ConfessionTypeChapters,
		Numbering:    NumberingRoman,
		SubNumbering: NumberingArabic,
	}
	assert.Equal(
		t,
		"The Westminster Confession of Faith I.2",
		wcf.Citation(&ConfessionSection{Number: 1, SubNumber: &sub}),
	)
	assert.Equal(
		t,
		"The Westminster Confession of Faith XXI",
		wcf.Citation(&ConfessionSection{Number: 21}),
	)

	hc := Confession{
		Name:      "The Heidelberg Catechism",
		Type:      ConfessionTypeQA,
		Numbering: NumberingArabic,
	}
	assert.Equal(
		t,
		"The Heidelberg Catechism Q1",
		hc.Citation(&ConfessionSection{Number: 1}),
	)

	creed := Confession{
		Name:      "The Apostles' Creed",
		Type:      ConfessionTypeSections,
		Numbering: NumberingArabic,
	}
	assert.Equal(
		t,
		"The Apostles' Creed 3",
		creed.Citation(&ConfessionSection{Number: 3}),
	)
}

func TestNumberFormatting(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "IV", romanNumeral(4))
	assert.Equal(t, "IX", romanNumeral(9))
	assert.Equal(t, "XXI", romanNumeral(21))
	assert.Equal(t, "MCMXCIV", romanNumeral(1994))
	assert.Equal(t, "0", romanNumeral(0))

	assert.Equal(t, "a", alphaNumeral(1))
	assert.Equal(t, "z", alphaNumeral(26))
	assert.Equal(t, "aa", alphaNumeral(27))
	assert.Equal(t, "ab", alphaNumeral(28))
	assert.Equal(t, "-1", alphaNumeral(-1))
}
