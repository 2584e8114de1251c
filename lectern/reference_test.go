package lectern

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single verse",
			input:    "John 3:16",
			expected: "John 3:16",
		},
		{
			name:     "verse range",
			input:    "John 3:16-17",
			expected: "John 3:16-17",
		},
		{
			name:     "cross-chapter range",
			input:    "John 3:36-4:2",
			expected: "John 3:36-4:2",
		},
		{
			name:     "ordinal book with abbreviation and period",
			input:    "1Pet. 3:1",
			expected: "1 Peter 3:1",
		},
		{
			name:     "spaced-out range separator",
			input:    "1 Pet. 3:1 - 4",
			expected: "1 Peter 3:1-4",
		},
		{
			name:     "roman numeral ordinal",
			input:    "II Cor 4:7",
			expected: "2 Corinthians 4:7",
		},
		{
			name:     "excess internal whitespace",
			input:    "Isa   54:2   - 23",
			expected: "Isaiah 54:2-23",
		},
		{
			name:     "en dash separator",
			input:    "Psalm 23:1–6",
			expected: "Psalms 23:1-6",
		},
		{
			name:     "multi-word book name",
			input:    "Song of Solomon 2:1",
			expected: "Song of Solomon 2:1",
		},
		{
			name:     "deuterocanon",
			input:    "Tobit 4:5",
			expected: "Tobit 4:5",
		},
	}

	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				ref, err := ParseReference(tc.input)
				require.NoError(t, err)
				assert.Equal(t, tc.expected, ref.String())
			},
		)
	}
}

func TestParseReferenceEquality(t *testing.T) {
	a, err := ParseReference("1Pet. 3:1 - 4")
	require.NoError(t, err)

	b, err := ParseReference("1 Peter 3:1-4")
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.String(), b.String())
}

func TestParseReferenceEndChapterInheritance(t *testing.T) {
	ref, err := ParseReference("John 3:16-18")
	require.NoError(t, err)
	assert.Equal(t, 3, ref.StartChapter)
	assert.Equal(t, 3, ref.EndChapter)
	assert.Equal(t, 18, ref.EndVerse)
}

func TestParseReferenceErrors(t *testing.T) {
	t.Run(
		"not a reference", func(t *testing.T) {
			_, err := ParseReference("hello there")
			assert.ErrorIs(t, err, ErrReferenceNotUnderstood)
		},
	)

	t.Run(
		"unknown book", func(t *testing.T) {
			_, err := ParseReference("Hezekiah 3:16")
			var notUnderstood BookNotUnderstoodError
			require.True(t, errors.As(err, &notUnderstood))
			assert.Equal(t, "Hezekiah", notUnderstood.Token)
		},
	)
}

func TestExtractReferencesBracketed(t *testing.T) {
	refs := ExtractReferences(
		"have you read [John 3:16] and [Rom 8:28-30]? also [not a verse]",
		true,
	)
	require.Len(t, refs, 2)
	assert.Equal(t, "John 3:16", refs[0].String())
	assert.Equal(t, "Romans 8:28-30", refs[1].String())
}

func TestExtractReferencesBracketedOnlyIgnoresBare(t *testing.T) {
	refs := ExtractReferences("see John 3:16 for details", true)
	assert.Empty(t, refs)
}

func TestExtractReferencesFreeform(t *testing.T) {
	refs := ExtractReferences("see John 3:16 and also Gen 1:1-3", false)
	require.Len(t, refs, 2)
	assert.Equal(t, "John 3:16", refs[0].String())
	assert.Equal(t, "Genesis 1:1-3", refs[1].String())
}

func TestWithVersion(t *testing.T) {
	ref, err := ParseReference("John 3:16")
	require.NoError(t, err)
	assert.Empty(t, ref.Version)

	override := ref.WithVersion("kjv")
	assert.Equal(t, "kjv", override.Version)
	assert.Empty(t, ref.Version)
}
