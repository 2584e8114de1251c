package lectern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupBook(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"Genesis", "Genesis"},
		{"gen", "Genesis"},
		{"Gen.", "Genesis"},
		{"1 Sam", "1 Samuel"},
		{"1Sam", "1 Samuel"},
		{"I Sam", "1 Samuel"},
		{"ii cor", "2 Corinthians"},
		{"Psalm", "Psalms"},
		{"Song of Songs", "Song of Solomon"},
		{"Ecclesiasticus", "Sirach"},
		{"Apocalypse", "Revelation"},
	}
	for _, tc := range tests {
		t.Run(
			tc.token, func(t *testing.T) {
				book, ok := LookupBook(tc.token)
				require.True(t, ok)
				assert.Equal(t, tc.expected, book.Name)
			},
		)
	}

	_, ok := LookupBook("Hezekiah")
	assert.False(t, ok)
}

func TestBookOrdinalsStable(t *testing.T) {
	all := Books()
	require.Len(t, all, 73)

	assert.Equal(t, 1, all[0].Ordinal)
	assert.Equal(t, "Genesis", all[0].Name)
	assert.Equal(t, "Malachi", all[38].Name)
	assert.Equal(t, "Matthew", all[39].Name)
	assert.Equal(t, "Revelation", all[65].Name)
	assert.Equal(t, "Tobit", all[66].Name)
	assert.Equal(t, "2 Maccabees", all[72].Name)

	for i, b := range all {
		assert.Equal(t, i+1, b.Ordinal)
	}
}

func TestBookMaskAlgebra(t *testing.T) {
	gen, ok := LookupBook("Gen")
	require.True(t, ok)
	rev, ok := LookupBook("Rev")
	require.True(t, ok)
	tob, ok := LookupBook("Tob")
	require.True(t, ok)

	// Revelation is ordinal 66, so it lands in the high word
	assert.False(t, rev.Mask().IsZero())
	assert.False(t, gen.Mask().Contains(rev.Mask()))

	combined := gen.Mask().Union(rev.Mask())
	assert.True(t, combined.Contains(gen.Mask()))
	assert.True(t, combined.Contains(rev.Mask()))
	assert.False(t, combined.Contains(tob.Mask()))

	assert.True(t, BookMask{}.IsZero())
	assert.True(t, combined.Contains(BookMask{}))
}

func TestBookMaskRoundTrip(t *testing.T) {
	mask, err := ParseBookMask("Gen-Mal,Matt-Rev")
	require.NoError(t, err)

	parsed, err := ParseBookMaskHex(mask.String())
	require.NoError(t, err)
	assert.Equal(t, mask, parsed)

	_, err = ParseBookMaskHex("nope")
	assert.Error(t, err)
}

func TestParseBookMask(t *testing.T) {
	t.Run(
		"protestant canon", func(t *testing.T) {
			mask, err := ParseBookMask("Gen-Mal,Matt-Rev")
			require.NoError(t, err)
			assert.Equal(t, MaskOldTestament().Union(MaskNewTestament()), mask)
			assert.False(t, mask.Contains(MaskDeuterocanon()))
		},
	)

	t.Run(
		"OT and NT shorthand", func(t *testing.T) {
			mask, err := ParseBookMask("OT, NT")
			require.NoError(t, err)
			assert.Equal(t, MaskOldTestament().Union(MaskNewTestament()), mask)
		},
	)

	t.Run(
		"single books and ranges", func(t *testing.T) {
			mask, err := ParseBookMask("Matt, 1 Pet-Jude")
			require.NoError(t, err)

			matt, _ := LookupBook("Matt")
			jude, _ := LookupBook("Jude")
			secondPet, _ := LookupBook("2 Pet")
			mark, _ := LookupBook("Mark")

			assert.True(t, mask.Contains(matt.Mask()))
			assert.True(t, mask.Contains(jude.Mask()))
			assert.True(t, mask.Contains(secondPet.Mask()))
			assert.False(t, mask.Contains(mark.Mask()))
		},
	)

	t.Run(
		"deuterocanon token", func(t *testing.T) {
			mask, err := ParseBookMask("OT,NT,Tob")
			require.NoError(t, err)
			tob, _ := LookupBook("Tob")
			assert.True(t, mask.Contains(tob.Mask()))
		},
	)

	t.Run(
		"unknown token fails whole parse", func(t *testing.T) {
			_, err := ParseBookMask("Gen-Mal,Hezekiah")
			var notUnderstood BookNotUnderstoodError
			require.ErrorAs(t, err, &notUnderstood)
			assert.Equal(t, "Hezekiah", notUnderstood.Token)
		},
	)
}

func TestSectionMasksDisjoint(t *testing.T) {
	ot := MaskOldTestament()
	nt := MaskNewTestament()
	dc := MaskDeuterocanon()

	for _, b := range Books() {
		var want BookMask
		switch b.Section {
		case SectionOldTestament:
			want = ot
		case SectionNewTestament:
			want = nt
		case SectionDeuterocanon:
			want = dc
		}
		assert.True(t, want.Contains(b.Mask()), "book %s", b.Name)
	}

	assert.False(t, ot.Contains(nt))
	assert.False(t, nt.Contains(dc))
}
