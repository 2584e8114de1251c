package lectern

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionIndexEmpty(t *testing.T) {
	t.Parallel()

	idx := NewVersionIndex()
	assert.Zero(t, idx.Len())
	assert.Empty(t, idx.Choices("esv"))
}

func TestVersionIndexRefreshAndChoices(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := gormDB(t)
	idx := NewVersionIndex()

	require.NoError(t, idx.Refresh(ctx, db))
	require.Equal(t, 3, idx.Len())

	// empty input returns everything
	choices := idx.Choices("")
	require.Len(t, choices, 3)
	assert.Equal(t, "English Standard Version (ESV)", choices[0].Name)
	assert.Equal(t, "esv", choices[0].Value)

	// command prefix match
	choices = idx.Choices("kj")
	require.Len(t, choices, 1)
	assert.Equal(t, "kjv", choices[0].Value)

	// display name substring match, case-insensitive
	choices = idx.Choices("INTERNATIONAL")
	require.Len(t, choices, 1)
	assert.Equal(t, "niv", choices[0].Value)

	// abbreviation substring match
	choices = idx.Choices("esv")
	require.Len(t, choices, 1)
	assert.Equal(t, "esv", choices[0].Value)

	assert.Empty(t, idx.Choices("vulgate"))
}

func TestVersionIndexChoiceCap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := gormDB(t)
	writeDB := NewDatabase(db, nil, false)

	protestant, err := ParseBookMask("OT,NT")
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		version := BibleVersion{
			Command:        fmt.Sprintf("xv%02d", i),
			Name:           fmt.Sprintf("Example Version %02d", i),
			Abbreviation:   fmt.Sprintf("XV%02d", i),
			Service:        serviceBibleGateway,
			ServiceVersion: fmt.Sprintf("XV%02d", i),
			Books:          protestant,
		}
		_, err = writeDB.Create(ctx, &version)
		require.NoError(t, err)
	}

	idx := NewVersionIndex()
	require.NoError(t, idx.Refresh(ctx, db))
	assert.Equal(t, 33, idx.Len())

	choices := idx.Choices("")
	assert.Len(t, choices, discordMaxAutocompleteChoices)

	choices = idx.Choices("example")
	assert.Len(t, choices, discordMaxAutocompleteChoices)
}

func TestVersionIndexRefreshReplacesSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := gormDB(t)
	writeDB := NewDatabase(db, nil, false)
	idx := NewVersionIndex()

	require.NoError(t, idx.Refresh(ctx, db))
	require.Equal(t, 3, idx.Len())

	_, err := writeDB.Delete(&BibleVersion{}, "command = ?", "niv")
	require.NoError(t, err)

	// stale until refreshed
	assert.Equal(t, 3, idx.Len())
	require.NoError(t, idx.Refresh(ctx, db))
	assert.Equal(t, 2, idx.Len())
	assert.Empty(t, idx.Choices("niv"))
}
