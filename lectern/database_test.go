package lectern

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCreateDBUnsupportedType(t *testing.T) {
	t.Parallel()
	_, err := CreateDB(
		context.Background(),
		"oracle",
		filepath.Join(t.TempDir(), "nope.sqlite3"),
		0,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestDatabaseWriteOperations(t *testing.T) {
	t.Parallel()
	db := gormDB(t)
	writeDB := NewDatabase(db, nil, false)
	ctx := context.Background()

	cfg := &DailyPostConfig{
		GuildID:      "guild-1",
		ChannelID:    "chan-1",
		WebhookID:    "hook-1",
		WebhookToken: "token-1",
		NextPost:     1700000000000,
		LocalTime:    "07:00",
		Timezone:     "UTC",
	}
	rows, err := writeDB.Create(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
	require.NotZero(t, cfg.ID)
	assert.NotZero(t, cfg.CreatedAt)

	rows, err = writeDB.Update(ctx, cfg, "channel_id", "chan-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = writeDB.Updates(
		ctx, cfg, map[string]any{
			"local_time": "08:30",
			"timezone":   "America/New_York",
		},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	var stored DailyPostConfig
	require.NoError(t, db.First(&stored, cfg.ID).Error)
	assert.Equal(t, "chan-2", stored.ChannelID)
	assert.Equal(t, "08:30", stored.LocalTime)
	assert.Equal(t, "America/New_York", stored.Timezone)

	stored.NextPost = 1700001234567
	rows, err = writeDB.Save(ctx, &stored)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	var reloaded DailyPostConfig
	require.NoError(t, db.First(&reloaded, cfg.ID).Error)
	assert.Equal(t, int64(1700001234567), reloaded.NextPost)
}

func TestDatabaseDeleteFreesUniqueKey(t *testing.T) {
	t.Parallel()
	db := gormDB(t)
	writeDB := NewDatabase(db, nil, false)
	ctx := context.Background()

	cfg := &DailyPostConfig{
		GuildID:      "guild-gone",
		ChannelID:    "chan",
		WebhookID:    "hook",
		WebhookToken: "token",
		NextPost:     1700000000000,
		LocalTime:    "07:00",
		Timezone:     "UTC",
	}
	_, err := writeDB.Create(ctx, cfg)
	require.NoError(t, err)

	rows, err := writeDB.Delete(cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	var found DailyPostConfig
	err = db.First(&found, cfg.ID).Error
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	// the unique guild_id must be reusable after deletion
	replacement := &DailyPostConfig{
		GuildID:      "guild-gone",
		ChannelID:    "chan-2",
		WebhookID:    "hook-2",
		WebhookToken: "token-2",
		NextPost:     1700000500000,
		LocalTime:    "08:00",
		Timezone:     "UTC",
	}
	_, err = writeDB.Create(ctx, replacement)
	require.NoError(t, err)

	var count int64
	require.NoError(
		t,
		db.Model(&DailyPostConfig{}).
			Where("guild_id = ?", "guild-gone").
			Count(&count).Error,
	)
	assert.Equal(t, int64(1), count)
}

func TestDatabaseTransactionRollback(t *testing.T) {
	t.Parallel()
	db := gormDB(t)
	writeDB := NewDatabase(db, nil, false)
	ctx := context.Background()

	rollbackErr := errors.New("nope")
	err := writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			cfg := &DailyPostConfig{
				GuildID:      "guild-rollback",
				ChannelID:    "chan",
				WebhookID:    "hook",
				WebhookToken: "token",
				NextPost:     1700000000000,
				LocalTime:    "07:00",
				Timezone:     "UTC",
			}
			if e := tx.Create(cfg).Error; e != nil {
				return e
			}
			return rollbackErr
		},
	)
	require.ErrorIs(t, err, rollbackErr)

	var count int64
	require.NoError(
		t,
		db.Model(&DailyPostConfig{}).
			Where("guild_id = ?", "guild-rollback").
			Count(&count).Error,
	)
	assert.Zero(t, count)
}
