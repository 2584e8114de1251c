package lectern

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRuntimeConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRuntimeConfig()
	assert.False(t, config.Paused)
	assert.True(t, config.VerseScanEnabled)
	assert.Equal(t, DefaultDiscordCustomStatus, config.DiscordCustomStatus)
	assert.Equal(t, DefaultDiscordErrorMessage, config.DiscordErrorMessage)
	assert.Equal(t, DBLogLevelInfo, config.LogLevel)
	assert.Equal(t, DBLogLevelInfo, config.APILogLevel)
	assert.Empty(t, config.AdminUsername)
	assert.Empty(t, config.AdminPassword)
}

func TestRuntimeConfigLogValueRedactsCredentials(t *testing.T) {
	t.Parallel()

	config := DefaultRuntimeConfig()
	config.AdminUsername = "admin"
	config.AdminPassword = "hashed-secret"

	attrs := map[string]string{}
	for _, attr := range config.LogValue().Group() {
		attrs[attr.Key] = attr.Value.String()
	}
	assert.Equal(t, "[redacted]", attrs["admin_username"])
	assert.Equal(t, "[redacted]", attrs["admin_password"])
}

func TestRuntimeConfigUpdateValidate(t *testing.T) {
	t.Parallel()

	levelDebug := DBLogLevelDebug
	paused := true
	status := "reading scripture"
	update := RuntimeConfigUpdate{
		Paused:              &paused,
		DiscordCustomStatus: &status,
		LogLevel:            &levelDebug,
	}
	require.NoError(t, update.validate())

	// empty update is a no-op, not an error
	require.NoError(t, RuntimeConfigUpdate{}.validate())

	badLevel := DBLogLevel("LOUD")
	assert.Error(t, RuntimeConfigUpdate{LogLevel: &badLevel}.validate())

	empty := ""
	assert.Error(t, RuntimeConfigUpdate{DiscordErrorMessage: &empty}.validate())
}

func TestGetDiscordPresenceStatusUpdate(t *testing.T) {
	t.Parallel()

	config := DefaultRuntimeConfig()
	config.DiscordCustomStatus = "reading scripture"

	update := getDiscordPresenceStatusUpdate(config)
	assert.False(t, update.AFK)
	assert.Equal(t, "reading scripture", update.Status)

	config.Paused = true
	update = getDiscordPresenceStatusUpdate(config)
	assert.True(t, update.AFK)
	assert.Equal(t, string(discordgo.StatusDoNotDisturb), update.Status)
}

func TestDBLogLevel(t *testing.T) {
	t.Parallel()

	var level DBLogLevel
	require.NoError(t, level.Set("debug"))
	assert.Equal(t, DBLogLevelDebug, level)
	assert.Equal(t, slog.LevelDebug, level.Level())

	require.NoError(t, level.Scan("WARN"))
	assert.Equal(t, DBLogLevelWarn, level)

	assert.Error(t, level.Set("LOUD"))

	data, err := json.Marshal(DBLogLevelError)
	require.NoError(t, err)
	assert.Equal(t, `"ERROR"`, string(data))

	require.NoError(t, json.Unmarshal([]byte(`"info"`), &level))
	assert.Equal(t, DBLogLevelInfo, level)
	assert.Error(t, json.Unmarshal([]byte(`"LOUD"`), &level))
}

func TestRuntimeConfigPersistence(t *testing.T) {
	t.Parallel()

	db := gormDB(t)

	config := DefaultRuntimeConfig()
	require.NoError(t, db.Create(&config).Error)

	var loaded RuntimeConfig
	require.NoError(t, db.Last(&loaded).Error)
	assert.Equal(t, DefaultDiscordErrorMessage, loaded.DiscordErrorMessage)
	assert.Equal(t, DBLogLevelInfo, loaded.LogLevel)
	assert.True(t, loaded.VerseScanEnabled)
}
