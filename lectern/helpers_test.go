package lectern

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// gormDB creates a temporary SQLite database for testing, with the
// schema migrated and seed data applied.
func gormDB(t testing.TB) *gorm.DB {
	t.Helper()
	tmpdir := t.TempDir()
	dbfile := filepath.Join(tmpdir, fmt.Sprintf("%s.sqlite3", t.Name()))

	db, err := CreateDB(context.Background(), dbTypeSQLite, dbfile, 0)
	if err != nil {
		t.Fatalf("error creating db: %v", err)
	}
	return db
}

func TestHashAndVerifyToken(t *testing.T) {
	t.Parallel()

	hashed, err := hashToken("hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, hashed)
	assert.NotContains(t, hashed, "hunter2")

	assert.True(t, verifyToken("hunter2", hashed))
	assert.False(t, verifyToken("hunter3", hashed))
	assert.False(t, verifyToken("hunter2", "not-a-stored-hash"))

	rehashed, err := hashToken("hunter2")
	require.NoError(t, err)
	// different salt each time
	assert.NotEqual(t, hashed, rehashed)
	assert.True(t, verifyToken("hunter2", rehashed))
}

func TestGenerateRandomHexString(t *testing.T) {
	t.Parallel()

	a, err := generateRandomHexString(32)
	require.NoError(t, err)
	assert.Len(t, a, 64)

	b, err := generateRandomHexString(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestStructToSlogValue(t *testing.T) {
	t.Parallel()

	type inner struct {
		Secret string `json:"secret" log:"[redacted]"`
		Plain  string `json:"plain"`
	}
	type outer struct {
		Name  string `json:"name"`
		Empty string `json:"empty"`
		Inner inner  `json:"inner"`
		Skip  *int   `json:"skip"`
	}

	v := structToSlogValue(
		outer{
			Name:  "lectern",
			Inner: inner{Secret: "token-value", Plain: "visible"},
		},
	)
	require.Equal(t, slog.KindGroup, v.Kind())

	attrs := map[string]slog.Value{}
	for _, attr := range v.Group() {
		attrs[attr.Key] = attr.Value
	}
	assert.Equal(t, "lectern", attrs["name"].String())
	assert.NotContains(t, attrs, "empty")
	assert.NotContains(t, attrs, "skip")

	innerAttrs := map[string]string{}
	for _, attr := range attrs["inner"].Group() {
		innerAttrs[attr.Key] = attr.Value.String()
	}
	assert.Equal(t, "[redacted]", innerAttrs["secret"])
	assert.Equal(t, "visible", innerAttrs["plain"])
}

func TestTLSConfigEmptyCert(t *testing.T) {
	t.Parallel()

	cfg, err := tlsConfig("", "", 0)
	require.NoError(t, err)
	assert.Nil(t, cfg)
}
