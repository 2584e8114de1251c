package lectern

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNoUserVersion indicates a context that requires an explicit user
// preference found none (and no fallback applies there).
var ErrNoUserVersion = errors.New("no Bible version set for user")

// UserPref maps a Discord user ID to their chosen default Bible
// version. Created on first set, deleted on unset.
type UserPref struct {
	ModelUnixTime
	UserID         string `gorm:"primaryKey" json:"user_id"`
	BibleVersionID uint   `gorm:"not null" json:"bible_version_id"`
	BibleVersion   BibleVersion
}

// GuildPref maps a guild ID to the guild's default Bible version.
type GuildPref struct {
	ModelUnixTime
	GuildID        string `gorm:"primaryKey" json:"guild_id"`
	BibleVersionID uint   `gorm:"not null" json:"bible_version_id"`
	BibleVersion   BibleVersion
}

// VersionResolver implements the preference fallback chain: explicit
// version named in the request, else user preference, else guild
// preference, else the fixed system default.
type VersionResolver struct {
	db *gorm.DB

	// DefaultVersion is the command token of the system default,
	// used when no preference applies anywhere.
	DefaultVersion string
}

func NewVersionResolver(db *gorm.DB, defaultVersion string) *VersionResolver {
	return &VersionResolver{db: db, DefaultVersion: defaultVersion}
}

// Resolve returns the Bible version that applies to a request. Any of
// explicit, userID and guildID may be empty. With no preferences set
// anywhere, the fixed system default is returned - never an error,
// unless the default itself is missing from the database (a deployment
// fault, reported as-is).
func (r *VersionResolver) Resolve(
	ctx context.Context,
	explicit string,
	userID string,
	guildID string,
) (*BibleVersion, error) {
	if explicit != "" {
		return GetBibleVersion(ctx, r.db, explicit)
	}

	if userID != "" {
		version, err := r.UserVersion(ctx, userID)
		if err == nil {
			return version, nil
		}
		if !errors.Is(err, ErrNoUserVersion) {
			return nil, err
		}
	}

	if guildID != "" {
		version, err := r.GuildVersion(ctx, guildID)
		if err == nil {
			return version, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return GetBibleVersion(ctx, r.db, r.DefaultVersion)
}

// UserVersion returns the user's explicitly set preference, failing
// with [ErrNoUserVersion] when none exists. Used directly by contexts
// that require an explicit user preference, with no fallback.
func (r *VersionResolver) UserVersion(ctx context.Context, userID string) (
	*BibleVersion,
	error,
) {
	var pref UserPref
	err := r.db.WithContext(ctx).
		Preload("BibleVersion").
		Where("user_id = ?", userID).
		Take(&pref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoUserVersion, userID)
		}
		return nil, err
	}
	return &pref.BibleVersion, nil
}

// GuildVersion returns the guild's preference, or
// gorm.ErrRecordNotFound when none is set.
func (r *VersionResolver) GuildVersion(ctx context.Context, guildID string) (
	*BibleVersion,
	error,
) {
	var pref GuildPref
	err := r.db.WithContext(ctx).
		Preload("BibleVersion").
		Where("guild_id = ?", guildID).
		Take(&pref).Error
	if err != nil {
		return nil, err
	}
	return &pref.BibleVersion, nil
}

// SetUserVersion upserts the user's preference to the version named by
// token.
func (r *VersionResolver) SetUserVersion(
	ctx context.Context,
	writeDB DBI,
	userID string,
	token string,
) (*BibleVersion, error) {
	version, err := GetBibleVersion(ctx, r.db, token)
	if err != nil {
		return nil, err
	}
	pref := UserPref{UserID: userID, BibleVersionID: version.ID}
	if _, err = writeDB.Save(ctx, &pref); err != nil {
		return nil, err
	}
	return version, nil
}

// ClearUserVersion removes the user's preference. Clearing an unset
// preference is not an error.
func (r *VersionResolver) ClearUserVersion(
	ctx context.Context,
	writeDB DBI,
	userID string,
) error {
	_, err := writeDB.Delete(&UserPref{}, "user_id = ?", userID)
	return err
}

// SetGuildVersion upserts the guild's preference to the version named
// by token.
func (r *VersionResolver) SetGuildVersion(
	ctx context.Context,
	writeDB DBI,
	guildID string,
	token string,
) (*BibleVersion, error) {
	version, err := GetBibleVersion(ctx, r.db, token)
	if err != nil {
		return nil, err
	}
	pref := GuildPref{GuildID: guildID, BibleVersionID: version.ID}
	if _, err = writeDB.Save(ctx, &pref); err != nil {
		return nil, err
	}
	return version, nil
}

// ClearGuildVersion removes the guild's preference.
func (r *VersionResolver) ClearGuildVersion(
	ctx context.Context,
	writeDB DBI,
	guildID string,
) error {
	_, err := writeDB.Delete(&GuildPref{}, "guild_id = ?", guildID)
	return err
}
