package lectern

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// BibleVersion is a configured text source. The Command token doubles
// as the slash-command choice value and the explicit-version override
// token in lookups. Rows are created/updated/deleted via admin
// operations only; the backing transaction is the single writer for
// any given row.
type BibleVersion struct {
	ModelUintID
	ModelUnixTime

	// Command is the unique token used to select this version,
	// e.g. "esv".
	Command string `gorm:"uniqueIndex" json:"command" binding:"required,lowercase"`

	// Name is the full display name, e.g. "English Standard Version".
	Name string `gorm:"not null" json:"name" binding:"required"`

	// Abbreviation is stamped onto passages and search results,
	// e.g. "ESV".
	Abbreviation string `gorm:"not null" json:"abbreviation" binding:"required"`

	// Service is the provider identifier the service manager routes
	// lookups through.
	Service string `gorm:"not null" json:"service" binding:"required"`

	// ServiceVersion is the provider-specific version code.
	ServiceVersion string `gorm:"not null" json:"service_version" binding:"required"`

	// RTL marks right-to-left texts, which get bidi-wrapped verse
	// number markers.
	RTL bool `json:"rtl"`

	// Books is the mask of books this version contains.
	Books BookMask `gorm:"type:string" json:"books"`

	// BookMapping optionally remaps canonical book names to the names
	// this provider version expects (e.g. Greek naming for certain Old
	// Testament books in Septuagint-derived texts).
	BookMapping BookMapping `gorm:"type:string" json:"book_mapping,omitempty"`
}

// VersionNotFoundError indicates no Bible version exists for the
// requested command token.
type VersionNotFoundError struct {
	Token string
}

func (e VersionNotFoundError) Error() string {
	return fmt.Sprintf("unknown Bible version: %q", e.Token)
}

// BookNotInVersionError indicates a reference's book isn't contained
// in the target version's book mask.
type BookNotInVersionError struct {
	Book    string
	Version string
}

func (e BookNotInVersionError) Error() string {
	return fmt.Sprintf("%s does not contain %s", e.Version, e.Book)
}

// ContainsBook reports whether the version's mask contains the book of
// the given reference.
func (b BibleVersion) ContainsBook(ref VerseRange) bool {
	return b.Books.Contains(ref.Mask())
}

// ProviderBookName returns the book name to send to the provider for
// this version: the remapped name when a mapping entry exists, else
// the canonical name.
func (b BibleVersion) ProviderBookName(book Book) string {
	if mapped, ok := b.BookMapping[book.OSIS]; ok {
		return mapped
	}
	return book.Name
}

func (b BibleVersion) String() string {
	return fmt.Sprintf("%s (%s)", b.Name, b.Abbreviation)
}

// GetBibleVersion loads a version by command token.
func GetBibleVersion(ctx context.Context, db *gorm.DB, token string) (
	*BibleVersion,
	error,
) {
	var version BibleVersion
	err := db.WithContext(ctx).Where("command = ?", token).Take(&version).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, VersionNotFoundError{Token: token}
		}
		return nil, err
	}
	return &version, nil
}

// ListBibleVersions returns all configured versions ordered by
// command token.
func ListBibleVersions(ctx context.Context, db *gorm.DB) ([]BibleVersion, error) {
	var versions []BibleVersion
	err := db.WithContext(ctx).Order("command asc").Find(&versions).Error
	return versions, err
}

// BookMapping is a canonical-OSIS-keyed remapping of book names for a
// provider that uses non-standard naming. Stored as a JSON column.
type BookMapping map[string]string

// Validate rejects mapping payloads whose keys don't resolve to any
// known book. Admin writes validate before any state change.
func (m BookMapping) Validate() error {
	for key := range m {
		if _, ok := LookupBook(key); !ok {
			return BookNotUnderstoodError{Token: key}
		}
	}
	return nil
}

// Scan implements the sql.Scanner interface.
func (m *BookMapping) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		if len(v) == 0 {
			*m = nil
			return nil
		}
		return json.Unmarshal(v, m)
	case string:
		if v == "" {
			*m = nil
			return nil
		}
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unexpected type for BookMapping: %T", value)
	}
}

// Value implements the driver.Valuer interface.
func (m BookMapping) Value() (driver.Value, error) {
	if m == nil {
		return "", nil
	}
	data, err := json.Marshal(m)
	return string(data), err
}

// GormDataType is used by GORM to determine the default data type for
// a field.
func (BookMapping) GormDataType() string {
	return "string"
}

// Scan implements the sql.Scanner interface.
func (m *BookMask) Scan(value any) error {
	var s string
	switch v := value.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return fmt.Errorf("unexpected type for BookMask: %T", value)
	}
	parsed, err := ParseBookMaskHex(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value implements the driver.Valuer interface.
func (m BookMask) Value() (driver.Value, error) {
	return m.String(), nil
}

// GormDataType is used by GORM to determine the default data type for
// a field.
func (BookMask) GormDataType() string {
	return "string"
}

// MarshalJSON implements the json.Marshaller interface.
func (m BookMask) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (m *BookMask) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBookMaskHex(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
