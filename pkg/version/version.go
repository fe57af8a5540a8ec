// Package version implements the totally ordered version identifiers that
// upgrade tasks target. A version is either a plain build number ("6100")
// or a semantic version ("1.4.0").
package version

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrInvalidFormat is returned when a string cannot be parsed as a version.
var ErrInvalidFormat = errors.New("invalid version format")

// Kind identifies how a Version is encoded.
type Kind int

const (
	KindBuild Kind = iota
	KindSemver
)

func (k Kind) String() string {
	if k == KindSemver {
		return "semver"
	}
	return "build"
}

// Version is an immutable version identifier. The zero value is build 0,
// the version of an installation that has never been upgraded.
type Version struct {
	build int64
	sem   *semver.Version
}

// Zero is the version reported by a store with no recorded upgrades.
var Zero = Version{}

// Build returns the version for a build number. Negative numbers are
// clamped to zero.
func Build(n int64) Version {
	if n < 0 {
		n = 0
	}
	return Version{build: n}
}

// Parse parses the canonical string form of a version. Strings made only of
// decimal digits are build numbers; everything else must be a strict
// semantic version, optionally prefixed with "v".
func Parse(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Version{}, fmt.Errorf("%w: empty string", ErrInvalidFormat)
	}

	if isDigits(raw) {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidFormat, s, err)
		}
		return Version{build: n}, nil
	}

	sv, err := semver.StrictNewVersion(strings.TrimPrefix(raw, "v"))
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidFormat, s, err)
	}
	return Version{sem: sv}, nil
}

// MustParse is like Parse but panics on malformed input. Intended for
// statically known versions in task catalogs.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Kind reports the encoding of v.
func (v Version) Kind() Kind {
	if v.sem != nil {
		return KindSemver
	}
	return KindBuild
}

// BuildNumber returns the build number and true for build versions.
func (v Version) BuildNumber() (int64, bool) {
	if v.sem != nil {
		return 0, false
	}
	return v.build, true
}

// IsZero reports whether v is the zero version.
func (v Version) IsZero() bool {
	return v.sem == nil && v.build == 0
}

// String returns the canonical form of v.
func (v Version) String() string {
	if v.sem != nil {
		return v.sem.String()
	}
	return strconv.FormatInt(v.build, 10)
}

// Compare returns -1, 0 or 1. Build numbers always order before semantic
// versions.
func Compare(a, b Version) int {
	switch {
	case a.sem == nil && b.sem == nil:
		switch {
		case a.build < b.build:
			return -1
		case a.build > b.build:
			return 1
		}
		return 0
	case a.sem == nil:
		return -1
	case b.sem == nil:
		return 1
	}
	return a.sem.Compare(b.sem)
}

// Compare compares v with o. See the package-level Compare.
func (v Version) Compare(o Version) int { return Compare(v, o) }

// Less reports whether v orders before o.
func (v Version) Less(o Version) bool { return Compare(v, o) < 0 }

// Equal reports whether v and o denote the same release.
func (v Version) Equal(o Version) bool { return Compare(v, o) == 0 }

// Max returns the greater of a and b.
func Max(a, b Version) Version {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Value implements driver.Valuer so a Version can be stored in a string column.
func (v Version) Value() (driver.Value, error) {
	return v.String(), nil
}

// Scan implements sql.Scanner.
func (v *Version) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		*v = Zero
		return nil
	case string:
		return v.UnmarshalText([]byte(s))
	case []byte:
		return v.UnmarshalText(s)
	case int64:
		*v = Build(s)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into version.Version", src)
	}
}

// GormDataType tells gorm to store versions as strings.
func (Version) GormDataType() string { return "string" }
