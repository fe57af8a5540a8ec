// Package envconf reads typed settings from UPGRADE_* environment variables.
// An unset variable, or one whose value does not parse or falls outside the
// accepted range, leaves the fallback in place.
package envconf

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// String returns the value of key, or fallback.
func String(key, fallback string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return fallback
}

// Lower is String with the value lower-cased.
func Lower(key, fallback string) string {
	return strings.ToLower(String(key, fallback))
}

// Bool accepts the strconv.ParseBool spellings.
func Bool(key string, fallback bool) bool {
	v, ok := lookup(key)
	if !ok {
		return fallback
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return fallback
	}
	return b
}

// Int returns the value of key when it is an integer of at least min.
func Int(key string, fallback, min int) int {
	v, ok := lookup(key)
	if !ok {
		return fallback
	}
	n, err := cast.ToIntE(v)
	if err != nil || n < min {
		return fallback
	}
	return n
}

// Duration reads a positive duration. A bare integer counts in unit, so
// UPGRADE_X_SECONDS=30 and UPGRADE_X_SECONDS=30s mean the same thing.
func Duration(key string, unit, fallback time.Duration) time.Duration {
	v, ok := lookup(key)
	if !ok {
		return fallback
	}
	if n, err := cast.ToInt64E(v); err == nil {
		if n <= 0 {
			return fallback
		}
		return time.Duration(n) * unit
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
