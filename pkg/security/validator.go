package security

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxNameFilterLength defines the maximum allowed length for name filters
	MaxNameFilterLength = 100

	// LikeEscapeChar is the escape character used by EscapeLike
	LikeEscapeChar = `\`
)

var (
	// ErrFilterTooLong is returned when a name filter exceeds MaxNameFilterLength runes
	ErrFilterTooLong = errors.New("name filter too long")
	// ErrFilterInvalidChars is returned when a name filter contains control characters
	ErrFilterInvalidChars = errors.New("name filter contains invalid characters")
)

// ValidateNameFilter strips leading and trailing whitespace from a list
// filter, so `name=" Bob"` matches like `name=Bob`, and rejects values that
// cannot be part of a stored name. An empty or blank filter means "no filter".
func ValidateNameFilter(filter string) (string, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return "", nil
	}

	if !utf8.ValidString(filter) {
		return "", ErrFilterInvalidChars
	}

	if utf8.RuneCountInString(filter) > MaxNameFilterLength {
		return "", ErrFilterTooLong
	}

	for _, char := range filter {
		if !unicode.IsPrint(char) {
			return "", ErrFilterInvalidChars
		}
	}

	return filter, nil
}

// EscapeLike escapes LIKE wildcards so the value matches literally.
// Use together with `ESCAPE '\'`.
func EscapeLike(value string) string {
	if value == "" {
		return ""
	}

	value = strings.ReplaceAll(value, LikeEscapeChar, LikeEscapeChar+LikeEscapeChar)
	value = strings.ReplaceAll(value, "%", LikeEscapeChar+"%")
	value = strings.ReplaceAll(value, "_", LikeEscapeChar+"_")

	return value
}

// ContainsPattern builds a LIKE pattern matching value anywhere in a column
func ContainsPattern(value string) string {
	return "%" + EscapeLike(value) + "%"
}
