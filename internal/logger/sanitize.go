package logger

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxPathLength is the maximum length for URL paths in logs
	MaxPathLength = 500
	// MaxUserIDLength is the maximum length for caller ids in logs
	MaxUserIDLength = 128
	// MaxErrorMessageLength is the maximum length for error messages in logs
	MaxErrorMessageLength = 1000
	// MaxGeneralStringLength is the maximum length for general strings in logs
	MaxGeneralStringLength = 2000
)

// SanitizeString makes a caller-controlled string safe to log. Invalid UTF-8
// is dropped, line breaks become spaces, other control characters are removed
// and the result is truncated to maxLength bytes.
func SanitizeString(s string, maxLength int) string {
	if s == "" {
		return ""
	}
	if maxLength <= 0 {
		maxLength = MaxGeneralStringLength
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r':
			b.WriteByte(' ')
		case r == '\t' || unicode.IsPrint(r):
			b.WriteRune(r)
		}
	}
	s = b.String()

	if len(s) > maxLength {
		s = truncateRunes(s, maxLength) + "..."
	}
	return s
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// SanitizePath sanitizes a URL path for logging.
func SanitizePath(path string) string {
	return SanitizeString(path, MaxPathLength)
}

// SanitizeError sanitizes an error message for logging.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error(), MaxErrorMessageLength)
}

// SanitizeUserID sanitizes a caller id for logging.
func SanitizeUserID(userID string) string {
	return SanitizeString(userID, MaxUserIDLength)
}
