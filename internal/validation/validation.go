package validation

import (
	"errors"
	"strings"
)

// MaxCorrelationIDLen bounds client-supplied correlation ids.
const MaxCorrelationIDLen = 128

var (
	ErrCorrelationIDEmpty        = errors.New("correlation id is empty")
	ErrCorrelationIDTooLong      = errors.New("correlation id too long")
	ErrCorrelationIDInvalidChars = errors.New("correlation id contains invalid characters")
)

// ValidateCorrelationID trims a client-supplied X-Correlation-ID and accepts it only
// if it is 1..MaxCorrelationIDLen bytes of ASCII letters, digits, '-', '_', '.' or ':'.
// The value is echoed in a response header and every log line, so anything else is rejected.
func ValidateCorrelationID(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrCorrelationIDEmpty
	}
	if len(s) > MaxCorrelationIDLen {
		return "", ErrCorrelationIDTooLong
	}
	for i := 0; i < len(s); i++ {
		if !isAllowedIDByte(s[i]) {
			return "", ErrCorrelationIDInvalidChars
		}
	}
	return s, nil
}

func isAllowedIDByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == ':':
		return true
	}
	return false
}
