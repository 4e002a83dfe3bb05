package api

import (
	"errors"
	"regexp"
	"strings"
)

// InstanceID uniquely identifies one workflow execution
type InstanceID string

var (
	ErrInstanceIDEmpty   = errors.New("workflow instance id empty")
	ErrInstanceIDInvalid = errors.New("workflow instance id invalid")
)

// InvalidIDChars matches characters not permitted in instance and
// correlation IDs. Valid characters are: letters, digits, underscore, dot,
// hyphen
var InvalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-]`)

// Validate checks that the ID can be used as a history key
func (id InstanceID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return ErrInstanceIDEmpty
	}
	if InvalidIDChars.MatchString(string(id)) {
		return ErrInstanceIDInvalid
	}
	return nil
}

// SanitizeID removes invalid characters and replaces spaces with hyphens
func SanitizeID[T ~string](id T) T {
	sanitized := strings.ReplaceAll(strings.TrimSpace(string(id)), " ", "-")
	sanitized = InvalidIDChars.ReplaceAllString(sanitized, "")
	return T(strings.Trim(sanitized, "-"))
}
