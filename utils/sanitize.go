package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var sanitizer = bluemonday.StrictPolicy()

// SanitizeTitle strips all markup from a user supplied title.
func SanitizeTitle(input string) string {
	return strings.TrimSpace(sanitizer.Sanitize(input))
}
