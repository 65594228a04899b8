// Package sanitizer strips markup from user-supplied profile text before it
// is persisted or echoed back to the dashboard.
package sanitizer

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strict strips every HTML element and attribute; display names are plain
// text only.
var strict = bluemonday.StrictPolicy()

// MaxDisplayNameLength bounds stored display names
const MaxDisplayNameLength = 100

// DisplayName strips markup, collapses surrounding whitespace, and bounds
// the length of a user- or provider-supplied display name.
func DisplayName(name string) string {
	cleaned := strings.TrimSpace(strict.Sanitize(name))
	if len(cleaned) > MaxDisplayNameLength {
		cleaned = cleaned[:MaxDisplayNameLength]
	}
	return cleaned
}
