package utils

import (
	"regexp"
	"strings"
)

var (
	invalidFilenameChars   = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)
	consecutiveUnderscores = regexp.MustCompile(`_+`)
)

const maxFilenameLength = 100 // runes

// SanitizeFilename makes name safe to use as a single path component. Characters that are invalid
// on common filesystems become underscores; an empty result becomes "untitled".
func SanitizeFilename(name string) string {
	clean := invalidFilenameChars.ReplaceAllString(name, "_")
	clean = consecutiveUnderscores.ReplaceAllString(clean, "_")
	clean = strings.Trim(Truncate(strings.Trim(clean, "_ "), maxFilenameLength), "_ ")
	if clean == "" {
		return "untitled"
	}
	return clean
}
