package strings

import "strings"

// Masked replaces secret values in redacted output.
const Masked = "********"

// Mask returns Masked for non-empty values and "" otherwise, so an unset
// secret stays visibly unset.
func Mask(v string) string {
	if v == "" {
		return ""
	}
	return Masked
}

var secretMarkers = []string{"authorization", "token", "secret", "password", "key", "cookie"}

// LooksSecret reports whether a header or field name suggests its value is
// a credential.
func LooksSecret(name string) bool {
	n := strings.ToLower(name)
	for _, m := range secretMarkers {
		if strings.Contains(n, m) {
			return true
		}
	}
	return false
}
