// ABOUTME: Shared log redaction helpers
// ABOUTME: Contact identifiers are phone-shaped and never logged in full

package logutil

import "strings"

// MaskContactID hides the middle of phone-shaped contact ids in logs.
// The suffix (from the first "@") is preserved; the un-suffixed portion
// is masked to first4****last2 when longer than 6 characters.
func MaskContactID(contactID string) string {
	base, suffix, found := strings.Cut(contactID, "@")
	if found {
		suffix = "@" + suffix
	}
	if len(base) <= 6 {
		return contactID
	}
	return base[:4] + "****" + base[len(base)-2:] + suffix
}
