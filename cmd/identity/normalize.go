package identity

import "strings"

// NormalizeEmail lowercases and trims an email for storage and lookup.
// Uniqueness is enforced on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
