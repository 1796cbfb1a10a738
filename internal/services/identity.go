package services

import "strings"

// NormalizeEmail canonicalizes an email into the identity key used for every
// member lookup and upsert: trimmed, lower-cased. An empty result is a client
// error — proceeding with an empty key would collide all anonymous callers
// into a single record.
func NormalizeEmail(email string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	if key == "" {
		return "", NewInvalidError("missing_email")
	}
	return key, nil
}
