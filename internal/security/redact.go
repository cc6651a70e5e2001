// Package security masks credentials before configuration is displayed or logged.
package security

import (
	"net/url"
	"strings"
)

const mask = "****"

// MaskCredential hides all but the last four characters of a secret.
// Secrets of eight characters or fewer are hidden entirely.
func MaskCredential(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return mask
	}
	return mask + secret[len(secret)-4:]
}

// MaskURL hides the password in a connection URL such as a Postgres DSN.
// Strings that do not parse as URLs with user info are returned unchanged,
// except for a password= key/value pair, which is masked.
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), mask)
			// userinfo encoding escapes '*'
			return strings.Replace(u.String(), ":"+url.QueryEscape(mask)+"@", ":"+mask+"@", 1)
		}
		return raw
	}
	return maskKeyValue(raw, "password=")
}

// maskKeyValue masks the value following key in a space-separated DSN.
func maskKeyValue(s, key string) string {
	idx := strings.Index(strings.ToLower(s), key)
	if idx < 0 {
		return s
	}
	start := idx + len(key)
	end := strings.IndexByte(s[start:], ' ')
	if end < 0 {
		return s[:start] + mask
	}
	return s[:start] + mask + s[start+end:]
}
