package logging

import (
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"rozgar/native/gig"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"action":    {},
	"status":    {},
	"tx":        {},
}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactionAllowlist[normalized]
	return ok
}

// RedactionAllowlist returns a sorted copy of the log keys that are allowed to be emitted
// without redaction.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted. The original key casing is preserved for readability.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// Address logs a participant address in its shortened form.
func Address(key string, addr gig.Address) slog.Attr {
	return slog.String(key, addr.Short())
}

// Endpoint logs an RPC endpoint with user info, path and query removed. Hosted
// providers embed API keys in any of them.
func Endpoint(key, raw string) slog.Attr {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return MaskField(key, raw)
	}
	clean := u.Scheme + "://" + u.Host
	if u.User != nil || u.RawQuery != "" || (u.Path != "" && u.Path != "/") {
		clean += "/" + RedactedValue
	}
	return slog.String(key, clean)
}
