package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys that are always emitted verbatim by MaskField.
var redactionAllowlist = map[string]struct{}{
	"addr":      {},
	"asset":     {},
	"caller":    {},
	"component": {},
	"env":       {},
	"error":     {},
	"keeper":    {},
	"message":   {},
	"method":    {},
	"owner":     {},
	"reason":    {},
	"requestid": {},
	"route":     {},
	"service":   {},
	"severity":  {},
	"status":    {},
	"timestamp": {},
}

// Key fragments that mark a value as a credential. The JSON handler masks
// these even when the caller forgot to use MaskField.
var sensitiveFragments = []string{
	"authorization",
	"bearer",
	"password",
	"secret",
	"token",
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// IsAllowlisted reports whether key is exempt from redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[normalizeKey(key)]
	return ok
}

// IsSensitive reports whether key names a credential.
func IsSensitive(key string) bool {
	normalized := normalizeKey(key)
	if _, ok := redactionAllowlist[normalized]; ok {
		return false
	}
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// RedactionAllowlist returns the allowlisted keys in sorted order.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue hides non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds an attribute whose value is hidden unless key is
// allowlisted.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

// redactAttr is applied by the handler to every non-builtin attribute.
func redactAttr(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString {
		return slog.String(attr.Key, MaskValue(attr.Value.String()))
	}
	return slog.String(attr.Key, RedactedValue)
}
