package common

import (
	"strings"

	"github.com/gosimple/slug"
)

// HasAny returns true if s contains any of the substrings.
func HasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Coalesce returns the first non-nil value found under keys.
func Coalesce(source map[string]any, keys ...string) any {
	if source == nil {
		return nil
	}
	for _, k := range keys {
		if v, ok := source[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// ElementID turns a display name into an identifier safe for HTML ids.
func ElementID(parts ...string) string {
	id := slug.Make(strings.Join(parts, " "))
	return strings.ReplaceAll(id, "-", "_")
}
