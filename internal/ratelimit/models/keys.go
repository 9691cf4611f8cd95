package models

import "strings"

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// to prevent key collision attacks where user-controlled identifiers containing
// ':' could manipulate adjacent rate limit buckets.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewKey builds the bucket key for an identifier within a scope.
func NewKey(scope Scope, identifier string) string {
	return "rl:" + string(scope) + ":" + SanitizeKeySegment(identifier)
}
