package rag

import "strings"

// sanitizeInput strips role markers and instruction-override phrases before
// a user query is interpolated into a rewrite prompt.
func sanitizeInput(input string) string {
	sanitized := input

	for _, marker := range []string{
		"SYSTEM:", "System:", "system:",
		"ASSISTANT:", "Assistant:", "assistant:",
		"USER:", "User:", "user:",
	} {
		sanitized = strings.ReplaceAll(sanitized, marker, "")
	}

	for _, phrase := range []string{
		"Ignore previous instructions",
		"ignore previous instructions",
		"Disregard previous instructions",
		"disregard previous instructions",
	} {
		sanitized = strings.ReplaceAll(sanitized, phrase, "")
	}

	return strings.TrimSpace(sanitized)
}
