package pii

import "regexp"

// TokenPattern matches placeholder tokens such as [EMAIL_k3x9qa].
var TokenPattern = regexp.MustCompile(`\[[A-Z][A-Z_]*_[a-z0-9]{6}\]`)

// FormatToken renders the placeholder for kind with a six character id.
func FormatToken(kind Kind, id string) string {
	return "[" + string(kind) + "_" + id + "]"
}

// TokenSpans returns the byte ranges of every placeholder token in text.
func TokenSpans(text string) [][]int {
	return TokenPattern.FindAllStringIndex(text, -1)
}
