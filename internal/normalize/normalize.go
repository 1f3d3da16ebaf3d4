package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Query trims a free-text search query and collapses interior runs of
// whitespace to a single space so lookups behave the same regardless of
// how the client formatted the input.
func Query(q string) string {
	return strings.Join(strings.Fields(q), " ")
}
