package pk2

import "strings"

// normalizeSlashes maps '/' to '\' so callers can address archive
// entries with either separator; PK2 itself only ever stores '\'.
func normalizeSlashes(s string) string {
	return strings.ReplaceAll(s, "/", "\\")
}

// splitPathComponents tokenizes a backslash-normalized path into its
// non-empty components. Consecutive separators collapse, matching the
// reference implementation's TokenizeString. PK2Reader::GetEntry treats
// a path that tokenizes to nothing as a lookup of the root itself, so
// an entirely empty path yields a single "." component rather than an
// empty component slice.
func splitPathComponents(normalized string) []string {
	parts := strings.FieldsFunc(normalized, func(r rune) bool { return r == '\\' })
	if len(parts) == 0 {
		return []string{"."}
	}
	return parts
}

// isDotOrDotDot reports whether name is the synthetic "." or ".."
// self/parent entry, which recursive walks must not descend into.
func isDotOrDotDot(name string) bool {
	return name == "." || name == ".."
}

// joinPath joins a walk's accumulated path with a child name using the
// archive's internal backslash separator.
func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "\\" + name
}
