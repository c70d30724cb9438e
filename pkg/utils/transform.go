package utils

// Dedup removes duplicates while preserving first-seen order. Entries are
// compared verbatim.
func Dedup(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, e := range in {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}
