package match

import "strings"

// TitleMatches reports whether title contains at least one keyword,
// case-insensitively. An empty keyword list matches nothing so that a
// subscription without keywords never broadcasts every posting.
func TitleMatches(keywords []string, title string) bool {
	titleLower := strings.ToLower(title)
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(titleLower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
