package scraper

import (
	"strings"
	"unicode"
)

// Content removes control characters and collapses runs of whitespace
func Content(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsControl(r) || r == '\ufeff' {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// StripLink removes link and its display forms from content. Sites
// render links shortened, so the scheme and a trailing ellipsis are
// also tried.
func StripLink(content, link string) string {
	bare := strings.TrimPrefix(strings.TrimPrefix(link, "https://"), "http://")
	for _, form := range []string{link, bare} {
		if form == "" {
			continue
		}
		content = strings.ReplaceAll(content, form, "")
	}
	if len(bare) > 20 {
		// "example.com/long/pa…"
		if i := strings.Index(content, bare[:20]); i >= 0 {
			end := strings.IndexAny(content[i:], " …")
			if end < 0 {
				content = content[:i]
			} else {
				content = content[:i] + strings.TrimPrefix(content[i+end:], "…")
			}
		}
	}
	return content
}

// CleanHandle normalizes "@Name " to "Name"
func CleanHandle(h string) string {
	return strings.TrimPrefix(strings.TrimSpace(h), "@")
}
