package urlx

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var urlRe = regexp.MustCompile(`https?://[^\s<>"'()\[\]]+`)

// trailing punctuation that belongs to the sentence, not the URL
const trailingPunct = ".,;:!?"

// ExtractURLs returns the absolute http(s) URLs embedded in text, first-occurrence
// order, duplicates removed.
func ExtractURLs(text string) []string {
	raw := urlRe.FindAllString(text, -1)
	if len(raw) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(raw))
	urls := make([]string, 0, len(raw))
	for _, u := range raw {
		u = strings.TrimRight(u, trailingPunct)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}

// IsLikelyURLOnly reports whether the message is essentially just links: stripping
// every URL leaves fewer than residualThreshold characters of real text. Used to
// tell "here, index this" apart from a question that happens to contain a link.
func IsLikelyURLOnly(text string, residualThreshold int) bool {
	if len(ExtractURLs(text)) == 0 {
		return false
	}
	residual := urlRe.ReplaceAllString(text, "")
	residual = strings.Join(strings.Fields(residual), " ")
	// The threshold counts characters, so multi-byte text is measured in
	// runes, not bytes.
	return utf8.RuneCountInString(residual) < residualThreshold
}
