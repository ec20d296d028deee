package scrape

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Pre-compiled: markdown conversion chokes on script/style payloads, strip them
// before handing the document over.
var (
	scriptRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	headingRe = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

func stripNonContent(htmlContent string) string {
	cleaned := scriptRe.ReplaceAllString(htmlContent, "")
	return styleRe.ReplaceAllString(cleaned, "")
}

func extractHTMLTitle(content []byte) string {
	doc, err := html.Parse(strings.NewReader(string(content)))
	if err != nil {
		return ""
	}

	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil && title == ""; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

// extractMarkdownTitle falls back to the first level-1 heading.
func extractMarkdownTitle(markdown string) string {
	if m := headingRe.FindStringSubmatch(markdown); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
