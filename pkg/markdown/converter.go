package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	tagPattern     = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)(?:\s[^>]*)?>`)
	tagNamePattern = regexp.MustCompile(`^</?([a-zA-Z][a-zA-Z0-9]*)`)
	blankLines     = regexp.MustCompile(`\n{3,}`)
)

// Tags a chat bubble is allowed to render
var allowedTags = map[string]bool{
	"p": true, "br": true, "strong": true, "em": true, "del": true,
	"code": true, "pre": true, "a": true, "ul": true, "ol": true, "li": true,
	"blockquote": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"table": true, "thead": true, "tbody": true, "tr": true, "th": true, "td": true,
}

// ToHTML converts an assistant reply written in Markdown into HTML that is
// safe to drop into a chat bubble. Raw HTML in the input is discarded.
func ToHTML(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.SkipHTML | blackfriday.SkipImages | blackfriday.Safelink |
			blackfriday.NofollowLinks | blackfriday.NoreferrerLinks | blackfriday.HrefTargetBlank,
	})

	html := string(blackfriday.Run(
		[]byte(markdown),
		blackfriday.WithRenderer(renderer),
		blackfriday.WithExtensions(blackfriday.CommonExtensions),
	))

	return cleanHTML(html)
}

// cleanHTML drops any tag outside the allow list and collapses blank runs
func cleanHTML(html string) string {
	html = tagPattern.ReplaceAllStringFunc(html, func(match string) string {
		name := tagNamePattern.FindStringSubmatch(match)
		if len(name) > 1 && allowedTags[strings.ToLower(name[1])] {
			return match
		}
		return ""
	})

	html = blankLines.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
