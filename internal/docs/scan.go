package docs

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Link is one candidate document link found on an EPAR page.
type Link struct {
	// URL is absolute, resolved against the page URL.
	URL string

	// Text is the anchor text, trimmed and lowercased. It doubles as the
	// document type.
	Text string
}

// documentKeywords identify anchors worth downloading. Matching is done on
// the lowercased anchor text.
var documentKeywords = []string{
	"public assessment report",
	"smpc",
	"product information",
	"package leaflet",
	"epar",
}

// FindDocumentLinks parses an EPAR page and returns the PDF links whose
// anchor text matches the document keyword list. Relative hrefs are resolved
// against pageURL. Parse errors on a fetched page yield an empty result, not
// an error: a malformed page simply has no documents.
func FindDocumentLinks(pageURL string, r io.Reader) []Link {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	root, err := html.Parse(r)
	if err != nil {
		return nil
	}

	var links []Link

	for node := range root.Descendants() {
		if node.Type != html.ElementNode || node.Data != "a" {
			continue
		}

		href := attr(node, "href")
		if href == "" || !strings.HasSuffix(strings.ToLower(href), ".pdf") {
			continue
		}

		text := strings.ToLower(strings.TrimSpace(anchorText(node)))
		if !matchesKeyword(text) {
			continue
		}

		ref, err := url.Parse(href)
		if err != nil {
			continue
		}

		links = append(links, Link{
			URL:  base.ResolveReference(ref).String(),
			Text: text,
		})
	}

	return links
}

func matchesKeyword(text string) bool {
	for _, keyword := range documentKeywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}

	return false
}

func attr(node *html.Node, name string) string {
	for _, a := range node.Attr {
		if a.Key == name {
			return a.Val
		}
	}

	return ""
}

// anchorText concatenates the text content under an anchor node.
func anchorText(node *html.Node) string {
	var b strings.Builder

	for child := range node.Descendants() {
		if child.Type == html.TextNode {
			b.WriteString(child.Data)
		}
	}

	return b.String()
}
