// Package extract parses fetched HTML into a title, visible text, and the
// in-scope links a page points at.
package extract

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// Text inside these elements never reaches the reader.
var skippedTextTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
}

// HTMLExtractor implements crawler.Extractor with goquery.
type HTMLExtractor struct {
	domainRoot string
}

// New returns an extractor that keeps only links inside domainRoot.
func New(domainRoot string) *HTMLExtractor {
	return &HTMLExtractor{domainRoot: domainRoot}
}

// Extract never fails. Unparseable markup yields whatever the HTML5 parser
// recovers, which may be an empty Extraction.
func (x *HTMLExtractor) Extract(body []byte, pageURL string) crawler.Extraction {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Extraction{}
	}

	return crawler.Extraction{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  visibleText(doc.Selection),
		Links: x.links(doc, pageURL),
	}
}

func (x *HTMLExtractor) links(doc *goquery.Document, pageURL string) []crawler.CrawlTarget {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	seen := make(map[crawler.CrawlTarget]struct{})
	var out []crawler.CrawlTarget
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		target, ok := crawler.ResolveLink(base, href)
		if !ok || target == "" {
			return
		}
		if !crawler.IsInScope(target.String(), x.domainRoot) {
			return
		}
		if _, dup := seen[target]; dup {
			return
		}
		seen[target] = struct{}{}
		out = append(out, target)
	})
	return out
}

// visibleText joins every non-blank text node in document order, collapsing
// runs of whitespace to single spaces.
func visibleText(sel *goquery.Selection) string {
	var words []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			words = append(words, strings.Fields(n.Data)...)
			return
		case html.ElementNode:
			if _, skip := skippedTextTags[n.Data]; skip {
				return
			}
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(words, " ")
}
