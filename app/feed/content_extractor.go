package feed

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// Containers that usually hold the main article body, in preference order.
var contentSelectors = []string{"article", "main", "div#content", "div.article", "div.post", "section.article"}

type ContentExtractor struct{}

func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{}
}

// Run extracts the main text of an HTML page. Every element matched by a content selector
// is a candidate; without any, the page paragraphs joined together are the only candidate.
// The longest candidate wins. Readability is consulted only when both come up empty.
func (e *ContentExtractor) Run(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("HTML data is empty")
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript").Remove()

	var candidates []string
	for _, selector := range contentSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			candidates = append(candidates, nodeText(s))
		})
	}

	if len(candidates) == 0 {
		var paragraphs []string
		doc.Find("p").Each(func(_ int, s *goquery.Selection) {
			if text := nodeText(s); text != "" {
				paragraphs = append(paragraphs, text)
			}
		})
		candidates = append(candidates, strings.Join(paragraphs, " "))
	}

	if text := longest(candidates); text != "" {
		return text, nil
	}

	return e.readabilityText(data)
}

func (e *ContentExtractor) readabilityText(data []byte) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(data), nil)
	if err != nil {
		return "", fmt.Errorf("failed to extract content: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return "", fmt.Errorf("failed to parse extracted content: %w", err)
	}

	return collapseSpace(doc.Text()), nil
}

// nodeText joins the text nodes below s with single spaces, in document order.
func nodeText(s *goquery.Selection) string {
	var parts []string
	collectText(s, &parts)
	return collapseSpace(strings.Join(parts, " "))
}

func collectText(s *goquery.Selection, parts *[]string) {
	s.Contents().Each(func(_ int, n *goquery.Selection) {
		if goquery.NodeName(n) == "#text" {
			if text := strings.TrimSpace(n.Text()); text != "" {
				*parts = append(*parts, text)
			}
			return
		}
		collectText(n, parts)
	})
}

func longest(candidates []string) string {
	best := ""
	for _, c := range candidates {
		if len(c) > len(best) {
			best = c
		}
	}
	return best
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
