package feed

import (
	"bytes"
	"cmp"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

var entityPattern = regexp.MustCompile(`^&(#[0-9]+|#[xX][0-9a-fA-F]+|[A-Za-z][A-Za-z0-9]*);`)

type Parser struct {
	gofeedParser *gofeed.Parser
	now          func() time.Time
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
		now:          time.Now,
	}
}

// Run parses a feed document. A document that fails to parse is sanitized and parsed once
// more; entries recovered that way are returned with Recovered set.
func (p *Parser) Run(data []byte) (*ParseResult, error) {
	parsed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	recovered := false
	if err != nil {
		var retryErr error
		parsed, retryErr = p.gofeedParser.Parse(bytes.NewReader(sanitize(data)))
		if retryErr != nil {
			return nil, fmt.Errorf("failed to parse feed: %w", err)
		}
		recovered = true
	}

	result := &ParseResult{
		Title:     parsed.Title,
		Items:     make([]CandidateItem, 0, len(parsed.Items)),
		Recovered: recovered,
	}

	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		result.Items = append(result.Items, p.normalizeItem(item))
	}

	return result, nil
}

func (p *Parser) normalizeItem(item *gofeed.Item) CandidateItem {
	normalized := CandidateItem{
		Title:   strings.TrimSpace(item.Title),
		Summary: strings.TrimSpace(cmp.Or(item.Description, item.Content)),
		Link:    p.resolveLink(item),
		Author:  p.extractAuthor(item),
	}

	switch {
	case item.PublishedParsed != nil:
		normalized.PublishedAt = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		normalized.PublishedAt = item.UpdatedParsed.UTC()
	default:
		normalized.PublishedAt = p.now().UTC()
	}

	return normalized
}

// resolveLink prefers the item link, then any alternate link, then a GUID that is a URL.
func (p *Parser) resolveLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	for _, link := range item.Links {
		if link = strings.TrimSpace(link); link != "" {
			return link
		}
	}
	if guid := strings.TrimSpace(item.GUID); isURL(guid) {
		return guid
	}
	return ""
}

func (p *Parser) extractAuthor(item *gofeed.Item) string {
	for _, author := range item.Authors {
		if author != nil {
			if name := p.formatAuthor(author.Name, author.Email); name != "" {
				return name
			}
		}
	}
	if item.Author != nil {
		return p.formatAuthor(item.Author.Name, item.Author.Email)
	}
	return ""
}

func (p *Parser) formatAuthor(name, email string) string {
	return cmp.Or(strings.TrimSpace(name), strings.TrimSpace(email))
}

// sanitize drops control characters that are illegal in XML and escapes bare ampersands.
func sanitize(data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data))

	for i := 0; i < len(data); i++ {
		c := data[i]
		switch {
		case c < 0x20 && c != '\t' && c != '\n' && c != '\r':
			continue
		case c == '&' && !entityPattern.Match(data[i:min(len(data), i+12)]):
			buf.WriteString("&amp;")
		default:
			buf.WriteByte(c)
		}
	}

	return buf.Bytes()
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
