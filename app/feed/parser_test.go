package feed

import (
	"strings"
	"testing"
	"time"
)

func TestParseRSS2(t *testing.T) {
	rssData := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Test Feed</title>
    <link>https://example.com</link>
    <description>Test Description</description>
    <item>
      <title>Bomb threat at station</title>
      <link>https://example.com/item1</link>
      <description>Police evacuated the area</description>
      <guid>item-1</guid>
      <pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate>
      <author>test@example.com (Test Author)</author>
    </item>
    <item>
      <title>Test Item 2</title>
      <link>https://example.com/item2</link>
      <description>Test Item 2 Description</description>
      <pubDate>Mon, 03 Jul 2023 11:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

	parser := NewParser()
	result, err := parser.Run([]byte(rssData))

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.Title != "Test Feed" {
		t.Errorf("Expected title 'Test Feed', got: %s", result.Title)
	}
	if result.Recovered {
		t.Error("Expected well-formed feed not to be marked recovered")
	}

	if len(result.Items) != 2 {
		t.Fatalf("Expected 2 items, got: %d", len(result.Items))
	}

	item1 := result.Items[0]
	if item1.Title != "Bomb threat at station" {
		t.Errorf("Expected title 'Bomb threat at station', got: %s", item1.Title)
	}
	if item1.Summary != "Police evacuated the area" {
		t.Errorf("Expected summary from description, got: %s", item1.Summary)
	}
	if item1.Link != "https://example.com/item1" {
		t.Errorf("Expected link 'https://example.com/item1', got: %s", item1.Link)
	}
	if item1.Author == "" {
		t.Error("Expected author to be extracted")
	}

	expectedTime := time.Date(2023, 7, 3, 10, 0, 0, 0, time.UTC)
	if !item1.PublishedAt.Equal(expectedTime) {
		t.Errorf("Expected published time %v, got: %v", expectedTime, item1.PublishedAt)
	}
}

func TestParseAtomFallsBackToUpdated(t *testing.T) {
	atomData := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Test Atom Feed</title>
  <link href="https://example.com"/>
  <updated>2023-07-03T12:00:00Z</updated>
  <id>urn:uuid:1234567890</id>
  <entry>
    <title>Test Entry</title>
    <link href="https://example.com/entry1"/>
    <id>urn:uuid:entry-1</id>
    <updated>2023-07-03T10:00:00Z</updated>
    <content type="html">Test content</content>
  </entry>
</feed>`

	parser := NewParser()
	result, err := parser.Run([]byte(atomData))

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(result.Items) != 1 {
		t.Fatalf("Expected 1 item, got: %d", len(result.Items))
	}

	item := result.Items[0]
	if item.Link != "https://example.com/entry1" {
		t.Errorf("Expected link 'https://example.com/entry1', got: %s", item.Link)
	}
	if item.Summary != "Test content" {
		t.Errorf("Expected summary to fall back to content, got: %s", item.Summary)
	}

	expectedTime := time.Date(2023, 7, 3, 10, 0, 0, 0, time.UTC)
	if !item.PublishedAt.Equal(expectedTime) {
		t.Errorf("Expected updated time %v as published, got: %v", expectedTime, item.PublishedAt)
	}
}

func TestParseDateFallsBackToNow(t *testing.T) {
	rssData := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>T</title>
  <item><title>Undated</title><link>https://example.com/undated</link></item>
</channel></rss>`

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	parser := NewParser()
	parser.now = func() time.Time { return fixed }

	result, err := parser.Run([]byte(rssData))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !result.Items[0].PublishedAt.Equal(fixed) {
		t.Errorf("Expected published time to default to now, got: %v", result.Items[0].PublishedAt)
	}
}

func TestParseLinkResolution(t *testing.T) {
	rssData := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>T</title>
  <item><title>GUID link</title><guid>https://example.com/from-guid</guid></item>
  <item><title>Opaque GUID</title><guid isPermaLink="false">abc-123</guid></item>
</channel></rss>`

	result, err := NewParser().Run([]byte(rssData))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(result.Items) != 2 {
		t.Fatalf("Expected 2 items, got: %d", len(result.Items))
	}
	if result.Items[0].Link != "https://example.com/from-guid" {
		t.Errorf("Expected GUID URL to be used as link, got: %q", result.Items[0].Link)
	}
	if result.Items[1].Link != "" {
		t.Errorf("Expected no link for opaque GUID, got: %q", result.Items[1].Link)
	}
}

func TestParseInvalidFeed(t *testing.T) {
	parser := NewParser()
	_, err := parser.Run([]byte("invalid xml"))

	if err == nil {
		t.Error("Expected error for invalid XML")
	}
}

func TestParseRecoversMalformedFeed(t *testing.T) {
	rssData := "<?xml version=\"1.0\"?>\n<rss version=\"2.0\"><channel><title>Broken \x01 Feed</title>\n" +
		"<item><title>Riot & protest downtown</title><link>https://example.com/riot</link></item>\n" +
		"</channel></rss>"

	result, err := NewParser().Run([]byte(rssData))
	if err != nil {
		t.Fatalf("Expected malformed feed to be recovered, got: %v", err)
	}

	if len(result.Items) != 1 {
		t.Fatalf("Expected 1 item, got: %d", len(result.Items))
	}
	if !strings.Contains(result.Items[0].Title, "protest") {
		t.Errorf("Expected title to survive recovery, got: %q", result.Items[0].Title)
	}
}

func TestSanitize(t *testing.T) {
	input := "a \x01b & c &amp; d &#8217; e &#x2019; f\tg"
	expected := "a b &amp; c &amp; d &#8217; e &#x2019; f\tg"

	if got := string(sanitize([]byte(input))); got != expected {
		t.Errorf("Expected %q, got %q", expected, got)
	}
}

func TestParseRSSWithHTMLEntities(t *testing.T) {
	rssData := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Test Feed &amp; Special Characters</title>
    <link>https://example.com</link>
    <item>
      <title>Company didn&#8217;t fix users&#8217; security issues</title>
      <link>https://example.com/item1</link>
      <description>This article discusses &lt;privacy&gt; issues with &quot;smart&quot; devices &amp; IoT security.</description>
      <guid>item-1</guid>
      <pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

	parser := NewParser()
	result, err := parser.Run([]byte(rssData))

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	expectedTitle := "Test Feed & Special Characters"
	if result.Title != expectedTitle {
		t.Errorf("Expected feed title %q, got %q", expectedTitle, result.Title)
	}

	item := result.Items[0]
	expectedItemTitle := "Company didn’t fix users’ security issues"
	if item.Title != expectedItemTitle {
		t.Errorf("Expected item title %q, got %q", expectedItemTitle, item.Title)
	}

	expectedItemDesc := `This article discusses <privacy> issues with "smart" devices & IoT security.`
	if item.Summary != expectedItemDesc {
		t.Errorf("Expected item summary %q, got %q", expectedItemDesc, item.Summary)
	}
}
