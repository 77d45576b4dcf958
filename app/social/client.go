package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSearchURL  = "https://api.twitter.com/2/tweets/search/recent"
	DefaultMaxResults = 50
	DefaultMaxTerms   = 10

	permalinkPrefix = "https://twitter.com/i/web/status/"
)

// Post is one search hit with its author expanded.
type Post struct {
	ID             string
	Text           string
	URL            string
	AuthorName     string
	AuthorUsername string
	CreatedAt      time.Time
	Likes          int
	Reposts        int
	Replies        int
}

// Client queries the recent-search endpoint with a bearer token.
type Client struct {
	httpClient  *http.Client
	searchURL   string
	bearerToken string
	maxResults  int
	userAgent   string
	timeout     time.Duration
}

func NewClient(httpClient *http.Client, searchURL, bearerToken string, maxResults int, userAgent string, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Client{
		httpClient:  httpClient,
		searchURL:   searchURL,
		bearerToken: bearerToken,
		maxResults:  maxResults,
		userAgent:   userAgent,
		timeout:     timeout,
	}
}

func (c *Client) HasCredential() bool {
	return strings.TrimSpace(c.bearerToken) != ""
}

// BuildQuery quotes the first maxTerms terms and joins them with OR.
func BuildQuery(terms []string, maxTerms int) string {
	if maxTerms <= 0 {
		maxTerms = DefaultMaxTerms
	}

	quoted := make([]string, 0, min(len(terms), maxTerms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		quoted = append(quoted, strconv.Quote(term))
		if len(quoted) == maxTerms {
			break
		}
	}
	return strings.Join(quoted, " OR ")
}

// Permalink is the canonical URL of a post, used as its dedup key.
func Permalink(id string) string {
	return permalinkPrefix + id
}

type searchResponse struct {
	Data []struct {
		ID            string    `json:"id"`
		Text          string    `json:"text"`
		AuthorID      string    `json:"author_id"`
		CreatedAt     time.Time `json:"created_at"`
		PublicMetrics *struct {
			RetweetCount int `json:"retweet_count"`
			ReplyCount   int `json:"reply_count"`
			LikeCount    int `json:"like_count"`
		} `json:"public_metrics"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// Search runs one recent-search request. An empty query returns no posts.
func (c *Client) Search(ctx context.Context, query string) ([]Post, error) {
	if query == "" {
		return nil, nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("max_results", strconv.Itoa(c.maxResults))
	params.Set("tweet.fields", "created_at,author_id,public_metrics")
	params.Set("expansions", "author_id")
	params.Set("user.fields", "username,name")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search posts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search API error: %d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), strings.TrimSpace(string(body)))
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(payload.Data) == 0 && len(payload.Errors) > 0 {
		return nil, fmt.Errorf("search API error: %s: %s", payload.Errors[0].Title, payload.Errors[0].Detail)
	}

	users := make(map[string]int, len(payload.Includes.Users))
	for i, u := range payload.Includes.Users {
		users[u.ID] = i
	}

	posts := make([]Post, 0, len(payload.Data))
	for _, d := range payload.Data {
		// The id is the dedup key.
		if strings.TrimSpace(d.ID) == "" {
			continue
		}
		post := Post{
			ID:        d.ID,
			Text:      d.Text,
			URL:       Permalink(d.ID),
			CreatedAt: d.CreatedAt.UTC(),
		}
		if i, ok := users[d.AuthorID]; ok {
			post.AuthorName = payload.Includes.Users[i].Name
			post.AuthorUsername = payload.Includes.Users[i].Username
		}
		if m := d.PublicMetrics; m != nil {
			post.Likes = m.LikeCount
			post.Reposts = m.RetweetCount
			post.Replies = m.ReplyCount
		}
		posts = append(posts, post)
	}

	return posts, nil
}
