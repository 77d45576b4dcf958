package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const robotsCacheTTL = 24 * time.Hour

var disallowAll, _ = robotstxt.FromString("User-agent: *\nDisallow: /\n")

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// RobotsChecker answers robots.txt questions per host and caches the parsed rules.
// A missing or unreachable robots.txt allows everything; a 401 or 403 disallows everything.
type RobotsChecker struct {
	fetcher *Fetcher
	cache   map[string]*robotsEntry
	mu      sync.RWMutex
}

func NewRobotsChecker(fetcher *Fetcher) *RobotsChecker {
	return &RobotsChecker{
		fetcher: fetcher,
		cache:   make(map[string]*robotsEntry),
	}
}

func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("robots: parse url: %w", err)
	}

	host := strings.ToLower(parsed.Host)
	if host == "" {
		return false, fmt.Errorf("robots: empty host in url %q", rawURL)
	}

	entry := r.lookup(host)
	if entry == nil {
		entry = r.fetch(ctx, parsed.Scheme, host)
	}

	if entry.data == nil {
		return true, nil
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return entry.data.TestAgent(path, r.fetcher.UserAgent()), nil
}

func (r *RobotsChecker) lookup(host string) *robotsEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.cache[host]
	if !ok || time.Since(entry.fetchedAt) > robotsCacheTTL {
		return nil
	}
	return entry
}

func (r *RobotsChecker) fetch(ctx context.Context, scheme, host string) *robotsEntry {
	if scheme == "" {
		scheme = "https"
	}

	entry := &robotsEntry{fetchedAt: time.Now()}

	data, _, err := r.fetcher.get(ctx, scheme+"://"+host+"/robots.txt", "text/plain")
	var statusErr *StatusError
	switch {
	case err == nil:
		if robots, parseErr := robotstxt.FromBytes(data); parseErr == nil {
			entry.data = robots
		}
	case errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden):
		entry.data = disallowAll
	}

	r.mu.Lock()
	r.cache[host] = entry
	r.mu.Unlock()

	return entry
}
