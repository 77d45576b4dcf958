package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetcherFetchFeed(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/feed":
			w.Write([]byte("<rss/>"))
		case "/missing":
			http.NotFound(w, r)
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		}
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), "TestAgent/1.0", 50*time.Millisecond)

	data, err := f.FetchFeed(context.Background(), srv.URL+"/feed")
	require.NoError(t, err)
	assert.Equal(t, "<rss/>", string(data))
	assert.Equal(t, "TestAgent/1.0", gotUA)

	_, err = f.FetchFeed(context.Background(), srv.URL+"/missing")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)

	_, err = f.FetchFeed(context.Background(), srv.URL+"/slow")
	assert.Error(t, err, "timeout is a fetch failure")
}

func TestFetcherFetchHTMLRejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pdf" {
			w.Header().Set("Content-Type", "application/pdf")
		} else {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		w.Write([]byte("<p>hi</p>"))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), "TestAgent/1.0", time.Second)

	_, err := f.FetchHTML(context.Background(), srv.URL+"/pdf")
	assert.ErrorContains(t, err, "not HTML")

	data, err := f.FetchHTML(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", string(data))
}

func TestArticleFetcherRespectsRobots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
		default:
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<article><p>Shooting reported downtown.</p></article>"))
		}
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.Client(), "TestAgent/1.0", time.Second)
	articles := NewArticleFetcher(fetcher, NewContentExtractor(), NewRobotsChecker(fetcher), 0, discardLogger())

	text, err := articles.FetchText(context.Background(), srv.URL+"/news/1")
	require.NoError(t, err)
	assert.Equal(t, "Shooting reported downtown.", text)

	_, err = articles.FetchText(context.Background(), srv.URL+"/private/2")
	assert.ErrorIs(t, err, ErrDisallowed)
}

func TestRobotsCheckerAllowsWhenMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	checker := NewRobotsChecker(NewFetcher(srv.Client(), "TestAgent/1.0", time.Second))

	allowed, err := checker.Allowed(context.Background(), srv.URL+"/anything")
	require.NoError(t, err)
	assert.True(t, allowed)

	_, err = checker.Allowed(context.Background(), "/relative")
	assert.Error(t, err)
}

func TestRobotsCheckerDeniedStatus(t *testing.T) {
	tests := []struct {
		status  int
		allowed bool
	}{
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, true},
		{http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			checker := NewRobotsChecker(NewFetcher(srv.Client(), "TestAgent/1.0", time.Second))

			allowed, err := checker.Allowed(context.Background(), srv.URL+"/news/story")
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, allowed)
		})
	}
}

func TestArticleFetcherPolitenessDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<main>text</main>"))
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.Client(), "TestAgent/1.0", time.Second)
	articles := NewArticleFetcher(fetcher, NewContentExtractor(), nil, 30*time.Millisecond, discardLogger())

	start := time.Now()
	_, err := articles.FetchText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = articles.FetchText(ctx, srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
}
