package crawl

import (
	"context"
	"errors"
	"fmt"

	"github.com/lysyi3m/rss-sentry/app/database"
	"github.com/lysyi3m/rss-sentry/app/social"
)

var (
	ErrMissingCredential = errors.New("social search credential not configured")
	ErrUnsupportedKind   = errors.New("unsupported source kind")
)

// ConfigError marks a failure caused by configuration rather than by the network.
// Such failures are returned immediately and never retried.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for source %q: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ExecutionResult aggregates one run over one source, or over every feed for batch runs.
// Failed items are a subset of skipped items.
type ExecutionResult struct {
	ItemsCreated int
	ItemsSkipped int
	ItemsFailed  int

	// Err is the fatal error that aborted the run.
	Err error

	// SourceErrors collects per-source failures of a batch run that did not abort it.
	SourceErrors []error
}

// Status maps the result onto the crawl log status.
func (r ExecutionResult) Status() database.LogStatus {
	switch {
	case r.Err != nil:
		return database.LogStatusFailed
	case r.ItemsFailed > 0 || len(r.SourceErrors) > 0:
		return database.LogStatusPartial
	default:
		return database.LogStatusSuccess
	}
}

// Message is the text stored in the crawl log's error message.
func (r ExecutionResult) Message() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if len(r.SourceErrors) > 0 {
		return errors.Join(r.SourceErrors...).Error()
	}
	if r.ItemsFailed > 0 {
		return fmt.Sprintf("%d items failed to store", r.ItemsFailed)
	}
	return ""
}

func (r *ExecutionResult) merge(other ExecutionResult) {
	r.ItemsCreated += other.ItemsCreated
	r.ItemsSkipped += other.ItemsSkipped
	r.ItemsFailed += other.ItemsFailed
	r.SourceErrors = append(r.SourceErrors, other.SourceErrors...)
}

type FeedFetcher interface {
	FetchFeed(ctx context.Context, url string) ([]byte, error)
}

type ArticleFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

type PostSearcher interface {
	HasCredential() bool
	Search(ctx context.Context, query string) ([]social.Post, error)
}

// SeenCache is an optional fast path in front of the content store's existence check.
type SeenCache interface {
	Seen(ctx context.Context, url string) (bool, error)
	MarkSeen(ctx context.Context, url string) error
}
