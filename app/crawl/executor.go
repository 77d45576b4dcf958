package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/rss-sentry/app/database"
	"github.com/lysyi3m/rss-sentry/app/feed"
	"github.com/lysyi3m/rss-sentry/app/matcher"
	"github.com/lysyi3m/rss-sentry/app/metrics"
	"github.com/lysyi3m/rss-sentry/app/social"
)

const (
	excerptLength   = 500
	postTitleLength = 120

	defaultBatchConcurrency = 4
)

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCreated
	outcomeFailed
)

type Options struct {
	FullTextFallback bool
	SocialMaxTerms   int
	BatchConcurrency int
}

// Deps are the collaborators of an Executor. Articles, Posts, Seen and Metrics may be nil.
type Deps struct {
	Sources  database.SourceRepository
	Keywords database.KeywordRepository
	Items    database.ItemRepository
	Feeds    FeedFetcher
	Parser   *feed.Parser
	Articles ArticleFetcher
	Posts    PostSearcher
	Seen     SeenCache
	Matchers *matcher.Cache
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Executor runs one crawl over one source: fetch, dedup, match, optionally fetch full
// text, store. Entries are processed sequentially.
type Executor struct {
	Deps
	opts Options
	now  func() time.Time
}

func NewExecutor(deps Deps, opts Options) *Executor {
	if deps.Matchers == nil {
		deps.Matchers = matcher.NewCache()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Parser == nil {
		deps.Parser = feed.NewParser()
	}
	if opts.SocialMaxTerms <= 0 {
		opts.SocialMaxTerms = social.DefaultMaxTerms
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = defaultBatchConcurrency
	}
	return &Executor{Deps: deps, opts: opts, now: time.Now}
}

// Run dispatches on the source kind.
func (e *Executor) Run(ctx context.Context, source database.Source) ExecutionResult {
	switch source.Kind {
	case database.SourceKindFeed:
		return e.RunFeed(ctx, source)
	case database.SourceKindAPI:
		return e.RunSocial(ctx, source)
	default:
		return ExecutionResult{Err: &ConfigError{Source: source.Name, Err: fmt.Errorf("%w: %q", ErrUnsupportedKind, source.Kind)}}
	}
}

// RunAllFeeds runs every active feed source concurrently. A failing source is recorded
// and the others continue; the batch fails only when every source failed.
func (e *Executor) RunAllFeeds(ctx context.Context) ExecutionResult {
	sources, err := e.Sources.ListActiveSources(ctx, database.SourceKindFeed)
	if err != nil {
		return ExecutionResult{Err: fmt.Errorf("failed to list feed sources: %w", err)}
	}

	var (
		mu     sync.Mutex
		total  ExecutionResult
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.BatchConcurrency)

	for _, source := range sources {
		g.Go(func() error {
			result := e.RunFeed(gctx, source)

			mu.Lock()
			defer mu.Unlock()
			total.merge(result)
			if result.Err != nil {
				failed++
				total.SourceErrors = append(total.SourceErrors, fmt.Errorf("%s: %w", source.Name, result.Err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(sources) > 0 && failed == len(sources) {
		total.Err = errors.Join(total.SourceErrors...)
		total.SourceErrors = nil
	}

	e.Logger.Info("Batch crawl completed",
		"sources", len(sources),
		"failed_sources", failed,
		"created", total.ItemsCreated,
		"skipped", total.ItemsSkipped)

	return total
}

// RunFeed crawls one feed source. Only a failure to fetch or parse the feed aborts the run;
// per-entry problems are counted as skipped.
func (e *Executor) RunFeed(ctx context.Context, source database.Source) ExecutionResult {
	start := e.now()
	logger := e.Logger.With("source", source.Name)

	result := e.runFeed(ctx, source, logger)

	e.Metrics.ObserveItems(source.Name, result.ItemsCreated, result.ItemsSkipped, result.ItemsFailed)
	e.Metrics.ObserveRun(string(database.SourceKindFeed), string(result.Status()), e.now().Sub(start))

	if result.Err != nil {
		logger.Error("Feed crawl failed", "error", result.Err)
	} else {
		logger.Info("Feed crawl completed",
			"duration", e.now().Sub(start),
			"created", result.ItemsCreated,
			"skipped", result.ItemsSkipped,
			"failed", result.ItemsFailed)
	}

	return result
}

func (e *Executor) runFeed(ctx context.Context, source database.Source, logger *slog.Logger) ExecutionResult {
	m, _, err := e.loadMatcher(ctx)
	if err != nil {
		return ExecutionResult{Err: err}
	}

	data, err := e.Feeds.FetchFeed(ctx, source.EndpointURL)
	if err != nil {
		e.Metrics.FetchError("feed")
		return ExecutionResult{Err: err}
	}

	parsed, err := e.Parser.Run(data)
	if err != nil {
		return ExecutionResult{Err: err}
	}
	if parsed.Recovered {
		logger.Warn("Malformed feed recovered after sanitizing", "entries", len(parsed.Items))
	}

	var result ExecutionResult
	for _, entry := range parsed.Items {
		if err := ctx.Err(); err != nil {
			result.Err = err
			return result
		}

		switch e.processEntry(ctx, source, m, entry, logger) {
		case outcomeCreated:
			result.ItemsCreated++
		case outcomeFailed:
			result.ItemsFailed++
			result.ItemsSkipped++
		default:
			result.ItemsSkipped++
		}
	}

	return result
}

func (e *Executor) processEntry(ctx context.Context, source database.Source, m *matcher.Matcher, entry feed.CandidateItem, logger *slog.Logger) outcome {
	if entry.Link == "" {
		logger.Debug("Entry skipped: no link", "title", entry.Title)
		return outcomeSkipped
	}

	known, err := e.known(ctx, entry.Link)
	if err != nil {
		logger.Error("Failed to check entry", "url", entry.Link, "error", err)
		return outcomeFailed
	}
	if known {
		return outcomeSkipped
	}

	baseText := entry.Title + "\n" + entry.Summary
	text := baseText
	fullText := ""

	if !m.Matches(baseText) {
		if !e.opts.FullTextFallback || e.Articles == nil {
			return outcomeSkipped
		}

		fullText, err = e.Articles.FetchText(ctx, entry.Link)
		if err != nil {
			e.Metrics.FetchError("article")
			logger.Warn("Full text fetch failed", "url", entry.Link, "error", err)
			return outcomeSkipped
		}

		text = baseText + "\n" + fullText
		if !m.Matches(text) {
			return outcomeSkipped
		}
	}

	item := database.ContentItem{
		SourceID:       source.ID,
		URL:            entry.Link,
		Title:          entry.Title,
		Body:           firstNonEmpty(fullText, entry.Summary),
		Excerpt:        excerpt(entry.Summary, fullText),
		Author:         entry.Author,
		PublishedAt:    entry.PublishedAt,
		ObservedAt:     e.now().UTC(),
		MatchedRuleIDs: m.Tag(text),
	}

	return e.store(ctx, item, logger)
}

// RunSocial crawls an API source: one keyword-OR search, each post deduplicated by permalink
// and tagged by term containment.
func (e *Executor) RunSocial(ctx context.Context, source database.Source) ExecutionResult {
	start := e.now()
	logger := e.Logger.With("source", source.Name)

	result := e.runSocial(ctx, source, logger)

	e.Metrics.ObserveItems(source.Name, result.ItemsCreated, result.ItemsSkipped, result.ItemsFailed)
	e.Metrics.ObserveRun(string(database.SourceKindAPI), string(result.Status()), e.now().Sub(start))

	if result.Err != nil {
		logger.Error("Social crawl failed", "error", result.Err)
	} else {
		logger.Info("Social crawl completed",
			"duration", e.now().Sub(start),
			"created", result.ItemsCreated,
			"skipped", result.ItemsSkipped,
			"failed", result.ItemsFailed)
	}

	return result
}

func (e *Executor) runSocial(ctx context.Context, source database.Source, logger *slog.Logger) ExecutionResult {
	if e.Posts == nil || !e.Posts.HasCredential() {
		return ExecutionResult{Err: &ConfigError{Source: source.Name, Err: ErrMissingCredential}}
	}

	m, rules, err := e.loadMatcher(ctx)
	if err != nil {
		return ExecutionResult{Err: err}
	}

	terms := make([]string, 0, len(rules))
	for _, rule := range rules {
		terms = append(terms, rule.Term)
	}

	query := social.BuildQuery(terms, e.opts.SocialMaxTerms)
	if query == "" {
		logger.Warn("No active keywords, social search skipped")
		return ExecutionResult{}
	}
	logger.Debug("Social search query", "query", query)

	posts, err := e.Posts.Search(ctx, query)
	if err != nil {
		e.Metrics.FetchError("social")
		return ExecutionResult{Err: err}
	}

	var result ExecutionResult
	for _, post := range posts {
		if err := ctx.Err(); err != nil {
			result.Err = err
			return result
		}

		switch e.processPost(ctx, source, m, post, logger) {
		case outcomeCreated:
			result.ItemsCreated++
		case outcomeFailed:
			result.ItemsFailed++
			result.ItemsSkipped++
		default:
			result.ItemsSkipped++
		}
	}

	return result
}

func (e *Executor) processPost(ctx context.Context, source database.Source, m *matcher.Matcher, post social.Post, logger *slog.Logger) outcome {
	if post.URL == "" {
		return outcomeSkipped
	}

	known, err := e.known(ctx, post.URL)
	if err != nil {
		logger.Error("Failed to check post", "url", post.URL, "error", err)
		return outcomeFailed
	}
	if known {
		return outcomeSkipped
	}

	published := post.CreatedAt
	if published.IsZero() {
		published = e.now().UTC()
	}

	item := database.ContentItem{
		SourceID:       source.ID,
		URL:            post.URL,
		Title:          truncate(collapse(post.Text), postTitleLength),
		Body:           post.Text,
		Excerpt:        truncate(collapse(post.Text), excerptLength),
		Author:         post.AuthorName,
		AuthorUsername: post.AuthorUsername,
		LikesCount:     post.Likes,
		RepostsCount:   post.Reposts,
		RepliesCount:   post.Replies,
		PublishedAt:    published,
		ObservedAt:     e.now().UTC(),
		MatchedRuleIDs: m.Tag(post.Text),
	}

	return e.store(ctx, item, logger)
}

// known consults the seen cache, then the content store.
func (e *Executor) known(ctx context.Context, url string) (bool, error) {
	if e.Seen != nil {
		seen, err := e.Seen.Seen(ctx, url)
		if err != nil {
			e.Logger.Warn("Seen cache lookup failed", "url", url, "error", err)
		} else if seen {
			return true, nil
		}
	}

	exists, err := e.Items.Exists(ctx, url)
	if err != nil {
		return false, err
	}
	if exists {
		e.markSeen(ctx, url)
	}
	return exists, nil
}

func (e *Executor) store(ctx context.Context, item database.ContentItem, logger *slog.Logger) outcome {
	created, err := e.Items.CreateItem(ctx, item)
	if errors.Is(err, database.ErrDuplicate) {
		logger.Debug("Item stored concurrently, skipped", "url", item.URL)
		e.markSeen(ctx, item.URL)
		return outcomeSkipped
	}
	if err != nil {
		logger.Error("Failed to store item", "url", item.URL, "error", err)
		return outcomeFailed
	}

	e.markSeen(ctx, item.URL)
	logger.Debug("Item created", "id", created.ID, "url", item.URL, "keywords", len(created.MatchedRuleIDs))
	return outcomeCreated
}

func (e *Executor) markSeen(ctx context.Context, url string) {
	if e.Seen == nil {
		return
	}
	if err := e.Seen.MarkSeen(ctx, url); err != nil {
		e.Logger.Warn("Seen cache update failed", "url", url, "error", err)
	}
}

// loadMatcher reads the active keyword rules and returns a matcher for them,
// recompiling only when the rules changed since the last run.
func (e *Executor) loadMatcher(ctx context.Context) (*matcher.Matcher, []matcher.Rule, error) {
	active, err := e.Keywords.ListActiveKeywords(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load keywords: %w", err)
	}

	rules := make([]matcher.Rule, 0, len(active))
	for _, k := range active {
		rules = append(rules, matcher.Rule{ID: k.ID, Term: k.Term, Pattern: k.Pattern, Language: k.Language})
	}

	m, rebuilt, err := e.Matchers.Get(rules)
	if err != nil {
		return nil, nil, &ConfigError{Source: "keywords", Err: err}
	}
	if rebuilt {
		e.Metrics.MatcherRecompiled()
		e.Logger.Info("Keyword matcher compiled", "rules", m.Len())
	}
	if m.Len() == 0 {
		e.Logger.Warn("No active keyword rules, nothing will match")
	}

	return m, rules, nil
}

func excerpt(summary, fullText string) string {
	if s := collapse(summary); s != "" {
		return s
	}
	return truncate(collapse(fullText), excerptLength)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
