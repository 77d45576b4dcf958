package crawl

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-sentry/app/cache"
	"github.com/lysyi3m/rss-sentry/app/database"
	"github.com/lysyi3m/rss-sentry/app/social"
)

type fakeFeeds struct {
	docs map[string]string
	errs map[string]error
}

func (f *fakeFeeds) FetchFeed(_ context.Context, url string) ([]byte, error) {
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	doc, ok := f.docs[url]
	if !ok {
		return nil, errors.New("unexpected url " + url)
	}
	return []byte(doc), nil
}

type fakeArticles struct {
	texts   map[string]string
	fetched []string
}

func (f *fakeArticles) FetchText(_ context.Context, url string) (string, error) {
	f.fetched = append(f.fetched, url)
	text, ok := f.texts[url]
	if !ok {
		return "", errors.New("HTTP error: 404")
	}
	return text, nil
}

type fakePosts struct {
	token   string
	posts   []social.Post
	err     error
	queries []string
}

func (f *fakePosts) HasCredential() bool { return f.token != "" }

func (f *fakePosts) Search(_ context.Context, query string) ([]social.Post, error) {
	f.queries = append(f.queries, query)
	return f.posts, f.err
}

// failingItems stores through the real repository except for URLs listed in errs.
type failingItems struct {
	database.ItemRepository
	errs map[string]error
}

func (f *failingItems) CreateItem(ctx context.Context, item database.ContentItem) (*database.ContentItem, error) {
	if err, ok := f.errs[item.URL]; ok {
		return nil, err
	}
	return f.ItemRepository.CreateItem(ctx, item)
}

type fixture struct {
	db       *database.DB
	sources  database.SourceRepository
	keywords database.KeywordRepository
	items    database.ItemRepository
	feeds    *fakeFeeds
	articles *fakeArticles
	posts    *fakePosts
	ruleIDs  map[string]int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.NewConnection(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	f := &fixture{
		db:       db,
		sources:  database.NewSourceRepository(db),
		keywords: database.NewKeywordRepository(db),
		items:    database.NewItemRepository(db),
		feeds:    &fakeFeeds{docs: map[string]string{}, errs: map[string]error{}},
		articles: &fakeArticles{texts: map[string]string{}},
		posts:    &fakePosts{},
		ruleIDs:  map[string]int64{},
	}

	for _, rule := range []database.KeywordRule{
		{Term: "bomb", Pattern: `\bbomb(ing|ings|ed|s)?\b`, Active: true},
		{Term: "attack", Pattern: `\battack(s|ed|ing)?\b`, Active: true},
		{Term: "unjuk rasa", Pattern: `\bunjuk\s?rasa\b`, Active: true},
		{Term: "riot", Pattern: `\briot(s|ing)?\b`, Active: false},
	} {
		id, err := f.keywords.UpsertKeyword(context.Background(), rule)
		require.NoError(t, err)
		f.ruleIDs[rule.Term] = id
	}

	return f
}

func (f *fixture) source(t *testing.T, name string, kind database.SourceKind) database.Source {
	t.Helper()
	ctx := context.Background()

	id, err := f.sources.UpsertSource(ctx, database.Source{Name: name, EndpointURL: "https://" + name + ".test/feed", Kind: kind, Active: true})
	require.NoError(t, err)
	source, err := f.sources.GetSource(ctx, id)
	require.NoError(t, err)
	return *source
}

func (f *fixture) executor(opts Options) *Executor {
	return NewExecutor(Deps{
		Sources:  f.sources,
		Keywords: f.keywords,
		Items:    f.items,
		Feeds:    f.feeds,
		Articles: f.articles,
		Posts:    f.posts,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, opts)
}

func rss(items ...string) string {
	return `<?xml version="1.0"?><rss version="2.0"><channel><title>Test</title>` + strings.Join(items, "") + `</channel></rss>`
}

func rssItem(title, link, description string) string {
	s := "<item><title>" + title + "</title>"
	if link != "" {
		s += "<link>" + link + "</link>"
	}
	return s + "<description>" + description + "</description><pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate></item>"
}

func TestRunFeedScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.source(t, "news", database.SourceKindFeed)

	_, err := f.items.CreateItem(ctx, database.ContentItem{SourceID: source.ID, URL: "https://news.test/known", Title: "Known bomb story"})
	require.NoError(t, err)

	f.feeds.docs[source.EndpointURL] = rss(
		rssItem("Known bomb story", "https://news.test/known", "Already stored"),
		rssItem("Bomb found near station", "https://news.test/bomb", "Police evacuated the area"),
		rssItem("Weather update", "https://news.test/weather", "Sunny skies"),
	)
	f.articles.texts["https://news.test/weather"] = "Mild temperatures expected all week."

	result := f.executor(Options{FullTextFallback: true}).RunFeed(ctx, source)

	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.ItemsCreated)
	assert.Equal(t, 2, result.ItemsSkipped)
	assert.Equal(t, database.LogStatusSuccess, result.Status())

	// Known entries never reach the full-text fetcher.
	assert.Equal(t, []string{"https://news.test/weather"}, f.articles.fetched)

	items, err := f.items.ListItems(ctx, database.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)

	var created database.ContentItem
	for _, item := range items {
		if item.URL == "https://news.test/bomb" {
			created = item
		}
	}
	assert.Equal(t, "Bomb found near station", created.Title)
	assert.Equal(t, "Police evacuated the area", created.Body)
	assert.Equal(t, "Police evacuated the area", created.Excerpt)
	assert.Equal(t, []int64{f.ruleIDs["bomb"]}, created.MatchedRuleIDs)
	assert.True(t, time.Date(2023, 7, 3, 10, 0, 0, 0, time.UTC).Equal(created.PublishedAt))
}

func TestRunFeedSecondRunCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.source(t, "news", database.SourceKindFeed)

	f.feeds.docs[source.EndpointURL] = rss(
		rssItem("Attack on convoy", "https://news.test/a", ""),
		rssItem("Bombing suspect held", "https://news.test/b", ""),
	)

	exec := f.executor(Options{})

	first := exec.RunFeed(ctx, source)
	require.NoError(t, first.Err)
	assert.Equal(t, 2, first.ItemsCreated)

	second := exec.RunFeed(ctx, source)
	require.NoError(t, second.Err)
	assert.Zero(t, second.ItemsCreated)
	assert.Equal(t, 2, second.ItemsSkipped)

	count, err := f.items.CountItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRunFeedSkipsEntriesWithoutLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.source(t, "news", database.SourceKindFeed)

	f.feeds.docs[source.EndpointURL] = rss(rssItem("Massive bomb attack", "", "bomb bomb attack"))

	result := f.executor(Options{FullTextFallback: true}).RunFeed(ctx, source)

	require.NoError(t, result.Err)
	assert.Zero(t, result.ItemsCreated)
	assert.Equal(t, 1, result.ItemsSkipped)
	assert.Empty(t, f.articles.fetched)

	count, err := f.items.CountItems(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRunFeedFullTextFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.source(t, "news", database.SourceKindFeed)

	f.feeds.docs[source.EndpointURL] = rss(rssItem("Jakarta update", "https://news.test/jkt", ""))
	f.articles.texts["https://news.test/jkt"] = "Ribuan warga menggelar unjuk rasa\ndi depan gedung DPR."

	result := f.executor(Options{FullTextFallback: true}).RunFeed(ctx, source)

	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.ItemsCreated)

	items, err := f.items.ListItems(ctx, database.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []int64{f.ruleIDs["unjuk rasa"]}, items[0].MatchedRuleIDs)
	assert.Equal(t, "Ribuan warga menggelar unjuk rasa\ndi depan gedung DPR.", items[0].Body)
	assert.Equal(t, "Ribuan warga menggelar unjuk rasa di depan gedung DPR.", items[0].Excerpt)
}

func TestRunFeedWithoutFallbackSkipsUnmatched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.source(t, "news", database.SourceKindFeed)

	f.feeds.docs[source.EndpointURL] = rss(rssItem("Jakarta update", "https://news.test/jkt", ""))
	f.articles.texts["https://news.test/jkt"] = "unjuk rasa"

	result := f.executor(Options{FullTextFallback: false}).RunFeed(ctx, source)

	require.NoError(t, result.Err)
	assert.Zero(t, result.ItemsCreated)
	assert.Empty(t, f.articles.fetched)
}

func TestRunFeedTagsByContainment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.source(t, "news", database.SourceKindFeed)

	// "bombed" passes the gate and "attackers" only tags. Inactive "riot" never tags.
	f.feeds.docs[source.EndpointURL] = rss(rssItem("Embassy bombed", "https://news.test/e", "Attackers fled the riot scene"))

	result := f.executor(Options{}).RunFeed(ctx, source)
	require.NoError(t, result.Err)
	require.Equal(t, 1, result.ItemsCreated)

	items, err := f.items.ListItems(ctx, database.ItemFilter{})
	require.NoError(t, err)

	ids := items[0].MatchedRuleIDs
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	assert.Equal(t, []int64{f.ruleIDs["bomb"], f.ruleIDs["attack"]}, ids)
}

func TestRunFeedPatternOnlyHitIsNotTagged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.source(t, "news", database.SourceKindFeed)

	id, err := f.keywords.UpsertKeyword(ctx, database.KeywordRule{Term: "terrorism", Pattern: `\bterror(ism|ist|s)?\b`, Active: true})
	require.NoError(t, err)

	f.feeds.docs[source.EndpointURL] = rss(rssItem("Terror alert raised", "https://news.test/alert", "Officials urge calm"))

	result := f.executor(Options{}).RunFeed(ctx, source)
	require.NoError(t, result.Err)
	require.Equal(t, 1, result.ItemsCreated)

	items, err := f.items.ListItems(ctx, database.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.NotContains(t, items[0].MatchedRuleIDs, id)
	assert.Empty(t, items[0].MatchedRuleIDs)
}

func TestRunFeedStoreFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.source(t, "news", database.SourceKindFeed)

	f.items = &failingItems{
		ItemRepository: f.items,
		errs:           map[string]error{"https://news.test/first": errors.New("disk I/O error")},
	}
	f.feeds.docs[source.EndpointURL] = rss(
		rssItem("Bomb threat at airport", "https://news.test/first", "Flights delayed"),
		rssItem("Attack on convoy", "https://news.test/second", "Two injured"),
	)

	result := f.executor(Options{}).RunFeed(ctx, source)

	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.ItemsCreated)
	assert.Equal(t, 1, result.ItemsFailed)
	assert.Equal(t, 1, result.ItemsSkipped)
	assert.Equal(t, database.LogStatusPartial, result.Status())
	assert.Equal(t, "1 items failed to store", result.Message())

	items, err := f.items.ListItems(ctx, database.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "https://news.test/second", items[0].URL)
}

func TestRunFeedConcurrentInsertIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.source(t, "news", database.SourceKindFeed)

	f.items = &failingItems{
		ItemRepository: f.items,
		errs: map[string]error{
			"https://news.test/first":  database.ErrDuplicate,
			"https://news.test/second": database.ErrDuplicate,
		},
	}
	f.feeds.docs[source.EndpointURL] = rss(
		rssItem("Bomb threat at airport", "https://news.test/first", "Flights delayed"),
		rssItem("Attack on convoy", "https://news.test/second", "Two injured"),
	)

	result := f.executor(Options{}).RunFeed(ctx, source)

	require.NoError(t, result.Err)
	assert.Zero(t, result.ItemsCreated)
	assert.Equal(t, 2, result.ItemsSkipped)
	assert.Zero(t, result.ItemsFailed)
	assert.Equal(t, database.LogStatusSuccess, result.Status())
}

func TestRunFeedConnectionError(t *testing.T) {
	f := newFixture(t)
	source := f.source(t, "news", database.SourceKindFeed)
	f.feeds.errs[source.EndpointURL] = errors.New("failed to fetch feed: connection refused")

	result := f.executor(Options{}).RunFeed(context.Background(), source)

	require.Error(t, result.Err)
	assert.Zero(t, result.ItemsCreated)
	assert.Equal(t, database.LogStatusFailed, result.Status())
	assert.Contains(t, result.Message(), "connection refused")
}

func TestRunFeedUnparseable(t *testing.T) {
	f := newFixture(t)
	source := f.source(t, "news", database.SourceKindFeed)
	f.feeds.docs[source.EndpointURL] = "this is not a feed"

	result := f.executor(Options{}).RunFeed(context.Background(), source)
	assert.Error(t, result.Err)
}

func TestRunFeedUsesSeenCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.source(t, "news", database.SourceKindFeed)

	mr := miniredis.RunT(t)
	seen, err := cache.NewSeenCache(ctx, mr.Addr(), time.Hour)
	require.NoError(t, err)
	defer seen.Close()

	f.feeds.docs[source.EndpointURL] = rss(rssItem("Attack reported", "https://news.test/a", ""))

	exec := f.executor(Options{})
	exec.Seen = seen

	first := exec.RunFeed(ctx, source)
	require.Equal(t, 1, first.ItemsCreated)

	marked, err := seen.Seen(ctx, "https://news.test/a")
	require.NoError(t, err)
	assert.True(t, marked)

	second := exec.RunFeed(ctx, source)
	assert.Zero(t, second.ItemsCreated)
	assert.Equal(t, 1, second.ItemsSkipped)
}

func TestRunSocial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.source(t, "twitter", database.SourceKindAPI)

	_, err := f.items.CreateItem(ctx, database.ContentItem{SourceID: source.ID, URL: social.Permalink("1")})
	require.NoError(t, err)

	f.posts.token = "secret"
	f.posts.posts = []social.Post{
		{ID: "1", URL: social.Permalink("1"), Text: "old bomb news"},
		{ID: "2", URL: social.Permalink("2"), Text: "Aksi UNJUK RASA memanas", AuthorName: "Watcher", AuthorUsername: "watcher", Likes: 5, Reposts: 2, Replies: 1,
			CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
	}

	result := f.executor(Options{SocialMaxTerms: 2}).RunSocial(ctx, source)

	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.ItemsCreated)
	assert.Equal(t, 1, result.ItemsSkipped)
	assert.Equal(t, []string{`"bomb" OR "attack"`}, f.posts.queries)

	items, err := f.items.ListItems(ctx, database.ItemFilter{SourceID: source.ID})
	require.NoError(t, err)
	require.Len(t, items, 2)

	var post database.ContentItem
	for _, item := range items {
		if item.URL == social.Permalink("2") {
			post = item
		}
	}
	assert.Equal(t, "Aksi UNJUK RASA memanas", post.Title)
	assert.True(t, post.PublishedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, social.Permalink("2"), post.URL)
	assert.Equal(t, "watcher", post.AuthorUsername)
	assert.Equal(t, 5, post.LikesCount)
	assert.Equal(t, 2, post.RepostsCount)
	assert.Equal(t, 1, post.RepliesCount)
	assert.Equal(t, []int64{f.ruleIDs["unjuk rasa"]}, post.MatchedRuleIDs)
}

func TestRunSocialMissingCredential(t *testing.T) {
	f := newFixture(t)
	source := f.source(t, "twitter", database.SourceKindAPI)

	result := f.executor(Options{}).Run(context.Background(), source)

	var configErr *ConfigError
	require.True(t, errors.As(result.Err, &configErr))
	assert.ErrorIs(t, result.Err, ErrMissingCredential)
	assert.Empty(t, f.posts.queries, "no request without a credential")
}

func TestRunUnsupportedKind(t *testing.T) {
	f := newFixture(t)

	result := f.executor(Options{}).Run(context.Background(), database.Source{Name: "odd", Kind: "smoke-signal"})

	assert.ErrorIs(t, result.Err, ErrUnsupportedKind)
	assert.Equal(t, database.LogStatusFailed, result.Status())
}

func TestRunAllFeeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	good := f.source(t, "good", database.SourceKindFeed)
	bad := f.source(t, "bad", database.SourceKindFeed)
	f.source(t, "twitter", database.SourceKindAPI)

	f.feeds.docs[good.EndpointURL] = rss(rssItem("Attack", "https://good.test/1", ""), rssItem("Calm", "https://good.test/2", ""))
	f.feeds.errs[bad.EndpointURL] = errors.New("connection reset")

	result := f.executor(Options{}).RunAllFeeds(ctx)

	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.ItemsCreated)
	assert.Equal(t, 1, result.ItemsSkipped)
	require.Len(t, result.SourceErrors, 1)
	assert.Equal(t, database.LogStatusPartial, result.Status())
	assert.Contains(t, result.Message(), "bad: connection reset")
}

func TestRunAllFeedsEverySourceFailed(t *testing.T) {
	f := newFixture(t)
	bad := f.source(t, "bad", database.SourceKindFeed)
	f.feeds.errs[bad.EndpointURL] = errors.New("connection reset")

	result := f.executor(Options{}).RunAllFeeds(context.Background())

	require.Error(t, result.Err)
	assert.Empty(t, result.SourceErrors)
	assert.Equal(t, database.LogStatusFailed, result.Status())
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "a b", excerpt(" a\n b ", "ignored"))

	long := strings.Repeat("x", 600)
	assert.Len(t, excerpt("", long), 500)
	assert.Equal(t, "line one line two", excerpt("", "line one\n\nline two"))
}
