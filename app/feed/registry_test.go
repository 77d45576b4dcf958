package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-sentry/app/database"
	"github.com/lysyi3m/rss-sentry/app/matcher"
)

const registryYAML = `
sources:
  - name: BBC World
    url: https://feeds.bbci.co.uk/news/world/rss.xml
  - name: Antara
    url: https://www.antaranews.com/rss/terkini.xml
    active: false
  - name: Twitter Search
    kind: api
    url: https://api.twitter.com/2/tweets/search/recent

keywords:
  - term: attack
    pattern: '\battack(s|ed|ing)?\b'
    language: en
  - term: serangan
    language: id

tasks:
  - name: Hourly BBC Crawl
    source: BBC World
    recurrence: hourly
  - name: Batch Crawl - All News Sources
    all_sources: true
  - name: Twitter Daily
    source: Twitter Search
    active: false
`

func newTestRepos(t *testing.T) (database.SourceRepository, database.KeywordRepository, database.TaskRepository) {
	t.Helper()

	db, err := database.NewConnection(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	return database.NewSourceRepository(db), database.NewKeywordRepository(db), database.NewTaskRepository(db)
}

func TestRegistryLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yml")
	require.NoError(t, os.WriteFile(path, []byte(registryYAML), 0o644))

	registry := NewRegistry(path, discardLogger())
	require.NoError(t, registry.Load())

	sources := registry.Sources()
	require.Len(t, sources, 3)
	assert.Equal(t, "feed", sources[0].Kind)
	assert.True(t, *sources[0].Active)
	assert.False(t, *sources[1].Active)

	tasks := registry.Tasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, "BBC World", tasks[1].Source, "all-sources task borrows the first feed")
	assert.Equal(t, "daily", tasks[1].Recurrence)
}

func TestRegistryMissingFile(t *testing.T) {
	registry := NewRegistry(filepath.Join(t.TempDir(), "absent.yml"), discardLogger())

	require.NoError(t, registry.Load())
	assert.Empty(t, registry.Sources())
}

func TestRegistryValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing source name", "sources:\n  - url: https://example.com/feed\n"},
		{"bad kind", "sources:\n  - name: x\n    url: https://example.com\n    kind: rss\n"},
		{"feed without http url", "sources:\n  - name: x\n    url: ftp://example.com\n"},
		{"duplicate source", "sources:\n  - name: x\n    url: https://a\n  - name: x\n    url: https://b\n"},
		{"bad pattern", "keywords:\n  - term: x\n    pattern: '(unclosed'\n"},
		{"bad recurrence", "sources:\n  - name: x\n    url: https://a\ntasks:\n  - name: t\n    source: x\n    recurrence: monthly\n"},
		{"task without source", "tasks:\n  - name: t\n"},
		{"malformed yaml", "sources: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry("registry.yml", discardLogger())
			assert.Error(t, registry.Parse([]byte(tt.yaml)))
		})
	}
}

func TestRegistrySync(t *testing.T) {
	sources, keywords, tasks := newTestRepos(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	registry := NewRegistry("registry.yml", discardLogger())
	require.NoError(t, registry.Parse([]byte(registryYAML)))

	result, err := registry.Sync(ctx, sources, keywords, tasks, now)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Sources)
	assert.Equal(t, 2, result.Keywords)
	assert.Equal(t, 3, result.TasksCreated)

	hourly, err := tasks.GetTaskByName(ctx, "Hourly BBC Crawl")
	require.NoError(t, err)
	assert.Equal(t, database.TaskStatusPending, hourly.Status)
	require.NotNil(t, hourly.NextRun)
	assert.True(t, now.Add(time.Hour).Equal(*hourly.NextRun))
	assert.Nil(t, hourly.LastRun)

	batch, err := tasks.GetTaskByName(ctx, "Batch Crawl - All News Sources")
	require.NoError(t, err)
	assert.True(t, batch.AllSources)
	assert.True(t, batch.IsAllSources())

	twitter, err := tasks.GetTaskByName(ctx, "Twitter Daily")
	require.NoError(t, err)
	assert.False(t, twitter.Active)

	// A second sync leaves existing tasks alone.
	result, err = registry.Sync(ctx, sources, keywords, tasks, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, result.TasksCreated)

	hourly, err = tasks.GetTaskByName(ctx, "Hourly BBC Crawl")
	require.NoError(t, err)
	assert.True(t, now.Add(time.Hour).Equal(*hourly.NextRun))
}

func TestRegistrySyncSeedsDefaultLexicon(t *testing.T) {
	sources, keywords, tasks := newTestRepos(t)
	ctx := context.Background()

	registry := NewRegistry("registry.yml", discardLogger())
	require.NoError(t, registry.Parse([]byte("sources: []\n")))

	result, err := registry.Sync(ctx, sources, keywords, tasks, time.Now())
	require.NoError(t, err)
	assert.Equal(t, len(matcher.DefaultRules()), result.Keywords)

	// Existing keywords are not reseeded.
	result, err = registry.Sync(ctx, sources, keywords, tasks, time.Now())
	require.NoError(t, err)
	assert.Zero(t, result.Keywords)
}
