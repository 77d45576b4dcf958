package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/rss-sentry/app/database"
	"github.com/lysyi3m/rss-sentry/app/matcher"
)

// Registry holds the sources, keyword rules and task definitions declared in the registry file.
type Registry struct {
	path   string
	file   *RegistryFile
	logger *slog.Logger
	mu     sync.RWMutex
}

func NewRegistry(path string, logger *slog.Logger) *Registry {
	return &Registry{
		path:   path,
		file:   &RegistryFile{},
		logger: logger,
	}
}

// Load reads and validates the registry file. A missing file leaves the registry empty.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("Registry file not found, starting empty", "path", r.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	return r.Parse(data)
}

func (r *Registry) Parse(data []byte) error {
	var file RegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&file)

	if err := validate(&file); err != nil {
		return fmt.Errorf("invalid registry %s: %w", r.path, err)
	}

	r.mu.Lock()
	r.file = &file
	r.mu.Unlock()

	r.logger.Debug("Registry loaded", "sources", len(file.Sources), "keywords", len(file.Keywords), "tasks", len(file.Tasks))
	return nil
}

func (r *Registry) Sources() []SourceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]SourceConfig(nil), r.file.Sources...)
}

func (r *Registry) Keywords() []KeywordConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]KeywordConfig(nil), r.file.Keywords...)
}

func (r *Registry) Tasks() []TaskConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]TaskConfig(nil), r.file.Tasks...)
}

// SyncResult counts what a Sync wrote.
type SyncResult struct {
	Sources      int
	Keywords     int
	TasksCreated int
}

// Sync upserts declared sources and keywords and creates missing tasks. New tasks start
// pending with next_run one interval from now. When neither the file nor the database
// holds keywords, the built-in lexicon is seeded.
func (r *Registry) Sync(ctx context.Context, sources database.SourceRepository, keywords database.KeywordRepository, tasks database.TaskRepository, now time.Time) (*SyncResult, error) {
	r.mu.RLock()
	file := r.file
	r.mu.RUnlock()

	result := &SyncResult{}
	sourceIDs := make(map[string]int64, len(file.Sources))

	for _, sc := range file.Sources {
		id, err := sources.UpsertSource(ctx, database.Source{
			Name:        sc.Name,
			EndpointURL: sc.URL,
			Kind:        database.SourceKind(sc.Kind),
			Active:      *sc.Active,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to sync source %s: %w", sc.Name, err)
		}
		sourceIDs[sc.Name] = id
		result.Sources++
	}

	rules, err := r.keywordRules(ctx, keywords)
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		if _, err := keywords.UpsertKeyword(ctx, rule); err != nil {
			return nil, fmt.Errorf("failed to sync keyword %s: %w", rule.Term, err)
		}
		result.Keywords++
	}

	for _, tc := range file.Tasks {
		created, err := r.syncTask(ctx, tc, sourceIDs, sources, tasks, now)
		if err != nil {
			return nil, fmt.Errorf("failed to sync task %s: %w", tc.Name, err)
		}
		if created {
			result.TasksCreated++
		}
	}

	return result, nil
}

func (r *Registry) keywordRules(ctx context.Context, keywords database.KeywordRepository) ([]database.KeywordRule, error) {
	declared := r.Keywords()
	if len(declared) > 0 {
		rules := make([]database.KeywordRule, 0, len(declared))
		for _, kc := range declared {
			rules = append(rules, database.KeywordRule{
				Term:     kc.Term,
				Pattern:  kc.Pattern,
				Language: kc.Language,
				Active:   *kc.Active,
			})
		}
		return rules, nil
	}

	existing, err := keywords.ListKeywords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	if len(existing) > 0 {
		return nil, nil
	}

	r.logger.Info("Seeding default keyword lexicon")
	defaults := matcher.DefaultRules()
	rules := make([]database.KeywordRule, 0, len(defaults))
	for _, d := range defaults {
		rules = append(rules, database.KeywordRule{Term: d.Term, Pattern: d.Pattern, Language: d.Language, Active: true})
	}
	return rules, nil
}

func (r *Registry) syncTask(ctx context.Context, tc TaskConfig, sourceIDs map[string]int64, sources database.SourceRepository, tasks database.TaskRepository, now time.Time) (bool, error) {
	recurrence := database.Recurrence(tc.Recurrence)

	existing, err := tasks.GetTaskByName(ctx, tc.Name)
	if err == nil {
		if existing.NextRun == nil {
			return false, tasks.SetNextRun(ctx, existing.ID, recurrence.Next(now))
		}
		return false, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return false, err
	}

	sourceID, ok := sourceIDs[tc.Source]
	if !ok {
		source, err := sources.GetSourceByName(ctx, tc.Source)
		if err != nil {
			return false, fmt.Errorf("source %q: %w", tc.Source, err)
		}
		sourceID = source.ID
	}

	next := recurrence.Next(now)
	_, err = tasks.CreateTask(ctx, database.CrawlTask{
		Name:       tc.Name,
		SourceID:   sourceID,
		AllSources: tc.AllSources,
		Recurrence: recurrence,
		Active:     *tc.Active,
		NextRun:    &next,
		Status:     database.TaskStatusPending,
	})
	if err != nil {
		return false, err
	}

	r.logger.Info("Crawl task created", "task", tc.Name, "recurrence", tc.Recurrence, "next_run", next)
	return true, nil
}

func applyDefaults(file *RegistryFile) {
	enabled := func(v *bool) *bool {
		if v != nil {
			return v
		}
		t := true
		return &t
	}

	for i := range file.Sources {
		s := &file.Sources[i]
		s.Name = strings.TrimSpace(s.Name)
		s.URL = strings.TrimSpace(s.URL)
		if s.Kind == "" {
			s.Kind = string(database.SourceKindFeed)
		}
		s.Active = enabled(s.Active)
	}

	for i := range file.Keywords {
		k := &file.Keywords[i]
		k.Term = strings.TrimSpace(k.Term)
		k.Active = enabled(k.Active)
	}

	var firstFeed string
	for _, s := range file.Sources {
		if s.Kind == string(database.SourceKindFeed) {
			firstFeed = s.Name
			break
		}
	}

	for i := range file.Tasks {
		t := &file.Tasks[i]
		t.Name = strings.TrimSpace(t.Name)
		if t.Recurrence == "" {
			t.Recurrence = string(database.RecurrenceDaily)
		}
		// All-sources tasks still reference a source row; any feed will do.
		if t.Source == "" && t.AllSources {
			t.Source = firstFeed
		}
		t.Active = enabled(t.Active)
	}
}

func validate(file *RegistryFile) error {
	names := make(map[string]bool, len(file.Sources))
	for i, s := range file.Sources {
		if s.Name == "" {
			return fmt.Errorf("source at index %d: name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate source name %q", s.Name)
		}
		names[s.Name] = true

		if !database.SourceKind(s.Kind).Valid() {
			return fmt.Errorf("source %q: invalid kind %q", s.Name, s.Kind)
		}
		if s.Kind == string(database.SourceKindFeed) && !isURL(s.URL) {
			return fmt.Errorf("source %q: feed URL must be http(s)", s.Name)
		}
	}

	terms := make(map[string]bool, len(file.Keywords))
	for i, k := range file.Keywords {
		if k.Term == "" {
			return fmt.Errorf("keyword at index %d: term is required", i)
		}
		if terms[k.Term] {
			return fmt.Errorf("duplicate keyword %q", k.Term)
		}
		terms[k.Term] = true
	}
	if _, err := matcher.Compile(keywordRulesForValidation(file.Keywords)); err != nil {
		return err
	}

	taskNames := make(map[string]bool, len(file.Tasks))
	for i, t := range file.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task at index %d: name is required", i)
		}
		if taskNames[t.Name] {
			return fmt.Errorf("duplicate task name %q", t.Name)
		}
		taskNames[t.Name] = true

		if !database.Recurrence(t.Recurrence).Valid() {
			return fmt.Errorf("task %q: invalid recurrence %q", t.Name, t.Recurrence)
		}
		if t.Source == "" {
			return fmt.Errorf("task %q: source is required", t.Name)
		}
	}

	return nil
}

func keywordRulesForValidation(keywords []KeywordConfig) []matcher.Rule {
	rules := make([]matcher.Rule, 0, len(keywords))
	for _, k := range keywords {
		rules = append(rules, matcher.Rule{Term: k.Term, Pattern: k.Pattern})
	}
	return rules
}
