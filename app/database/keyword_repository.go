package database

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type keywordRepository struct {
	db *DB
}

// NewKeywordRepository creates a new keyword rule repository
func NewKeywordRepository(db *DB) KeywordRepository {
	return &keywordRepository{db: db}
}

// UpsertKeyword inserts a rule or updates the one with the same term
func (r *keywordRepository) UpsertKeyword(ctx context.Context, rule KeywordRule) (int64, error) {
	term := strings.TrimSpace(rule.Term)
	if term == "" {
		return 0, fmt.Errorf("keyword term is required")
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO keyword_rules (term, pattern, language, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (term) DO UPDATE SET
			pattern = excluded.pattern,
			language = excluded.language,
			active = excluded.active
		RETURNING id
	`, term, rule.Pattern, rule.Language, rule.Active, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert keyword: %w", err)
	}

	return id, nil
}

// ListKeywords returns every rule, active or not
func (r *keywordRepository) ListKeywords(ctx context.Context) ([]KeywordRule, error) {
	return r.queryKeywords(ctx, `SELECT id, term, pattern, language, active, created_at FROM keyword_rules ORDER BY id`)
}

// ListActiveKeywords returns the rules used for matching and tagging
func (r *keywordRepository) ListActiveKeywords(ctx context.Context) ([]KeywordRule, error) {
	return r.queryKeywords(ctx, `SELECT id, term, pattern, language, active, created_at FROM keyword_rules WHERE active = 1 ORDER BY id`)
}

// CountActiveKeywords returns the number of active rules
func (r *keywordRepository) CountActiveKeywords(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM keyword_rules WHERE active = 1`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active keywords: %w", err)
	}
	return count, nil
}

func (r *keywordRepository) queryKeywords(ctx context.Context, query string) ([]KeywordRule, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	defer rows.Close()

	var rules []KeywordRule
	for rows.Next() {
		var rule KeywordRule
		if err := rows.Scan(&rule.ID, &rule.Term, &rule.Pattern, &rule.Language, &rule.Active, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan keyword row: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keyword rows: %w", err)
	}

	return rules, nil
}
