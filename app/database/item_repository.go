package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultItemLimit = 50
	maxItemLimit     = 500
)

const itemColumns = `
	ci.id, ci.source_id, ci.url, ci.title, ci.body, ci.excerpt, ci.author, ci.author_username,
	ci.likes_count, ci.reposts_count, ci.replies_count, ci.published_at, ci.observed_at,
	COALESCE((SELECT GROUP_CONCAT(keyword_id) FROM content_item_keywords WHERE item_id = ci.id), '')`

type itemRepository struct {
	db *DB
}

// NewItemRepository creates the content store backed by the content_items table
func NewItemRepository(db *DB) ItemRepository {
	return &itemRepository{db: db}
}

// Exists checks whether an item with the given URL has already been stored
func (r *itemRepository) Exists(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM content_items WHERE url = ?)`, url).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check item existence: %w", err)
	}
	return exists, nil
}

// CreateItem inserts the item and its keyword links in one transaction.
// A URL that is already present yields ErrDuplicate and leaves the store untouched.
func (r *itemRepository) CreateItem(ctx context.Context, item ContentItem) (*ContentItem, error) {
	if item.URL == "" {
		return nil, fmt.Errorf("item URL is required")
	}
	if item.ObservedAt.IsZero() {
		item.ObservedAt = time.Now().UTC()
	}
	if item.PublishedAt.IsZero() {
		item.PublishedAt = item.ObservedAt
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO content_items (
			source_id, url, title, body, excerpt, author, author_username,
			likes_count, reposts_count, replies_count, published_at, observed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (url) DO NOTHING
	`, item.SourceID, item.URL, item.Title, item.Body, item.Excerpt, item.Author, item.AuthorUsername,
		item.LikesCount, item.RepostsCount, item.RepliesCount, item.PublishedAt.UTC(), item.ObservedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to insert item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return nil, ErrDuplicate
	}

	item.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read item id: %w", err)
	}

	for _, ruleID := range item.MatchedRuleIDs {
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO content_item_keywords (item_id, keyword_id) VALUES (?, ?)`, item.ID, ruleID)
		if err != nil {
			return nil, fmt.Errorf("failed to link keyword %d: %w", ruleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit item: %w", err)
	}

	return &item, nil
}

// GetItem retrieves an item with its keyword links
func (r *itemRepository) GetItem(ctx context.Context, id int64) (*ContentItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM content_items ci WHERE ci.id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// ListItems returns the newest items, optionally narrowed to a source or a keyword
func (r *itemRepository) ListItems(ctx context.Context, filter ItemFilter) ([]ContentItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultItemLimit
	}
	if limit > maxItemLimit {
		limit = maxItemLimit
	}

	query := `SELECT ` + itemColumns + ` FROM content_items ci WHERE 1 = 1`
	var args []any

	if filter.SourceID > 0 {
		query += ` AND ci.source_id = ?`
		args = append(args, filter.SourceID)
	}
	if filter.KeywordID > 0 {
		query += ` AND EXISTS (SELECT 1 FROM content_item_keywords k WHERE k.item_id = ci.id AND k.keyword_id = ?)`
		args = append(args, filter.KeywordID)
	}

	query += ` ORDER BY ci.published_at DESC, ci.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []ContentItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}

	return items, nil
}

// CountItems returns the total number of stored items
func (r *itemRepository) CountItems(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

// CountItemsSince returns the number of items observed at or after since
func (r *itemRepository) CountItemsSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_items WHERE observed_at >= ?`, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent items: %w", err)
	}
	return count, nil
}

func scanItem(row rowScanner) (*ContentItem, error) {
	var item ContentItem
	var ruleIDs string
	err := row.Scan(
		&item.ID, &item.SourceID, &item.URL, &item.Title, &item.Body, &item.Excerpt,
		&item.Author, &item.AuthorUsername, &item.LikesCount, &item.RepostsCount, &item.RepliesCount,
		&item.PublishedAt, &item.ObservedAt, &ruleIDs,
	)
	if err != nil {
		return nil, err
	}

	item.MatchedRuleIDs, err = parseIDList(ruleIDs)
	if err != nil {
		return nil, err
	}

	return &item, nil
}

func parseIDList(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid keyword id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
