package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/creatorhub/creatorhub/pkg/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Store persists library items
type Store struct {
	db *sql.DB
}

// NewStore creates a media store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const itemColumns = `id, user_id, library, title, driver, location, path, url, size, mime_type, visibility, created_at, updated_at`

// Create inserts an item and fills in its ID and timestamps
func (s *Store) Create(ctx context.Context, item *Item) error {
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO media_items (user_id, library, title, driver, location, path, url, size, mime_type, visibility, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, item.UserID, item.Library, item.Title, item.Driver, item.Location, item.Path, item.URL, item.Size,
		item.MimeType, string(item.Visibility), now, now).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("failed to create media item: %w", err)
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return nil
}

// Get returns an item of a library
func (s *Store) Get(ctx context.Context, library string, id int64) (*Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM media_items WHERE id = $1 AND library = $2`, id, library))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media item: %w", err)
	}
	return item, nil
}

// List returns a library's items, newest first. A nil ownerID lists every
// user's items.
func (s *Store) List(ctx context.Context, library string, ownerID *int64, page Page) ([]*Item, error) {
	limit, offset := normalizePage(page)

	query := `SELECT ` + itemColumns + ` FROM media_items WHERE library = $1`
	args := []interface{}{library}
	if ownerID != nil {
		query += ` AND user_id = $2`
		args = append(args, *ownerID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list media items: %w", err)
	}
	defer rows.Close()

	items := []*Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateTitle renames an item
func (s *Store) UpdateTitle(ctx context.Context, id int64, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE media_items SET title = $1, updated_at = $2 WHERE id = $3`,
		title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update media item: %w", err)
	}
	return expectOne(res)
}

// Delete removes an item row
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM media_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete media item: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

func normalizePage(p Page) (int, int) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item       Item
		visibility string
	)
	err := row.Scan(&item.ID, &item.UserID, &item.Library, &item.Title, &item.Driver, &item.Location, &item.Path,
		&item.URL, &item.Size, &item.MimeType, &visibility, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Visibility = storage.Visibility(visibility)
	return &item, nil
}
