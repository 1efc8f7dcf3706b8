package store

import (
	"context"
	"fmt"

	"github.com/roach88/wins/internal/win"
)

// Insert appends a win and returns it as stored. The id and created_at are
// assigned here, inside the same statement as the write, so a returned
// record is fully durable.
//
// Title and category are normalized first. A blank title fails with
// KindConstraint before any SQL runs.
func (s *Store) Insert(ctx context.Context, title, category string) (win.Record, error) {
	rec := win.Record{
		Title:    win.NormalizeTitle(title),
		Category: win.NormalizeCategory(category),
	}
	if rec.Title == "" {
		return win.Record{}, &Error{Kind: KindConstraint, Op: "insert", Err: ErrEmptyTitle}
	}
	rec.CreatedAt = win.FormatTime(s.clock.Now())

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO wins (title, category, created_at)
		VALUES (?, ?, ?)
	`, rec.Title, rec.Category, rec.CreatedAt)
	if err != nil {
		return win.Record{}, classify("insert", err)
	}

	rec.ID, err = result.LastInsertId()
	if err != nil {
		return win.Record{}, classify("insert", fmt.Errorf("last insert id: %w", err))
	}

	return rec, nil
}

// ListAll returns every win, newest first: created_at DESC, then id DESC.
// A single SELECT runs against one snapshot, so no row is half-written.
//
// Returns an empty slice (not nil) for an empty table.
func (s *Store) ListAll(ctx context.Context) ([]win.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, COALESCE(category, ?), created_at
		FROM wins
		ORDER BY created_at DESC, id DESC
	`, win.DefaultCategory)
	if err != nil {
		return nil, classify("list", err)
	}
	defer rows.Close()

	records := []win.Record{}
	for rows.Next() {
		var rec win.Record
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Category, &rec.CreatedAt); err != nil {
			return nil, classify("list", fmt.Errorf("scan: %w", err))
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, classify("list", fmt.Errorf("iterate: %w", err))
	}

	return records, nil
}

// Count returns the number of stored wins.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM wins").Scan(&n); err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}
