package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) FindTag(ctx context.Context, userID, name string) (Tag, error) {
	var tag Tag
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, created_at FROM tags WHERE user_id=$1 AND name=$2
	`, userID, name).Scan(&tag.ID, &tag.UserID, &tag.Name, &tag.CreatedAt)
	if err != nil {
		return Tag{}, err
	}
	return tag, nil
}

// InsertTag creates a tag. A concurrent insert of the same (user, name)
// surfaces as ErrConflict.
func (s *PostgresStore) InsertTag(ctx context.Context, userID, name string) (Tag, error) {
	var tag Tag
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tags (user_id, name) VALUES ($1, $2)
		RETURNING id, user_id, name, created_at
	`, userID, name).Scan(&tag.ID, &tag.UserID, &tag.Name, &tag.CreatedAt)
	if err != nil {
		return Tag{}, wrapWrite("insert tag", err)
	}
	return tag, nil
}

func (s *PostgresStore) ListUserTags(ctx context.Context, userID string) ([]Tag, error) {
	return s.queryTags(ctx, `
		SELECT id, user_id, name, created_at
		FROM tags
		WHERE user_id=$1
		ORDER BY name ASC
	`, userID)
}

// ListLogTags returns the tags linked to a log sorted by name.
func (s *PostgresStore) ListLogTags(ctx context.Context, userID string, logID int64) ([]Tag, error) {
	return s.queryTags(ctx, `
		SELECT t.id, t.user_id, t.name, t.created_at
		FROM log_tags lt
		JOIN tags t ON t.id = lt.tag_id
		WHERE lt.log_id=$1 AND lt.user_id=$2
		ORDER BY t.name ASC
	`, logID, userID)
}

func (s *PostgresStore) queryTags(ctx context.Context, query string, args ...any) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var item Tag
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return items, nil
}

// InsertLogTag links a tag to a log. An existing link surfaces as ErrConflict.
func (s *PostgresStore) InsertLogTag(ctx context.Context, link LogTag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO log_tags (log_id, tag_id, user_id) VALUES ($1, $2, $3)
	`, link.LogID, link.TagID, link.UserID)
	return wrapWrite("insert log tag", err)
}

// DeleteLogTag removes a link only. The tag itself is kept.
func (s *PostgresStore) DeleteLogTag(ctx context.Context, link LogTag) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM log_tags WHERE log_id=$1 AND tag_id=$2 AND user_id=$3
	`, link.LogID, link.TagID, link.UserID)
	if err != nil {
		return false, fmt.Errorf("delete log tag: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
