package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const bookColumns = `id, title, author, isbn, cover_image_url, created_by, created_at`

func scanBook(row interface{ Scan(...any) error }) (Book, error) {
	var (
		book      Book
		author    sql.NullString
		isbn      sql.NullString
		cover     sql.NullString
		createdBy sql.NullString
	)
	if err := row.Scan(&book.ID, &book.Title, &author, &isbn, &cover, &createdBy, &book.CreatedAt); err != nil {
		return Book{}, err
	}
	book.Author = stringPtr(author)
	book.ISBN = stringPtr(isbn)
	book.CoverImageURL = stringPtr(cover)
	book.CreatedBy = stringPtr(createdBy)
	return book, nil
}

func (s *PostgresStore) InsertBook(ctx context.Context, book Book) (Book, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO books (title, author, isbn, cover_image_url, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+bookColumns,
		book.Title, nullString(book.Author), nullString(book.ISBN), nullString(book.CoverImageURL), nullString(book.CreatedBy),
	)
	created, err := scanBook(row)
	if err != nil {
		return Book{}, wrapWrite("insert book", err)
	}
	return created, nil
}

func (s *PostgresStore) GetBook(ctx context.Context, bookID int64) (Book, error) {
	return scanBook(s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id=$1`, bookID))
}

// SearchBooksByTitle matches title case-insensitively as a substring,
// treating LIKE wildcards in query literally.
func (s *PostgresStore) SearchBooksByTitle(ctx context.Context, query string, limit int) ([]Book, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bookColumns+`
		FROM books
		WHERE lower(title) LIKE $1 ESCAPE '\'
		ORDER BY title ASC, id ASC
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	defer rows.Close()

	items := make([]Book, 0)
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		items = append(items, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}
	return items, nil
}

// ListBooks pages through the catalog by id for reindexing.
func (s *PostgresStore) ListBooks(ctx context.Context, afterID int64, limit int) ([]Book, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bookColumns+`
		FROM books
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	items := make([]Book, 0)
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		items = append(items, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateBookCover(ctx context.Context, bookID int64, coverURL string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE books SET cover_image_url=$2 WHERE id=$1`, bookID, coverURL)
	if err != nil {
		return false, fmt.Errorf("update book cover: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
