package search

import (
	"context"
	"strings"

	"readinglog/api/internal/store"
)

// MaxResults caps every catalog search response.
const MaxResults = 10

// BookRecord is the catalog entry shape used for both indexing and results.
type BookRecord struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author,omitempty"`
	ISBN          string `json:"isbn,omitempty"`
	CoverImageURL string `json:"coverImageUrl,omitempty"`
}

// Response is the envelope returned by the search endpoint. Superseded
// responses carry no results and must not replace what a client shows.
type Response struct {
	Results    []BookRecord `json:"results"`
	Superseded bool         `json:"superseded,omitempty"`
	Seq        *int64       `json:"seq,omitempty"`
}

// TitleMatcher finds books whose title contains a query, ignoring case.
type TitleMatcher interface {
	SearchBooksByTitle(ctx context.Context, query string, limit int) ([]store.Book, error)
}

func RecordFromBook(book store.Book) BookRecord {
	record := BookRecord{ID: book.ID, Title: book.Title}
	if book.Author != nil {
		record.Author = *book.Author
	}
	if book.ISBN != nil {
		record.ISBN = *book.ISBN
	}
	if book.CoverImageURL != nil {
		record.CoverImageURL = *book.CoverImageURL
	}
	return record
}

// titleContains is the match rule every backend result must satisfy.
func titleContains(title, query string) bool {
	return strings.Contains(strings.ToLower(title), strings.ToLower(query))
}
