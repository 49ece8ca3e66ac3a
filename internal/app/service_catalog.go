package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"readinglog/api/internal/export"
	"readinglog/api/internal/rbac"
	"readinglog/api/internal/search"
	"readinglog/api/internal/storage"
	"readinglog/api/internal/store"
)

type BookInput struct {
	Title         string  `json:"title" validate:"notblank,max=500"`
	Author        *string `json:"author" validate:"omitempty,max=300"`
	ISBN          *string `json:"isbn" validate:"omitempty,max=32"`
	CoverImageURL *string `json:"coverImageUrl" validate:"omitempty,max=2048"`
}

// SearchBooks runs a catalog search for one search box of the caller,
// identified by viewID. Any backend failure becomes SEARCH_FAILED; the
// caller shows the message and clears its results.
func (s *Service) SearchBooks(ctx context.Context, session Session, query, viewID string, seq *int64) (search.Response, error) {
	if err := s.validate.Var("view", viewID, "omitempty,max=64"); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{}, domainError(http.StatusBadGateway, "SEARCH_FAILED", "Could not perform book search.", nil)
	}
	resp, err := s.search.Search(ctx, search.ViewScope(session.UserID, viewID), query, seq)
	if err != nil {
		log.Printf("search: %v", err)
		return search.Response{}, domainError(http.StatusBadGateway, "SEARCH_FAILED", "Could not perform book search.", nil)
	}
	return resp, nil
}

func (s *Service) GetBook(ctx context.Context, bookID int64) (map[string]any, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Book not found")
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"book": bookPayload(book)}, nil
}

// CreateBook adds a shared catalog entry and indexes it in the background.
func (s *Service) CreateBook(ctx context.Context, session Session, input BookInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionCatalogAdd) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err := s.validate.Validate(input); err != nil {
		return nil, err
	}
	createdBy := session.UserID
	book, err := s.store.InsertBook(ctx, store.Book{
		Title:         *trimmedOrNil(&input.Title),
		Author:        trimmedOrNil(input.Author),
		ISBN:          trimmedOrNil(input.ISBN),
		CoverImageURL: trimmedOrNil(input.CoverImageURL),
		CreatedBy:     &createdBy,
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, domainError(http.StatusConflict, "ALREADY_EXISTS", "A book with this identifier already exists.", nil)
	}
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexBook(book)
	}
	return map[string]any{"book": bookPayload(book)}, nil
}

// UploadCover stores a new cover image and points the book at it.
func (s *Service) UploadCover(ctx context.Context, session Session, bookID int64, contentType string, body io.Reader) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionCatalogManage) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if s.covers == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Cover storage is not configured", nil)
	}
	if _, err := s.store.GetBook(ctx, bookID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Book not found")
		}
		return nil, err
	}

	url, err := s.covers.UploadCover(ctx, bookID, contentType, body)
	switch {
	case errors.Is(err, storage.ErrTooLarge):
		return nil, domainError(http.StatusRequestEntityTooLarge, "COVER_TOO_LARGE", fmt.Sprintf("Cover images must be at most %d MiB", storage.MaxCoverBytes>>20), nil)
	case errors.Is(err, storage.ErrUnsupportedType):
		return nil, domainError(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Cover must be a JPEG, PNG, GIF, WebP or AVIF image", nil)
	case errors.Is(err, storage.ErrEmpty):
		return nil, invalidField("body", "must not be empty")
	case err != nil:
		return nil, err
	}

	updated, err := s.store.UpdateBookCover(ctx, bookID, url)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, notFound("Book not found")
	}
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexBook(book)
	}
	return map[string]any{"book": bookPayload(book)}, nil
}

func (s *Service) ExportLog(ctx context.Context, session Session, logID int64, format string) (*export.Result, error) {
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, invalidField("format", "must be one of: pdf html")
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not available", nil)
	}
	result, err := s.exporter.Export(ctx, export.Request{UserID: session.UserID, LogID: logID, Format: parsed})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Log not found")
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
