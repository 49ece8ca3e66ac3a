package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"readinglog/api/internal/events"
	"readinglog/api/internal/gitrepo"
	"readinglog/api/internal/store"
)

type UpsertLogInput struct {
	BookID  int64   `json:"bookId" validate:"required,gt=0"`
	Rating  *int    `json:"rating" validate:"omitempty,gte=0,lte=10"`
	Review  *string `json:"review"`
	Note    *string `json:"note"`
	Chapter *string `json:"chapter"`
}

type UpdateLogInput struct {
	Rating *int    `json:"rating" validate:"omitempty,gte=0,lte=10"`
	Review *string `json:"review"`
}

const (
	warnInitialNote    = "Could not save initial note."
	warnInitialChapter = "Could not save initial chapter log."
)

// UpsertLog records the caller's log of a book. One statement either
// creates the (user, book) row or updates it in place; the optional initial
// note and chapter are best effort and only add warnings on failure.
func (s *Service) UpsertLog(ctx context.Context, session Session, input UpsertLogInput) (map[string]any, bool, error) {
	if err := s.validate.Validate(input); err != nil {
		return nil, false, err
	}

	book, err := s.store.GetBook(ctx, input.BookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, notFound("Book not found")
	}
	if err != nil {
		return nil, false, fmt.Errorf("get book: %w", err)
	}

	entry, created, err := s.store.UpsertLog(ctx, store.LogUpsert{
		UserID:     session.UserID,
		BookID:     book.ID,
		Rating:     input.Rating,
		ReviewText: trimmedOrNil(input.Review),
	})
	if err != nil {
		return nil, false, err
	}
	entry.Book = &book

	warnings := make([]string, 0)
	chapter := trimmedOrNil(input.Chapter)
	if text := trimmedOrNil(input.Note); text != nil {
		_, err := s.store.InsertNote(ctx, store.LogNote{
			LogID:    entry.ID,
			UserID:   session.UserID,
			Chapter:  chapter,
			NoteText: *text,
		})
		if err != nil {
			log.Printf("logs: initial note for log %d: %v", entry.ID, err)
			warnings = append(warnings, warnInitialNote)
		}
	}
	if chapter != nil {
		_, err := s.store.InsertChapter(ctx, store.LogChapter{
			LogID:        entry.ID,
			UserID:       session.UserID,
			ChapterTitle: chapter,
		})
		if err != nil {
			log.Printf("logs: initial chapter for log %d: %v", entry.ID, err)
			warnings = append(warnings, warnInitialChapter)
		}
	}

	s.recordReview(session, entry)
	s.events.PublishAsync(events.LogUpserted, session.UserID, events.LogUpsertedData{
		LogID:   entry.ID,
		BookID:  entry.BookID,
		Created: created,
		Rating:  entry.Rating,
	})

	return map[string]any{
		"log":      logPayload(entry),
		"created":  created,
		"message":  fmt.Sprintf("Successfully logged '%s'!", book.Title),
		"warnings": warnings,
	}, created, nil
}

func (s *Service) UpdateLog(ctx context.Context, session Session, logID int64, input UpdateLogInput) (map[string]any, error) {
	if err := s.validate.Validate(input); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateLog(ctx, session.UserID, logID, input.Rating, trimmedOrNil(input.Review))
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, notFound("Log not found")
	}
	entry, err := s.store.GetLog(ctx, session.UserID, logID)
	if err != nil {
		return nil, err
	}

	s.recordReview(session, entry)
	s.events.PublishAsync(events.LogUpserted, session.UserID, events.LogUpsertedData{
		LogID:  entry.ID,
		BookID: entry.BookID,
		Rating: entry.Rating,
	})
	return map[string]any{"log": logPayload(entry)}, nil
}

// GetLogDetail loads everything the detail view shows for one log.
func (s *Service) GetLogDetail(ctx context.Context, session Session, logID int64) (map[string]any, error) {
	entry, err := s.ownedLog(ctx, session, logID)
	if err != nil {
		return nil, err
	}
	notes, err := s.store.ListNotes(ctx, session.UserID, logID)
	if err != nil {
		return nil, err
	}
	chapters, err := s.store.ListChapters(ctx, session.UserID, logID)
	if err != nil {
		return nil, err
	}
	tags, err := s.store.ListLogTags(ctx, session.UserID, logID)
	if err != nil {
		return nil, err
	}

	notePayloads := make([]map[string]any, 0, len(notes))
	for _, note := range notes {
		notePayloads = append(notePayloads, notePayload(note))
	}
	chapterPayloads := make([]map[string]any, 0, len(chapters))
	for _, chapter := range chapters {
		chapterPayloads = append(chapterPayloads, chapterPayload(chapter))
	}
	return map[string]any{
		"log":      logPayload(entry),
		"notes":    notePayloads,
		"chapters": chapterPayloads,
		"tags":     tagsPayload(sortTags(tags)),
	}, nil
}

// ListLogs returns the caller's logs newest first. With a tag filter, rows
// the outer join produced without a matching link are dropped here.
func (s *Service) ListLogs(ctx context.Context, session Session, tagID *int64) (map[string]any, error) {
	rows, err := s.store.ListLogs(ctx, session.UserID, tagID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if tagID != nil && row.MatchedLinks == 0 {
			continue
		}
		items = append(items, logPayload(row.BookLog))
	}
	return map[string]any{"logs": items}, nil
}

func (s *Service) ReviewHistory(ctx context.Context, session Session, logID int64, limit int) (map[string]any, error) {
	if _, err := s.ownedLog(ctx, session, logID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return map[string]any{"history": []map[string]any{}}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	commits, err := s.history.History(logID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, commitPayload(commit))
	}
	return map[string]any{"history": items}, nil
}

func (s *Service) ReviewAtCommit(ctx context.Context, session Session, logID int64, hash string) (map[string]any, error) {
	if _, err := s.ownedLog(ctx, session, logID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, notFound("Review version not found")
	}
	snapshot, commit, err := s.history.GetReviewByHash(logID, strings.TrimSpace(hash))
	if errors.Is(err, gitrepo.ErrNoHistory) || errors.Is(err, gitrepo.ErrCommitNotFound) {
		return nil, notFound("Review version not found")
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"commit": commitPayload(commit),
		"review": map[string]any{
			"bookTitle": snapshot.BookTitle,
			"rating":    snapshot.Rating,
			"review":    snapshot.Review,
			"updatedAt": snapshot.UpdatedAt,
		},
	}, nil
}

// recordReview commits the review snapshot. Failures are logged only.
func (s *Service) recordReview(session Session, entry store.BookLog) {
	if s.history == nil {
		return
	}
	title := ""
	if entry.Book != nil {
		title = entry.Book.Title
	}
	_, _, err := s.history.CommitReview(gitrepo.Snapshot{
		LogID:     entry.ID,
		BookTitle: title,
		Rating:    entry.Rating,
		Review:    entry.ReviewText,
		UpdatedAt: entry.UpdatedAt,
	}, session.DisplayName)
	if err != nil {
		log.Printf("logs: review history for log %d: %v", entry.ID, err)
	}
}

func (s *Service) ownedLog(ctx context.Context, session Session, logID int64) (store.BookLog, error) {
	entry, err := s.store.GetLog(ctx, session.UserID, logID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.BookLog{}, notFound("Log not found")
	}
	if err != nil {
		return store.BookLog{}, err
	}
	return entry, nil
}

// trimmedOrNil trims value and maps blank to nil.
func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
