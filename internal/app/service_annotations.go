package app

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"readinglog/api/internal/events"
	"readinglog/api/internal/store"
)

type NoteInput struct {
	Text    string  `json:"text" validate:"notblank"`
	Chapter *string `json:"chapter"`
}

type ChapterInput struct {
	Title         string `json:"title" validate:"notblank"`
	ChapterNumber *int   `json:"chapterNumber" validate:"omitempty,gte=0"`
}

type RenameChapterInput struct {
	Title *string `json:"title"`
}

const warnRelabelFailed = "marker updated, but linked notes failed to update"

// AddNote appends a note. The chapter label is free text and is not
// checked against the log's markers.
func (s *Service) AddNote(ctx context.Context, session Session, logID int64, input NoteInput) (map[string]any, error) {
	if err := s.validate.Validate(input); err != nil {
		return nil, err
	}
	if _, err := s.ownedLog(ctx, session, logID); err != nil {
		return nil, err
	}
	note, err := s.store.InsertNote(ctx, store.LogNote{
		LogID:    logID,
		UserID:   session.UserID,
		Chapter:  trimmedOrNil(input.Chapter),
		NoteText: *trimmedOrNil(&input.Text),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"note": notePayload(note)}, nil
}

func (s *Service) EditNote(ctx context.Context, session Session, noteID int64, input NoteInput) (map[string]any, error) {
	if err := s.validate.Var("text", input.Text, "notblank"); err != nil {
		return nil, err
	}
	note, err := s.store.UpdateNoteText(ctx, session.UserID, noteID, *trimmedOrNil(&input.Text))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Note not found")
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"note": notePayload(note)}, nil
}

func (s *Service) AddChapter(ctx context.Context, session Session, logID int64, input ChapterInput) (map[string]any, error) {
	if err := s.validate.Validate(input); err != nil {
		return nil, err
	}
	if _, err := s.ownedLog(ctx, session, logID); err != nil {
		return nil, err
	}
	chapter, err := s.store.InsertChapter(ctx, store.LogChapter{
		LogID:         logID,
		UserID:        session.UserID,
		ChapterNumber: input.ChapterNumber,
		ChapterTitle:  trimmedOrNil(&input.Title),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"chapter": chapterPayload(chapter)}, nil
}

// RenameChapter retitles a marker and then moves the notes that carried the
// old title. The two writes are separate: when the second fails the marker
// keeps its new title and the response carries a warning.
func (s *Service) RenameChapter(ctx context.Context, session Session, chapterID int64, input RenameChapterInput) (map[string]any, error) {
	previous, err := s.store.GetChapter(ctx, session.UserID, chapterID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Chapter not found")
	}
	if err != nil {
		return nil, err
	}

	title := trimmedOrNil(input.Title)
	updated, err := s.store.UpdateChapterTitle(ctx, session.UserID, chapterID, title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Chapter not found")
	}
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"chapter":      chapterPayload(updated),
		"notesUpdated": int64(0),
	}
	if sameLabel(previous.ChapterTitle, title) {
		return payload, nil
	}

	moved, err := s.store.RelabelNotes(ctx, session.UserID, previous.LogID, previous.ChapterTitle, title)
	if err != nil {
		log.Printf("chapters: relabel notes for chapter %d: %v", chapterID, err)
		payload["warning"] = warnRelabelFailed
		payload["code"] = "NOTES_RELABEL_FAILED"
	} else {
		payload["notesUpdated"] = moved
	}

	s.events.PublishAsync(events.ChapterRenamed, session.UserID, events.ChapterRenamedData{
		ChapterID:    chapterID,
		LogID:        previous.LogID,
		From:         previous.ChapterTitle,
		To:           title,
		NotesUpdated: moved,
	})
	return payload, nil
}

func sameLabel(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
