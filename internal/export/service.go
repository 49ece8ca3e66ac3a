package export

import (
	"context"
	"fmt"
	"time"

	"readinglog/api/internal/store"
)

// DataStore is the read side of the log detail view.
type DataStore interface {
	GetLog(ctx context.Context, userID string, logID int64) (store.BookLog, error)
	ListChapters(ctx context.Context, userID string, logID int64) ([]store.LogChapter, error)
	ListNotes(ctx context.Context, userID string, logID int64) ([]store.LogNote, error)
	ListLogTags(ctx context.Context, userID string, logID int64) ([]store.Tag, error)
}

type pdfFunc func(ctx context.Context, html, title string) (*Result, error)

// Service provides log export functionality
type Service struct {
	store DataStore
	pdf   pdfFunc
	now   func() time.Time
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store, pdf: exportPDF, now: time.Now}
}

// Export loads the caller's log and renders it in the requested format.
// A log owned by someone else surfaces as the store's not-found error.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Format != FormatPDF && req.Format != FormatHTML {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	logEntry, err := s.store.GetLog(ctx, req.UserID, req.LogID)
	if err != nil {
		return nil, fmt.Errorf("get log: %w", err)
	}
	chapters, err := s.store.ListChapters(ctx, req.UserID, req.LogID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	notes, err := s.store.ListNotes(ctx, req.UserID, req.LogID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	tags, err := s.store.ListLogTags(ctx, req.UserID, req.LogID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	data := buildTemplateData(logEntry, chapters, notes, tags)
	data.GeneratedAt = s.now()

	html, err := RenderLogHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(data.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	default:
		return s.pdf(ctx, html, data.Title)
	}
}

func buildTemplateData(logEntry store.BookLog, chapters []store.LogChapter, notes []store.LogNote, tags []store.Tag) TemplateData {
	data := TemplateData{
		Rating:    logEntry.Rating,
		LoggedAt:  logEntry.CreatedAt,
		UpdatedAt: logEntry.UpdatedAt,
		Status:    logEntry.ReadStatus,
		Chapters:  make([]TemplateChapter, 0, len(chapters)),
		Tags:      make([]string, 0, len(tags)),
	}
	if logEntry.Book != nil {
		data.Title = logEntry.Book.Title
		data.Author = deref(logEntry.Book.Author)
		data.ISBN = deref(logEntry.Book.ISBN)
		data.CoverURL = deref(logEntry.Book.CoverImageURL)
	}
	data.Review = deref(logEntry.ReviewText)

	for _, chapter := range chapters {
		data.Chapters = append(data.Chapters, TemplateChapter{
			Number:     chapter.ChapterNumber,
			Title:      deref(chapter.ChapterTitle),
			FinishedAt: chapter.FinishedAt,
		})
	}
	for _, tag := range tags {
		data.Tags = append(data.Tags, tag.Name)
	}
	data.NoteGroups = groupNotes(chapters, notes)
	return data
}

// groupNotes buckets notes by chapter label. Groups follow marker order,
// then labels with no marker in first-seen order, then unlabeled notes.
func groupNotes(chapters []store.LogChapter, notes []store.LogNote) []TemplateNoteGroup {
	order := make([]string, 0)
	seen := make(map[string]bool)
	for _, chapter := range chapters {
		if chapter.ChapterTitle == nil || seen[*chapter.ChapterTitle] {
			continue
		}
		seen[*chapter.ChapterTitle] = true
		order = append(order, *chapter.ChapterTitle)
	}

	byLabel := make(map[string][]string)
	unlabeled := make([]string, 0)
	for _, note := range notes {
		if note.Chapter == nil {
			unlabeled = append(unlabeled, note.NoteText)
			continue
		}
		label := *note.Chapter
		if !seen[label] {
			seen[label] = true
			order = append(order, label)
		}
		byLabel[label] = append(byLabel[label], note.NoteText)
	}

	groups := make([]TemplateNoteGroup, 0, len(order)+1)
	for _, label := range order {
		if len(byLabel[label]) == 0 {
			continue
		}
		groups = append(groups, TemplateNoteGroup{Label: label, Notes: byLabel[label]})
	}
	if len(unlabeled) > 0 {
		groups = append(groups, TemplateNoteGroup{Notes: unlabeled})
	}
	return groups
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
