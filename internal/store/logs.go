package store

import (
	"context"
	"database/sql"
	"fmt"
)

const logColumns = `l.id, l.user_id, l.book_id, l.rating, l.review_text, l.read_status, l.created_at, l.updated_at`

func logScanTargets(log *BookLog, rating *sql.NullInt64, review *sql.NullString) []any {
	return []any{&log.ID, &log.UserID, &log.BookID, rating, review, &log.ReadStatus, &log.CreatedAt, &log.UpdatedAt}
}

// UpsertLog writes the (user, book) log in one statement. created reports
// whether a new row was inserted rather than an existing one updated.
func (s *PostgresStore) UpsertLog(ctx context.Context, input LogUpsert) (BookLog, bool, error) {
	var (
		log     BookLog
		rating  sql.NullInt64
		review  sql.NullString
		created bool
	)
	targets := append(logScanTargets(&log, &rating, &review), &created)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO book_logs AS l (user_id, book_id, rating, review_text, read_status)
		VALUES ($1, $2, $3, $4, 'read')
		ON CONFLICT ON CONSTRAINT book_logs_user_book_key DO UPDATE
		SET rating = EXCLUDED.rating,
			review_text = EXCLUDED.review_text,
			updated_at = NOW()
		RETURNING `+logColumns+`, (xmax = 0) AS created
	`, input.UserID, input.BookID, nullInt(input.Rating), nullString(input.ReviewText)).Scan(targets...)
	if err != nil {
		return BookLog{}, false, wrapWrite("upsert log", err)
	}
	log.Rating = intPtr(rating)
	log.ReviewText = stringPtr(review)
	return log, created, nil
}

// GetLog loads a log owned by userID along with its book.
func (s *PostgresStore) GetLog(ctx context.Context, userID string, logID int64) (BookLog, error) {
	var (
		log    BookLog
		rating sql.NullInt64
		review sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT `+logColumns+`
		FROM book_logs l
		WHERE l.id = $1 AND l.user_id = $2
	`, logID, userID).Scan(logScanTargets(&log, &rating, &review)...)
	if err != nil {
		return BookLog{}, err
	}
	log.Rating = intPtr(rating)
	log.ReviewText = stringPtr(review)

	book, err := s.GetBook(ctx, log.BookID)
	if err == nil {
		log.Book = &book
	} else if !isNoRows(err) {
		return BookLog{}, fmt.Errorf("load log book: %w", err)
	}
	return log, nil
}

// UpdateLog replaces rating and review on a log owned by userID.
func (s *PostgresStore) UpdateLog(ctx context.Context, userID string, logID int64, rating *int, review *string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE book_logs
		SET rating=$3, review_text=$4, updated_at=NOW()
		WHERE id=$1 AND user_id=$2
	`, logID, userID, nullInt(rating), nullString(review))
	if err != nil {
		return false, fmt.Errorf("update log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListLogs returns the user's logs newest first. When tagID is set each row
// carries the count of its links to that tag; rows with no matching link
// are still returned with a count of zero.
func (s *PostgresStore) ListLogs(ctx context.Context, userID string, tagID *int64) ([]LogListItem, error) {
	var tagArg any
	if tagID != nil {
		tagArg = *tagID
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+logColumns+`,
			b.id, b.title, b.author, b.cover_image_url,
			COUNT(lt.tag_id) AS matched_links
		FROM book_logs l
		LEFT JOIN books b ON b.id = l.book_id
		LEFT JOIN log_tags lt ON lt.log_id = l.id AND lt.user_id = l.user_id AND lt.tag_id = $2::bigint
		WHERE l.user_id = $1
		GROUP BY l.id, b.id
		ORDER BY l.created_at DESC, l.id DESC
	`, userID, tagArg)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	items := make([]LogListItem, 0)
	for rows.Next() {
		var (
			item       LogListItem
			rating     sql.NullInt64
			review     sql.NullString
			bookID     sql.NullInt64
			bookTitle  sql.NullString
			bookAuthor sql.NullString
			bookCover  sql.NullString
		)
		targets := append(logScanTargets(&item.BookLog, &rating, &review), &bookID, &bookTitle, &bookAuthor, &bookCover, &item.MatchedLinks)
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		item.Rating = intPtr(rating)
		item.ReviewText = stringPtr(review)
		if bookID.Valid {
			item.Book = &Book{
				ID:            bookID.Int64,
				Title:         bookTitle.String,
				Author:        stringPtr(bookAuthor),
				CoverImageURL: stringPtr(bookCover),
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertNote(ctx context.Context, note LogNote) (LogNote, error) {
	var chapter sql.NullString
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO log_notes (log_id, user_id, chapter, note_text)
		VALUES ($1, $2, $3, $4)
		RETURNING id, log_id, user_id, chapter, note_text, created_at
	`, note.LogID, note.UserID, nullString(note.Chapter), note.NoteText).Scan(
		&note.ID, &note.LogID, &note.UserID, &chapter, &note.NoteText, &note.CreatedAt,
	)
	if err != nil {
		return LogNote{}, wrapWrite("insert note", err)
	}
	note.Chapter = stringPtr(chapter)
	return note, nil
}

// UpdateNoteText edits a note only when it belongs to userID.
func (s *PostgresStore) UpdateNoteText(ctx context.Context, userID string, noteID int64, text string) (LogNote, error) {
	var (
		note    LogNote
		chapter sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		UPDATE log_notes SET note_text=$3
		WHERE id=$1 AND user_id=$2
		RETURNING id, log_id, user_id, chapter, note_text, created_at
	`, noteID, userID, text).Scan(&note.ID, &note.LogID, &note.UserID, &chapter, &note.NoteText, &note.CreatedAt)
	if err != nil {
		return LogNote{}, err
	}
	note.Chapter = stringPtr(chapter)
	return note, nil
}

func (s *PostgresStore) ListNotes(ctx context.Context, userID string, logID int64) ([]LogNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, log_id, user_id, chapter, note_text, created_at
		FROM log_notes
		WHERE log_id=$1 AND user_id=$2
		ORDER BY created_at ASC, id ASC
	`, logID, userID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]LogNote, 0)
	for rows.Next() {
		var (
			item    LogNote
			chapter sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.LogID, &item.UserID, &chapter, &item.NoteText, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		item.Chapter = stringPtr(chapter)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

const chapterColumns = `id, log_id, user_id, chapter_number, chapter_title, finished_at, created_at`

func scanChapter(row interface{ Scan(...any) error }) (LogChapter, error) {
	var (
		chapter  LogChapter
		number   sql.NullInt64
		title    sql.NullString
		finished sql.NullTime
	)
	if err := row.Scan(&chapter.ID, &chapter.LogID, &chapter.UserID, &number, &title, &finished, &chapter.CreatedAt); err != nil {
		return LogChapter{}, err
	}
	chapter.ChapterNumber = intPtr(number)
	chapter.ChapterTitle = stringPtr(title)
	chapter.FinishedAt = timePtr(finished)
	return chapter, nil
}

func (s *PostgresStore) InsertChapter(ctx context.Context, chapter LogChapter) (LogChapter, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO log_chapters (log_id, user_id, chapter_number, chapter_title, finished_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+chapterColumns,
		chapter.LogID, chapter.UserID, nullInt(chapter.ChapterNumber), nullString(chapter.ChapterTitle), nullTime(chapter.FinishedAt),
	)
	created, err := scanChapter(row)
	if err != nil {
		return LogChapter{}, wrapWrite("insert chapter", err)
	}
	return created, nil
}

func (s *PostgresStore) GetChapter(ctx context.Context, userID string, chapterID int64) (LogChapter, error) {
	return scanChapter(s.db.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM log_chapters WHERE id=$1 AND user_id=$2`, chapterID, userID))
}

// UpdateChapterTitle sets the marker title. A nil title clears it.
func (s *PostgresStore) UpdateChapterTitle(ctx context.Context, userID string, chapterID int64, title *string) (LogChapter, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE log_chapters SET chapter_title=$3
		WHERE id=$1 AND user_id=$2
		RETURNING `+chapterColumns,
		chapterID, userID, nullString(title),
	)
	return scanChapter(row)
}

// RelabelNotes moves every note of the log whose chapter label equals from
// to the label to. A nil from matches notes with no label.
func (s *PostgresStore) RelabelNotes(ctx context.Context, userID string, logID int64, from, to *string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE log_notes SET chapter=$4
		WHERE log_id=$1 AND user_id=$2 AND chapter IS NOT DISTINCT FROM $3::text
	`, logID, userID, nullString(from), nullString(to))
	if err != nil {
		return 0, fmt.Errorf("relabel notes: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *PostgresStore) ListChapters(ctx context.Context, userID string, logID int64) ([]LogChapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chapterColumns+`
		FROM log_chapters
		WHERE log_id=$1 AND user_id=$2
		ORDER BY created_at ASC, id ASC
	`, logID, userID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	items := make([]LogChapter, 0)
	for rows.Next() {
		item, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapters: %w", err)
	}
	return items, nil
}
