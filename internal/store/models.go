package store

import "time"

type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Book is a shared catalog entry. It is never owned by a single reader.
type Book struct {
	ID            int64
	Title         string
	Author        *string
	ISBN          *string
	CoverImageURL *string
	CreatedBy     *string
	CreatedAt     time.Time
}

// BookLog is one reader's record of one book. Rating is nil when the
// reader gave no rating, which is not the same as a rating of zero.
type BookLog struct {
	ID         int64
	UserID     string
	BookID     int64
	Rating     *int
	ReviewText *string
	ReadStatus string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Book       *Book
}

// LogListItem is a log row from the listing query together with the number
// of links it has to the requested filter tag.
type LogListItem struct {
	BookLog
	MatchedLinks int
}

type LogUpsert struct {
	UserID     string
	BookID     int64
	Rating     *int
	ReviewText *string
}

type LogChapter struct {
	ID            int64
	LogID         int64
	UserID        string
	ChapterNumber *int
	ChapterTitle  *string
	FinishedAt    *time.Time
	CreatedAt     time.Time
}

// LogNote carries an optional chapter label. The label is matched against
// LogChapter.ChapterTitle by value and has no foreign key.
type LogNote struct {
	ID        int64
	LogID     int64
	UserID    string
	Chapter   *string
	NoteText  string
	CreatedAt time.Time
}

type Tag struct {
	ID        int64
	UserID    string
	Name      string
	CreatedAt time.Time
}

type LogTag struct {
	LogID  int64
	TagID  int64
	UserID string
}
