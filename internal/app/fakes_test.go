package app

import (
	"context"
	"database/sql"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"readinglog/api/internal/config"
	"readinglog/api/internal/export"
	"readinglog/api/internal/gitrepo"
	"readinglog/api/internal/search"
	"readinglog/api/internal/store"
)

// fakeStore is an in-memory DataStore, SessionStore and authpw.UserStore.
// The func fields override single methods to inject failures.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	clock    time.Time
	users    map[string]store.User
	books    map[int64]store.Book
	logs     []store.BookLog
	notes    []store.LogNote
	chapters []store.LogChapter
	tags     []store.Tag
	links    []store.LogTag
	refresh  map[string]string
	revoked  map[string]bool
	resets   map[string]string

	pingFn          func(context.Context) error
	insertNoteFn    func(context.Context, store.LogNote) (store.LogNote, error)
	insertChapterFn func(context.Context, store.LogChapter) (store.LogChapter, error)
	relabelNotesFn  func(context.Context, string, int64, *string, *string) (int64, error)
	insertTagFn     func(context.Context, string, string) (store.Tag, error)
	insertLogTagFn  func(context.Context, store.LogTag) error
	listLogsFn      func(context.Context, string, *int64) ([]store.LogListItem, error)
	insertBookFn    func(context.Context, store.Book) (store.Book, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		users:   map[string]store.User{},
		books:   map[int64]store.Book{},
		refresh: map[string]string{},
		revoked: map[string]bool{},
		resets:  map[string]string{},
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func (f *fakeStore) addUser(user store.User) store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.Role == "" {
		user.Role = "reader"
	}
	f.users[user.ID] = user
	return user
}

func (f *fakeStore) addBook(title string) store.Book {
	f.mu.Lock()
	defer f.mu.Unlock()
	book := store.Book{ID: f.id(), Title: title, CreatedAt: f.tick()}
	f.books[book.ID] = book
	return book
}

func (f *fakeStore) addTag(userID, name string) store.Tag {
	f.mu.Lock()
	defer f.mu.Unlock()
	tag := store.Tag{ID: f.id(), UserID: userID, Name: name, CreatedAt: f.tick()}
	f.tags = append(f.tags, tag)
	return tag
}

func (f *fakeStore) logsFor(userID string) []store.BookLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.BookLog
	for _, entry := range f.logs {
		if entry.UserID == userID {
			out = append(out, entry)
		}
	}
	return out
}

func (f *fakeStore) linkCount(logID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, link := range f.links {
		if link.LogID == logID {
			count++
		}
	}
	return count
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return store.ErrConflict
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, tokenHash string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[tokenHash] = userID
	return nil
}

func (f *fakeStore) ConsumePasswordReset(_ context.Context, tokenHash, passwordHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[tokenHash]
	if !ok {
		return "", sql.ErrNoRows
	}
	delete(f.resets, tokenHash)
	user := f.users[userID]
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return userID, nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.users[userID], nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) InsertBook(ctx context.Context, book store.Book) (store.Book, error) {
	if f.insertBookFn != nil {
		return f.insertBookFn(ctx, book)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	book.ID = f.id()
	book.CreatedAt = f.tick()
	f.books[book.ID] = book
	return book, nil
}

func (f *fakeStore) GetBook(_ context.Context, bookID int64) (store.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	book, ok := f.books[bookID]
	if !ok {
		return store.Book{}, sql.ErrNoRows
	}
	return book, nil
}

func (f *fakeStore) UpdateBookCover(_ context.Context, bookID int64, coverURL string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	book, ok := f.books[bookID]
	if !ok {
		return false, nil
	}
	book.CoverImageURL = &coverURL
	f.books[bookID] = book
	return true, nil
}

func (f *fakeStore) UpsertLog(_ context.Context, input store.LogUpsert) (store.BookLog, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	for i, entry := range f.logs {
		if entry.UserID == input.UserID && entry.BookID == input.BookID {
			entry.Rating = input.Rating
			entry.ReviewText = input.ReviewText
			entry.UpdatedAt = now
			f.logs[i] = entry
			return entry, false, nil
		}
	}
	entry := store.BookLog{
		ID:         f.id(),
		UserID:     input.UserID,
		BookID:     input.BookID,
		Rating:     input.Rating,
		ReviewText: input.ReviewText,
		ReadStatus: "read",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	f.logs = append(f.logs, entry)
	return entry, true, nil
}

func (f *fakeStore) GetLog(_ context.Context, userID string, logID int64) (store.BookLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range f.logs {
		if entry.ID == logID && entry.UserID == userID {
			book := f.books[entry.BookID]
			entry.Book = &book
			return entry, nil
		}
	}
	return store.BookLog{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateLog(_ context.Context, userID string, logID int64, rating *int, review *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, entry := range f.logs {
		if entry.ID == logID && entry.UserID == userID {
			entry.Rating = rating
			entry.ReviewText = review
			entry.UpdatedAt = f.tick()
			f.logs[i] = entry
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListLogs(ctx context.Context, userID string, tagID *int64) ([]store.LogListItem, error) {
	if f.listLogsFn != nil {
		return f.listLogsFn(ctx, userID, tagID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.LogListItem
	for _, entry := range f.logs {
		if entry.UserID != userID {
			continue
		}
		book := f.books[entry.BookID]
		entry.Book = &book
		matched := 0
		if tagID != nil {
			for _, link := range f.links {
				if link.LogID == entry.ID && link.TagID == *tagID {
					matched++
				}
			}
		}
		items = append(items, store.LogListItem{BookLog: entry, MatchedLinks: matched})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (f *fakeStore) InsertNote(ctx context.Context, note store.LogNote) (store.LogNote, error) {
	if f.insertNoteFn != nil {
		return f.insertNoteFn(ctx, note)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	note.ID = f.id()
	note.CreatedAt = f.tick()
	f.notes = append(f.notes, note)
	return note, nil
}

func (f *fakeStore) UpdateNoteText(_ context.Context, userID string, noteID int64, text string) (store.LogNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, note := range f.notes {
		if note.ID == noteID && note.UserID == userID {
			note.NoteText = text
			f.notes[i] = note
			return note, nil
		}
	}
	return store.LogNote{}, sql.ErrNoRows
}

func (f *fakeStore) ListNotes(_ context.Context, userID string, logID int64) ([]store.LogNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.LogNote
	for _, note := range f.notes {
		if note.LogID == logID && note.UserID == userID {
			out = append(out, note)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertChapter(ctx context.Context, chapter store.LogChapter) (store.LogChapter, error) {
	if f.insertChapterFn != nil {
		return f.insertChapterFn(ctx, chapter)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	chapter.ID = f.id()
	chapter.CreatedAt = f.tick()
	f.chapters = append(f.chapters, chapter)
	return chapter, nil
}

func (f *fakeStore) GetChapter(_ context.Context, userID string, chapterID int64) (store.LogChapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, chapter := range f.chapters {
		if chapter.ID == chapterID && chapter.UserID == userID {
			return chapter, nil
		}
	}
	return store.LogChapter{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateChapterTitle(_ context.Context, userID string, chapterID int64, title *string) (store.LogChapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, chapter := range f.chapters {
		if chapter.ID == chapterID && chapter.UserID == userID {
			chapter.ChapterTitle = title
			f.chapters[i] = chapter
			return chapter, nil
		}
	}
	return store.LogChapter{}, sql.ErrNoRows
}

func (f *fakeStore) RelabelNotes(ctx context.Context, userID string, logID int64, from, to *string) (int64, error) {
	if f.relabelNotesFn != nil {
		return f.relabelNotesFn(ctx, userID, logID, from, to)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var moved int64
	for i, note := range f.notes {
		if note.LogID == logID && note.UserID == userID && sameLabel(note.Chapter, from) {
			note.Chapter = to
			f.notes[i] = note
			moved++
		}
	}
	return moved, nil
}

func (f *fakeStore) ListChapters(_ context.Context, userID string, logID int64) ([]store.LogChapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.LogChapter
	for _, chapter := range f.chapters {
		if chapter.LogID == logID && chapter.UserID == userID {
			out = append(out, chapter)
		}
	}
	return out, nil
}

func (f *fakeStore) FindTag(_ context.Context, userID, name string) (store.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tag := range f.tags {
		if tag.UserID == userID && tag.Name == name {
			return tag, nil
		}
	}
	return store.Tag{}, sql.ErrNoRows
}

func (f *fakeStore) InsertTag(ctx context.Context, userID, name string) (store.Tag, error) {
	if f.insertTagFn != nil {
		return f.insertTagFn(ctx, userID, name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tag := range f.tags {
		if tag.UserID == userID && tag.Name == name {
			return store.Tag{}, store.ErrConflict
		}
	}
	tag := store.Tag{ID: f.id(), UserID: userID, Name: name, CreatedAt: f.tick()}
	f.tags = append(f.tags, tag)
	return tag, nil
}

func (f *fakeStore) ListUserTags(_ context.Context, userID string) ([]store.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Tag
	for _, tag := range f.tags {
		if tag.UserID == userID {
			out = append(out, tag)
		}
	}
	return out, nil
}

func (f *fakeStore) ListLogTags(_ context.Context, userID string, logID int64) ([]store.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Tag
	for _, link := range f.links {
		if link.LogID != logID || link.UserID != userID {
			continue
		}
		for _, tag := range f.tags {
			if tag.ID == link.TagID {
				out = append(out, tag)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) InsertLogTag(ctx context.Context, link store.LogTag) error {
	if f.insertLogTagFn != nil {
		return f.insertLogTagFn(ctx, link)
	}
	return f.insertLink(link)
}

func (f *fakeStore) insertLink(link store.LogTag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.links {
		if existing.LogID == link.LogID && existing.TagID == link.TagID {
			return store.ErrConflict
		}
	}
	f.links = append(f.links, link)
	return nil
}

func (f *fakeStore) DeleteLogTag(_ context.Context, link store.LogTag) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.links {
		if existing == link {
			f.links = append(f.links[:i], f.links[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type fakeHistory struct {
	mu        sync.Mutex
	snapshots []gitrepo.Snapshot
	commitErr error
	lookupErr error
}

func (f *fakeHistory) CommitReview(snapshot gitrepo.Snapshot, author string) (gitrepo.CommitInfo, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return gitrepo.CommitInfo{}, false, f.commitErr
	}
	f.snapshots = append(f.snapshots, snapshot)
	return gitrepo.CommitInfo{Hash: "abc1234", Author: author}, true, nil
}

func (f *fakeHistory) History(logID int64, limit int) ([]gitrepo.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gitrepo.CommitInfo
	for _, snapshot := range f.snapshots {
		if snapshot.LogID == logID && len(out) < limit {
			out = append(out, gitrepo.CommitInfo{Hash: "abc1234", Message: "Log review: " + snapshot.BookTitle})
		}
	}
	return out, nil
}

func (f *fakeHistory) GetReviewByHash(logID int64, hash string) (gitrepo.Snapshot, gitrepo.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return gitrepo.Snapshot{}, gitrepo.CommitInfo{}, f.lookupErr
	}
	for _, snapshot := range f.snapshots {
		if snapshot.LogID == logID {
			return snapshot, gitrepo.CommitInfo{Hash: hash}, nil
		}
	}
	return gitrepo.Snapshot{}, gitrepo.CommitInfo{}, gitrepo.ErrNoHistory
}

type fakeSearch struct {
	mu       sync.Mutex
	searchFn func(context.Context, string, string, *int64) (search.Response, error)
	indexed  []int64
}

func (f *fakeSearch) Search(ctx context.Context, scope, query string, seq *int64) (search.Response, error) {
	if f.searchFn != nil {
		return f.searchFn(ctx, scope, query, seq)
	}
	return search.Response{Results: []search.BookRecord{}}, nil
}

func (f *fakeSearch) IndexBook(book store.Book) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, book.ID)
}

type publishedEvent struct {
	key    string
	userID string
	data   any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakePublisher) PublishAsync(key, userID string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{key: key, userID: userID, data: data})
}

func (f *fakePublisher) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.events))
	for _, event := range f.events {
		keys = append(keys, event.key)
	}
	return keys
}

type fakeExporter struct {
	exportFn func(context.Context, export.Request) (*export.Result, error)
}

func (f *fakeExporter) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if f.exportFn != nil {
		return f.exportFn(ctx, req)
	}
	return &export.Result{Data: []byte("<html></html>"), Filename: "log.html", MimeType: "text/html; charset=utf-8"}, nil
}

type fakeCovers struct {
	uploadFn func(context.Context, int64, string, io.Reader) (string, error)
}

func (f *fakeCovers) UploadCover(ctx context.Context, bookID int64, contentType string, body io.Reader) (string, error) {
	if f.uploadFn != nil {
		return f.uploadFn(ctx, bookID, contentType, body)
	}
	return "http://covers.test/covers/1/cover.png", nil
}

type fakeMailer struct {
	configured bool
	mu         sync.Mutex
	sent       []string
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }

func (f *fakeMailer) SendPasswordResetEmail(to, _, resetURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+" "+resetURL)
	return nil
}

type testDeps struct {
	history   *fakeHistory
	search    *fakeSearch
	publisher *fakePublisher
	exporter  *fakeExporter
	covers    *fakeCovers
	mailer    *fakeMailer
}

func newTestService(fs *fakeStore) (*Service, *testDeps) {
	deps := &testDeps{
		history:   &fakeHistory{},
		search:    &fakeSearch{},
		publisher: &fakePublisher{},
		exporter:  &fakeExporter{},
		covers:    &fakeCovers{},
		mailer:    &fakeMailer{},
	}
	svc := New(config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		AppURL:     "http://app.test",
	}, Dependencies{
		Store:    fs,
		Users:    fs,
		Search:   deps.search,
		History:  deps.history,
		Covers:   deps.covers,
		Exporter: deps.exporter,
		Events:   deps.publisher,
		Mailer:   deps.mailer,
	})
	return svc, deps
}

func readerUser(userID string) store.User {
	return store.User{ID: userID, Email: userID + "@example.com", DisplayName: userID, Role: "reader"}
}

func readerSession(fs *fakeStore, userID string) Session {
	user := fs.addUser(readerUser(userID))
	return Session{UserID: user.ID, Email: user.Email, DisplayName: user.DisplayName, Role: user.Role}
}

func intPtr(value int) *int { return &value }

func jsonInt(value int64) string { return strconv.FormatInt(value, 10) }

func strPtr(value string) *string { return &value }
