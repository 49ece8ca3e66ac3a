package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"readinglog/api/internal/auth"
	"readinglog/api/internal/authpw"
	"readinglog/api/internal/config"
	"readinglog/api/internal/export"
	"readinglog/api/internal/gitrepo"
	"readinglog/api/internal/rbac"
	"readinglog/api/internal/search"
	"readinglog/api/internal/store"
	"readinglog/api/internal/util"
	"readinglog/api/internal/validation"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	DisplayName  string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// DataStore is the Postgres surface the service needs. Every log, note,
// chapter and tag method is scoped by user id.
type DataStore interface {
	Ping(ctx context.Context) error
	GetUserByID(context.Context, string) (store.User, error)

	InsertBook(context.Context, store.Book) (store.Book, error)
	GetBook(context.Context, int64) (store.Book, error)
	UpdateBookCover(context.Context, int64, string) (bool, error)

	UpsertLog(context.Context, store.LogUpsert) (store.BookLog, bool, error)
	GetLog(context.Context, string, int64) (store.BookLog, error)
	UpdateLog(context.Context, string, int64, *int, *string) (bool, error)
	ListLogs(context.Context, string, *int64) ([]store.LogListItem, error)

	InsertNote(context.Context, store.LogNote) (store.LogNote, error)
	UpdateNoteText(context.Context, string, int64, string) (store.LogNote, error)
	ListNotes(context.Context, string, int64) ([]store.LogNote, error)

	InsertChapter(context.Context, store.LogChapter) (store.LogChapter, error)
	GetChapter(context.Context, string, int64) (store.LogChapter, error)
	UpdateChapterTitle(context.Context, string, int64, *string) (store.LogChapter, error)
	RelabelNotes(context.Context, string, int64, *string, *string) (int64, error)
	ListChapters(context.Context, string, int64) ([]store.LogChapter, error)

	FindTag(context.Context, string, string) (store.Tag, error)
	InsertTag(context.Context, string, string) (store.Tag, error)
	ListUserTags(context.Context, string) ([]store.Tag, error)
	ListLogTags(context.Context, string, int64) ([]store.Tag, error)
	InsertLogTag(context.Context, store.LogTag) error
	DeleteLogTag(context.Context, store.LogTag) (bool, error)
}

// SessionStore holds refresh tokens and the access-token denylist. Redis
// and Postgres both implement it.
type SessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type Searcher interface {
	Search(ctx context.Context, scope, query string, seq *int64) (search.Response, error)
	IndexBook(book store.Book)
}

type ReviewHistory interface {
	CommitReview(gitrepo.Snapshot, string) (gitrepo.CommitInfo, bool, error)
	History(int64, int) ([]gitrepo.CommitInfo, error)
	GetReviewByHash(int64, string) (gitrepo.Snapshot, gitrepo.CommitInfo, error)
}

type CoverStore interface {
	UploadCover(ctx context.Context, bookID int64, contentType string, body io.Reader) (string, error)
}

type Exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Publisher interface {
	PublishAsync(key, userID string, data any)
}

type Mailer interface {
	IsConfigured() bool
	SendPasswordResetEmail(to, userName, resetURL string) error
}

// Dependencies wires the optional backends. Store and Sessions are
// required; a nil Covers disables uploads and a nil Mailer enables the
// dev reset-token bypass.
type Dependencies struct {
	Store    DataStore
	Sessions SessionStore
	Users    authpw.UserStore
	Search   Searcher
	History  ReviewHistory
	Covers   CoverStore
	Exporter Exporter
	Events   Publisher
	Mailer   Mailer
}

type nopPublisher struct{}

func (nopPublisher) PublishAsync(string, string, any) {}

type Service struct {
	cfg      config.Config
	store    DataStore
	sessions SessionStore
	authpw   *authpw.Service
	validate *validation.Validator
	search   Searcher
	history  ReviewHistory
	covers   CoverStore
	exporter Exporter
	events   Publisher
	mailer   Mailer
	now      func() time.Time
}

func New(cfg config.Config, deps Dependencies) *Service {
	validate := validation.New()
	svc := &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		validate: validate,
		search:   deps.Search,
		history:  deps.History,
		covers:   deps.Covers,
		exporter: deps.Exporter,
		events:   deps.Events,
		mailer:   deps.Mailer,
		now:      time.Now,
	}
	if svc.sessions == nil {
		if sessions, ok := deps.Store.(SessionStore); ok {
			svc.sessions = sessions
		}
	}
	if deps.Users != nil {
		svc.authpw = authpw.NewService(deps.Users, validate)
	}
	if svc.events == nil {
		svc.events = nopPublisher{}
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	holder, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, holder.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  user.DisplayName,
		Role:  string(rbac.Normalize(user.Role)),
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh, err := util.NewToken(32)
	if err != nil {
		return Session{}, fmt.Errorf("generate refresh token: %w", err)
	}
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		Role:         string(rbac.Normalize(user.Role)),
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:       token,
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        string(rbac.Normalize(user.Role)),
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes what it can and never fails.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			log.Printf("session: revoke access token: %v", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			log.Printf("session: revoke refresh token: %v", err)
		}
	}
	return nil
}
