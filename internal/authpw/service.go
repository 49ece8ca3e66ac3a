// Package authpw provides email/password accounts and password resets.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"readinglog/api/internal/auth"
	"readinglog/api/internal/store"
	"readinglog/api/internal/util"
	"readinglog/api/internal/validation"
)

const (
	MinPasswordLength = 6
	resetTokenTTL     = time.Hour
)

var (
	ErrEmailExists        = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	ErrResetFailed        = errors.New("invalid or expired reset token")
)

type Service struct {
	store    UserStore
	validate *validation.Validator
	now      func() time.Time
}

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, tokenHash, passwordHash string) (string, error)
}

func NewService(store UserStore, validate *validation.Validator) *Service {
	if validate == nil {
		validate = validation.New()
	}
	return &Service{
		store:    store,
		validate: validate,
		now:      time.Now,
	}
}

type SignUpRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6"`
	DisplayName string `json:"displayName" validate:"max=120"`
}

// SignUp creates a reader account. A taken email, whether caught by the
// lookup or by the unique index, yields ErrEmailExists.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := s.validate.Validate(req); err != nil {
		return store.User{}, err
	}

	_, err := s.store.GetUserByEmail(ctx, req.Email)
	if err == nil {
		return store.User{}, ErrEmailExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName, _, _ = strings.Cut(req.Email, "@")
	}
	user := store.User{
		ID:           util.NewID(""),
		Email:        req.Email,
		PasswordHash: string(hash),
		DisplayName:  displayName,
		Role:         "reader",
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.User{}, ErrEmailExists
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ResetTicket is what a caller needs to deliver a reset link.
type ResetTicket struct {
	Token     string
	User      store.User
	ExpiresAt time.Time
}

// RequestPasswordReset issues a one-hour reset token. An unknown email
// returns a nil ticket and no error so callers answer identically.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (*ResetTicket, error) {
	email = strings.TrimSpace(email)
	if err := s.validate.Var("email", email, "required,email"); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	token, err := util.NewToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate reset token: %w", err)
	}
	expiresAt := s.now().Add(resetTokenTTL)
	if err := s.store.CreatePasswordReset(ctx, user.ID, auth.HashToken(token), expiresAt); err != nil {
		return nil, fmt.Errorf("store reset token: %w", err)
	}
	return &ResetTicket{Token: token, User: user, ExpiresAt: expiresAt}, nil
}

type ResetPasswordRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// ResetPassword sets a new password using a reset token. The mismatch check
// runs before the length check.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) (string, error) {
	if req.Password != req.ConfirmPassword {
		return "", ErrPasswordMismatch
	}
	if len(req.Password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return "", ErrResetFailed
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	userID, err := s.store.ConsumePasswordReset(ctx, auth.HashToken(token), string(hash))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrResetFailed
	}
	if err != nil {
		return "", fmt.Errorf("consume reset token: %w", err)
	}
	return userID, nil
}
