package authpw

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"readinglog/api/internal/store"
	"readinglog/api/internal/validation"
)

type resetRecord struct {
	userID    string
	expiresAt time.Time
	used      bool
}

// mockUserStore is an in-memory UserStore for testing
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string // lower(email) -> userID
	resets     map[string]resetRecord
	createErr  error
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
		resets:     make(map[string]resetRecord),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[strings.ToLower(email)]; ok {
		return m.users[userID], nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.users[user.ID] = user
	m.emailIndex[strings.ToLower(user.Email)] = user.ID
	return nil
}

func (m *mockUserStore) CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	m.resets[tokenHash] = resetRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *mockUserStore) ConsumePasswordReset(ctx context.Context, tokenHash, passwordHash string) (string, error) {
	reset, ok := m.resets[tokenHash]
	if !ok || reset.used || !time.Now().Before(reset.expiresAt) {
		return "", sql.ErrNoRows
	}
	reset.used = true
	m.resets[tokenHash] = reset
	user := m.users[reset.userID]
	user.PasswordHash = passwordHash
	m.users[reset.userID] = user
	return reset.userID, nil
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore, validation.New())

	t.Run("successful sign up", func(t *testing.T) {
		user, err := svc.SignUp(ctx, SignUpRequest{
			Email:    " test@example.com ",
			Password: "secret1",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.ID == "" {
			t.Error("expected ID to be set")
		}
		if user.Email != "test@example.com" {
			t.Errorf("expected trimmed email, got %q", user.Email)
		}
		if user.DisplayName != "test" {
			t.Errorf("expected display name from email, got %q", user.DisplayName)
		}
		if user.Role != "reader" {
			t.Errorf("expected reader role, got %q", user.Role)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "TEST@example.com", Password: "secret1"})
		if !errors.Is(err, ErrEmailExists) {
			t.Fatalf("expected ErrEmailExists, got %v", err)
		}
	})

	t.Run("unique index race", func(t *testing.T) {
		racing := newMockUserStore()
		racing.createErr = store.ErrConflict
		_, err := NewService(racing, nil).SignUp(ctx, SignUpRequest{Email: "race@example.com", Password: "secret1"})
		if !errors.Is(err, ErrEmailExists) {
			t.Fatalf("expected ErrEmailExists, got %v", err)
		}
	})

	t.Run("short password", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "test2@example.com", Password: "short"})
		var verr *validation.Error
		if !errors.As(err, &verr) || !verr.Has("password") {
			t.Fatalf("expected password validation error, got %v", err)
		}
	})

	t.Run("invalid email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "nope", Password: "secret1"})
		var verr *validation.Error
		if !errors.As(err, &verr) || !verr.Has("email") {
			t.Fatalf("expected email validation error, got %v", err)
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockUserStore(), nil)

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "test@example.com", Password: "password123"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	t.Run("successful sign in", func(t *testing.T) {
		user, err := svc.SignIn(ctx, SignInRequest{Email: "Test@Example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.Email != "test@example.com" {
			t.Errorf("expected email test@example.com, got %s", user.Email)
		}
	})

	tests := []struct {
		name string
		req  SignInRequest
	}{
		{name: "wrong password", req: SignInRequest{Email: "test@example.com", Password: "wrongpassword"}},
		{name: "non-existent user", req: SignInRequest{Email: "nobody@example.com", Password: "password123"}},
		{name: "missing fields", req: SignInRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.SignIn(ctx, tt.req); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore, nil)

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "test@example.com", Password: "password123"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	t.Run("request reset for existing user", func(t *testing.T) {
		ticket, err := svc.RequestPasswordReset(ctx, "test@example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ticket == nil || ticket.Token == "" {
			t.Fatal("expected token to be generated")
		}
		if _, stored := mockStore.resets[ticket.Token]; stored {
			t.Error("expected reset token to be stored hashed")
		}
	})

	t.Run("request reset for non-existent user - no error", func(t *testing.T) {
		ticket, err := svc.RequestPasswordReset(ctx, "nonexistent@example.com")
		if err != nil {
			t.Errorf("expected no error for non-existent user, got: %v", err)
		}
		if ticket != nil {
			t.Error("expected no ticket for unknown email")
		}
	})

	t.Run("request reset with malformed email", func(t *testing.T) {
		_, err := svc.RequestPasswordReset(ctx, "not-an-email")
		var verr *validation.Error
		if !errors.As(err, &verr) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("reset password with valid token", func(t *testing.T) {
		ticket, _ := svc.RequestPasswordReset(ctx, "test@example.com")

		_, err := svc.ResetPassword(ctx, ResetPasswordRequest{
			Token:           ticket.Token,
			Password:        "newpassword",
			ConfirmPassword: "newpassword",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := svc.SignIn(ctx, SignInRequest{Email: "test@example.com", Password: "password123"}); err == nil {
			t.Error("expected old password to not work")
		}
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "test@example.com", Password: "newpassword"}); err != nil {
			t.Errorf("expected new password to work: %v", err)
		}

		_, err = svc.ResetPassword(ctx, ResetPasswordRequest{
			Token:           ticket.Token,
			Password:        "another1",
			ConfirmPassword: "another1",
		})
		if !errors.Is(err, ErrResetFailed) {
			t.Fatalf("expected used token to fail, got %v", err)
		}
	})

	tests := []struct {
		name string
		req  ResetPasswordRequest
		want error
	}{
		{name: "mismatch", req: ResetPasswordRequest{Token: "t", Password: "abcdef", ConfirmPassword: "abcdeg"}, want: ErrPasswordMismatch},
		{name: "mismatch wins over length", req: ResetPasswordRequest{Token: "t", Password: "abc", ConfirmPassword: "abd"}, want: ErrPasswordMismatch},
		{name: "short password", req: ResetPasswordRequest{Token: "t", Password: "short", ConfirmPassword: "short"}, want: ErrPasswordTooShort},
		{name: "invalid token", req: ResetPasswordRequest{Token: "invalid-token", Password: "newpassword", ConfirmPassword: "newpassword"}, want: ErrResetFailed},
		{name: "missing token", req: ResetPasswordRequest{Password: "newpassword", ConfirmPassword: "newpassword"}, want: ErrResetFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ResetPassword(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
