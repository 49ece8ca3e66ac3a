package app

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"readinglog/api/internal/authpw"
)

func TestSignUpIssuesSessionAndRejectsDuplicates(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newTestService(fs)

	session, err := svc.SignUp(context.Background(), authpw.SignUpRequest{
		Email:    "reader@example.com",
		Password: "secret1",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("expected access and refresh tokens")
	}
	if session.DisplayName != "reader" || session.Role != "reader" {
		t.Fatalf("unexpected identity %+v", session)
	}

	_, err = svc.SignUp(context.Background(), authpw.SignUpRequest{Email: "READER@example.com", Password: "secret1"})
	domainErr := requireDomainError(t, err, http.StatusConflict, "EMAIL_EXISTS")
	if domainErr.Message != "An account with this email already exists" {
		t.Fatalf("unexpected message %q", domainErr.Message)
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newTestService(fs)
	if _, err := svc.SignUp(context.Background(), authpw.SignUpRequest{Email: "a@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	_, err := svc.SignIn(context.Background(), authpw.SignInRequest{Email: "a@example.com", Password: "wrong-pass"})
	domainErr := requireDomainError(t, err, http.StatusUnauthorized, "INVALID_CREDENTIALS")
	if domainErr.Message != "Invalid email or password." {
		t.Fatalf("unexpected message %q", domainErr.Message)
	}

	session, err := svc.SignIn(context.Background(), authpw.SignInRequest{Email: "a@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if session.Email != "a@example.com" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newTestService(fs)
	first, err := svc.SignUp(context.Background(), authpw.SignUpRequest{Email: "a@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}
	if _, err := svc.Refresh(context.Background(), first.RefreshToken); err == nil {
		t.Fatalf("expected the old refresh token to be spent")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newTestService(fs)
	session, err := svc.SignUp(context.Background(), authpw.SignUpRequest{Email: "a@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), session.Token); err != nil {
		t.Fatalf("expected token to be valid: %v", err)
	}

	if err := svc.Logout(context.Background(), session, session.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), session.Token); err == nil {
		t.Fatalf("expected revoked token to be rejected")
	}
	if _, err := svc.Refresh(context.Background(), session.RefreshToken); err == nil {
		t.Fatalf("expected refresh token to be revoked")
	}
}

func TestRequestPasswordResetAnswersUniformly(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newTestService(fs)
	if _, err := svc.SignUp(context.Background(), authpw.SignUpRequest{Email: "a@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	known, err := svc.RequestPasswordReset(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	unknown, err := svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if known["message"] != msgResetRequested || unknown["message"] != msgResetRequested {
		t.Fatalf("expected identical messages, got %v and %v", known["message"], unknown["message"])
	}
	if _, ok := known["devResetToken"].(string); !ok {
		t.Fatalf("expected dev reset token without SMTP, got %v", known)
	}
	if _, ok := unknown["devResetToken"]; ok {
		t.Fatalf("expected no token for an unknown account")
	}

	_, err = svc.RequestPasswordReset(context.Background(), "not-an-email")
	domainErr := requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	if domainErr.Message != "Please enter a valid email address." {
		t.Fatalf("unexpected message %q", domainErr.Message)
	}
}

func TestRequestPasswordResetSendsEmailWhenConfigured(t *testing.T) {
	fs := newFakeStore()
	svc, deps := newTestService(fs)
	deps.mailer.configured = true
	if _, err := svc.SignUp(context.Background(), authpw.SignUpRequest{Email: "a@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	payload, err := svc.RequestPasswordReset(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if _, ok := payload["devResetToken"]; ok {
		t.Fatalf("expected no dev token when SMTP is configured")
	}
	if len(deps.mailer.sent) != 1 || !strings.Contains(deps.mailer.sent[0], "http://app.test/auth/update-password?token=") {
		t.Fatalf("unexpected sent mail %v", deps.mailer.sent)
	}
}

func TestResetPasswordFlow(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newTestService(fs)
	if _, err := svc.SignUp(context.Background(), authpw.SignUpRequest{Email: "a@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	requested, err := svc.RequestPasswordReset(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	token := requested["devResetToken"].(string)

	tests := []struct {
		name    string
		req     authpw.ResetPasswordRequest
		status  int
		code    string
		message string
	}{
		{
			name:    "mismatch",
			req:     authpw.ResetPasswordRequest{Token: token, Password: "newpass1", ConfirmPassword: "newpass2"},
			status:  http.StatusUnprocessableEntity,
			code:    "VALIDATION_ERROR",
			message: "Passwords do not match.",
		},
		{
			name:    "too short",
			req:     authpw.ResetPasswordRequest{Token: token, Password: "abc", ConfirmPassword: "abc"},
			status:  http.StatusUnprocessableEntity,
			code:    "VALIDATION_ERROR",
			message: "Password must be at least 6 characters long.",
		},
		{
			name:   "unknown token",
			req:    authpw.ResetPasswordRequest{Token: "bogus", Password: "newpass1", ConfirmPassword: "newpass1"},
			status: http.StatusBadRequest,
			code:   "RESET_FAILED",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ResetPassword(context.Background(), tc.req)
			domainErr := requireDomainError(t, err, tc.status, tc.code)
			if tc.message != "" && domainErr.Message != tc.message {
				t.Fatalf("unexpected message %q", domainErr.Message)
			}
		})
	}

	payload, err := svc.ResetPassword(context.Background(), authpw.ResetPasswordRequest{Token: token, Password: "newpass1", ConfirmPassword: "newpass1"})
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if payload["message"] != msgPasswordReset {
		t.Fatalf("unexpected message %v", payload["message"])
	}
	if _, err := svc.SignIn(context.Background(), authpw.SignInRequest{Email: "a@example.com", Password: "newpass1"}); err != nil {
		t.Fatalf("sign in with new password: %v", err)
	}

	_, err = svc.ResetPassword(context.Background(), authpw.ResetPasswordRequest{Token: token, Password: "another1", ConfirmPassword: "another1"})
	requireDomainError(t, err, http.StatusBadRequest, "RESET_FAILED")
}
