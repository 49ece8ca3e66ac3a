package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"

	"readinglog/api/internal/authpw"
	"readinglog/api/internal/validation"
)

const (
	msgResetRequested = "Password reset email sent! Please check your inbox (and spam folder)."
	msgPasswordReset  = "Password updated successfully! You can now sign in with your new password."
)

var errAuthUnavailable = domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)

// SignUp creates an account and signs it in straight away.
func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	if s.authpw == nil {
		return Session{}, errAuthUnavailable
	}
	user, err := s.authpw.SignUp(ctx, req)
	if errors.Is(err, authpw.ErrEmailExists) {
		return Session{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "An account with this email already exists", nil)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	if s.authpw == nil {
		return Session{}, errAuthUnavailable
	}
	user, err := s.authpw.SignIn(ctx, req)
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password.", nil)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// RequestPasswordReset answers the same way whether or not the account
// exists. Without SMTP the token is returned as devResetToken.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (map[string]any, error) {
	if s.authpw == nil {
		return nil, errAuthUnavailable
	}
	ticket, err := s.authpw.RequestPasswordReset(ctx, email)
	var validationErr *validation.Error
	if errors.As(err, &validationErr) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Please enter a valid email address.", validationErr.Fields)
	}
	if err != nil {
		return nil, err
	}

	response := map[string]any{"message": msgResetRequested}
	if ticket == nil {
		return response, nil
	}
	if !s.SMTPConfigured() {
		response["devResetToken"] = ticket.Token
		return response, nil
	}
	resetURL := s.cfg.AppURL + "/auth/update-password?token=" + url.QueryEscape(ticket.Token)
	if err := s.mailer.SendPasswordResetEmail(ticket.User.Email, ticket.User.DisplayName, resetURL); err != nil {
		log.Printf("auth: send reset email: %v", err)
	}
	return response, nil
}

func (s *Service) ResetPassword(ctx context.Context, req authpw.ResetPasswordRequest) (map[string]any, error) {
	if s.authpw == nil {
		return nil, errAuthUnavailable
	}
	_, err := s.authpw.ResetPassword(ctx, req)
	switch {
	case errors.Is(err, authpw.ErrPasswordMismatch):
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Passwords do not match.", nil)
	case errors.Is(err, authpw.ErrPasswordTooShort):
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Password must be at least 6 characters long.", nil)
	case errors.Is(err, authpw.ErrResetFailed):
		return nil, domainError(http.StatusBadRequest, "RESET_FAILED", "This reset link is invalid or has expired.", nil)
	case err != nil:
		return nil, err
	}
	return map[string]any{"message": msgPasswordReset}, nil
}
