package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"folio/pkg/auth"
	"folio/pkg/domain"
)

// Login checks the admin password and issues an admin session.
func (a *App) Login(password string) (domain.IssuedSession, error) {
	if password == "" {
		return domain.IssuedSession{}, invalid("password required")
	}
	if !auth.CheckAdminPassword(password, a.adminPassword) {
		return domain.IssuedSession{}, ErrInvalidPassword
	}
	issued, err := a.sessions.NewAdminSession()
	if err != nil {
		return domain.IssuedSession{}, fmt.Errorf("issue admin session: %w", err)
	}
	return issued, nil
}

// Logout revokes an admin token until it would have expired.
func (a *App) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	if err := a.sessions.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RequireAdmin maps a resolved session to an authorization error.
func RequireAdmin(session *domain.Session) error {
	switch {
	case session == nil:
		return ErrUnauthorized
	case !session.IsAdmin():
		return ErrForbidden
	default:
		return nil
	}
}

// ListMessages returns every contact message, newest first.
func (a *App) ListMessages(ctx context.Context, session *domain.Session) ([]domain.ContactMessage, error) {
	if err := RequireAdmin(session); err != nil {
		return nil, err
	}
	items, err := a.store.ListContactMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contact messages: %w", err)
	}
	return items, nil
}

// DeleteMessage removes one message. rawID must be a positive decimal integer.
func (a *App) DeleteMessage(ctx context.Context, session *domain.Session, rawID string) error {
	if err := RequireAdmin(session); err != nil {
		return err
	}
	id, err := ParseMessageID(rawID)
	if err != nil {
		return err
	}
	deleted, err := a.store.DeleteContactMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("delete contact message: %w", err)
	}
	if !deleted {
		return ErrMessageNotFound
	}
	return nil
}

// ParseMessageID accepts digits only, without sign or whitespace.
func ParseMessageID(raw string) (int64, error) {
	if raw == "" {
		return 0, invalid("valid id required")
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, invalid("valid id required")
		}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("valid id required")
	}
	return id, nil
}
