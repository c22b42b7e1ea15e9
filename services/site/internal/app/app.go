package app

import (
	"errors"
	"time"

	"folio/pkg/store"
)

// Config holds runtime configuration for the site core.
type Config struct {
	Store         store.Store
	Sessions      store.SessionStore
	AdminPassword string
	Clock         func() time.Time
}

// App wires progress tracking, the contact form and admin access over a
// store and a session manager.
type App struct {
	store         store.Store
	sessions      store.SessionStore
	adminPassword string
	now           func() time.Time
}

// New constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: store is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("app: session store is required")
	}
	if cfg.AdminPassword == "" {
		return nil, errors.New("app: admin password is required")
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &App{
		store:         cfg.Store,
		sessions:      cfg.Sessions,
		adminPassword: cfg.AdminPassword,
		now:           now,
	}, nil
}

// Sessions exposes the session manager for cookie handling in transport.
func (a *App) Sessions() store.SessionStore {
	return a.sessions
}
