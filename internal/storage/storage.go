// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"jobalert/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPersistence wraps every failed write.
	ErrPersistence = errors.New("persistence failure")
	// ErrDuplicate is returned when a unique column already holds the value.
	ErrDuplicate = errors.New("already exists")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByResetToken(ctx context.Context, token string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, u *model.User) error
	// ConsumeResetToken sets passwordHash on the user holding token and
	// clears the token in the same statement. ErrNotFound means the token was
	// already used or replaced.
	ConsumeResetToken(ctx context.Context, token, passwordHash string) error
	// DeleteUser removes the user together with all of its alerts.
	DeleteUser(ctx context.Context, id int64) error

	CreateAlert(ctx context.Context, a *model.Alert) error
	GetAlert(ctx context.Context, id int64) (*model.Alert, error)
	ListAlertsByUser(ctx context.Context, userID int64) ([]model.Alert, error)
	ListActiveAlerts(ctx context.Context) ([]model.Alert, error)
	SetAlertActive(ctx context.Context, id int64, active bool) error
	DeleteAlert(ctx context.Context, id int64) error
	// ResetLastChecks sets last check of every alert to at and returns the
	// number of alerts changed.
	ResetLastChecks(ctx context.Context, at time.Time) (int64, error)
	// CommitCheck persists the outcome of a check cycle. Both fields are
	// written in one transaction or not at all.
	CommitCheck(ctx context.Context, alertID int64, checkedAt time.Time, sentIDs []string) error

	Close() error
}

// Open returns the storage backend selected by url: a PostgreSQL pool for
// postgres:// URLs, SQLite otherwise. Pending migrations are applied.
func Open(ctx context.Context, url string) (Storage, error) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return NewPostgres(ctx, url)
	}
	return NewSQLite(url)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
