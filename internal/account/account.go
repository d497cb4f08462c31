// Package account manages user credentials and password reset tokens.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"jobalert/internal/model"
	"jobalert/internal/storage"
)

// Account errors.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrEmptyPassword      = errors.New("password must not be empty")
	ErrTokenInvalid       = errors.New("reset token is invalid")
	ErrTokenExpired       = errors.New("reset token has expired")
)

// Service handles registration, login and password resets.
type Service struct {
	store    storage.Storage
	tokenTTL time.Duration
	cost     int
	now      func() time.Time
}

// NewService creates a Service. Reset tokens stay valid for tokenTTL.
func NewService(store storage.Storage, tokenTTL time.Duration) *Service {
	return &Service{
		store:    store,
		tokenTTL: tokenTTL,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

// Register creates a user with a hashed password.
func (s *Service) Register(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("email must not be empty")
	}
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	u := &model.User{Email: email, PasswordHash: hash}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Authenticate returns the user when email and password match.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// RequestPasswordReset issues a new reset token for the user, replacing any
// earlier one.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	token := uuid.NewString()
	expiry := s.now().UTC().Add(s.tokenTTL)
	u.ResetToken = &token
	u.ResetTokenExpiry = &expiry
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	return token, nil
}

// ResetPassword sets a new password using a reset token. A token works once.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return ErrTokenInvalid
	}
	u, err := s.store.GetUserByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("get user: %w", err)
	}

	if u.ResetTokenExpiry == nil || !s.now().Before(*u.ResetTokenExpiry) {
		u.ResetToken = nil
		u.ResetTokenExpiry = nil
		if err := s.store.UpdateUser(ctx, u); err != nil {
			return fmt.Errorf("clear expired token: %w", err)
		}
		return ErrTokenExpired
	}

	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.ConsumeResetToken(ctx, token, hash); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// SetPassword replaces the password of a user without a token.
func (s *Service) SetPassword(ctx context.Context, email, password string) error {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.ResetToken = nil
	u.ResetTokenExpiry = nil
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *Service) hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}
