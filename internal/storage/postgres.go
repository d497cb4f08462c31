package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"jobalert/internal/model"
	"jobalert/migrations"
)

const pgUniqueViolation = "23505"

// Postgres implements Storage backed by a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL, verifies connectivity and runs
// pending migrations.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = migrations.Run(db, migrations.Postgres)
	_ = db.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases all pooled connections.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// CreateUser inserts a new user and populates its ID and CreatedAt.
func (p *Postgres) CreateUser(ctx context.Context, u *model.User) error {
	u.Email = normalizeEmail(u.Email)
	err := p.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, reset_token, reset_token_expiry)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		u.Email, u.PasswordHash, u.ResetToken, u.ResetTokenExpiry,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isPgUnique(err) {
			return fmt.Errorf("insert user: %w", ErrDuplicate)
		}
		return fmt.Errorf("insert user: %w: %w", ErrPersistence, err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return nil
}

// GetUser returns a single user by its ID.
func (p *Postgres) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return p.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetUserByEmail returns the user registered with email.
func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return p.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email))
}

// GetUserByResetToken returns the user holding the given reset token.
func (p *Postgres) GetUserByResetToken(ctx context.Context, token string) (*model.User, error) {
	return p.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE reset_token = $1`, token)
}

// ListUsers returns all users ordered by ID.
func (p *Postgres) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanPgUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUser persists the credential fields of an existing user.
func (p *Postgres) UpdateUser(ctx context.Context, u *model.User) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE users SET email = $1, password_hash = $2, reset_token = $3, reset_token_expiry = $4 WHERE id = $5`,
		normalizeEmail(u.Email), u.PasswordHash, u.ResetToken, u.ResetTokenExpiry, u.ID,
	)
	if err != nil {
		if isPgUnique(err) {
			return fmt.Errorf("update user: %w", ErrDuplicate)
		}
		return fmt.Errorf("update user: %w: %w", ErrPersistence, err)
	}
	return expectOneTag(tag, "update user")
}

// ConsumeResetToken replaces the password of the token holder and clears the
// token, but only while the token is still stored.
func (p *Postgres) ConsumeResetToken(ctx context.Context, token, passwordHash string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE users SET password_hash = $1, reset_token = NULL, reset_token_expiry = NULL WHERE reset_token = $2`,
		passwordHash, token,
	)
	if err != nil {
		return fmt.Errorf("consume reset token: %w: %w", ErrPersistence, err)
	}
	return expectOneTag(tag, "consume reset token")
}

// DeleteUser removes a user and its alerts.
func (p *Postgres) DeleteUser(ctx context.Context, id int64) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM alerts WHERE user_id = $1`, id); err != nil {
			return fmt.Errorf("delete alerts: %w: %w", ErrPersistence, err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete user: %w: %w", ErrPersistence, err)
		}
		return expectOneTag(tag, "delete user")
	})
	return txError("delete user", err)
}

// CreateAlert inserts a new alert and populates its ID and CreatedAt.
// A zero LastCheckedAt defaults to the creation time.
func (p *Postgres) CreateAlert(ctx context.Context, a *model.Alert) error {
	if a.Frequency == "" {
		a.Frequency = model.FrequencyDaily
	}
	var lastCheck *time.Time
	if !a.LastCheckedAt.IsZero() {
		v := a.LastCheckedAt.UTC()
		lastCheck = &v
	}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO alerts (user_id, query, location, frequency, last_check, is_active, sent_ids)
		 VALUES ($1, $2, $3, $4, COALESCE($5, now()), $6, $7)
		 RETURNING id, last_check, created_at`,
		a.UserID, a.Query, a.Location, string(a.Frequency), lastCheck, a.IsActive, model.EncodeSentIDs(a.SentIDs),
	).Scan(&a.ID, &a.LastCheckedAt, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w: %w", ErrPersistence, err)
	}
	a.LastCheckedAt = a.LastCheckedAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	return nil
}

// GetAlert returns a single alert by its ID.
func (p *Postgres) GetAlert(ctx context.Context, id int64) (*model.Alert, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+alertColumns+` FROM alerts a JOIN users u ON u.id = a.user_id WHERE a.id = $1`, id,
	)
	return scanPgAlert(row)
}

// ListAlertsByUser returns all alerts belonging to the given user.
func (p *Postgres) ListAlertsByUser(ctx context.Context, userID int64) ([]model.Alert, error) {
	return p.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alerts a JOIN users u ON u.id = a.user_id
		 WHERE a.user_id = $1 ORDER BY a.id`, userID)
}

// ListActiveAlerts returns all active alerts regardless of whether they are due.
func (p *Postgres) ListActiveAlerts(ctx context.Context) ([]model.Alert, error) {
	return p.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alerts a JOIN users u ON u.id = a.user_id
		 WHERE a.is_active ORDER BY a.id`)
}

// SetAlertActive pauses or resumes an alert.
func (p *Postgres) SetAlertActive(ctx context.Context, id int64, active bool) error {
	tag, err := p.pool.Exec(ctx, `UPDATE alerts SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("set alert active: %w: %w", ErrPersistence, err)
	}
	return expectOneTag(tag, "set alert active")
}

// DeleteAlert removes an alert by its ID.
func (p *Postgres) DeleteAlert(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM alerts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete alert: %w: %w", ErrPersistence, err)
	}
	return expectOneTag(tag, "delete alert")
}

// ResetLastChecks moves the last check of every alert to at.
func (p *Postgres) ResetLastChecks(ctx context.Context, at time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `UPDATE alerts SET last_check = $1`, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("reset last checks: %w: %w", ErrPersistence, err)
	}
	return tag.RowsAffected(), nil
}

// CommitCheck writes last check and the sent-set of an alert atomically.
func (p *Postgres) CommitCheck(ctx context.Context, alertID int64, checkedAt time.Time, sentIDs []string) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE alerts SET last_check = $1, sent_ids = $2 WHERE id = $3`,
			checkedAt.UTC(), model.EncodeSentIDs(sentIDs), alertID,
		)
		if err != nil {
			return fmt.Errorf("commit check: %w: %w", ErrPersistence, err)
		}
		return expectOneTag(tag, "commit check")
	})
	return txError("commit check", err)
}

func (p *Postgres) queryUser(ctx context.Context, query string, args ...any) (*model.User, error) {
	return scanPgUser(p.pool.QueryRow(ctx, query, args...))
}

func (p *Postgres) queryAlerts(ctx context.Context, query string, args ...any) ([]model.Alert, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanPgAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func scanPgUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.ResetToken, &u.ResetTokenExpiry, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("scan user: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	if u.ResetTokenExpiry != nil {
		t := u.ResetTokenExpiry.UTC()
		u.ResetTokenExpiry = &t
	}
	return &u, nil
}

func scanPgAlert(row pgx.Row) (*model.Alert, error) {
	var a model.Alert
	var freq, sentIDs string
	err := row.Scan(&a.ID, &a.UserID, &a.OwnerEmail, &a.Query, &a.Location, &freq,
		&a.LastCheckedAt, &a.IsActive, &sentIDs, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("scan alert: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Frequency = model.Frequency(freq)
	a.LastCheckedAt = a.LastCheckedAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.SentIDs = model.DecodeSentIDs(sentIDs)
	return &a, nil
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// txError marks begin and commit failures of pgx.BeginFunc as persistence
// failures. Errors from inside the transaction are already classified.
func txError(op string, err error) error {
	if err == nil || errors.Is(err, ErrPersistence) || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

func expectOneTag(tag pgconn.CommandTag, op string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
