package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"jobalert/internal/model"
	"jobalert/migrations"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// Layouts accepted when reading timestamps. Values without a zone are UTC,
// which also covers rows written by the legacy Python application.
var readLayouts = []string{
	timeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

const alertColumns = `a.id, a.user_id, u.email, a.query, a.location, a.frequency,
	a.last_check, a.is_active, a.sent_ids, a.created_at`

const userColumns = `id, email, password_hash, reset_token, reset_token_expiry, created_at`

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer, and each :memory: connection is its own
	// database, so the pool is pinned to one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(db, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new user and populates its ID and CreatedAt.
func (s *SQLite) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	u.Email = normalizeEmail(u.Email)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, reset_token, reset_token_expiry, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		u.Email, u.PasswordHash, u.ResetToken, formatTimePtr(u.ResetTokenExpiry), formatTime(now),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return fmt.Errorf("insert user: %w", ErrDuplicate)
		}
		return fmt.Errorf("insert user: %w: %w", ErrPersistence, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	u.ID = id
	u.CreatedAt = parseTime(formatTime(now))
	return nil
}

// GetUser returns a single user by its ID.
func (s *SQLite) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail returns the user registered with email.
func (s *SQLite) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, normalizeEmail(email))
	return scanUser(row)
}

// GetUserByResetToken returns the user holding the given reset token.
func (s *SQLite) GetUserByResetToken(ctx context.Context, token string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE reset_token = ?`, token)
	return scanUser(row)
}

// ListUsers returns all users ordered by ID.
func (s *SQLite) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUser persists the credential fields of an existing user.
func (s *SQLite) UpdateUser(ctx context.Context, u *model.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email = ?, password_hash = ?, reset_token = ?, reset_token_expiry = ? WHERE id = ?`,
		normalizeEmail(u.Email), u.PasswordHash, u.ResetToken, formatTimePtr(u.ResetTokenExpiry), u.ID,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return fmt.Errorf("update user: %w", ErrDuplicate)
		}
		return fmt.Errorf("update user: %w: %w", ErrPersistence, err)
	}
	return expectOne(res, "update user")
}

// ConsumeResetToken replaces the password of the token holder and clears the
// token, but only while the token is still stored.
func (s *SQLite) ConsumeResetToken(ctx context.Context, token, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, reset_token = NULL, reset_token_expiry = NULL WHERE reset_token = ?`,
		passwordHash, token,
	)
	if err != nil {
		return fmt.Errorf("consume reset token: %w: %w", ErrPersistence, err)
	}
	return expectOne(res, "consume reset token")
}

// DeleteUser removes a user and its alerts.
func (s *SQLite) DeleteUser(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w: %w", ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE user_id = ?`, id); err != nil {
		return fmt.Errorf("delete alerts: %w: %w", ErrPersistence, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w: %w", ErrPersistence, err)
	}
	if err := expectOne(res, "delete user"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w: %w", ErrPersistence, err)
	}
	return nil
}

// CreateAlert inserts a new alert and populates its ID and CreatedAt.
// A zero LastCheckedAt defaults to the creation time.
func (s *SQLite) CreateAlert(ctx context.Context, a *model.Alert) error {
	now := parseTime(formatTime(time.Now().UTC()))
	if a.Frequency == "" {
		a.Frequency = model.FrequencyDaily
	}
	if a.LastCheckedAt.IsZero() {
		a.LastCheckedAt = now
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (user_id, query, location, frequency, last_check, is_active, sent_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.Query, a.Location, string(a.Frequency), formatTime(a.LastCheckedAt),
		boolToInt(a.IsActive), model.EncodeSentIDs(a.SentIDs), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w: %w", ErrPersistence, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	a.ID = id
	a.CreatedAt = now
	a.LastCheckedAt = parseTime(formatTime(a.LastCheckedAt))
	return nil
}

// GetAlert returns a single alert by its ID.
func (s *SQLite) GetAlert(ctx context.Context, id int64) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts a JOIN users u ON u.id = a.user_id WHERE a.id = ?`, id,
	)
	return scanAlert(row)
}

// ListAlertsByUser returns all alerts belonging to the given user.
func (s *SQLite) ListAlertsByUser(ctx context.Context, userID int64) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts a JOIN users u ON u.id = a.user_id
		 WHERE a.user_id = ? ORDER BY a.id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAlerts(rows)
}

// ListActiveAlerts returns all active alerts regardless of whether they are due.
func (s *SQLite) ListActiveAlerts(ctx context.Context) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts a JOIN users u ON u.id = a.user_id
		 WHERE a.is_active = 1 ORDER BY a.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAlerts(rows)
}

// SetAlertActive pauses or resumes an alert.
func (s *SQLite) SetAlertActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("set alert active: %w: %w", ErrPersistence, err)
	}
	return expectOne(res, "set alert active")
}

// DeleteAlert removes an alert by its ID.
func (s *SQLite) DeleteAlert(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete alert: %w: %w", ErrPersistence, err)
	}
	return expectOne(res, "delete alert")
}

// ResetLastChecks moves the last check of every alert to at.
func (s *SQLite) ResetLastChecks(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET last_check = ?`, formatTime(at))
	if err != nil {
		return 0, fmt.Errorf("reset last checks: %w: %w", ErrPersistence, err)
	}
	return res.RowsAffected()
}

// CommitCheck writes last check and the sent-set of an alert atomically.
func (s *SQLite) CommitCheck(ctx context.Context, alertID int64, checkedAt time.Time, sentIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w: %w", ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE alerts SET last_check = ?, sent_ids = ? WHERE id = ?`,
		formatTime(checkedAt), model.EncodeSentIDs(sentIDs), alertID,
	)
	if err != nil {
		return fmt.Errorf("commit check: %w: %w", ErrPersistence, err)
	}
	if err := expectOne(res, "commit check"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w: %w", ErrPersistence, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func parseTime(s string) time.Time {
	for _, layout := range readLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func isSQLiteUnique(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func expectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanUser(row scannable) (*model.User, error) {
	var u model.User
	var token, expiry sql.NullString
	var created string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &token, &expiry, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("scan user: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if token.Valid {
		u.ResetToken = &token.String
	}
	if expiry.Valid {
		t := parseTime(expiry.String)
		u.ResetTokenExpiry = &t
	}
	u.CreatedAt = parseTime(created)
	return &u, nil
}

func scanAlert(row scannable) (*model.Alert, error) {
	var a model.Alert
	var freq, lastCheck, created string
	var isActive int
	var sentIDs sql.NullString
	err := row.Scan(&a.ID, &a.UserID, &a.OwnerEmail, &a.Query, &a.Location, &freq,
		&lastCheck, &isActive, &sentIDs, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("scan alert: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Frequency = model.Frequency(freq)
	a.LastCheckedAt = parseTime(lastCheck)
	a.IsActive = isActive == 1
	a.SentIDs = model.DecodeSentIDs(sentIDs.String)
	a.CreatedAt = parseTime(created)
	return &a, nil
}

func scanAlerts(rows *sql.Rows) ([]model.Alert, error) {
	var alerts []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}
