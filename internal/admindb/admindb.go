// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package admindb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEmail indicates a user with the email already exists.
	ErrDuplicateEmail = errors.New("email already registered")
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id              TEXT PRIMARY KEY,
	email           TEXT NOT NULL UNIQUE,
	password_hash   TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	last_sign_in_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_roles (
	user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	role    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS api_requests (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id           TEXT,
	model             TEXT NOT NULL,
	kind              TEXT NOT NULL,
	status            TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	duration_ms       INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_requests_created ON api_requests(created_at);

CREATE TABLE IF NOT EXISTS site_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS access_codes (
	code_hash  TEXT PRIMARY KEY,
	note       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
`

// =============================================================================
// DATABASE
// =============================================================================

// DB wraps the admin SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path, creating the parent
// directory when needed.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time; keep the pool at one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// =============================================================================
// USERS
// =============================================================================

// User is one account row with its joined role.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSignInAt *time.Time `json:"last_sign_in_at"`
}

// Account roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// CreateUser inserts a new user with the given role and returns it.
func (d *DB) CreateUser(ctx context.Context, email, passwordHash, role string) (User, error) {
	u := User{
		ID:        uuid.NewString(),
		Email:     email,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	u.PasswordHash = passwordHash

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role) VALUES (?, ?)`, u.ID, role); err != nil {
		return User{}, fmt.Errorf("failed to insert role: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return User{}, err
	}
	return u, nil
}

// ListUsers returns all users with their roles, newest first. Users with
// no role row default to "user".
func (d *DB) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT u.id, u.email, u.password_hash, u.created_at, u.last_sign_in_at,
		       COALESCE(r.role, 'user')
		FROM users u
		LEFT JOIN user_roles r ON r.user_id = u.id
		ORDER BY u.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var lastSignIn sql.NullTime
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &lastSignIn, &u.Role); err != nil {
			return nil, err
		}
		if lastSignIn.Valid {
			t := lastSignIn.Time
			u.LastSignInAt = &t
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserByEmail looks up one user by email.
func (d *DB) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	var lastSignIn sql.NullTime
	err := d.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.password_hash, u.created_at, u.last_sign_in_at,
		       COALESCE(r.role, 'user')
		FROM users u
		LEFT JOIN user_roles r ON r.user_id = u.id
		WHERE u.email = ?`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &lastSignIn, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if lastSignIn.Valid {
		t := lastSignIn.Time
		u.LastSignInAt = &t
	}
	return u, nil
}

// SetUserRole upserts the role for a user.
func (d *DB) SetUserRole(ctx context.Context, userID, role string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET role = excluded.role`, userID, role)
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return ErrNotFound
	}
	return err
}

// DeleteUser removes a user and, via cascade, its role row.
func (d *DB) DeleteUser(ctx context.Context, userID string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchSignIn records a successful sign-in time.
func (d *DB) TouchSignIn(ctx context.Context, userID string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE users SET last_sign_in_at = ? WHERE id = ?`, time.Now().UTC(), userID)
	return err
}

// =============================================================================
// API USAGE LOG
// =============================================================================

// APIRequest is one row of the usage log.
type APIRequest struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"user_id,omitempty"`
	Model            string    `json:"model"`
	Kind             string    `json:"kind"`
	Status           string    `json:"status"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	DurationMs       int64     `json:"duration_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// InsertAPIRequest appends one usage row.
func (d *DB) InsertAPIRequest(ctx context.Context, r APIRequest) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO api_requests
			(user_id, model, kind, status, prompt_tokens, completion_tokens, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(r.UserID), r.Model, r.Kind, r.Status,
		r.PromptTokens, r.CompletionTokens, r.DurationMs, r.CreatedAt)
	return err
}

// RecentAPIRequests returns the newest usage rows, most recent first.
func (d *DB) RecentAPIRequests(ctx context.Context, limit int) ([]APIRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, COALESCE(user_id, ''), model, kind, status,
		       prompt_tokens, completion_tokens, duration_ms, created_at
		FROM api_requests
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []APIRequest
	for rows.Next() {
		var r APIRequest
		if err := rows.Scan(&r.ID, &r.UserID, &r.Model, &r.Kind, &r.Status,
			&r.PromptTokens, &r.CompletionTokens, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DailyStat aggregates usage per calendar day.
type DailyStat struct {
	Day         string `json:"day"` // YYYY-MM-DD
	Requests    int    `json:"requests"`
	TotalTokens int    `json:"total_tokens"`
}

// DailyStats returns per-day request and token totals for the last n days.
func (d *DB) DailyStats(ctx context.Context, days int) ([]DailyStat, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := d.db.QueryContext(ctx, `
		SELECT date(created_at), COUNT(*),
		       COALESCE(SUM(prompt_tokens + completion_tokens), 0)
		FROM api_requests
		WHERE created_at >= ?
		GROUP BY date(created_at)
		ORDER BY date(created_at)`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyStat
	for rows.Next() {
		var s DailyStat
		if err := rows.Scan(&s.Day, &s.Requests, &s.TotalTokens); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// =============================================================================
// SITE SETTINGS
// =============================================================================

// Setting returns one settings value. Missing keys return ErrNotFound.
func (d *DB) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx,
		`SELECT value FROM site_settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting upserts one settings value.
func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO site_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	return err
}

// Settings returns all settings as a map.
func (d *DB) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT key, value FROM site_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// =============================================================================
// ACCESS CODES
// =============================================================================

// AddAccessCode stores the bcrypt hash of an access code.
func (d *DB) AddAccessCode(ctx context.Context, codeHash, note string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO access_codes (code_hash, note, created_at) VALUES (?, ?, ?)`,
		codeHash, note, time.Now().UTC())
	return err
}

// AccessCodeHashes returns all stored access code hashes.
func (d *DB) AccessCodeHashes(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT code_hash FROM access_codes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the message.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
