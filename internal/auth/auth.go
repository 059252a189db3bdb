// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/reflexai/nexus/internal/admindb"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidCredentials indicates the email/password pair did not match.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidTOTP indicates the one-time code did not validate.
	ErrInvalidTOTP = errors.New("invalid one-time code")

	// ErrTOTPRequired indicates the account has TOTP enrolled and a code
	// must accompany the sign-in.
	ErrTOTPRequired = errors.New("one-time code required")

	// ErrSessionExpired indicates the session idled out or was revoked.
	ErrSessionExpired = errors.New("session expired")

	// ErrInvalidAccessCode indicates no stored access code matched.
	ErrInvalidAccessCode = errors.New("invalid access code")
)

// =============================================================================
// PASSWORDS AND ACCESS CODES
// =============================================================================

// dummyHash is compared against when no account matches, keeping the
// failure path's cost close to a real comparison.
var dummyHash = func() string {
	h, _ := bcrypt.GenerateFromPassword([]byte("nexus-dummy"), bcrypt.DefaultCost)
	return string(h)
}()

// HashPassword returns the bcrypt hash of a password at default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashAccessCode hashes an invitation access code for storage.
// Codes are normalized to lowercase with surrounding whitespace trimmed.
func HashAccessCode(code string) (string, error) {
	return HashPassword(normalizeCode(code))
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// =============================================================================
// SESSIONS
// =============================================================================

// DefaultSessionTimeout is the idle timeout applied when the manager is
// constructed with a non-positive value.
const DefaultSessionTimeout = 15 * time.Minute

// Session is one authenticated admin session.
type Session struct {
	ID           string
	UserID       string
	Email        string
	Role         string
	StartedAt    time.Time
	LastActivity time.Time
}

// Manager authenticates users against the account database and owns the
// in-memory session table.
type Manager struct {
	db      *admindb.DB
	timeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	requireAccessCode bool

	// now is swappable for tests.
	now func() time.Time
}

// NewManager returns a Manager with the given idle timeout. Registration
// requires an access code until SetRequireAccessCode(false).
func NewManager(db *admindb.DB, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &Manager{
		db:                db,
		timeout:           timeout,
		sessions:          make(map[string]*Session),
		requireAccessCode: true,
		now:               time.Now,
	}
}

// SetRequireAccessCode controls whether Register demands a valid access
// code after the first account.
func (m *Manager) SetRequireAccessCode(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requireAccessCode = on
}

// SignIn verifies the email/password pair (and TOTP code when the account
// has one enrolled) and returns a fresh session.
func (m *Manager) SignIn(ctx context.Context, email, password, totpCode string) (*Session, error) {
	user, err := m.db.UserByEmail(ctx, email)
	if errors.Is(err, admindb.ErrNotFound) {
		// Burn a bcrypt comparison so missing accounts cost the same
		// as wrong passwords.
		CheckPassword(dummyHash, password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	secret, err := m.totpSecret(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if secret != "" {
		if totpCode == "" {
			return nil, ErrTOTPRequired
		}
		if !totp.Validate(totpCode, secret) {
			return nil, ErrInvalidTOTP
		}
	}

	if err := m.db.TouchSignIn(ctx, user.ID); err != nil {
		return nil, err
	}

	id, err := newSessionID()
	if err != nil {
		return nil, err
	}
	now := m.now()
	sess := &Session{
		ID:           id,
		UserID:       user.ID,
		Email:        user.Email,
		Role:         user.Role,
		StartedAt:    now,
		LastActivity: now,
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	return sess, nil
}

// Validate looks up a session by ID, expires it when idle too long, and
// refreshes its activity clock otherwise.
func (m *Manager) Validate(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionExpired
	}
	now := m.now()
	if now.Sub(sess.LastActivity) > m.timeout {
		delete(m.sessions, sessionID)
		return nil, ErrSessionExpired
	}
	sess.LastActivity = now
	copied := *sess
	return &copied, nil
}

// SignOut revokes a session. Revoking an unknown session is a no-op.
func (m *Manager) SignOut(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// ActiveSessions returns the number of live (possibly idle) sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// newSessionID returns 128 bits of cryptographic randomness as
// "sess_" plus 32 hex characters.
func newSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session id generation failed: %w", err)
	}
	return "sess_" + hex.EncodeToString(buf), nil
}

// =============================================================================
// TOTP ENROLLMENT
// =============================================================================

// totpSettingKey namespaces per-user TOTP secrets in site_settings.
func totpSettingKey(userID string) string {
	return "totp_secret:" + userID
}

func (m *Manager) totpSecret(ctx context.Context, userID string) (string, error) {
	secret, err := m.db.Setting(ctx, totpSettingKey(userID))
	if errors.Is(err, admindb.ErrNotFound) {
		return "", nil
	}
	return secret, err
}

// EnrollTOTP generates a new TOTP secret for the user, stores it, and
// returns the otpauth:// provisioning URL for authenticator apps.
func (m *Manager) EnrollTOTP(ctx context.Context, userID, email string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "REFLEX AI Nexus",
		AccountName: email,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	if err := m.db.SetSetting(ctx, totpSettingKey(userID), key.Secret()); err != nil {
		return "", err
	}
	return key.URL(), nil
}

// =============================================================================
// ACCESS CODES
// =============================================================================

// CheckAccessCode reports whether code matches any stored access code.
func (m *Manager) CheckAccessCode(ctx context.Context, code string) error {
	hashes, err := m.db.AccessCodeHashes(ctx)
	if err != nil {
		return err
	}
	normalized := normalizeCode(code)
	for _, h := range hashes {
		if CheckPassword(h, normalized) {
			return nil
		}
	}
	return ErrInvalidAccessCode
}

// Register creates a new account. The first account ever created becomes
// an admin; later ones are users and, while the access-code requirement is
// on, must present a valid code.
func (m *Manager) Register(ctx context.Context, email, password, accessCode string) (admindb.User, error) {
	users, err := m.db.ListUsers(ctx)
	if err != nil {
		return admindb.User{}, err
	}
	m.mu.RLock()
	gated := m.requireAccessCode
	m.mu.RUnlock()

	role := admindb.RoleUser
	if len(users) == 0 {
		role = admindb.RoleAdmin
	} else if gated {
		if err := m.CheckAccessCode(ctx, accessCode); err != nil {
			return admindb.User{}, err
		}
	}

	hash, err := HashPassword(password)
	if err != nil {
		return admindb.User{}, err
	}
	return m.db.CreateUser(ctx, email, hash, role)
}
