// Package auth manages operator accounts and login sessions.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSession     = errors.New("invalid session")
	ErrNoAdminPassword    = errors.New("no users exist and no admin password is configured")
)

// User is an operator account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service provides authentication operations.
type Service struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewService creates an auth service whose sessions last ttl.
func NewService(db *sql.DB, ttl time.Duration) *Service {
	return &Service{
		db:  db,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Bootstrap creates the admin account when no users exist. It reports
// whether an account was created.
func (s *Service) Bootstrap(ctx context.Context, username, password string) (bool, error) {
	has, err := s.HasUsers(ctx)
	if err != nil {
		return false, err
	}
	if has {
		return false, nil
	}
	if password == "" {
		return false, ErrNoAdminPassword
	}

	hash, err := bcrypt.GenerateFromPassword(prehashPassword(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hashing password: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, uuid.New().String(), username, string(hash), s.now().Format(timeLayout))
	if err != nil {
		return false, fmt.Errorf("creating admin user: %w", err)
	}
	return true, nil
}

// Login checks the credentials and returns a new session token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	var id, hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, password_hash FROM users WHERE username = ?
	`, username).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("querying user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), prehashPassword(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, sessionID(token), id, now.Format(timeLayout), now.Add(s.ttl).Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return token, nil
}

// ValidateSession returns the user owning token. Expired sessions are
// deleted and reported as ErrInvalidSession.
func (s *Service) ValidateSession(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	var u User
	var expiresAt, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.created_at, s.expires_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.id = ?
	`, sessionID(token)).Scan(&u.ID, &u.Username, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if expiresAt <= s.now().Format(timeLayout) {
		_ = s.Logout(ctx, token)
		return nil, ErrInvalidSession
	}

	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &u, nil
}

// Logout deletes a session. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID(token))
	return err
}

// CleanExpiredSessions removes expired sessions and returns how many.
func (s *Service) CleanExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, s.now().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("cleaning sessions: %w", err)
	}
	return res.RowsAffected()
}

// HasUsers reports whether at least one account exists.
func (s *Service) HasUsers(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return false, fmt.Errorf("counting users: %w", err)
	}
	return count > 0, nil
}

// prehashPassword hashes the password with SHA-256 before bcrypt to support
// passwords longer than bcrypt's 72-byte limit.
func prehashPassword(password string) []byte {
	h := sha256.Sum256([]byte(password))
	return []byte(hex.EncodeToString(h[:]))
}

// sessionID is the stored form of a token; raw tokens are never persisted.
func sessionID(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
