package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sydlexius/media-reaper/internal/encryption"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const selectColumns = `SELECT id, name, type, url, encrypted_api_key, enabled, status, last_checked_at, created_at, updated_at FROM connections`

// Store persists connections. Writes are serialized through mu so that the
// name uniqueness check and the insert or rename happen as one step.
type Store struct {
	db        *sql.DB
	encryptor *encryption.Encryptor
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

// NewStore creates a connection store.
func NewStore(db *sql.DB, enc *encryption.Encryptor, logger *slog.Logger) *Store {
	return &Store{
		db:        db,
		encryptor: enc,
		logger:    logger.With(slog.String("component", "connection-store")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns all connections ordered by creation time.
func (s *Store) List(ctx context.Context) ([]Connection, error) {
	return s.query(ctx, selectColumns+` ORDER BY created_at, id`)
}

// ListEnabled returns enabled connections ordered by creation time.
func (s *Store) ListEnabled(ctx context.Context) ([]Connection, error) {
	return s.query(ctx, selectColumns+` WHERE enabled = 1 ORDER BY created_at, id`)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageError("listing connections", err)
	}
	defer rows.Close() //nolint:errcheck

	conns := []Connection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, storageError("scanning connection", err)
		}
		conns = append(conns, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("listing connections", err)
	}
	return conns, nil
}

// Get returns the connection with the given ID or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, storageError("getting connection", err)
	}
	return c, nil
}

// Create validates and inserts a new connection. The API key is encrypted
// before it reaches storage.
func (s *Store) Create(ctx context.Context, in NewConnection) (*Connection, error) {
	name, typ, u, err := in.validate()
	if err != nil {
		return nil, err
	}

	encKey, err := s.encryptor.Encrypt(in.APIKey)
	if err != nil {
		return nil, storageError("encrypting api key", err)
	}

	now := s.now()
	c := &Connection{
		ID:              uuid.New().String(),
		Name:            name,
		Type:            typ,
		URL:             u,
		EncryptedAPIKey: encKey,
		Enabled:         in.Enabled == nil || *in.Enabled,
		Status:          StatusUnknown,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNameFree(ctx, c.Name, ""); err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connections (id, name, type, url, encrypted_api_key, enabled, status, last_checked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
	`,
		c.ID, c.Name, string(c.Type), c.URL, c.EncryptedAPIKey,
		boolToInt(c.Enabled), string(c.Status),
		formatTime(now), formatTime(now),
	)
	if isUniqueViolation(err) {
		return nil, nameTakenError(c.Name)
	}
	if err != nil {
		return nil, storageError("creating connection", err)
	}
	return c, nil
}

// Update applies a partial patch to an existing connection. Only supplied
// fields are validated and written; updated_at is always refreshed.
func (s *Store) Update(ctx context.Context, id string, p Patch) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		name, err := validateName(*p.Name)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(name, c.Name) {
			if err := s.checkNameFree(ctx, name, c.ID); err != nil {
				return nil, err
			}
		}
		c.Name = name
	}
	if p.Type != nil {
		typ, err := validateType(*p.Type)
		if err != nil {
			return nil, err
		}
		if typ != c.Type {
			s.logger.Warn("connection type changed", "id", c.ID, "from", c.Type, "to", typ)
		}
		c.Type = typ
	}
	if p.URL != nil {
		u, err := NormalizeURL(*p.URL)
		if err != nil {
			return nil, err
		}
		c.URL = u
	}
	if p.APIKey != nil {
		if err := validateAPIKey(*p.APIKey); err != nil {
			return nil, err
		}
		encKey, err := s.encryptor.Encrypt(*p.APIKey)
		if err != nil {
			return nil, storageError("encrypting api key", err)
		}
		c.EncryptedAPIKey = encKey
	}
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	c.UpdatedAt = s.now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE connections SET
			name = ?, type = ?, url = ?, encrypted_api_key = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`,
		c.Name, string(c.Type), c.URL, c.EncryptedAPIKey, boolToInt(c.Enabled),
		formatTime(c.UpdatedAt), c.ID,
	)
	if isUniqueViolation(err) {
		return nil, nameTakenError(c.Name)
	}
	if err != nil {
		return nil, storageError("updating connection", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// Delete removes a connection permanently.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return storageError("deleting connection", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// RecordProbeResult stores the outcome of a saved-connection probe and
// returns the status it replaced. It sets status and last_checked_at only;
// updated_at tracks user edits.
func (s *Store) RecordProbeResult(ctx context.Context, id string, success bool) (Status, error) {
	status := StatusUnhealthy
	if success {
		status = StatusHealthy
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageError("recording probe result", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var previous string
	err = tx.QueryRowContext(ctx, `SELECT status FROM connections WHERE id = ?`, id).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", storageError("recording probe result", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE connections SET status = ?, last_checked_at = ? WHERE id = ?`,
		string(status), formatTime(s.now()), id); err != nil {
		return "", storageError("recording probe result", err)
	}
	if err := tx.Commit(); err != nil {
		return "", storageError("recording probe result", err)
	}
	return Status(previous), nil
}

// DecryptAPIKey returns the plaintext API key of c. Callers must not retain
// or log the result.
func (s *Store) DecryptAPIKey(c *Connection) (string, error) {
	key, err := s.encryptor.Decrypt(c.EncryptedAPIKey)
	if err != nil {
		return "", fmt.Errorf("decrypting api key for connection %s: %w", c.ID, err)
	}
	return key, nil
}

// MaskedAPIKey returns the display form of the stored key. Keys that cannot
// be decrypted are fully masked.
func (s *Store) MaskedAPIKey(c *Connection) string {
	key, err := s.DecryptAPIKey(c)
	if err != nil {
		s.logger.Warn("api key could not be decrypted for masking", "id", c.ID, "error", err)
		return encryption.MaskMarker
	}
	return encryption.Mask(key)
}

// ReencryptAll re-seals every stored API key with next inside a single
// transaction and returns the number of rows rewritten.
func (s *Store) ReencryptAll(ctx context.Context, next *encryption.Encryptor) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageError("beginning key rotation", err)
	}
	defer tx.Rollback() //nolint:errcheck

	type sealed struct{ id, key string }
	var all []sealed

	rows, err := tx.QueryContext(ctx, `SELECT id, encrypted_api_key FROM connections`)
	if err != nil {
		return 0, storageError("reading api keys", err)
	}
	for rows.Next() {
		var r sealed
		if err := rows.Scan(&r.id, &r.key); err != nil {
			_ = rows.Close()
			return 0, storageError("scanning api key", err)
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, storageError("reading api keys", err)
	}
	_ = rows.Close()

	for _, r := range all {
		plain, err := s.encryptor.Decrypt(r.key)
		if err != nil {
			return 0, fmt.Errorf("decrypting api key for connection %s: %w", r.id, err)
		}
		resealed, err := next.Encrypt(plain)
		if err != nil {
			return 0, storageError("encrypting api key", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE connections SET encrypted_api_key = ? WHERE id = ?`, resealed, r.id); err != nil {
			return 0, storageError("updating api key", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storageError("committing key rotation", err)
	}
	return len(all), nil
}

// checkNameFree must be called with mu held.
func (s *Store) checkNameFree(ctx context.Context, name, exceptID string) error {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM connections WHERE name = ? COLLATE NOCASE AND id != ?`,
		name, exceptID).Scan(&n)
	if err != nil {
		return storageError("checking connection name", err)
	}
	if n > 0 {
		return nameTakenError(name)
	}
	return nil
}

func nameTakenError(name string) error {
	return &ValidationError{Field: "name", Message: fmt.Sprintf("a connection named %q already exists", name)}
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE"))
}

func scanConnection(row interface{ Scan(...any) error }) (*Connection, error) {
	var c Connection
	var typ, status string
	var enabled int
	var lastCheckedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&c.ID, &c.Name, &typ, &c.URL, &c.EncryptedAPIKey,
		&enabled, &status, &lastCheckedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Type = Type(typ)
	c.Status = Status(status)
	c.Enabled = enabled == 1
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	if lastCheckedAt.Valid {
		t := parseTime(lastCheckedAt.String)
		c.LastCheckedAt = &t
	}
	return &c, nil
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

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}
