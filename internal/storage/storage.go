// Package storage persists the client session (token and user profile) in a local sqlite
// database so it survives restarts. Only one session is stored at a time; saving replaces it.
//
// When a secret is configured the token is sealed at rest with NaCl secretbox under a key
// derived from the secret with HKDF-SHA256. The user profile is not secret and is stored as JSON.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rewired-gh/brainscan/internal/models"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
	_ "modernc.org/sqlite"
)

// legacySealedPrefix marked sealed tokens in databases created before the sealed column existed.
const legacySealedPrefix = "sealed:"

// ErrCorruptToken is returned when a sealed token cannot be opened with the configured secret.
var ErrCorruptToken = errors.New("stored session token cannot be decrypted")

// Storage is the sqlite-backed session store.
type Storage struct {
	db  *sql.DB
	key *[32]byte
}

// Record is a persisted session.
type Record struct {
	Token   string
	User    models.User
	SavedAt time.Time
}

// New opens (creating if needed) the session database at path. ":memory:" is accepted for tests.
func New(path string, secret string) (*Storage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS session (
		id        INTEGER PRIMARY KEY CHECK (id = 1),
		token     TEXT NOT NULL,
		user_json TEXT NOT NULL,
		saved_at  INTEGER NOT NULL,
		sealed    INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session table: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Storage{db: db}
	if secret != "" {
		key, err := deriveKey(secret)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.key = key
	}
	return s, nil
}

// Save replaces the persisted session.
func (s *Storage) Save(token string, user models.User) error {
	if token == "" {
		return errors.New("token must not be empty")
	}
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	stored, sealed := token, false
	if s.key != nil {
		stored, err = s.seal(token)
		if err != nil {
			return err
		}
		sealed = true
	}

	_, err = s.db.Exec(`INSERT INTO session (id, token, user_json, saved_at, sealed) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET token = excluded.token, user_json = excluded.user_json,
			saved_at = excluded.saved_at, sealed = excluded.sealed`,
		stored, string(userJSON), time.Now().Unix(), sealed)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Load returns the persisted session, or nil when none is stored.
func (s *Storage) Load() (*Record, error) {
	var stored, userJSON string
	var savedAt int64
	var sealed bool
	err := s.db.QueryRow(`SELECT token, user_json, saved_at, sealed FROM session WHERE id = 1`).
		Scan(&stored, &userJSON, &savedAt, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var user models.User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	token := stored
	if sealed {
		token, err = s.open(stored)
		if err != nil {
			return nil, err
		}
	}

	return &Record{Token: token, User: user, SavedAt: time.Unix(savedAt, 0)}, nil
}

// Clear removes the persisted session.
func (s *Storage) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM session`); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// migrate adds the sealed column to databases created without it. Rows written by those
// versions marked sealed tokens with legacySealedPrefix.
func migrate(db *sql.DB) error {
	rows, err := db.Query(`PRAGMA table_info(session)`)
	if err != nil {
		return fmt.Errorf("failed to inspect session table: %w", err)
	}
	hasSealed := false
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("failed to inspect session table: %w", err)
		}
		if name == "sealed" {
			hasSealed = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to inspect session table: %w", err)
	}
	if hasSealed {
		return nil
	}

	if _, err := db.Exec(`ALTER TABLE session ADD COLUMN sealed INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("failed to migrate session table: %w", err)
	}
	if _, err := db.Exec(`UPDATE session SET sealed = 1 WHERE token LIKE ?`, legacySealedPrefix+"%"); err != nil {
		return fmt.Errorf("failed to migrate session table: %w", err)
	}
	return nil
}

func deriveKey(secret string) (*[32]byte, error) {
	h := hkdf.New(sha256.New, []byte(secret), nil, []byte("brainscan-session-token"))
	var key [32]byte
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}
	return &key, nil
}

func (s *Storage) seal(token string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(token), &nonce, s.key)
	return base64.StdEncoding.EncodeToString(box), nil
}

func (s *Storage) open(stored string) (string, error) {
	if s.key == nil {
		return "", ErrCorruptToken
	}
	box, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, legacySealedPrefix))
	if err != nil || len(box) < 24 {
		return "", ErrCorruptToken
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, s.key)
	if !ok {
		return "", ErrCorruptToken
	}
	return string(plain), nil
}
