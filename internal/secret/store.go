package secret

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Type enumerates the supported credential categories.
type Type string

const (
	TypeBasicAuth        Type = "basic_auth"
	TypeToken            Type = "token"
	TypeCertificate      Type = "certificate"
	TypeConnectionString Type = "connection_string"
	TypeAWSCredentials   Type = "aws_credentials"
	TypeSSHKey           Type = "ssh_key"
	TypeAMQPURL          Type = "amqp_url"
)

// Meta is the non-sensitive projection returned by List. It never carries
// the value, encrypted or otherwise.
type Meta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      Type      `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Input is the payload for Upsert.
type Input struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Type     Type                   `json:"type"`
	Value    map[string]interface{} `json:"value"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DB is the slice of database/sql the store needs; it keeps the store
// mockable without a live Postgres.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Store persists secrets in the config database, AES-256-GCM encrypted with
// the nonce prepended to the ciphertext. It implements Resolver.
type Store struct {
	db  DB
	key []byte
}

// NewStore validates the key (exactly 32 bytes for AES-256) and returns a
// store bound to db.
func NewStore(db DB, key []byte) (*Store, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secret: AES-256 key must be 32 bytes, got %d", len(key))
	}
	return &Store{db: db, key: key}, nil
}

// Upsert encrypts and writes a secret. An existing row with the same id is
// replaced.
func (s *Store) Upsert(ctx context.Context, in Input) error {
	if in.ID == "" {
		return fmt.Errorf("secret: id is required")
	}
	if in.Name == "" {
		return fmt.Errorf("secret: name is required")
	}

	plain, err := json.Marshal(in.Value)
	if err != nil {
		return fmt.Errorf("secret: marshal value: %w", err)
	}
	sealed, err := s.seal(plain)
	if err != nil {
		return fmt.Errorf("secret: encrypt: %w", err)
	}
	meta, err := json.Marshal(in.Metadata)
	if err != nil {
		return fmt.Errorf("secret: marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO secrets (id, name, type, encrypted_val, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		  SET name          = EXCLUDED.name,
		      type          = EXCLUDED.type,
		      encrypted_val = EXCLUDED.encrypted_val,
		      metadata      = EXCLUDED.metadata,
		      updated_at    = NOW()
	`, in.ID, in.Name, string(in.Type), sealed, string(meta))
	if err != nil {
		return fmt.Errorf("secret: upsert %q: %w", in.ID, err)
	}
	return nil
}

// List returns metadata only, newest first.
func (s *Store) List(ctx context.Context) ([]Meta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, created_at, updated_at FROM secrets ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("secret: list: %w", err)
	}
	defer rows.Close()

	var out []Meta
	for rows.Next() {
		var m Meta
		if err := rows.Scan(&m.ID, &m.Name, &m.Type, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("secret: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("secret: rows: %w", err)
	}
	return out, nil
}

// Delete removes a secret; deleting an unknown id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("secret: delete %q: %w", id, err)
	}
	return nil
}

// Resolve implements Resolver: fetch by name or id, decrypt, JSON-decode.
// Error messages never include decrypted material.
func (s *Store) Resolve(ctx context.Context, ref string) (map[string]interface{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT encrypted_val FROM secrets WHERE name = $1 OR id = $1 LIMIT 1`, ref)
	if err != nil {
		return nil, fmt.Errorf("secret: resolve %q: %w", ref, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("secret: resolve %q: %w", ref, err)
		}
		return nil, fmt.Errorf("secret: not found: %q", ref)
	}

	var sealed []byte
	if err := rows.Scan(&sealed); err != nil {
		return nil, fmt.Errorf("secret: scan ciphertext: %w", err)
	}

	plain, err := s.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("secret: decrypt %q: %w", ref, err)
	}

	var value map[string]interface{}
	if err := json.Unmarshal(plain, &value); err != nil {
		return nil, fmt.Errorf("secret: decrypted value of %q is not a JSON object", ref)
	}
	return value, nil
}

// seal encrypts plaintext with AES-256-GCM, returning nonce||ciphertext.
func (s *Store) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open reverses seal.
func (s *Store) open(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
