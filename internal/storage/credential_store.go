package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/daygrid/daygrid/internal/core"
	"github.com/daygrid/daygrid/internal/credentials"
)

// CredentialStore persists OAuth tokens, sealed at rest. One credential
// row per connection.
type CredentialStore struct {
	db     *DB
	sealer *credentials.Sealer
}

// NewCredentialStore creates a new credential store
func NewCredentialStore(db *DB, sealer *credentials.Sealer) *CredentialStore {
	return &CredentialStore{db: db, sealer: sealer}
}

// Store saves a token for a connection, replacing any previous one
func (s *CredentialStore) Store(connID core.ConnectionID, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	encrypted, err := s.sealer.Seal(data)
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}

	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		t := token.Expiry.UTC()
		expiresAt = &t
	}

	now := time.Now().UTC()

	var existingID string
	err = s.db.conn.QueryRow(`SELECT id FROM credentials WHERE connection_id = ?`, connID).Scan(&existingID)
	if err == sql.ErrNoRows {
		_, err = s.db.conn.Exec(`
			INSERT INTO credentials (
			    id, connection_id, encrypted_data, token_type, expires_at,
			    created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, uuid.New().String(), connID, encrypted, token.TokenType, expiresAt, now, now)
		if err != nil {
			return fmt.Errorf("insert credentials: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("check existing: %w", err)
	}

	_, err = s.db.conn.Exec(`
		UPDATE credentials SET
		    encrypted_data = ?, token_type = ?, expires_at = ?, updated_at = ?
		WHERE connection_id = ?
	`, encrypted, token.TokenType, expiresAt, now, connID)
	if err != nil {
		return fmt.Errorf("update credentials: %w", err)
	}
	return nil
}

// Get retrieves and unseals the token for a connection. An expired token
// with no refresh token is unusable and returns core.ErrCredentialExpired.
func (s *CredentialStore) Get(connID core.ConnectionID) (*oauth2.Token, error) {
	var encrypted []byte
	err := s.db.conn.QueryRow(`
		SELECT encrypted_data FROM credentials WHERE connection_id = ?
	`, connID).Scan(&encrypted)
	if err == sql.ErrNoRows {
		return nil, core.ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}

	data, err := s.sealer.Open(encrypted)
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{}
	if err := json.Unmarshal(data, token); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}

	if !token.Expiry.IsZero() && token.Expiry.Before(time.Now()) && token.RefreshToken == "" {
		return nil, core.ErrCredentialExpired
	}

	return token, nil
}

// Delete removes the token for a connection
func (s *CredentialStore) Delete(connID core.ConnectionID) error {
	_, err := s.db.conn.Exec(`DELETE FROM credentials WHERE connection_id = ?`, connID)
	return err
}
