package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/daygrid/daygrid/internal/core"
)

// ConnectionStore handles connection persistence
type ConnectionStore struct {
	db *DB
}

// NewConnectionStore creates a new connection store
func NewConnectionStore(db *DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

// Create creates a new connection
func (s *ConnectionStore) Create(conn *core.Connection) error {
	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now
	if conn.Status == "" {
		conn.Status = core.ConnStatusIdle
	}

	config, _ := json.Marshal(conn.Config)

	_, err := s.db.conn.Exec(`
		INSERT INTO connections (
		    id, user_id, service, name, is_active, credential_id, config,
		    status, last_sync_at, last_error, auth_failures,
		    created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		conn.ID, conn.UserID, conn.Service, conn.Name, conn.IsActive,
		conn.CredentialID, string(config), conn.Status, conn.LastSyncAt,
		conn.LastError, conn.AuthFailures, conn.CreatedAt, conn.UpdatedAt,
	)

	return err
}

// Get returns a connection by ID
func (s *ConnectionStore) Get(id core.ConnectionID) (*core.Connection, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, user_id, service, name, is_active, credential_id, config,
		       status, last_sync_at, last_error, auth_failures,
		       created_at, updated_at
		FROM connections WHERE id = ?
	`, id)

	conn, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// GetAll returns all connections
func (s *ConnectionStore) GetAll() ([]*core.Connection, error) {
	return s.query(`
		SELECT id, user_id, service, name, is_active, credential_id, config,
		       status, last_sync_at, last_error, auth_failures,
		       created_at, updated_at
		FROM connections ORDER BY created_at ASC
	`)
}

// GetActive returns connections eligible for syncing
func (s *ConnectionStore) GetActive() ([]*core.Connection, error) {
	return s.query(`
		SELECT id, user_id, service, name, is_active, credential_id, config,
		       status, last_sync_at, last_error, auth_failures,
		       created_at, updated_at
		FROM connections WHERE is_active = 1 ORDER BY created_at ASC
	`)
}

// Update updates a connection's mutable fields
func (s *ConnectionStore) Update(conn *core.Connection) error {
	conn.UpdatedAt = time.Now().UTC()

	config, _ := json.Marshal(conn.Config)

	_, err := s.db.conn.Exec(`
		UPDATE connections SET
		    name = ?, is_active = ?, credential_id = ?, config = ?,
		    status = ?, last_sync_at = ?, last_error = ?, auth_failures = ?,
		    updated_at = ?
		WHERE id = ?
	`,
		conn.Name, conn.IsActive, conn.CredentialID, string(config),
		conn.Status, conn.LastSyncAt, conn.LastError, conn.AuthFailures,
		conn.UpdatedAt, conn.ID,
	)

	return err
}

// UpdateSyncStatus sets the user-visible sync state of a connection
func (s *ConnectionStore) UpdateSyncStatus(id core.ConnectionID, status core.ConnStatus, lastErr string, lastSyncAt *time.Time) error {
	res, err := s.db.conn.Exec(`
		UPDATE connections SET status = ?, last_error = ?, last_sync_at = COALESCE(?, last_sync_at), updated_at = ?
		WHERE id = ?
	`, status, lastErr, lastSyncAt, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrConnectionNotFound
	}
	return nil
}

// Deactivate turns a connection off without deleting its history
func (s *ConnectionStore) Deactivate(id core.ConnectionID) error {
	res, err := s.db.conn.Exec(`
		UPDATE connections SET is_active = 0, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrConnectionNotFound
	}
	return nil
}

// RecordAuthFailure increments the consecutive credential failure counter.
// Once the counter reaches threshold the connection is deactivated and the
// caller must re-authenticate. Returns true when deactivation happened.
func (s *ConnectionStore) RecordAuthFailure(id core.ConnectionID, threshold int) (bool, error) {
	conn, err := s.Get(id)
	if err != nil {
		return false, err
	}

	conn.AuthFailures++
	deactivated := false
	if threshold > 0 && conn.AuthFailures >= threshold {
		conn.IsActive = false
		deactivated = true
	}

	if err := s.Update(conn); err != nil {
		return false, err
	}
	return deactivated, nil
}

// ResetAuthFailures clears the failure counter after a successful sync
func (s *ConnectionStore) ResetAuthFailures(id core.ConnectionID) error {
	_, err := s.db.conn.Exec(`
		UPDATE connections SET auth_failures = 0, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	return err
}

// Delete removes a connection. Jobs, registry entries, credentials and
// records cascade via foreign keys.
func (s *ConnectionStore) Delete(id core.ConnectionID) error {
	_, err := s.db.conn.Exec(`DELETE FROM connections WHERE id = ?`, id)
	return err
}

func (s *ConnectionStore) query(q string, args ...any) ([]*core.Connection, error) {
	rows, err := s.db.conn.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*core.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}

	return conns, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*core.Connection, error) {
	conn := &core.Connection{}
	var credentialID, config, lastError sql.NullString
	var lastSyncAt sql.NullTime

	err := row.Scan(
		&conn.ID, &conn.UserID, &conn.Service, &conn.Name, &conn.IsActive,
		&credentialID, &config, &conn.Status, &lastSyncAt, &lastError,
		&conn.AuthFailures, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	conn.CredentialID = credentialID.String
	conn.LastError = lastError.String
	if lastSyncAt.Valid {
		conn.LastSyncAt = &lastSyncAt.Time
	}
	if config.Valid && config.String != "" {
		json.Unmarshal([]byte(config.String), &conn.Config)
	}

	return conn, nil
}
