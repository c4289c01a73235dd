package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/daygrid/daygrid/internal/core"
)

// ExternalItemStore is the registry mapping local entities to their
// external counterparts. Mutations are linearizable per
// (connection, external_id): the unique index acts as a compare-and-set,
// so two concurrent sync attempts cannot both create a link for the same
// external record.
type ExternalItemStore struct {
	db *DB
}

// NewExternalItemStore creates a new external item store
func NewExternalItemStore(db *DB) *ExternalItemStore {
	return &ExternalItemStore{db: db}
}

// Link records that a local entity maps to an external record under a
// connection. Linking the same (connection, external_id) to the same entity
// again returns the existing item; linking it to a different entity fails
// with ErrDuplicateLink.
func (s *ExternalItemStore) Link(connID core.ConnectionID, entityID core.EntityID, kind core.EntityKind, externalID string, snapshot map[string]any, externalModifiedAt *time.Time) (*core.ExternalItem, error) {
	existing, err := s.GetByExternalID(connID, externalID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.EntityID != entityID {
			return nil, core.ErrDuplicateLink
		}
		return existing, nil
	}

	now := time.Now().UTC()
	item := &core.ExternalItem{
		ID:                 uuid.New().String(),
		ConnectionID:       connID,
		EntityID:           entityID,
		EntityKind:         kind,
		ExternalID:         externalID,
		Snapshot:           snapshot,
		ExternalModifiedAt: externalModifiedAt,
		LastSyncedAt:       &now,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	snap, _ := json.Marshal(item.Snapshot)

	_, err = s.db.conn.Exec(`
		INSERT INTO external_items (
		    id, connection_id, entity_id, entity_kind, external_id, snapshot,
		    external_modified_at, last_synced_at, version, deleted,
		    created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID, item.ConnectionID, item.EntityID, item.EntityKind,
		item.ExternalID, string(snap), item.ExternalModifiedAt,
		item.LastSyncedAt, item.Version, item.Deleted,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		// A concurrent Link may have won the unique-index race
		if raced, rerr := s.GetByExternalID(connID, externalID); rerr == nil && raced != nil {
			if raced.EntityID == entityID {
				return raced, nil
			}
			return nil, core.ErrDuplicateLink
		}
		return nil, err
	}

	return item, nil
}

// GetByExternalID returns the item for (connection, external_id), or nil
func (s *ExternalItemStore) GetByExternalID(connID core.ConnectionID, externalID string) (*core.ExternalItem, error) {
	return s.getOne(`
		SELECT id, connection_id, entity_id, entity_kind, external_id, snapshot,
		       external_modified_at, last_synced_at, version, deleted,
		       created_at, updated_at
		FROM external_items WHERE connection_id = ? AND external_id = ?
	`, connID, externalID)
}

// GetByEntity returns the item for (connection, entity), or nil
func (s *ExternalItemStore) GetByEntity(connID core.ConnectionID, entityID core.EntityID) (*core.ExternalItem, error) {
	return s.getOne(`
		SELECT id, connection_id, entity_id, entity_kind, external_id, snapshot,
		       external_modified_at, last_synced_at, version, deleted,
		       created_at, updated_at
		FROM external_items WHERE connection_id = ? AND entity_id = ?
	`, connID, entityID)
}

// ListByConnection returns all non-deleted items under a connection
func (s *ExternalItemStore) ListByConnection(connID core.ConnectionID) ([]*core.ExternalItem, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, connection_id, entity_id, entity_kind, external_id, snapshot,
		       external_modified_at, last_synced_at, version, deleted,
		       created_at, updated_at
		FROM external_items WHERE connection_id = ? AND deleted = 0
		ORDER BY created_at ASC
	`, connID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*core.ExternalItem
	for rows.Next() {
		item, err := scanExternalItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// RecordSync overwrites the snapshot and timestamps after a successful sync
// cycle and bumps the version. item.Version is the caller's expected
// version; a mismatch means another sync got there first and the write
// fails with ErrStaleWrite.
func (s *ExternalItemStore) RecordSync(item *core.ExternalItem, snapshot map[string]any, externalModifiedAt *time.Time) error {
	now := time.Now().UTC()
	snap, _ := json.Marshal(snapshot)

	res, err := s.db.conn.Exec(`
		UPDATE external_items SET
		    snapshot = ?, external_modified_at = ?, last_synced_at = ?,
		    version = version + 1, deleted = 0, updated_at = ?
		WHERE id = ? AND version = ?
	`, string(snap), externalModifiedAt, now, now, item.ID, item.Version)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrStaleWrite
	}

	item.Snapshot = snapshot
	item.ExternalModifiedAt = externalModifiedAt
	item.LastSyncedAt = &now
	item.Version++
	item.Deleted = false
	item.UpdatedAt = now
	return nil
}

// MarkExternalDeleted soft-deletes the registry entry. The local entity is
// left untouched; what happens to it is the resolver's decision.
func (s *ExternalItemStore) MarkExternalDeleted(id string) error {
	res, err := s.db.conn.Exec(`
		UPDATE external_items SET deleted = 1, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrExternalItemNotFound
	}
	return nil
}

// Delete hard-deletes one registry entry
func (s *ExternalItemStore) Delete(id string) error {
	_, err := s.db.conn.Exec(`DELETE FROM external_items WHERE id = ?`, id)
	return err
}

// DeleteByEntity hard-deletes all registry entries for a local entity,
// across every connection. Called when the local entity itself is deleted.
func (s *ExternalItemStore) DeleteByEntity(entityID core.EntityID) error {
	_, err := s.db.conn.Exec(`DELETE FROM external_items WHERE entity_id = ?`, entityID)
	return err
}

func (s *ExternalItemStore) getOne(q string, args ...any) (*core.ExternalItem, error) {
	item, err := scanExternalItem(s.db.conn.QueryRow(q, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func scanExternalItem(row rowScanner) (*core.ExternalItem, error) {
	item := &core.ExternalItem{}
	var snapshot sql.NullString
	var externalModifiedAt, lastSyncedAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.ConnectionID, &item.EntityID, &item.EntityKind,
		&item.ExternalID, &snapshot, &externalModifiedAt, &lastSyncedAt,
		&item.Version, &item.Deleted, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if externalModifiedAt.Valid {
		item.ExternalModifiedAt = &externalModifiedAt.Time
	}
	if lastSyncedAt.Valid {
		item.LastSyncedAt = &lastSyncedAt.Time
	}
	if snapshot.Valid && snapshot.String != "" {
		json.Unmarshal([]byte(snapshot.String), &item.Snapshot)
	}

	return item, nil
}
