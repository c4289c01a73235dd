package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/daygrid/daygrid/internal/core"
)

// RecordStore holds the append-only audit trail of job executions.
// Records are written once at job completion or terminal failure and never
// updated afterward; there is deliberately no Update method.
type RecordStore struct {
	db *DB
}

// NewRecordStore creates a new record store
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

// Append writes one sync record
func (s *RecordStore) Append(rec *core.SyncRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}

	conflicts, _ := json.Marshal(rec.Conflicts)

	_, err := s.db.conn.Exec(`
		INSERT INTO sync_records (
		    id, job_id, connection_id, items_processed, items_created,
		    items_updated, items_deleted, conflicts, attempts, error,
		    started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.JobID, rec.ConnectionID, rec.ItemsProcessed,
		rec.ItemsCreated, rec.ItemsUpdated, rec.ItemsDeleted,
		string(conflicts), rec.Attempts, rec.Error,
		rec.StartedAt, rec.FinishedAt,
	)

	return err
}

// ListByConnection returns records for a connection, newest first
func (s *RecordStore) ListByConnection(connID core.ConnectionID, limit int) ([]*core.SyncRecord, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, job_id, connection_id, items_processed, items_created,
		       items_updated, items_deleted, conflicts, attempts, error,
		       started_at, finished_at
		FROM sync_records WHERE connection_id = ?
		ORDER BY finished_at DESC LIMIT ?
	`, connID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ManualConflicts returns every deferred conflict recorded for a
// connection, newest record first. This is what the client renders as the
// pending-resolution list.
func (s *RecordStore) ManualConflicts(connID core.ConnectionID, limit int) ([]core.Conflict, error) {
	records, err := s.ListByConnection(connID, limit)
	if err != nil {
		return nil, err
	}

	var deferred []core.Conflict
	for _, rec := range records {
		for _, c := range rec.Conflicts {
			if c.Suggested != nil && c.Suggested.Action == core.ResolutionDeferred {
				deferred = append(deferred, c)
			}
		}
	}

	return deferred, nil
}

func scanRecords(rows *sql.Rows) ([]*core.SyncRecord, error) {
	var records []*core.SyncRecord

	for rows.Next() {
		rec := &core.SyncRecord{}
		var conflicts, errText sql.NullString

		err := rows.Scan(
			&rec.ID, &rec.JobID, &rec.ConnectionID, &rec.ItemsProcessed,
			&rec.ItemsCreated, &rec.ItemsUpdated, &rec.ItemsDeleted,
			&conflicts, &rec.Attempts, &errText,
			&rec.StartedAt, &rec.FinishedAt,
		)
		if err != nil {
			return nil, err
		}

		rec.Error = errText.String
		if conflicts.Valid && conflicts.String != "" && conflicts.String != "null" {
			json.Unmarshal([]byte(conflicts.String), &rec.Conflicts)
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
