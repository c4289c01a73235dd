// Package core defines the fundamental types for Daygrid.
// Everything else in the system is built out of these.
package core

import (
	"time"
)

// -----------------------------------------------------------------------------
// CONNECTION - A user's authorized link to one external service
// -----------------------------------------------------------------------------

// ConnectionID is a type-safe identifier for connections
type ConnectionID string

// Service identifies an external provider
type Service string

const (
	ServiceGoogleCalendar Service = "google_calendar"
	ServiceOutlook        Service = "outlook"
	ServiceNotion         Service = "notion"
	ServiceClickUp        Service = "clickup"
	ServiceLinear         Service = "linear"
	ServiceTodoist        Service = "todoist"
)

// SyncDirection controls which way changes flow
type SyncDirection string

const (
	DirectionPull SyncDirection = "pull" // external -> local only
	DirectionPush SyncDirection = "push" // local -> external only
	DirectionBoth SyncDirection = "both"
)

// Strategy is the configured conflict resolution policy
type Strategy string

const (
	StrategyClientWins Strategy = "client_wins"
	StrategyServerWins Strategy = "server_wins"
	StrategyLatest     Strategy = "latest"
	StrategyMerge      Strategy = "merge"
	StrategyManual     Strategy = "manual"
)

// ConnStatus is the user-visible state of a connection
type ConnStatus string

const (
	ConnStatusIdle    ConnStatus = "idle"
	ConnStatusSyncing ConnStatus = "syncing"
	ConnStatusError   ConnStatus = "error"
)

// SyncConfig holds per-connection sync behavior
type SyncConfig struct {
	AutoSync   bool          `json:"auto_sync"`
	Interval   time.Duration `json:"interval"` // between automatic incremental syncs
	Direction  SyncDirection `json:"direction"`
	SyncTasks  bool          `json:"sync_tasks"`
	SyncEvents bool          `json:"sync_events"`
	Strategy   Strategy      `json:"strategy"`
}

// Connection represents one user's authorization to one external service.
// The OAuth handshake lives elsewhere; the connection only carries an opaque
// credential reference.
type Connection struct {
	ID       ConnectionID `json:"id"`
	UserID   string       `json:"user_id"`
	Service  Service      `json:"service"`
	Name     string       `json:"name"` // user-facing label
	IsActive bool         `json:"is_active"`

	// Credentials stored encrypted, referenced by ID
	CredentialID string `json:"credential_id"`

	Config SyncConfig `json:"config"`

	// Sync state
	Status       ConnStatus `json:"status"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	AuthFailures int        `json:"auth_failures"` // consecutive credential failures

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// -----------------------------------------------------------------------------
// ENTITIES - Local tasks and events
// -----------------------------------------------------------------------------

// EntityID is a type-safe identifier for local entities
type EntityID string

// EntityKind discriminates tasks from events. It is set at construction
// time and never inferred from which optional fields happen to be present.
type EntityKind string

const (
	KindTask  EntityKind = "task"
	KindEvent EntityKind = "event"
)

// Task is a local to-do item
type Task struct {
	ID        EntityID   `json:"id"`
	Title     string     `json:"title"`
	Notes     string     `json:"notes,omitempty"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	Completed bool       `json:"completed"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Event is a local calendar event
type Event struct {
	ID        EntityID   `json:"id"`
	Title     string     `json:"title"`
	Location  string     `json:"location,omitempty"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
	Attendees []string   `json:"attendees,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// -----------------------------------------------------------------------------
// EXTERNAL ITEM - Registry record linking a local entity to one external copy
// -----------------------------------------------------------------------------

// ExternalItem maps one local entity to its counterpart in exactly one
// external service under exactly one connection. The pair
// (connection, external_id) is unique; a local entity has at most one
// external item per connection.
type ExternalItem struct {
	ID           string       `json:"id"`
	ConnectionID ConnectionID `json:"connection_id"`
	EntityID     EntityID     `json:"entity_id"`
	EntityKind   EntityKind   `json:"entity_kind"`
	ExternalID   string       `json:"external_id"`

	// Last-known external payload, as a plain field map
	Snapshot map[string]any `json:"snapshot,omitempty"`

	ExternalModifiedAt *time.Time `json:"external_modified_at,omitempty"`
	LastSyncedAt       *time.Time `json:"last_synced_at,omitempty"`

	// Monotonic local version, bumped on every recorded sync
	Version int64 `json:"version"`

	// Soft delete: the external counterpart disappeared
	Deleted bool `json:"deleted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// -----------------------------------------------------------------------------
// SYNC JOB - One queued unit of synchronization work
// -----------------------------------------------------------------------------

// JobID is a type-safe identifier for sync jobs
type JobID string

// JobOp is the kind of work a job performs
type JobOp string

const (
	OpFullSync        JobOp = "full_sync"
	OpIncrementalSync JobOp = "incremental_sync"
	OpPushOne         JobOp = "push_one"
	OpPullOne         JobOp = "pull_one"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// SyncJob is one unit of work: run operation Op for ConnectionID.
// Completed and cancelled jobs are immutable.
type SyncJob struct {
	ID           JobID        `json:"id"`
	ConnectionID ConnectionID `json:"connection_id"`
	Op           JobOp        `json:"op"`

	// Operation scope: entity_id / external_id / since, depending on Op
	Payload map[string]any `json:"payload,omitempty"`

	Priority int       `json:"priority"` // lower = sooner
	Status   JobStatus `json:"status"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// -----------------------------------------------------------------------------
// SYNC RECORD - Immutable audit record of one job execution
// -----------------------------------------------------------------------------

// SyncRecord is written once when a job completes or fails terminally,
// and never mutated afterward.
type SyncRecord struct {
	ID           string       `json:"id"`
	JobID        JobID        `json:"job_id"`
	ConnectionID ConnectionID `json:"connection_id"`

	ItemsProcessed int `json:"items_processed"`
	ItemsCreated   int `json:"items_created"`
	ItemsUpdated   int `json:"items_updated"`
	ItemsDeleted   int `json:"items_deleted"`

	// Conflicts detected during this run, including deferred ones
	Conflicts []Conflict `json:"conflicts,omitempty"`

	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// -----------------------------------------------------------------------------
// CONFLICT - A detected divergence between local and external state
// -----------------------------------------------------------------------------

// Conflict identifies two versions of logically the same data. It is a
// transient value; it is only persisted as part of the owning SyncRecord.
type Conflict struct {
	EntityID   EntityID   `json:"entity_id"`
	EntityKind EntityKind `json:"entity_kind"`
	ExternalID string     `json:"external_id"`

	// Fields in contention: the union of what either side changed
	Fields []string `json:"fields"`

	// What each side changed since the last recorded sync, as field maps.
	// A field present in both with different values is a contested field.
	Local    map[string]any `json:"local"`
	External map[string]any `json:"external"`

	LocalUpdatedAt    time.Time `json:"local_updated_at"`
	ExternalUpdatedAt time.Time `json:"external_updated_at"`

	// Filled in once the resolver has run
	Suggested *Resolution `json:"suggested,omitempty"`
}

// ResolutionAction is the decided outcome for a conflict
type ResolutionAction string

const (
	ResolutionKeepLocal    ResolutionAction = "keep_local"
	ResolutionKeepExternal ResolutionAction = "keep_external"
	ResolutionMerged       ResolutionAction = "merged"
	ResolutionDeferred     ResolutionAction = "deferred" // waiting on a user decision
)

// Resolution is a full decision for one conflict. Merged carries the
// reconciled field set when Action is ResolutionMerged.
type Resolution struct {
	Action ResolutionAction `json:"action"`
	Merged map[string]any   `json:"merged,omitempty"`
}
