// Package sync drains the job queue and reconciles local state with
// external services through provider adapters.
package sync

import (
	"context"
	"time"

	"github.com/daygrid/daygrid/internal/core"
)

// ExternalRecord is one record as reported by a provider, already mapped
// into a neutral field set by the adapter. Provider wire formats never
// leave the adapter.
type ExternalRecord struct {
	ExternalID string          `json:"external_id"`
	Kind       core.EntityKind `json:"kind"`
	Fields     map[string]any  `json:"fields"`
	ModifiedAt time.Time       `json:"modified_at"`
	Deleted    bool            `json:"deleted"`
}

// Adapter is the per-provider boundary. The orchestrator treats every
// provider uniformly through it. Implementations must return
// core.ErrCredentialExpired (wrapped or not) when the provider rejects
// authentication beyond refresh; any other error is considered transient
// and retried.
type Adapter interface {
	Service() core.Service

	// PullChanges returns records changed since the given time.
	// A nil since means everything.
	PullChanges(ctx context.Context, conn *core.Connection, since *time.Time) ([]ExternalRecord, error)

	// PushChange creates or updates the external counterpart of a local
	// entity and returns the resulting external record.
	PushChange(ctx context.Context, conn *core.Connection, kind core.EntityKind, externalID string, fields map[string]any) (*ExternalRecord, error)

	// DeleteRemote removes the external record.
	DeleteRemote(ctx context.Context, conn *core.Connection, externalID string) error
}
