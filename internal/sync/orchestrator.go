package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daygrid/daygrid/internal/core"
	"github.com/daygrid/daygrid/internal/logging"
	"github.com/daygrid/daygrid/internal/resolver"
	"github.com/daygrid/daygrid/internal/storage"
)

// Config tunes the orchestrator
type Config struct {
	PollInterval     time.Duration // how often each worker checks for due jobs
	AdapterTimeout   time.Duration // deadline for a single adapter call
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	MaxAttempts      int
	AuthFailureLimit int // consecutive credential failures before auto-deactivation
}

// DefaultConfig returns default orchestrator settings
func DefaultConfig() Config {
	return Config{
		PollInterval:     5 * time.Second,
		AdapterTimeout:   30 * time.Second,
		BackoffBase:      10 * time.Second,
		BackoffCap:       10 * time.Minute,
		MaxAttempts:      3,
		AuthFailureLimit: 3,
	}
}

// Notifier receives job status transitions (the websocket hub implements it)
type Notifier interface {
	JobUpdate(job *core.SyncJob)
}

// Orchestrator drains the sync job queue. It runs one worker goroutine per
// active connection: jobs for different connections proceed in parallel,
// jobs for the same connection never interleave, so an external service
// never sees two conflicting in-flight writes from us.
type Orchestrator struct {
	cfg Config

	connections *storage.ConnectionStore
	jobs        *storage.JobStore
	registry    *storage.ExternalItemStore
	records     *storage.RecordStore
	planner     *storage.PlannerStore

	adapters map[core.Service]Adapter
	notifier Notifier
	log      *logging.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	workers map[core.ConnectionID]context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// Deps collects the orchestrator's collaborators
type Deps struct {
	Connections *storage.ConnectionStore
	Jobs        *storage.JobStore
	Registry    *storage.ExternalItemStore
	Records     *storage.RecordStore
	Planner     *storage.PlannerStore
	Adapters    []Adapter
	Notifier    Notifier
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	adapters := make(map[core.Service]Adapter, len(deps.Adapters))
	for _, a := range deps.Adapters {
		adapters[a.Service()] = a
	}

	return &Orchestrator{
		cfg:         cfg,
		connections: deps.Connections,
		jobs:        deps.Jobs,
		registry:    deps.Registry,
		records:     deps.Records,
		planner:     deps.Planner,
		adapters:    adapters,
		notifier:    deps.Notifier,
		log:         logging.WithField("component", "orchestrator"),
		workers:     make(map[core.ConnectionID]context.CancelFunc),
	}
}

// Start launches one worker per active connection
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return fmt.Errorf("orchestrator already started")
	}

	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.started = true

	conns, err := o.connections.GetActive()
	if err != nil {
		return fmt.Errorf("list active connections: %w", err)
	}
	for _, conn := range conns {
		o.startWorker(conn.ID)
	}

	return nil
}

// Stop cancels all workers and waits for in-flight jobs to finish.
// Running jobs are never preempted mid-adapter-call; the worker loop just
// stops picking up new work.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.cancel()
	o.workers = make(map[core.ConnectionID]context.CancelFunc)
	o.started = false
	o.mu.Unlock()

	o.wg.Wait()
}

// RefreshWorkers reconciles the worker set with the current active
// connections. Called after a connection is added, activated or removed.
func (o *Orchestrator) RefreshWorkers() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.started {
		return nil
	}

	conns, err := o.connections.GetActive()
	if err != nil {
		return err
	}

	active := make(map[core.ConnectionID]bool, len(conns))
	for _, conn := range conns {
		active[conn.ID] = true
		if _, ok := o.workers[conn.ID]; !ok {
			o.startWorker(conn.ID)
		}
	}

	for id, cancel := range o.workers {
		if !active[id] {
			cancel()
			delete(o.workers, id)
		}
	}

	return nil
}

// startWorker must be called with o.mu held
func (o *Orchestrator) startWorker(connID core.ConnectionID) {
	ctx, cancel := context.WithCancel(o.ctx)
	o.workers[connID] = cancel

	o.wg.Add(1)
	go o.runWorker(ctx, connID)
}

// runWorker is the single-flight loop for one connection
func (o *Orchestrator) runWorker(ctx context.Context, connID core.ConnectionID) {
	defer o.wg.Done()

	log := o.log.WithField("connection", string(connID))
	log.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("worker stopped")
			return
		case <-time.After(o.cfg.PollInterval):
		}

		// Drain everything currently due before sleeping again
		for {
			if ctx.Err() != nil {
				return
			}

			job, err := o.jobs.DequeueNext(connID)
			if err != nil {
				log.Error("dequeue failed: %v", err)
				break
			}
			if job == nil {
				break
			}

			o.runJob(ctx, job)
		}
	}
}

// Job enqueue helpers used by the API layer and the scheduler

// EnqueueManualSync queues a user-requested full sync at high priority
func (o *Orchestrator) EnqueueManualSync(connID core.ConnectionID) (*core.SyncJob, error) {
	return o.jobs.Enqueue(connID, core.OpFullSync, nil, 10, o.cfg.MaxAttempts)
}

// EnqueueAutoSync queues a scheduled incremental sync
func (o *Orchestrator) EnqueueAutoSync(connID core.ConnectionID) (*core.SyncJob, error) {
	return o.jobs.Enqueue(connID, core.OpIncrementalSync, nil, 100, o.cfg.MaxAttempts)
}

// EnqueueWebhookPull queues a pull of one external record, typically in
// response to a provider push notification
func (o *Orchestrator) EnqueueWebhookPull(connID core.ConnectionID, externalID string) (*core.SyncJob, error) {
	payload := map[string]any{"external_id": externalID}
	return o.jobs.Enqueue(connID, core.OpPullOne, payload, 20, o.cfg.MaxAttempts)
}

// EnqueueLocalChange queues a push of one local entity after a mutation
func (o *Orchestrator) EnqueueLocalChange(connID core.ConnectionID, entityID core.EntityID) (*core.SyncJob, error) {
	payload := map[string]any{"entity_id": string(entityID)}
	return o.jobs.Enqueue(connID, core.OpPushOne, payload, 50, o.cfg.MaxAttempts)
}

// -----------------------------------------------------------------------------
// Job execution
// -----------------------------------------------------------------------------

// outcomeKind classifies how a job attempt ended. Errors are threaded
// through these explicit results rather than panics or sentinel control
// flow, so every transition in the state machine is visible here.
type outcomeKind int

const (
	outcomeOK      outcomeKind = iota
	outcomeRetry               // transient: reschedule with backoff
	outcomeFatal               // connection-level problem: no retry
	outcomeDiscard             // malformed job: no retry, no backoff
)

type jobOutcome struct {
	kind outcomeKind
	err  error
}

// runCounters aggregates one attempt's work for the audit record
type runCounters struct {
	processed int
	created   int
	updated   int
	deleted   int
	conflicts []core.Conflict
	itemErrs  []string
	deferred  map[string]bool // registry item IDs with unresolved conflicts
}

func (o *Orchestrator) runJob(ctx context.Context, job *core.SyncJob) {
	log := o.log.WithField("job", string(job.ID))

	if err := o.jobs.MarkRunning(job); err != nil {
		// Lost the claim: cancelled or picked up elsewhere
		log.Debug("claim failed: %v", err)
		return
	}
	o.notify(job)

	startedAt := time.Now().UTC()

	counters := &runCounters{deferred: make(map[string]bool)}
	out := jobOutcome{kind: outcomeOK}

	conn, err := o.connections.Get(job.ConnectionID)
	switch {
	case err != nil:
		out = jobOutcome{outcomeFatal, err}
	case !conn.IsActive:
		out = jobOutcome{outcomeFatal, core.ErrConnectionInactive}
	default:
		o.connections.UpdateSyncStatus(conn.ID, core.ConnStatusSyncing, "", nil)
		out = o.execute(ctx, conn, job, counters)
	}

	o.finalize(job, conn, counters, out, startedAt)
	o.notify(job)
}

func (o *Orchestrator) execute(ctx context.Context, conn *core.Connection, job *core.SyncJob, c *runCounters) jobOutcome {
	adapter, ok := o.adapters[conn.Service]
	if !ok {
		return jobOutcome{outcomeFatal, fmt.Errorf("no adapter registered for service %s", conn.Service)}
	}

	var err error
	switch job.Op {
	case core.OpFullSync:
		err = o.runSync(ctx, conn, adapter, nil, c)

	case core.OpIncrementalSync:
		err = o.runSync(ctx, conn, adapter, conn.LastSyncAt, c)

	case core.OpPullOne:
		externalID, _ := job.Payload["external_id"].(string)
		if externalID == "" {
			return jobOutcome{outcomeDiscard, fmt.Errorf("%w: pull_one requires external_id", core.ErrInvalidPayload)}
		}
		err = o.runPull(ctx, conn, adapter, nil, externalID, c)

	case core.OpPushOne:
		entityID, _ := job.Payload["entity_id"].(string)
		if entityID == "" {
			return jobOutcome{outcomeDiscard, fmt.Errorf("%w: push_one requires entity_id", core.ErrInvalidPayload)}
		}
		err = o.pushEntity(ctx, conn, adapter, core.EntityID(entityID), c)

	default:
		return jobOutcome{outcomeDiscard, fmt.Errorf("%w: unknown operation %q", core.ErrInvalidPayload, job.Op)}
	}

	return classify(err)
}

// classify maps an execution error onto the explicit outcome set.
// Anything not recognizably fatal is retryable.
func classify(err error) jobOutcome {
	switch {
	case err == nil:
		return jobOutcome{kind: outcomeOK}
	case errors.Is(err, core.ErrCredentialExpired),
		errors.Is(err, core.ErrConnectionInactive),
		errors.Is(err, core.ErrConnectionNotFound):
		return jobOutcome{outcomeFatal, err}
	case errors.Is(err, core.ErrInvalidPayload):
		return jobOutcome{outcomeDiscard, err}
	default:
		return jobOutcome{outcomeRetry, err}
	}
}

// finalize advances the job state machine and writes the audit record.
// Records are written on completion and on terminal failure; a retry
// scheduled with backoff is not surfaced to the user.
func (o *Orchestrator) finalize(job *core.SyncJob, conn *core.Connection, c *runCounters, out jobOutcome, startedAt time.Time) {
	log := o.log.WithField("job", string(job.ID))
	now := time.Now().UTC()

	writeRecord := func(errText string) {
		rec := &core.SyncRecord{
			JobID:          job.ID,
			ConnectionID:   job.ConnectionID,
			ItemsProcessed: c.processed,
			ItemsCreated:   c.created,
			ItemsUpdated:   c.updated,
			ItemsDeleted:   c.deleted,
			Conflicts:      c.conflicts,
			Attempts:       job.Attempts,
			Error:          errText,
			StartedAt:      startedAt,
			FinishedAt:     now,
		}
		if err := o.records.Append(rec); err != nil {
			log.Error("append sync record: %v", err)
		}
	}

	switch out.kind {
	case outcomeOK:
		if err := o.jobs.MarkCompleted(job); err != nil {
			log.Error("mark completed: %v", err)
			return
		}
		writeRecord(strings.Join(c.itemErrs, "; "))
		if conn != nil {
			o.connections.UpdateSyncStatus(conn.ID, core.ConnStatusIdle, "", &now)
			o.connections.ResetAuthFailures(conn.ID)
		}
		log.Info("job completed: %d processed, %d conflicts", c.processed, len(c.conflicts))

	case outcomeRetry:
		retrying, err := o.jobs.MarkFailed(job, out.err.Error(), o.cfg.BackoffBase, o.cfg.BackoffCap)
		if err != nil {
			log.Error("mark failed: %v", err)
			return
		}
		if retrying {
			// Transient failure: back off quietly, don't alarm the user
			if conn != nil {
				o.connections.UpdateSyncStatus(conn.ID, core.ConnStatusIdle, "", nil)
			}
			log.Warn("job attempt %d failed, retrying: %v", job.Attempts, out.err)
			return
		}
		writeRecord(out.err.Error())
		if conn != nil {
			o.connections.UpdateSyncStatus(conn.ID, core.ConnStatusError, out.err.Error(), nil)
		}
		log.Error("job failed terminally after %d attempts: %v", job.Attempts, out.err)

	case outcomeFatal:
		if err := o.jobs.MarkFailedTerminal(job, out.err.Error()); err != nil {
			log.Error("mark failed terminal: %v", err)
			return
		}
		writeRecord(out.err.Error())
		if conn != nil {
			o.connections.UpdateSyncStatus(conn.ID, core.ConnStatusError, out.err.Error(), nil)
			if errors.Is(out.err, core.ErrCredentialExpired) {
				deactivated, _ := o.connections.RecordAuthFailure(conn.ID, o.cfg.AuthFailureLimit)
				if deactivated {
					log.Warn("connection deactivated after repeated credential failures")
				}
			}
		}
		log.Error("job failed fatally: %v", out.err)

	case outcomeDiscard:
		if err := o.jobs.MarkFailedTerminal(job, out.err.Error()); err != nil {
			log.Error("mark discarded: %v", err)
			return
		}
		writeRecord(out.err.Error())
		log.Warn("job discarded: %v", out.err)
	}
}

func (o *Orchestrator) notify(job *core.SyncJob) {
	if o.notifier != nil {
		o.notifier.JobUpdate(job)
	}
}

// -----------------------------------------------------------------------------
// Sync phases
// -----------------------------------------------------------------------------

// runSync is a full or incremental cycle: pull external changes, then push
// local ones, as the connection's direction allows
func (o *Orchestrator) runSync(ctx context.Context, conn *core.Connection, adapter Adapter, since *time.Time, c *runCounters) error {
	if err := o.runPull(ctx, conn, adapter, since, "", c); err != nil {
		return err
	}
	return o.runPushAll(ctx, conn, adapter, c)
}

// runPull fetches external changes and reconciles each one. Per-item
// failures are captured and the pull continues; only errors that stop the
// whole job (credential expiry, the fetch itself failing) propagate.
func (o *Orchestrator) runPull(ctx context.Context, conn *core.Connection, adapter Adapter, since *time.Time, onlyExternalID string, c *runCounters) error {
	if conn.Config.Direction == core.DirectionPush {
		return nil
	}

	actx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
	records, err := adapter.PullChanges(actx, conn, since)
	cancel()
	if err != nil {
		return fmt.Errorf("pull changes: %w", err)
	}

	for _, rec := range records {
		if onlyExternalID != "" && rec.ExternalID != onlyExternalID {
			continue
		}
		if !o.kindEnabled(conn, rec.Kind) {
			continue
		}

		c.processed++
		if err := o.processRecord(ctx, conn, adapter, rec, c); err != nil {
			if errors.Is(err, core.ErrCredentialExpired) {
				return err
			}
			// Captured, never silently dropped; the job still progresses
			c.itemErrs = append(c.itemErrs, fmt.Sprintf("%s: %v", rec.ExternalID, err))
		}
	}

	return nil
}

// runPushAll walks the registry and pushes local entities modified since
// their last sync
func (o *Orchestrator) runPushAll(ctx context.Context, conn *core.Connection, adapter Adapter, c *runCounters) error {
	if conn.Config.Direction == core.DirectionPull {
		return nil
	}

	items, err := o.registry.ListByConnection(conn.ID)
	if err != nil {
		return fmt.Errorf("list registry: %w", err)
	}

	for _, item := range items {
		if !o.kindEnabled(conn, item.EntityKind) || c.deferred[item.ID] {
			continue
		}

		fields, updatedAt, err := o.localFields(item)
		if errors.Is(err, core.ErrTaskNotFound) || errors.Is(err, core.ErrEventNotFound) {
			// Local entity is gone: propagate the deletion outward
			if derr := o.deleteRemote(ctx, conn, adapter, item); derr != nil {
				if errors.Is(derr, core.ErrCredentialExpired) {
					return derr
				}
				c.itemErrs = append(c.itemErrs, fmt.Sprintf("%s: %v", item.ExternalID, derr))
				continue
			}
			c.deleted++
			continue
		}
		if err != nil {
			c.itemErrs = append(c.itemErrs, fmt.Sprintf("%s: %v", item.ExternalID, err))
			continue
		}

		if item.LastSyncedAt != nil && !updatedAt.After(*item.LastSyncedAt) {
			continue // unchanged since last sync
		}

		c.processed++
		pushed, err := o.pushFields(ctx, conn, adapter, item, fields)
		if err != nil {
			if errors.Is(err, core.ErrCredentialExpired) {
				return err
			}
			c.itemErrs = append(c.itemErrs, fmt.Sprintf("%s: %v", item.ExternalID, err))
			continue
		}

		if err := o.recordSync(item, pushed.Fields, &pushed.ModifiedAt); err != nil {
			c.itemErrs = append(c.itemErrs, fmt.Sprintf("%s: %v", item.ExternalID, err))
			continue
		}
		c.updated++
	}

	return nil
}

// pushEntity pushes one local entity (push_one operation)
func (o *Orchestrator) pushEntity(ctx context.Context, conn *core.Connection, adapter Adapter, entityID core.EntityID, c *runCounters) error {
	item, err := o.registry.GetByEntity(conn.ID, entityID)
	if err != nil {
		return err
	}

	// Resolve the entity even when unlinked: a first push creates the link
	var kind core.EntityKind
	var fields map[string]any

	if task, terr := o.planner.GetTask(entityID); terr == nil {
		kind, fields = core.KindTask, taskFields(task)
	} else if event, eerr := o.planner.GetEvent(entityID); eerr == nil {
		kind, fields = core.KindEvent, eventFields(event)
	} else {
		// Deleted locally before the push ran
		if item != nil {
			if derr := o.deleteRemote(ctx, conn, adapter, item); derr != nil {
				return derr
			}
			c.deleted++
		}
		return nil
	}

	if !o.kindEnabled(conn, kind) || conn.Config.Direction == core.DirectionPull {
		return nil
	}

	externalID := ""
	if item != nil {
		externalID = item.ExternalID
	}

	c.processed++
	actx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
	pushed, err := adapter.PushChange(actx, conn, kind, externalID, fields)
	cancel()
	if err != nil {
		return fmt.Errorf("push change: %w", err)
	}

	if item == nil {
		if _, err := o.registry.Link(conn.ID, entityID, kind, pushed.ExternalID, pushed.Fields, &pushed.ModifiedAt); err != nil {
			return err
		}
		c.created++
		return nil
	}

	if err := o.recordSync(item, pushed.Fields, &pushed.ModifiedAt); err != nil {
		return err
	}
	c.updated++
	return nil
}

// processRecord reconciles one pulled external record against local state.
// Each item commits independently; a failure here never rolls back other
// items already written.
func (o *Orchestrator) processRecord(ctx context.Context, conn *core.Connection, adapter Adapter, rec ExternalRecord, c *runCounters) error {
	item, err := o.registry.GetByExternalID(conn.ID, rec.ExternalID)
	if err != nil {
		return err
	}

	if rec.Deleted {
		if item == nil {
			return nil
		}
		if err := o.registry.MarkExternalDeleted(item.ID); err != nil {
			return err
		}
		// Whether the deletion reaches the local entity is strategy policy
		if conn.Config.Strategy == core.StrategyServerWins {
			o.deleteLocal(item)
			c.deleted++
		}
		return nil
	}

	if item == nil {
		return o.createFromRecord(conn, rec, c)
	}

	localFields, localUpdatedAt, err := o.localFields(item)
	if errors.Is(err, core.ErrTaskNotFound) || errors.Is(err, core.ErrEventNotFound) {
		// The registry entry points at a now-deleted local entity
		if derr := o.deleteRemote(ctx, conn, adapter, item); derr != nil {
			return derr
		}
		c.deleted++
		return nil
	}
	if err != nil {
		return err
	}

	localDiff := diffFields(item.Snapshot, localFields)
	externalDiff := diffFields(item.Snapshot, rec.Fields)

	switch {
	case len(localDiff) == 0 && len(externalDiff) == 0:
		// Nothing moved; just freshen the registry timestamps
		return o.recordSync(item, rec.Fields, &rec.ModifiedAt)

	case len(localDiff) == 0:
		// Only the external side changed
		if err := o.applyLocal(item, rec.Fields); err != nil {
			return err
		}
		if err := o.recordSync(item, rec.Fields, &rec.ModifiedAt); err != nil {
			return err
		}
		c.updated++
		return nil

	case len(externalDiff) == 0:
		// Only the local side changed
		pushed, err := o.pushFields(ctx, conn, adapter, item, localFields)
		if err != nil {
			return err
		}
		snapshot, modifiedAt := rec.Fields, &rec.ModifiedAt
		if pushed != nil {
			snapshot, modifiedAt = pushed.Fields, &pushed.ModifiedAt
		}
		if err := o.recordSync(item, snapshot, modifiedAt); err != nil {
			return err
		}
		c.updated++
		return nil
	}

	// Both sides changed since the last sync: a genuine conflict
	conflict := core.Conflict{
		EntityID:          item.EntityID,
		EntityKind:        item.EntityKind,
		ExternalID:        item.ExternalID,
		Fields:            unionKeys(localDiff, externalDiff),
		Local:             localDiff,
		External:          externalDiff,
		LocalUpdatedAt:    localUpdatedAt,
		ExternalUpdatedAt: rec.ModifiedAt,
	}

	resolution, err := resolver.Resolve(conflict, conn.Config.Strategy, resolver.Options{})
	if err != nil {
		return err
	}
	conflict.Suggested = &resolution
	c.conflicts = append(c.conflicts, conflict)

	return o.applyResolution(ctx, conn, adapter, item, rec, conflict, resolution, c)
}

// applyResolution carries out a resolver decision. Deferred conflicts
// apply neither side; the item stays flagged until the user decides and a
// new job replays the change.
func (o *Orchestrator) applyResolution(ctx context.Context, conn *core.Connection, adapter Adapter, item *core.ExternalItem, rec ExternalRecord, conflict core.Conflict, resolution core.Resolution, c *runCounters) error {
	switch resolution.Action {
	case core.ResolutionDeferred:
		// Hold both sides as they are. The item must also be skipped by the
		// push phase of this run, or the local edit would clobber the remote
		// one before the user has decided.
		c.deferred[item.ID] = true
		return nil

	case core.ResolutionKeepLocal:
		localFields, _, err := o.localFields(item)
		if err != nil {
			return err
		}
		pushed, err := o.pushFields(ctx, conn, adapter, item, localFields)
		if err != nil {
			return err
		}
		snapshot, modifiedAt := localFields, &rec.ModifiedAt
		if pushed != nil {
			snapshot, modifiedAt = pushed.Fields, &pushed.ModifiedAt
		}
		if err := o.recordSync(item, snapshot, modifiedAt); err != nil {
			return err
		}
		c.updated++
		return nil

	case core.ResolutionKeepExternal:
		if err := o.applyLocal(item, rec.Fields); err != nil {
			return err
		}
		if err := o.recordSync(item, rec.Fields, &rec.ModifiedAt); err != nil {
			return err
		}
		c.updated++
		return nil

	case core.ResolutionMerged:
		if err := o.applyLocal(item, resolution.Merged); err != nil {
			return err
		}
		pushed, err := o.pushFields(ctx, conn, adapter, item, resolution.Merged)
		if err != nil {
			return err
		}
		snapshot, modifiedAt := resolution.Merged, &rec.ModifiedAt
		if pushed != nil {
			snapshot, modifiedAt = pushed.Fields, &pushed.ModifiedAt
		}
		if err := o.recordSync(item, snapshot, modifiedAt); err != nil {
			return err
		}
		c.updated++
		return nil

	default:
		return fmt.Errorf("unknown resolution action %q", resolution.Action)
	}
}

// -----------------------------------------------------------------------------
// Item-level helpers
// -----------------------------------------------------------------------------

// createFromRecord materializes a new local entity for an external record
// seen for the first time, and links it in the registry
func (o *Orchestrator) createFromRecord(conn *core.Connection, rec ExternalRecord, c *runCounters) error {
	entityID := core.EntityID(uuid.New().String())

	switch rec.Kind {
	case core.KindTask:
		task := &core.Task{ID: entityID}
		applyTaskFields(task, rec.Fields)
		if err := o.planner.CreateTask(task); err != nil {
			return err
		}
	case core.KindEvent:
		event := &core.Event{ID: entityID}
		applyEventFields(event, rec.Fields)
		if err := o.planner.CreateEvent(event); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown entity kind %q", core.ErrInvalidPayload, rec.Kind)
	}

	if _, err := o.registry.Link(conn.ID, entityID, rec.Kind, rec.ExternalID, rec.Fields, &rec.ModifiedAt); err != nil {
		return err
	}

	c.created++
	return nil
}

// localFields loads the current local entity behind a registry item
func (o *Orchestrator) localFields(item *core.ExternalItem) (map[string]any, time.Time, error) {
	switch item.EntityKind {
	case core.KindTask:
		task, err := o.planner.GetTask(item.EntityID)
		if err != nil {
			return nil, time.Time{}, err
		}
		return taskFields(task), task.UpdatedAt, nil
	case core.KindEvent:
		event, err := o.planner.GetEvent(item.EntityID)
		if err != nil {
			return nil, time.Time{}, err
		}
		return eventFields(event), event.UpdatedAt, nil
	default:
		return nil, time.Time{}, fmt.Errorf("unknown entity kind %q", item.EntityKind)
	}
}

// applyLocal overlays a field map onto the local entity behind an item
func (o *Orchestrator) applyLocal(item *core.ExternalItem, fields map[string]any) error {
	switch item.EntityKind {
	case core.KindTask:
		task, err := o.planner.GetTask(item.EntityID)
		if err != nil {
			return err
		}
		applyTaskFields(task, fields)
		return o.planner.UpdateTask(task)
	case core.KindEvent:
		event, err := o.planner.GetEvent(item.EntityID)
		if err != nil {
			return err
		}
		applyEventFields(event, fields)
		return o.planner.UpdateEvent(event)
	default:
		return fmt.Errorf("unknown entity kind %q", item.EntityKind)
	}
}

func (o *Orchestrator) deleteLocal(item *core.ExternalItem) {
	switch item.EntityKind {
	case core.KindTask:
		o.planner.DeleteTask(item.EntityID)
	case core.KindEvent:
		o.planner.DeleteEvent(item.EntityID)
	}
}

// pushFields sends local fields outward when the direction allows it.
// Returns nil without error when pushing is suppressed.
func (o *Orchestrator) pushFields(ctx context.Context, conn *core.Connection, adapter Adapter, item *core.ExternalItem, fields map[string]any) (*ExternalRecord, error) {
	if conn.Config.Direction == core.DirectionPull {
		return nil, nil
	}

	actx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
	defer cancel()

	pushed, err := adapter.PushChange(actx, conn, item.EntityKind, item.ExternalID, fields)
	if err != nil {
		return nil, fmt.Errorf("push change: %w", err)
	}
	return pushed, nil
}

func (o *Orchestrator) deleteRemote(ctx context.Context, conn *core.Connection, adapter Adapter, item *core.ExternalItem) error {
	if conn.Config.Direction != core.DirectionPull {
		actx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
		err := adapter.DeleteRemote(actx, conn, item.ExternalID)
		cancel()
		if err != nil {
			return fmt.Errorf("delete remote: %w", err)
		}
	}
	return o.registry.Delete(item.ID)
}

// recordSync writes the registry update, re-reading and retrying once on a
// stale version. A second stale write in a row bubbles up and the job
// attempt retries with backoff.
func (o *Orchestrator) recordSync(item *core.ExternalItem, snapshot map[string]any, modifiedAt *time.Time) error {
	err := o.registry.RecordSync(item, snapshot, modifiedAt)
	if !errors.Is(err, core.ErrStaleWrite) {
		return err
	}

	fresh, gerr := o.registry.GetByExternalID(item.ConnectionID, item.ExternalID)
	if gerr != nil || fresh == nil {
		return err
	}
	*item = *fresh
	return o.registry.RecordSync(item, snapshot, modifiedAt)
}

func (o *Orchestrator) kindEnabled(conn *core.Connection, kind core.EntityKind) bool {
	switch kind {
	case core.KindTask:
		return conn.Config.SyncTasks
	case core.KindEvent:
		return conn.Config.SyncEvents
	default:
		return false
	}
}
