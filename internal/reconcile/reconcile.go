// Package reconcile deploys validated requests to the DNS provider and keeps
// the local record store in step with what the provider confirmed.
//
// The store is written only after the provider call succeeded, so a failed
// deploy never leaves a record the provider does not know about.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/sipico/freesub/internal/metrics"
	"github.com/sipico/freesub/internal/provider"
	"github.com/sipico/freesub/internal/record"
	"github.com/sipico/freesub/internal/storage"
)

var (
	// ErrOwnershipConflict means the subdomain is registered to someone else.
	// Validation rejects such requests, so reaching the deployer with one is a
	// precondition violation and is never retried.
	ErrOwnershipConflict = errors.New("subdomain is owned by another user")

	// ErrUnknownDomain means no policy exists for the parent domain.
	ErrUnknownDomain = errors.New("unknown parent domain")
)

// Action is what a deploy did.
type Action string

// Deploy actions.
const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionReplaced  Action = "replaced"
	ActionDeleted   Action = "deleted"
	ActionNoop      Action = "noop"
)

// State is a step in the life of one request.
type State string

// Request states.
const (
	StateIncoming     State = "incoming"
	StateCreating     State = "creating"
	StateUpdating     State = "updating"
	StatePersisted    State = "persisted"
	StateFailed       State = "failed"
	StateDeleting     State = "deleting"
	StateRemoved      State = "removed"
	StateDeleteFailed State = "delete_failed"
)

// Provider is the subset of the provider client used for deploys.
type Provider interface {
	CreateRecord(ctx context.Context, zoneID string, rec provider.Record) (*provider.Result, error)
	UpdateRecord(ctx context.Context, zoneID, id string, rec provider.Record) (*provider.Result, error)
	DeleteRecord(ctx context.Context, zoneID, id string) error
}

// Outcome is the result of a successful deploy or delete.
type Outcome struct {
	Action Action
	State  State
	Record *record.Registered
	// Warning is set when the provider refused to proxy the record and it
	// was deployed unproxied.
	Warning string
	// StoreInconsistency is set when the stored provider record id was
	// unknown to the provider and the record was created again.
	StoreInconsistency bool
}

// Deployer creates, updates and deletes records.
type Deployer struct {
	provider Provider
	store    storage.Store
	policies *record.PolicySet
	logger   *slog.Logger
	now      func() time.Time
}

// NewDeployer creates a Deployer.
func NewDeployer(p Provider, store storage.Store, policies *record.PolicySet, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		provider: p,
		store:    store,
		policies: policies,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Deploy creates the record for req, or updates it when the same owner
// already holds the subdomain.
func (d *Deployer) Deploy(ctx context.Context, req *record.Request) (*Outcome, error) {
	key := req.Key()
	d.transition(key, StateIncoming)

	existing, err := d.store.Get(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if existing != nil && !existing.OwnedBy(req.Owner.Username) {
		return nil, fmt.Errorf("%w: %s belongs to %s", ErrOwnershipConflict, key, existing.Owner.Username)
	}

	out, err := d.apply(ctx, existing, req)
	d.finish(key, "deploy", out, err)
	return out, err
}

// apply pushes req to the provider, replacing existing, and persists the
// result.
func (d *Deployer) apply(ctx context.Context, existing *record.Registered, req *record.Request) (*Outcome, error) {
	key := req.Key()
	zoneID, err := d.zoneID(key.Domain)
	if err != nil {
		return nil, err
	}
	payload, err := record.Payload(key.FQDN(), req.Record, d.policies.DefaultTTL())
	if err != nil {
		return nil, fmt.Errorf("failed to build payload for %s: %w", key, err)
	}

	if existing == nil || existing.ProviderRecordID == "" {
		d.transition(key, StateCreating)
		res, err := d.provider.CreateRecord(ctx, zoneID, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", key, err)
		}
		return d.persist(ctx, existing, req, res, ActionCreated)
	}

	if existing.Record.Type != req.Record.Type {
		return d.replace(ctx, zoneID, existing, req, payload)
	}

	d.transition(key, StateUpdating)
	res, err := d.provider.UpdateRecord(ctx, zoneID, existing.ProviderRecordID, payload)
	if errors.Is(err, provider.ErrNotFound) {
		d.logger.Warn("stored provider record id is unknown to the provider, creating record again",
			"record", key.String(),
			"provider_record_id", existing.ProviderRecordID)
		d.transition(key, StateCreating)
		res, err = d.provider.CreateRecord(ctx, zoneID, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to re-create %s: %w", key, err)
		}
		out, err := d.persist(ctx, existing, req, res, ActionCreated)
		if out != nil {
			out.StoreInconsistency = true
		}
		return out, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", key, err)
	}

	action := ActionUpdated
	if reflect.DeepEqual(existing.Request, *req) {
		action = ActionUnchanged
	}
	return d.persist(ctx, existing, req, res, action)
}

// replace handles a change of record type: the old provider record is
// removed first, then the new one created. The store keeps the old entry
// until the create succeeds.
func (d *Deployer) replace(ctx context.Context, zoneID string, existing *record.Registered, req *record.Request, payload provider.Record) (*Outcome, error) {
	key := req.Key()
	d.transition(key, StateDeleting)
	if err := d.provider.DeleteRecord(ctx, zoneID, existing.ProviderRecordID); err != nil && !errors.Is(err, provider.ErrNotFound) {
		return nil, fmt.Errorf("failed to remove old %s record for %s: %w", existing.Record.Type, key, err)
	}

	d.transition(key, StateCreating)
	res, err := d.provider.CreateRecord(ctx, zoneID, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s record for %s: %w", req.Record.Type, key, err)
	}
	return d.persist(ctx, existing, req, res, ActionReplaced)
}

// persist writes the provider-confirmed record to the store.
func (d *Deployer) persist(ctx context.Context, existing *record.Registered, req *record.Request, res *provider.Result, action Action) (*Outcome, error) {
	now := d.now()
	reg := &record.Registered{
		Request:   *req,
		Status:    record.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	reg = reg.Clone()
	if existing != nil {
		reg.CreatedAt = existing.CreatedAt
		reg.ProviderRecordID = existing.ProviderRecordID
	}
	if res.Record != nil && res.Record.ID != "" {
		reg.ProviderRecordID = res.Record.ID
	}
	if res.Retried {
		// Store what the provider actually serves so drift checks agree.
		reg.Record.Proxied = record.Ptr(false)
	}

	out := &Outcome{Action: action, State: StatePersisted, Record: reg, Warning: res.Warning}
	if action == ActionUnchanged && existing != nil && sameRegistration(existing, reg) {
		out.Record = existing
		return out, nil
	}
	if action == ActionUnchanged {
		out.Action = ActionUpdated
	}

	if err := d.store.Put(ctx, reg); err != nil {
		return nil, fmt.Errorf("%s was deployed as %s but the store write failed: %w", req.Key(), reg.ProviderRecordID, err)
	}
	return out, nil
}

func sameRegistration(a, b *record.Registered) bool {
	return a.ProviderRecordID == b.ProviderRecordID &&
		a.Status == b.Status &&
		reflect.DeepEqual(a.Request, b.Request)
}

// Delete removes the record stored under key from the provider, then from
// the store. A key with no stored record is a no-op.
func (d *Deployer) Delete(ctx context.Context, key record.Key) (*Outcome, error) {
	key = record.NewKey(key.Domain, key.Label)
	existing, err := d.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		d.logger.Info("nothing to delete", "record", key.String())
		out := &Outcome{Action: ActionNoop, State: StateRemoved}
		d.finish(key, "delete", out, nil)
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}

	out, err := d.remove(ctx, existing)
	d.finish(key, "delete", out, err)
	return out, err
}

// DeleteRequest deletes the record named by req after checking that req's
// owner holds it.
func (d *Deployer) DeleteRequest(ctx context.Context, req *record.Request) (*Outcome, error) {
	existing, err := d.store.Get(ctx, req.Key())
	if err == nil && !existing.OwnedBy(req.Owner.Username) {
		return nil, fmt.Errorf("%w: %s belongs to %s", ErrOwnershipConflict, req.Key(), existing.Owner.Username)
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load %s: %w", req.Key(), err)
	}
	return d.Delete(ctx, req.Key())
}

func (d *Deployer) remove(ctx context.Context, existing *record.Registered) (*Outcome, error) {
	key := existing.Key()
	zoneID, err := d.zoneID(key.Domain)
	if err != nil {
		return nil, err
	}

	d.transition(key, StateDeleting)
	if existing.ProviderRecordID != "" {
		err := d.provider.DeleteRecord(ctx, zoneID, existing.ProviderRecordID)
		switch {
		case errors.Is(err, provider.ErrNotFound):
			d.logger.Info("provider record already removed",
				"record", key.String(),
				"provider_record_id", existing.ProviderRecordID)
		case err != nil:
			d.transition(key, StateDeleteFailed)
			return nil, fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}

	if err := d.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		d.transition(key, StateDeleteFailed)
		return nil, fmt.Errorf("%s was removed from the provider but the store delete failed: %w", key, err)
	}
	return &Outcome{Action: ActionDeleted, State: StateRemoved, Record: existing}, nil
}

// Recreate creates the provider record for a stored entry the provider no
// longer has. The stored entry is the authority.
func (d *Deployer) Recreate(ctx context.Context, stored *record.Registered) (*Outcome, error) {
	key := stored.Key()
	base := stored.Clone()
	base.ProviderRecordID = ""
	out, err := d.apply(ctx, base, &base.Request)
	if out != nil {
		out.StoreInconsistency = stored.ProviderRecordID != ""
	}
	d.finish(key, "repair", out, err)
	return out, err
}

// Push overwrites the provider record remoteID with the stored entry. When
// remoteID differs from the stored id, the store is updated to point at it.
func (d *Deployer) Push(ctx context.Context, stored *record.Registered, remoteID string) (*Outcome, error) {
	key := stored.Key()
	target := stored.Clone()
	if remoteID != "" {
		target.ProviderRecordID = remoteID
	}
	out, err := d.apply(ctx, target, &target.Request)
	if err == nil && out.Action == ActionUnchanged {
		out.Action = ActionUpdated
		if out.Record.ProviderRecordID != stored.ProviderRecordID {
			out.Record.UpdatedAt = d.now()
			if perr := d.store.Put(ctx, out.Record); perr != nil {
				out, err = nil, fmt.Errorf("%s was repaired but the store write failed: %w", key, perr)
			}
		}
	}
	d.finish(key, "repair", out, err)
	return out, err
}

func (d *Deployer) zoneID(domain string) (string, error) {
	policy, ok := d.policies.Lookup(domain)
	if !ok || policy.ProviderZoneID == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	return policy.ProviderZoneID, nil
}

func (d *Deployer) transition(key record.Key, state State) {
	d.logger.Debug("record state", "record", key.String(), "state", string(state))
}

func (d *Deployer) finish(key record.Key, op string, out *Outcome, err error) {
	if err != nil {
		state := StateFailed
		if op == "delete" {
			state = StateDeleteFailed
		}
		d.transition(key, state)
		d.logger.Error("deploy failed", "op", op, "record", key.String(), "error", err)
		metrics.RecordDeploy(op, "failure")
		return
	}

	d.transition(key, out.State)
	attrs := []any{"op", op, "record", key.String(), "action", string(out.Action)}
	if out.Record != nil {
		attrs = append(attrs, "provider_record_id", out.Record.ProviderRecordID)
	}
	if out.Warning != "" {
		attrs = append(attrs, "warning", out.Warning)
	}
	d.logger.Info("deploy finished", attrs...)
	metrics.RecordDeploy(string(out.Action), "success")
}
