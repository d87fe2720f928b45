// Package drift compares the local record store with the records the
// provider actually serves, and repairs divergence in favour of the store.
package drift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sipico/freesub/internal/metrics"
	"github.com/sipico/freesub/internal/provider"
	"github.com/sipico/freesub/internal/reconcile"
	"github.com/sipico/freesub/internal/record"
	"github.com/sipico/freesub/internal/storage"
)

// DefaultConcurrency bounds concurrent zone listings and probes.
const DefaultConcurrency = 4

// Status classifies one finding.
type Status string

// Finding statuses.
const (
	StatusInSync           Status = "in_sync"
	StatusMissingRemotely  Status = "missing_remotely"
	StatusValueMismatch    Status = "value_mismatch"
	StatusOrphanedRemotely Status = "orphaned_remotely"
	StatusCheckFailed      Status = "check_failed"
)

// Finding is the result of checking one record.
type Finding struct {
	Name   string           `json:"name"`
	Domain string           `json:"domain"`
	Status Status           `json:"status"`
	Diffs  []string         `json:"diffs,omitempty"`
	Error  string           `json:"error,omitempty"`
	Notes  []string         `json:"notes,omitempty"`
	Remote *provider.Record `json:"remote,omitempty"`

	Repaired    bool   `json:"repaired,omitempty"`
	RepairError string `json:"repairError,omitempty"`

	local *record.Registered
}

// Report is the outcome of one sweep.
type Report struct {
	Findings []Finding `json:"findings"`
}

// InSync reports whether every local record matched the provider. Orphans
// are informational and do not count.
func (r *Report) InSync() bool {
	for _, f := range r.Findings {
		if f.Status != StatusInSync && f.Status != StatusOrphanedRemotely {
			return false
		}
	}
	return true
}

// Counts returns the number of findings per status.
func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, f := range r.Findings {
		counts[f.Status]++
	}
	return counts
}

// Filter narrows a sweep to one domain or one subdomain.
type Filter struct {
	Domain string
	Label  string
}

// Lister lists provider records.
type Lister interface {
	ListRecords(ctx context.Context, zoneID string, opts *provider.ListOptions) ([]provider.Record, error)
}

// Repairer pushes stored records back to the provider.
type Repairer interface {
	Recreate(ctx context.Context, stored *record.Registered) (*reconcile.Outcome, error)
	Push(ctx context.Context, stored *record.Registered, remoteID string) (*reconcile.Outcome, error)
}

// Prober looks a record up in public DNS and describes anything notable.
type Prober interface {
	Probe(ctx context.Context, name string, want provider.Record) []string
}

// Detector runs drift sweeps.
type Detector struct {
	lister      Lister
	store       storage.Store
	policies    *record.PolicySet
	logger      *slog.Logger
	prober      Prober
	concurrency int
}

// Option configures a Detector.
type Option func(*Detector)

// WithProber enables DNS probing of every checked record.
func WithProber(p Prober) Option {
	return func(d *Detector) {
		d.prober = p
	}
}

// WithConcurrency sets how many zones or probes run at once.
func WithConcurrency(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// NewDetector creates a Detector.
func NewDetector(lister Lister, store storage.Store, policies *record.PolicySet, logger *slog.Logger, opts ...Option) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detector{
		lister:      lister,
		store:       store,
		policies:    policies,
		logger:      logger,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// zoneCheck is the work for one parent domain.
type zoneCheck struct {
	domain   string
	zoneID   string
	local    []*record.Registered
	findings []Finding
}

// Check compares stored records with the provider. Failures of individual
// records or zones become CheckFailed findings; only a store that cannot be
// read at all returns an error.
func (d *Detector) Check(ctx context.Context, filter Filter) (*Report, error) {
	filter.Domain = strings.ToLower(filter.Domain)
	filter.Label = strings.ToLower(filter.Label)

	report := &Report{}
	local, err := d.loadLocal(ctx, filter)
	var partial *storage.PartialError
	switch {
	case errors.As(err, &partial):
		for name, ferr := range partial.Failures {
			report.Findings = append(report.Findings, Finding{
				Name:   name,
				Status: StatusCheckFailed,
				Error:  fmt.Sprintf("unreadable local record: %v", ferr),
			})
		}
	case err != nil:
		return nil, err
	}

	zones := d.planZones(filter, local, report)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, z := range zones {
		g.Go(func() error {
			d.checkZone(gctx, z, filter)
			return nil
		})
	}
	//nolint:errcheck
	g.Wait()

	for _, z := range zones {
		report.Findings = append(report.Findings, z.findings...)
	}
	if d.prober != nil {
		d.probe(ctx, report)
	}

	sort.SliceStable(report.Findings, func(i, j int) bool {
		return report.Findings[i].Name < report.Findings[j].Name
	})
	for _, f := range report.Findings {
		metrics.RecordDriftFinding(string(f.Status))
		if f.Status != StatusInSync {
			d.logger.Info("drift finding", "record", f.Name, "status", string(f.Status), "diffs", f.Diffs, "error", f.Error)
		}
	}
	return report, nil
}

func (d *Detector) loadLocal(ctx context.Context, filter Filter) ([]*record.Registered, error) {
	if filter.Domain == "" {
		return d.store.List(ctx)
	}
	recs, err := d.store.ListDomain(ctx, filter.Domain)
	if filter.Label == "" {
		return recs, err
	}
	var out []*record.Registered
	for _, rec := range recs {
		if rec.Key().Label == filter.Label {
			out = append(out, rec)
		}
	}
	return out, err
}

// planZones groups local records by domain. Records of unknown domains are
// reported as failed. Configured domains without local records are still
// listed so their orphans show up.
func (d *Detector) planZones(filter Filter, local []*record.Registered, report *Report) []*zoneCheck {
	byDomain := make(map[string]*zoneCheck)
	var zones []*zoneCheck
	add := func(domain string) *zoneCheck {
		if z, ok := byDomain[domain]; ok {
			return z
		}
		policy, ok := d.policies.Lookup(domain)
		if !ok || policy.ProviderZoneID == "" {
			return nil
		}
		z := &zoneCheck{domain: domain, zoneID: policy.ProviderZoneID}
		byDomain[domain] = z
		zones = append(zones, z)
		return z
	}

	for _, rec := range local {
		key := rec.Key()
		z := add(key.Domain)
		if z == nil {
			report.Findings = append(report.Findings, Finding{
				Name:   key.FQDN(),
				Domain: key.Domain,
				Status: StatusCheckFailed,
				Error:  fmt.Sprintf("no policy for domain %s", key.Domain),
				local:  rec,
			})
			continue
		}
		z.local = append(z.local, rec)
	}

	if filter.Label == "" {
		for _, domain := range d.policies.DomainNames() {
			if filter.Domain == "" || filter.Domain == domain {
				add(domain)
			}
		}
	}
	return zones
}

func (d *Detector) checkZone(ctx context.Context, z *zoneCheck, filter Filter) {
	var opts *provider.ListOptions
	if filter.Label != "" {
		opts = &provider.ListOptions{Name: filter.Label + "." + z.domain}
	}
	remote, err := d.lister.ListRecords(ctx, z.zoneID, opts)
	if err != nil {
		d.logger.Warn("failed to list provider records", "domain", z.domain, "zone_id", z.zoneID, "error", err)
		for _, rec := range z.local {
			z.findings = append(z.findings, Finding{
				Name:   rec.Key().FQDN(),
				Domain: z.domain,
				Status: StatusCheckFailed,
				Error:  err.Error(),
				local:  rec,
			})
		}
		return
	}

	used := make([]bool, len(remote))
	labels := make(map[string]bool, len(z.local))
	for _, rec := range z.local {
		labels[rec.Key().Label] = true
		z.findings = append(z.findings, d.classify(rec, remote, used))
	}

	for i, r := range remote {
		if used[i] {
			continue
		}
		label, ok := directChild(normalizeName(r.Name), z.domain)
		if !ok || labels[label] {
			continue
		}
		z.findings = append(z.findings, Finding{
			Name:   normalizeName(r.Name),
			Domain: z.domain,
			Status: StatusOrphanedRemotely,
			Remote: &r,
		})
	}
}

// classify matches rec against the zone's records: by provider id first,
// then by name and type. A record of another type at the name is not ours
// and is only noted.
func (d *Detector) classify(rec *record.Registered, remote []provider.Record, used []bool) Finding {
	key := rec.Key()
	f := Finding{Name: key.FQDN(), Domain: key.Domain, local: rec}

	want, err := record.Payload(key.FQDN(), rec.Record, d.policies.DefaultTTL())
	if err != nil {
		f.Status = StatusCheckFailed
		f.Error = err.Error()
		return f
	}

	match := -1
	for i, r := range remote {
		if !used[i] && rec.ProviderRecordID != "" && r.ID == rec.ProviderRecordID {
			match = i
			break
		}
	}
	if match < 0 {
		for i, r := range remote {
			if !used[i] && normalizeName(r.Name) == key.FQDN() && strings.EqualFold(r.Type, want.Type) {
				match = i
				break
			}
		}
	}
	if match < 0 {
		for i, r := range remote {
			if !used[i] && normalizeName(r.Name) == key.FQDN() {
				f.Notes = append(f.Notes, fmt.Sprintf("unmanaged %s record %s at this name left untouched", r.Type, r.ID))
			}
		}
	}

	if match < 0 {
		f.Status = StatusMissingRemotely
		return f
	}
	used[match] = true
	got := remote[match]
	f.Remote = &got
	f.Diffs = compare(want, got)
	if rec.ProviderRecordID != got.ID {
		f.Diffs = append(f.Diffs, fmt.Sprintf("provider record id %s, stored %s", got.ID, rec.ProviderRecordID))
	}
	if len(f.Diffs) == 0 {
		f.Status = StatusInSync
	} else {
		f.Status = StatusValueMismatch
	}
	return f
}

// compare lists how got differs from want.
func compare(want, got provider.Record) []string {
	var diffs []string
	if normalizeName(got.Name) != normalizeName(want.Name) {
		diffs = append(diffs, fmt.Sprintf("name %s, want %s", normalizeName(got.Name), normalizeName(want.Name)))
	}
	t := record.Type(strings.ToUpper(got.Type))
	if t != record.Type(want.Type) {
		return append(diffs, fmt.Sprintf("type %s, want %s", got.Type, want.Type))
	}
	if a, b := record.CanonicalContent(t, got.Content), record.CanonicalContent(t, want.Content); a != b {
		diffs = append(diffs, fmt.Sprintf("content %q, want %q", got.Content, want.Content))
	}
	if got.TTL != want.TTL {
		diffs = append(diffs, fmt.Sprintf("ttl %d, want %d", got.TTL, want.TTL))
	}
	if got.Proxied != want.Proxied {
		diffs = append(diffs, fmt.Sprintf("proxied %t, want %t", got.Proxied, want.Proxied))
	}
	if want.Priority != nil && (got.Priority == nil || *got.Priority != *want.Priority) {
		gotPrio := "none"
		if got.Priority != nil {
			gotPrio = fmt.Sprint(*got.Priority)
		}
		diffs = append(diffs, fmt.Sprintf("priority %s, want %d", gotPrio, *want.Priority))
	}
	return diffs
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// directChild returns the label when name is exactly one label below domain.
func directChild(name, domain string) (string, bool) {
	label, ok := strings.CutSuffix(name, "."+domain)
	if !ok || label == "" || strings.Contains(label, ".") {
		return "", false
	}
	return label, true
}

func (d *Detector) probe(ctx context.Context, report *Report) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i := range report.Findings {
		f := &report.Findings[i]
		if f.local == nil {
			continue
		}
		want, err := record.Payload(f.Name, f.local.Record, d.policies.DefaultTTL())
		if err != nil {
			continue
		}
		g.Go(func() error {
			f.Notes = append(f.Notes, d.prober.Probe(gctx, f.Name, want)...)
			return nil
		})
	}
	//nolint:errcheck
	g.Wait()
}

// Repair re-creates missing records and pushes stored values over
// mismatched ones. Orphans are never touched. Findings are updated in
// place; the returned error joins every failed repair.
func (d *Detector) Repair(ctx context.Context, report *Report, r Repairer) error {
	var errs []error
	for i := range report.Findings {
		f := &report.Findings[i]
		var err error
		switch f.Status {
		case StatusMissingRemotely:
			_, err = r.Recreate(ctx, f.local)
		case StatusValueMismatch:
			_, err = r.Push(ctx, f.local, f.Remote.ID)
		default:
			continue
		}
		if err != nil {
			f.RepairError = err.Error()
			errs = append(errs, fmt.Errorf("repair %s: %w", f.Name, err))
			continue
		}
		f.Repaired = true
		d.logger.Info("drift repaired", "record", f.Name, "status", string(f.Status))
	}
	return errors.Join(errs...)
}
