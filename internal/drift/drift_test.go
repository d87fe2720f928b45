package drift

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sipico/freesub/internal/provider"
	"github.com/sipico/freesub/internal/reconcile"
	"github.com/sipico/freesub/internal/record"
	"github.com/sipico/freesub/internal/storage"
	"github.com/sipico/freesub/internal/testutil/mockprovider"
)

type fixture struct {
	server   *mockprovider.Server
	zones    map[string]string
	root     string
	store    storage.Store
	client   *provider.Client
	deployer *reconcile.Deployer
	detector *Detector
	policies *record.PolicySet
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	server := mockprovider.New()
	t.Cleanup(server.Close)

	zones := map[string]string{
		"ciao.su":  server.AddZone("ciao.su"),
		"other.su": server.AddZone("other.su"),
	}
	policies := &record.PolicySet{
		Settings: record.Settings{DefaultTTL: 3600},
		Domains: map[string]*record.Policy{
			"ciao.su":  {Enabled: true, ProviderZoneID: zones["ciao.su"], AllowedRecordTypes: record.Types()},
			"other.su": {Enabled: true, ProviderZoneID: zones["other.su"], AllowedRecordTypes: record.Types()},
		},
	}

	root := t.TempDir()
	store, err := storage.NewFileStore(root)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := provider.NewClient("test-token",
		provider.WithBaseURL(server.URL()),
		provider.WithRateLimit(0, 0),
		provider.WithTimeout(2*time.Second),
		provider.WithLogger(logger),
	)
	return &fixture{
		server:   server,
		zones:    zones,
		root:     root,
		store:    store,
		client:   client,
		deployer: reconcile.NewDeployer(client, store, policies, logger),
		detector: NewDetector(client, store, policies, logger, opts...),
		policies: policies,
	}
}

func (f *fixture) deploy(t *testing.T, domain, label string, rr record.DNSRecord) *record.Registered {
	t.Helper()
	out, err := f.deployer.Deploy(context.Background(), &record.Request{
		Domain:    domain,
		Subdomain: label,
		Owner:     record.Owner{Username: "alice"},
		Record:    rr,
	})
	if err != nil {
		t.Fatalf("Deploy %s.%s failed: %v", label, domain, err)
	}
	return out.Record
}

func findingFor(t *testing.T, report *Report, name string) Finding {
	t.Helper()
	for _, f := range report.Findings {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("no finding for %s in %+v", name, report.Findings)
	return Finding{}
}

func TestCheckInSync(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.deploy(t, "ciao.su", "blog", record.DNSRecord{Type: record.TypeCNAME, Value: "alice.github.io"})
	f.deploy(t, "ciao.su", "post", record.DNSRecord{Type: record.TypeMX, Value: "mail.example.com", Priority: record.Ptr(10)})
	f.deploy(t, "other.su", "www2", record.DNSRecord{Type: record.TypeAAAA, Value: "2001:DB8:0:0::1"})

	report, err := f.detector.Check(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !report.InSync() {
		t.Errorf("expected in sync, got %+v", report.Findings)
	}
	if got := report.Counts()[StatusInSync]; got != 3 {
		t.Errorf("in sync count = %d, want 3", got)
	}
}

func TestCheckValueMismatchRepair(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	rec := f.deploy(t, "ciao.su", "home", record.DNSRecord{Type: record.TypeA, Value: "1.2.3.4"})
	f.server.SetRecordContent(f.zones["ciao.su"], rec.ProviderRecordID, "5.6.7.8")

	report, err := f.detector.Check(ctx, Filter{})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	finding := findingFor(t, report, "home.ciao.su")
	if finding.Status != StatusValueMismatch {
		t.Fatalf("status = %s, want %s", finding.Status, StatusValueMismatch)
	}
	if len(finding.Diffs) != 1 || !strings.Contains(finding.Diffs[0], "5.6.7.8") {
		t.Errorf("diffs = %v", finding.Diffs)
	}
	if report.InSync() {
		t.Error("report should not be in sync")
	}

	if err := f.detector.Repair(ctx, report, f.deployer); err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if !findingFor(t, report, "home.ciao.su").Repaired {
		t.Error("finding not marked repaired")
	}
	remote, _ := f.server.Record(f.zones["ciao.su"], rec.ProviderRecordID)
	if remote.Content != "1.2.3.4" {
		t.Errorf("provider content = %s, want 1.2.3.4", remote.Content)
	}

	after, err := f.detector.Check(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if got := findingFor(t, after, "home.ciao.su").Status; got != StatusInSync {
		t.Errorf("post-repair status = %s", got)
	}
}

func TestCheckMissingRemotelyRepair(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	rec := f.deploy(t, "ciao.su", "gone", record.DNSRecord{Type: record.TypeTXT, Value: "hello"})
	f.server.RemoveRecord(f.zones["ciao.su"], rec.ProviderRecordID)

	report, err := f.detector.Check(ctx, Filter{Domain: "ciao.su"})
	if err != nil {
		t.Fatal(err)
	}
	if got := findingFor(t, report, "gone.ciao.su").Status; got != StatusMissingRemotely {
		t.Fatalf("status = %s", got)
	}
	if err := f.detector.Repair(ctx, report, f.deployer); err != nil {
		t.Fatalf("Repair failed: %v", err)
	}

	stored, err := f.store.Get(ctx, rec.Key())
	if err != nil {
		t.Fatal(err)
	}
	if stored.ProviderRecordID == rec.ProviderRecordID {
		t.Error("store should point at the re-created record")
	}
	after, _ := f.detector.Check(ctx, Filter{Domain: "ciao.su"})
	if !after.InSync() {
		t.Errorf("not in sync after repair: %+v", after.Findings)
	}
}

func TestCheckOrphansAreReportedOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	zone := f.zones["ciao.su"]
	f.deploy(t, "ciao.su", "blog", record.DNSRecord{Type: record.TypeCNAME, Value: "alice.github.io"})
	orphanID := f.server.AddRecord(zone, mockprovider.Record{Type: "A", Name: "stray.ciao.su", Content: "203.0.113.99", TTL: 1})
	f.server.AddRecord(zone, mockprovider.Record{Type: "A", Name: "ciao.su", Content: "203.0.113.1", TTL: 1})
	f.server.AddRecord(zone, mockprovider.Record{Type: "TXT", Name: "_dmarc.mail.ciao.su", Content: "v=DMARC1", TTL: 1})

	report, err := f.detector.Check(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	orphan := findingFor(t, report, "stray.ciao.su")
	if orphan.Status != StatusOrphanedRemotely || orphan.Remote.ID != orphanID {
		t.Errorf("unexpected orphan finding: %+v", orphan)
	}
	if n := report.Counts()[StatusOrphanedRemotely]; n != 1 {
		t.Errorf("orphans = %d, want 1 (apex and deeper names are not orphans)", n)
	}
	if !report.InSync() {
		t.Error("orphans must not break the in-sync verdict")
	}

	if err := f.detector.Repair(ctx, report, f.deployer); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.server.Record(zone, orphanID); !ok {
		t.Error("orphan was removed by repair")
	}
}

func TestCheckZoneFailureDoesNotAbortSweep(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.deploy(t, "ciao.su", "blog", record.DNSRecord{Type: record.TypeCNAME, Value: "alice.github.io"})
	f.deploy(t, "other.su", "site", record.DNSRecord{Type: record.TypeA, Value: "203.0.113.5"})
	f.server.DenyZone(f.zones["ciao.su"])

	report, err := f.detector.Check(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	failed := findingFor(t, report, "blog.ciao.su")
	if failed.Status != StatusCheckFailed || failed.Error == "" {
		t.Errorf("unexpected finding for denied zone: %+v", failed)
	}
	if got := findingFor(t, report, "site.other.su").Status; got != StatusInSync {
		t.Errorf("unrelated record status = %s", got)
	}
	if report.InSync() {
		t.Error("failed checks must break the in-sync verdict")
	}
}

func TestCheckUnreadableLocalRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.deploy(t, "ciao.su", "blog", record.DNSRecord{Type: record.TypeCNAME, Value: "alice.github.io"})
	if err := os.WriteFile(filepath.Join(f.root, "ciao.su", "broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := f.detector.Check(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if got := report.Counts()[StatusCheckFailed]; got != 1 {
		t.Errorf("check failed count = %d, want 1", got)
	}
	if got := findingFor(t, report, "blog.ciao.su").Status; got != StatusInSync {
		t.Errorf("readable record status = %s", got)
	}
}

func TestCheckMatchingRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	zone := f.zones["ciao.su"]

	// Stored under an id the provider does not know, but the same name and
	// type exist: reported as a mismatch on the id.
	cname := f.deploy(t, "ciao.su", "docs", record.DNSRecord{Type: record.TypeCNAME, Value: "alice.github.io"})
	f.server.RemoveRecord(zone, cname.ProviderRecordID)
	f.server.AddRecord(zone, mockprovider.Record{Type: "CNAME", Name: "docs.ciao.su", Content: "Alice.GitHub.io.", TTL: 3600})

	// Type differs at the provider.
	f.deploy(t, "ciao.su", "site", record.DNSRecord{Type: record.TypeA, Value: "203.0.113.5"})
	site, _ := f.store.Get(ctx, record.NewKey("ciao.su", "site"))
	f.server.RemoveRecord(zone, site.ProviderRecordID)
	f.server.AddRecord(zone, mockprovider.Record{ID: site.ProviderRecordID, Type: "CNAME", Name: "site.ciao.su", Content: "elsewhere.example.com", TTL: 3600})

	report, err := f.detector.Check(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}

	docs := findingFor(t, report, "docs.ciao.su")
	if docs.Status != StatusValueMismatch || len(docs.Diffs) != 1 || !strings.Contains(docs.Diffs[0], "provider record id") {
		t.Errorf("docs finding = %+v", docs)
	}
	siteFinding := findingFor(t, report, "site.ciao.su")
	if siteFinding.Status != StatusValueMismatch || !strings.Contains(siteFinding.Diffs[0], "type CNAME") {
		t.Errorf("site finding = %+v", siteFinding)
	}

	if err := f.detector.Repair(ctx, report, f.deployer); err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	after, _ := f.detector.Check(ctx, Filter{})
	if !after.InSync() {
		t.Errorf("not in sync after repair: %+v", after.Findings)
	}
}

func TestCheckFilterByLabel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.deploy(t, "ciao.su", "blog", record.DNSRecord{Type: record.TypeCNAME, Value: "alice.github.io"})
	f.deploy(t, "ciao.su", "shop", record.DNSRecord{Type: record.TypeA, Value: "203.0.113.5"})

	report, err := f.detector.Check(context.Background(), Filter{Domain: "CIAO.su", Label: "Blog"})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Findings) != 1 || report.Findings[0].Name != "blog.ciao.su" {
		t.Errorf("findings = %+v", report.Findings)
	}
}

func TestRepairReportsFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	rec := f.deploy(t, "ciao.su", "home", record.DNSRecord{Type: record.TypeA, Value: "1.2.3.4"})
	f.server.SetRecordContent(f.zones["ciao.su"], rec.ProviderRecordID, "5.6.7.8")

	report, err := f.detector.Check(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	f.server.SetNextError(http.StatusInternalServerError, 1000, "internal error", 1)
	if err := f.detector.Repair(ctx, report, f.deployer); err == nil {
		t.Fatal("expected repair error")
	}
	finding := findingFor(t, report, "home.ciao.su")
	if finding.Repaired || finding.RepairError == "" {
		t.Errorf("finding = %+v", finding)
	}
}

func TestCheckRenamedRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	zone := f.zones["ciao.su"]
	rec := f.deploy(t, "ciao.su", "blog", record.DNSRecord{Type: record.TypeA, Value: "203.0.113.10"})
	f.server.RemoveRecord(zone, rec.ProviderRecordID)
	f.server.AddRecord(zone, mockprovider.Record{ID: rec.ProviderRecordID, Type: "A", Name: "other.ciao.su", Content: "203.0.113.10", TTL: 3600})

	report, err := f.detector.Check(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	blog := findingFor(t, report, "blog.ciao.su")
	if blog.Status != StatusValueMismatch || len(blog.Diffs) != 1 || !strings.Contains(blog.Diffs[0], "name other.ciao.su") {
		t.Fatalf("blog finding = %+v", blog)
	}
	if n := report.Counts()[StatusOrphanedRemotely]; n != 0 {
		t.Errorf("renamed record reported as orphan: %+v", report.Findings)
	}

	if err := f.detector.Repair(ctx, report, f.deployer); err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	remote, ok := f.server.Record(zone, rec.ProviderRecordID)
	if !ok || remote.Name != "blog.ciao.su" {
		t.Errorf("record not renamed back: %+v", remote)
	}
	after, _ := f.detector.Check(ctx, Filter{})
	if !after.InSync() {
		t.Errorf("not in sync after repair: %+v", after.Findings)
	}
}

func TestCheckForeignRecordAtName(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	zone := f.zones["ciao.su"]
	rec := f.deploy(t, "ciao.su", "blog", record.DNSRecord{Type: record.TypeA, Value: "203.0.113.10"})
	f.server.RemoveRecord(zone, rec.ProviderRecordID)
	foreignID := f.server.AddRecord(zone, mockprovider.Record{Type: "TXT", Name: "blog.ciao.su", Content: "google-site-verification=abc", TTL: 3600})

	report, err := f.detector.Check(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	blog := findingFor(t, report, "blog.ciao.su")
	if blog.Status != StatusMissingRemotely || blog.Remote != nil {
		t.Fatalf("blog finding = %+v", blog)
	}
	if len(blog.Notes) != 1 || !strings.Contains(blog.Notes[0], foreignID) {
		t.Errorf("notes = %v", blog.Notes)
	}

	if err := f.detector.Repair(ctx, report, f.deployer); err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	foreign, ok := f.server.Record(zone, foreignID)
	if !ok || foreign.Type != "TXT" || foreign.Content != "google-site-verification=abc" {
		t.Errorf("foreign record changed by repair: %+v (present %t)", foreign, ok)
	}
	stored, err := f.store.Get(ctx, rec.Key())
	if err != nil {
		t.Fatal(err)
	}
	if stored.ProviderRecordID == foreignID {
		t.Error("store adopted the foreign record")
	}
	after, _ := f.detector.Check(ctx, Filter{})
	if got := findingFor(t, after, "blog.ciao.su").Status; got != StatusInSync {
		t.Errorf("post-repair status = %s", got)
	}
}
