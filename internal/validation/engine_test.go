package validation

import (
	"strings"
	"testing"

	"github.com/sipico/freesub/internal/record"
)

func testPolicies() *record.PolicySet {
	return &record.PolicySet{
		Settings: record.Settings{
			DefaultTTL:           3600,
			QuotaScope:           record.QuotaGlobal,
			MaxSubdomainsPerUser: 3,
			BlockedUsers:         []string{"spammer"},
			BlockedSubdomains:    []string{"www", "mail"},
		},
		Domains: map[string]*record.Policy{
			"ciao.su": {
				Enabled:              true,
				ProviderZoneID:       "zone-ciao",
				AllowedRecordTypes:   record.Types(),
				MaxSubdomainsPerUser: 2,
				ReservedLabels:       []string{"admin", "api"},
			},
			"closed.su": {
				Enabled:            false,
				ProviderZoneID:     "zone-closed",
				AllowedRecordTypes: []record.Type{record.TypeA},
			},
			"cname.su": {
				Enabled:            true,
				ProviderZoneID:     "zone-cname",
				AllowedRecordTypes: []record.Type{record.TypeCNAME},
			},
		},
	}
}

func request(label, owner string, rr record.DNSRecord) *record.Request {
	return &record.Request{
		Domain:    "ciao.su",
		Subdomain: label,
		Owner:     record.Owner{Username: owner},
		Record:    rr,
	}
}

func registered(domain, label, owner string) *record.Registered {
	return &record.Registered{
		Request: record.Request{
			Domain:    domain,
			Subdomain: label,
			Owner:     record.Owner{Username: owner},
			Record:    record.DNSRecord{Type: record.TypeA, Value: "203.0.113.1"},
		},
		ProviderRecordID: "rec-" + label,
		Status:           record.StatusActive,
	}
}

func containsReason(reasons []string, sub string) bool {
	for _, r := range reasons {
		if strings.Contains(r, sub) {
			return true
		}
	}
	return false
}

func TestValidateScenarios(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testPolicies())
	blog := []*record.Registered{{
		Request: *request("blog", "alice", record.DNSRecord{Type: record.TypeCNAME, Value: "alice.github.io"}),
	}}

	tests := []struct {
		name     string
		req      *record.Request
		existing []*record.Registered
		valid    bool
		reason   string
	}{
		{
			name:  "cname accepted",
			req:   request("blog", "alice", record.DNSRecord{Type: record.TypeCNAME, Value: "alice.github.io"}),
			valid: true,
		},
		{
			name:     "label taken by another owner",
			req:      request("blog", "bob", record.DNSRecord{Type: record.TypeCNAME, Value: "bob.github.io"}),
			existing: blog,
			reason:   "already taken",
		},
		{
			name:     "same owner replaces own record",
			req:      request("blog", "Alice", record.DNSRecord{Type: record.TypeCNAME, Value: "alice.gitlab.io"}),
			existing: blog,
			valid:    true,
		},
		{
			name:   "mx without priority",
			req:    request("post", "alice", record.DNSRecord{Type: record.TypeMX, Value: "mail.x.com"}),
			reason: "priority",
		},
		{
			name:   "proxied private address",
			req:    request("home", "alice", record.DNSRecord{Type: record.TypeA, Value: "10.1.2.3", Proxied: record.Ptr(true)}),
			reason: "private",
		},
		{
			name:   "reserved label",
			req:    request("admin", "alice", record.DNSRecord{Type: record.TypeA, Value: "203.0.113.10"}),
			reason: "reserved",
		},
		{
			name:   "globally blocked label",
			req:    request("WWW", "alice", record.DNSRecord{Type: record.TypeA, Value: "203.0.113.10"}),
			reason: "reserved",
		},
		{
			name:   "blocked user",
			req:    request("mine", "SPAMMER", record.DNSRecord{Type: record.TypeA, Value: "203.0.113.10"}),
			reason: "not allowed to register",
		},
		{
			name:  "unproxied private address is fine",
			req:   request("lan", "alice", record.DNSRecord{Type: record.TypeA, Value: "192.168.1.10"}),
			valid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := engine.Validate(tt.req, tt.existing)
			if res.Valid != tt.valid {
				t.Fatalf("Valid = %v, want %v (errors: %v)", res.Valid, tt.valid, res.Errors)
			}
			if tt.reason != "" && !containsReason(res.Errors, tt.reason) {
				t.Errorf("errors %v do not mention %q", res.Errors, tt.reason)
			}
			if tt.valid && len(res.Errors) != 0 {
				t.Errorf("valid result carries errors: %v", res.Errors)
			}
		})
	}
}

func TestValidateProxiedPrivateIPv4(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testPolicies())
	for _, addr := range []string{"10.0.0.1", "10.255.255.255", "172.16.0.1", "172.31.255.254", "192.168.0.1", "127.0.0.1", "127.10.20.30"} {
		req := request("home", "alice", record.DNSRecord{Type: record.TypeA, Value: addr, Proxied: record.Ptr(true)})
		if res := engine.Validate(req, nil); res.Valid {
			t.Errorf("proxied %s accepted", addr)
		}
	}
	for _, addr := range []string{"172.32.0.1", "11.0.0.1", "203.0.113.10"} {
		req := request("home", "alice", record.DNSRecord{Type: record.TypeA, Value: addr, Proxied: record.Ptr(true)})
		if res := engine.Validate(req, nil); !res.Valid {
			t.Errorf("proxied %s rejected: %v", addr, res.Errors)
		}
	}
}

func TestValidateCollisionIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testPolicies())
	existing := []*record.Registered{registered("CIAO.su", "Blog", "alice")}

	res := engine.Validate(request("blog", "bob", record.DNSRecord{Type: record.TypeA, Value: "203.0.113.10"}), existing)
	if res.Valid || !containsReason(res.Errors, "already taken") {
		t.Errorf("collision not detected: %+v", res)
	}
}

func TestValidateSchema(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testPolicies())

	tests := []struct {
		name   string
		mutate func(r *record.Request)
		reason string
	}{
		{"missing owner", func(r *record.Request) { r.Owner.Username = "" }, "owner.username is required"},
		{"bad username", func(r *record.Request) { r.Owner.Username = "-alice" }, "GitHub username"},
		{"double hyphen username", func(r *record.Request) { r.Owner.Username = "a--b" }, "GitHub username"},
		{"bad email", func(r *record.Request) { r.Owner.Email = "not-an-email" }, "email"},
		{"uppercase label", func(r *record.Request) { r.Subdomain = "Blog" }, "subdomain"},
		{"consecutive hyphens", func(r *record.Request) { r.Subdomain = "my--site" }, "subdomain"},
		{"trailing hyphen", func(r *record.Request) { r.Subdomain = "site-" }, "subdomain"},
		{"long label", func(r *record.Request) { r.Subdomain = strings.Repeat("a", 64) }, "subdomain"},
		{"missing value", func(r *record.Request) { r.Record.Value = "" }, "record.value is required"},
		{"unknown type", func(r *record.Request) { r.Record.Type = "PTR" }, "not supported"},
		{"ttl too low", func(r *record.Request) { r.Record.TTL = record.Ptr(30) }, "record.ttl"},
		{"ttl too high", func(r *record.Request) { r.Record.TTL = record.Ptr(86401) }, "record.ttl"},
		{"long description", func(r *record.Request) { r.Description = strings.Repeat("x", 257) }, "description"},
		{"missing domain", func(r *record.Request) { r.Domain = "" }, "domain is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := request("site", "alice", record.DNSRecord{Type: record.TypeA, Value: "203.0.113.10"})
			tt.mutate(req)
			res := engine.Validate(req, nil)
			if res.Valid {
				t.Fatal("expected invalid result")
			}
			if !containsReason(res.Errors, tt.reason) {
				t.Errorf("errors %v do not mention %q", res.Errors, tt.reason)
			}
		})
	}
}

func TestValidateTTLBoundaries(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testPolicies())
	for _, ttl := range []int{1, 60, 3600, 86400} {
		req := request("site", "alice", record.DNSRecord{Type: record.TypeA, Value: "203.0.113.10", TTL: record.Ptr(ttl)})
		if res := engine.Validate(req, nil); !res.Valid {
			t.Errorf("ttl %d rejected: %v", ttl, res.Errors)
		}
	}
}

func TestValidatePolicyGate(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testPolicies())

	unknown := request("site", "alice", record.DNSRecord{Type: record.TypeA, Value: "203.0.113.10"})
	unknown.Domain = "nowhere.su"
	if res := engine.Validate(unknown, nil); !containsReason(res.Errors, "not available") {
		t.Errorf("unknown domain: %v", res.Errors)
	}

	closed := request("site", "alice", record.DNSRecord{Type: record.TypeA, Value: "203.0.113.10"})
	closed.Domain = "closed.su"
	if res := engine.Validate(closed, nil); !containsReason(res.Errors, "not accepting") {
		t.Errorf("disabled domain: %v", res.Errors)
	}
	// The owner of an existing record may still update it on a closed domain.
	if res := engine.Validate(closed, []*record.Registered{registered("closed.su", "site", "alice")}); !res.Valid {
		t.Errorf("update on disabled domain rejected: %v", res.Errors)
	}

	wrongType := request("site", "alice", record.DNSRecord{Type: record.TypeA, Value: "203.0.113.10"})
	wrongType.Domain = "cname.su"
	if res := engine.Validate(wrongType, nil); !containsReason(res.Errors, "not allowed on cname.su") {
		t.Errorf("disallowed type: %v", res.Errors)
	}
}

func TestValidateAccumulatesErrors(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testPolicies())
	req := request("admin", "bob", record.DNSRecord{Type: record.TypeA, Value: "10.0.0.1", Proxied: record.Ptr(true), TTL: record.Ptr(5)})
	existing := []*record.Registered{registered("ciao.su", "admin", "alice")}

	res := engine.Validate(req, existing)
	for _, want := range []string{"record.ttl", "reserved", "already taken", "private"} {
		if !containsReason(res.Errors, want) {
			t.Errorf("missing %q in %v", want, res.Errors)
		}
	}
}

func TestValidateWarnings(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testPolicies())
	req := request("note", "alice", record.DNSRecord{Type: record.TypeTXT, Value: "hello", Proxied: record.Ptr(true)})

	res := engine.Validate(req, nil)
	if !res.Valid {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if !containsReason(res.Warnings, "proxied is ignored") {
		t.Errorf("expected proxied warning, got %v", res.Warnings)
	}
}

func TestValidateQuota(t *testing.T) {
	t.Parallel()
	a := record.DNSRecord{Type: record.TypeA, Value: "203.0.113.10"}

	t.Run("per domain limit", func(t *testing.T) {
		t.Parallel()
		engine := NewEngine(testPolicies())
		existing := []*record.Registered{
			registered("ciao.su", "one", "alice"),
			registered("ciao.su", "two", "alice"),
		}
		res := engine.Validate(request("three", "alice", a), existing)
		if res.Valid || !containsReason(res.Errors, "allowed on ciao.su") {
			t.Errorf("domain quota not enforced: %v", res.Errors)
		}
		// Replacing one of the two keeps the owner within quota.
		if res := engine.Validate(request("two", "alice", a), existing); !res.Valid {
			t.Errorf("replacement counted against quota: %v", res.Errors)
		}
	})

	t.Run("global limit", func(t *testing.T) {
		t.Parallel()
		engine := NewEngine(testPolicies())
		existing := []*record.Registered{
			registered("ciao.su", "one", "alice"),
			registered("other.su", "two", "alice"),
			registered("cname.su", "three", "alice"),
		}
		res := engine.Validate(request("four", "alice", a), existing)
		if res.Valid || !containsReason(res.Errors, "in total") {
			t.Errorf("global quota not enforced: %v", res.Errors)
		}
	})

	t.Run("domain scope ignores other domains", func(t *testing.T) {
		t.Parallel()
		policies := testPolicies()
		policies.Settings.QuotaScope = record.QuotaDomain
		engine := NewEngine(policies)
		existing := []*record.Registered{
			registered("ciao.su", "one", "alice"),
			registered("other.su", "two", "alice"),
			registered("cname.su", "three", "alice"),
		}
		if res := engine.Validate(request("four", "alice", a), existing); !res.Valid {
			t.Errorf("domain-scoped quota rejected: %v", res.Errors)
		}
	})

	t.Run("other owners do not count", func(t *testing.T) {
		t.Parallel()
		engine := NewEngine(testPolicies())
		existing := []*record.Registered{
			registered("ciao.su", "one", "bob"),
			registered("ciao.su", "two", "carol"),
		}
		if res := engine.Validate(request("three", "alice", a), existing); !res.Valid {
			t.Errorf("unexpected errors: %v", res.Errors)
		}
	})
}
