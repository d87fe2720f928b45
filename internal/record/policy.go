package record

import (
	"slices"
	"strings"
)

// QuotaScope selects how per-user subdomain counts are aggregated.
type QuotaScope string

// Quota scopes.
const (
	QuotaGlobal QuotaScope = "global"
	QuotaDomain QuotaScope = "domain"
)

// Policy is the configuration of one parent domain.
type Policy struct {
	Enabled                bool     `yaml:"enabled"`
	ProviderZoneID         string   `yaml:"provider_zone_id" validate:"required_if=Enabled true"`
	Description            string   `yaml:"description"`
	AllowedRecordTypes     []Type   `yaml:"allowed_record_types" validate:"dive,oneof=A AAAA CNAME MX TXT SRV"`
	MaxRecordsPerSubdomain int      `yaml:"max_records_per_subdomain" validate:"gte=0,lte=1"`
	MaxSubdomainsPerUser   int      `yaml:"max_subdomains_per_user" validate:"gte=0"`
	ReservedLabels         []string `yaml:"reserved_labels"`
}

// Allows reports whether t may be registered under this domain.
func (p *Policy) Allows(t Type) bool {
	return slices.Contains(p.AllowedRecordTypes, t)
}

// Settings holds limits that apply across all domains.
type Settings struct {
	DefaultTTL           int        `yaml:"default_ttl" validate:"gte=0"`
	QuotaScope           QuotaScope `yaml:"quota_scope" validate:"omitempty,oneof=global domain"`
	MaxSubdomainsPerUser int        `yaml:"max_subdomains_per_user" validate:"gte=0"`
	BlockedUsers         []string   `yaml:"blocked_users"`
	BlockedSubdomains    []string   `yaml:"blocked_subdomains"`
}

// PolicySet is the parsed domain policy file.
type PolicySet struct {
	Settings Settings           `yaml:"settings"`
	Domains  map[string]*Policy `yaml:"domains"`
}

// Lookup returns the policy for domain. Domain names are case-insensitive.
func (s *PolicySet) Lookup(domain string) (*Policy, bool) {
	p, ok := s.Domains[strings.ToLower(domain)]
	return p, ok
}

// DefaultTTL returns the configured default TTL.
func (s *PolicySet) DefaultTTL() int {
	if s.Settings.DefaultTTL == 0 {
		return DefaultTTL
	}
	return s.Settings.DefaultTTL
}

// IsReserved reports whether label is reserved under domain, either by the
// domain policy or by the global blocked_subdomains list.
func (s *PolicySet) IsReserved(domain, label string) bool {
	if containsFold(s.Settings.BlockedSubdomains, label) {
		return true
	}
	if p, ok := s.Lookup(domain); ok {
		return containsFold(p.ReservedLabels, label)
	}
	return false
}

// IsBlockedUser reports whether username is barred from registering.
func (s *PolicySet) IsBlockedUser(username string) bool {
	return containsFold(s.Settings.BlockedUsers, username)
}

// DomainNames returns the configured domains in sorted order.
func (s *PolicySet) DomainNames() []string {
	names := make([]string, 0, len(s.Domains))
	for name := range s.Domains {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
