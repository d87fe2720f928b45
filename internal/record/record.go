// Package record defines the subdomain request, registered record and domain
// policy types shared by the validator, the deployer and the drift detector.
package record

import (
	"strings"
	"time"
)

// Type is a DNS record type.
type Type string

// Supported record types.
const (
	TypeA     Type = "A"
	TypeAAAA  Type = "AAAA"
	TypeCNAME Type = "CNAME"
	TypeMX    Type = "MX"
	TypeTXT   Type = "TXT"
	TypeSRV   Type = "SRV"
)

// DefaultTTL is applied when neither the request nor the policy sets a TTL.
const DefaultTTL = 3600

// Status is the lifecycle state of a registered record.
type Status string

// Record statuses.
const (
	StatusActive  Status = "active"
	StatusPending Status = "pending"
	StatusError   Status = "error"
)

// Key identifies a subdomain within a parent domain.
type Key struct {
	Domain string
	Label  string
}

// NewKey returns a Key with both parts lowercased.
func NewKey(domain, label string) Key {
	return Key{Domain: strings.ToLower(domain), Label: strings.ToLower(label)}
}

// FQDN returns label.domain.
func (k Key) FQDN() string {
	return k.Label + "." + k.Domain
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return k.FQDN()
}

// Owner is the GitHub account that requested a subdomain.
type Owner struct {
	Username string `json:"username" validate:"required,ghuser"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
}

// DNSRecord is the record a user asks for.
type DNSRecord struct {
	Type     Type   `json:"type" validate:"required,rrtype"`
	Value    string `json:"value" validate:"required"`
	TTL      *int   `json:"ttl,omitempty" validate:"omitempty,ttl"`
	Proxied  *bool  `json:"proxied,omitempty"`
	Priority *int   `json:"priority,omitempty"`
}

// TTLOr returns the requested TTL or def when none was given.
func (r DNSRecord) TTLOr(def int) int {
	if r.TTL == nil {
		return def
	}
	return *r.TTL
}

// IsProxied reports whether proxying was requested.
func (r DNSRecord) IsProxied() bool {
	return r.Proxied != nil && *r.Proxied
}

// Request is the contents of a subdomain request file.
type Request struct {
	Domain      string    `json:"domain" validate:"required,fqdn"`
	Subdomain   string    `json:"subdomain" validate:"required,dnslabel"`
	Owner       Owner     `json:"owner"`
	Record      DNSRecord `json:"record"`
	Description string    `json:"description,omitempty" validate:"max=256"`
}

// Key returns the normalised store key of the request.
func (r *Request) Key() Key {
	return NewKey(r.Domain, r.Subdomain)
}

// OwnedBy reports whether username owns the request. GitHub usernames are
// case-insensitive.
func (r *Request) OwnedBy(username string) bool {
	return strings.EqualFold(r.Owner.Username, username)
}

// Registered is a request that has been deployed to the provider.
type Registered struct {
	Request
	ProviderRecordID string    `json:"providerRecordId"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of r.
func (r *Registered) Clone() *Registered {
	c := *r
	if r.Record.TTL != nil {
		ttl := *r.Record.TTL
		c.Record.TTL = &ttl
	}
	if r.Record.Proxied != nil {
		p := *r.Record.Proxied
		c.Record.Proxied = &p
	}
	if r.Record.Priority != nil {
		p := *r.Record.Priority
		c.Record.Priority = &p
	}
	return &c
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
