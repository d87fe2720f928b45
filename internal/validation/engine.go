// Package validation decides whether a subdomain request may be deployed.
//
// Policy violations are reported as reasons in a Result, not as errors. Only
// input that cannot be decoded at all fails with ErrMalformedRequest.
package validation

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/sipico/freesub/internal/record"
)

// DefaultMaxSubdomainsPerUser applies when neither the policy nor the global
// settings set a quota.
const DefaultMaxSubdomainsPerUser = 3

// Result is the outcome of validating one request.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r *Result) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Engine validates requests against a policy set.
type Engine struct {
	policies *record.PolicySet
	validate *validator.Validate
}

// NewEngine creates an Engine for policies.
func NewEngine(policies *record.PolicySet) *Engine {
	return &Engine{
		policies: policies,
		validate: newValidator(),
	}
}

// Validate checks req against the policy and the currently registered
// records. All failures are collected in one pass.
func (e *Engine) Validate(req *record.Request, existing []*record.Registered) Result {
	res := Result{Errors: []string{}, Warnings: []string{}}

	res.Errors = append(res.Errors, schemaErrors(e.validate, req)...)

	key := req.Key()
	replacing := findReplaced(req, existing)

	policy, ok := e.policies.Lookup(key.Domain)
	switch {
	case !ok:
		res.fail("domain %s is not available for registration", key.Domain)
	case !policy.Enabled && replacing == nil:
		res.fail("domain %s is not accepting new registrations", key.Domain)
	}
	if ok && req.Record.Type != "" && !policy.Allows(req.Record.Type) {
		res.fail("record type %s is not allowed on %s", req.Record.Type, key.Domain)
	}

	if key.Label != "" && e.policies.IsReserved(key.Domain, key.Label) {
		res.fail("subdomain %s is reserved", key.Label)
	}

	for _, other := range existing {
		if other.Key() == key && !other.OwnedBy(req.Owner.Username) {
			res.fail("subdomain %s is already taken", key.FQDN())
			break
		}
	}

	if kind, ok := record.Lookup(req.Record.Type); ok && req.Record.Value != "" {
		errs, warnings := kind.Check(req.Record)
		res.Errors = append(res.Errors, errs...)
		res.Warnings = append(res.Warnings, warnings...)
	}

	if req.Owner.Username != "" {
		if e.policies.IsBlockedUser(req.Owner.Username) {
			res.fail("user %s is not allowed to register subdomains", req.Owner.Username)
		}
		if ok {
			e.checkQuota(&res, req, policy, existing)
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// findReplaced returns the registered record the request would overwrite:
// the same key held by the same owner.
func findReplaced(req *record.Request, existing []*record.Registered) *record.Registered {
	key := req.Key()
	for _, other := range existing {
		if other.Key() == key && other.OwnedBy(req.Owner.Username) {
			return other
		}
	}
	return nil
}

func (e *Engine) checkQuota(res *Result, req *record.Request, policy *record.Policy, existing []*record.Registered) {
	key := req.Key()
	var inDomain, total int
	for _, other := range existing {
		otherKey := other.Key()
		// A record the request replaces does not count against the owner.
		if otherKey == key || !other.OwnedBy(req.Owner.Username) {
			continue
		}
		total++
		if otherKey.Domain == key.Domain {
			inDomain++
		}
	}

	globalLimit := e.policies.Settings.MaxSubdomainsPerUser
	if globalLimit <= 0 {
		globalLimit = DefaultMaxSubdomainsPerUser
	}
	domainLimit := policy.MaxSubdomainsPerUser
	if domainLimit <= 0 {
		domainLimit = globalLimit
	}

	if inDomain >= domainLimit {
		res.fail("user %s already holds %d of %d subdomains allowed on %s", req.Owner.Username, inDomain, domainLimit, key.Domain)
	}
	if e.policies.Settings.QuotaScope != record.QuotaDomain && total >= globalLimit {
		res.fail("user %s already holds %d of %d subdomains allowed in total", req.Owner.Username, total, globalLimit)
	}
}
