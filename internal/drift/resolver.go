package drift

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/sipico/freesub/internal/provider"
	"github.com/sipico/freesub/internal/record"
)

// DefaultResolverAddr is queried when no resolver is configured.
const DefaultResolverAddr = "1.1.1.1:53"

// Resolver probes records through a recursive DNS server. It only produces
// notes: an answer that is missing or stale is expected while changes
// propagate.
type Resolver struct {
	addr   string
	client *dns.Client
	web    *http.Client
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithHTTPCheck makes the resolver also fetch A and AAAA names over HTTPS,
// falling back to HTTP. An unreachable name is noted, any response is fine.
func WithHTTPCheck(client *http.Client) ResolverOption {
	return func(r *Resolver) {
		r.web = client
	}
}

// NewResolver creates a Resolver that queries addr (host:port).
func NewResolver(addr string, timeout time.Duration, opts ...ResolverOption) *Resolver {
	if addr == "" {
		addr = DefaultResolverAddr
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	r := &Resolver{
		addr:   addr,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var qtypes = map[string]uint16{
	string(record.TypeA):     dns.TypeA,
	string(record.TypeAAAA):  dns.TypeAAAA,
	string(record.TypeCNAME): dns.TypeCNAME,
	string(record.TypeMX):    dns.TypeMX,
	string(record.TypeTXT):   dns.TypeTXT,
	string(record.TypeSRV):   dns.TypeSRV,
}

// Probe implements Prober. Besides the record itself it resolves CNAME
// targets and, with WithHTTPCheck, tries to reach A and AAAA names.
func (r *Resolver) Probe(ctx context.Context, name string, want provider.Record) []string {
	qtype, ok := qtypes[want.Type]
	if !ok {
		return nil
	}
	answers, note := r.lookup(ctx, name, qtype)
	if note != "" {
		return []string{note}
	}

	var notes []string
	t := record.Type(want.Type)
	// Proxied names resolve to the provider's edge addresses.
	if !want.Proxied && !contains(t, answers, want.Content) {
		notes = append(notes, fmt.Sprintf("dns probe: %s resolves to %s, want %s", name, strings.Join(answers, ", "), want.Content))
	}

	switch t {
	case record.TypeCNAME:
		if _, note := r.lookup(ctx, want.Content, dns.TypeA); note != "" {
			notes = append(notes, "cname target: "+note)
		}
	case record.TypeA, record.TypeAAAA:
		if r.web != nil {
			if note := r.reach(ctx, name); note != "" {
				notes = append(notes, note)
			}
		}
	}
	return notes
}

// lookup returns the answers of type qtype for name, or a note explaining
// why there are none.
func (r *Resolver) lookup(ctx context.Context, name string, qtype uint16) ([]string, string) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, m, r.addr)
	if err != nil {
		return nil, fmt.Sprintf("dns probe failed: %v", err)
	}
	qname := dns.TypeToString[qtype]
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Sprintf("dns probe: %s for %s %s (may not have propagated yet)", dns.RcodeToString[resp.Rcode], name, qname)
	}

	var answers []string
	for _, rr := range resp.Answer {
		if rr.Header().Rrtype == qtype {
			answers = append(answers, answerContent(rr))
		}
	}
	if len(answers) == 0 {
		return nil, fmt.Sprintf("dns probe: no %s answer for %s (may not have propagated yet)", qname, name)
	}
	return answers, ""
}

func contains(t record.Type, answers []string, content string) bool {
	expect := record.CanonicalContent(t, content)
	for _, a := range answers {
		if record.CanonicalContent(t, a) == expect {
			return true
		}
	}
	return false
}

// reach fetches name over HTTPS, then HTTP.
func (r *Resolver) reach(ctx context.Context, name string) string {
	var errs []string
	for _, scheme := range []string{"https", "http"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+name+"/", nil)
		if err != nil {
			return fmt.Sprintf("http check failed: %v", err)
		}
		resp, err := r.web.Do(req)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		//nolint:errcheck
		resp.Body.Close()
		return ""
	}
	return fmt.Sprintf("http check: %s is not reachable: %s", name, strings.Join(errs, "; "))
}

// answerContent renders rr the way the provider stores its content.
func answerContent(rr dns.RR) string {
	switch v := rr.(type) {
	case *dns.A:
		return v.A.String()
	case *dns.AAAA:
		return v.AAAA.String()
	case *dns.CNAME:
		return v.Target
	case *dns.MX:
		return v.Mx
	case *dns.TXT:
		return strings.Join(v.Txt, "")
	case *dns.SRV:
		return fmt.Sprintf("%d %d %s", v.Weight, v.Port, v.Target)
	default:
		return rr.String()
	}
}
