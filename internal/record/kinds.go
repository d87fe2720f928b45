package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sipico/freesub/internal/provider"
)

// MaxTXTLength is the longest TXT value accepted.
const MaxTXTLength = 255

// ErrUnsupportedType is returned for record types without a Kind.
var ErrUnsupportedType = errors.New("unsupported record type")

// Kind describes how one record type is validated and sent to the provider.
type Kind struct {
	Type      Type
	Proxyable bool

	check func(r DNSRecord) []string
	shape func(r DNSRecord, out *provider.Record) error
}

var kinds = map[Type]Kind{
	TypeA: {
		Type:      TypeA,
		Proxyable: true,
		check:     checkA,
	},
	TypeAAAA: {
		Type:      TypeAAAA,
		Proxyable: true,
		check:     checkAAAA,
		shape:     shapeAAAA,
	},
	TypeCNAME: {
		Type:      TypeCNAME,
		Proxyable: true,
		check:     checkHostTarget,
		shape:     shapeHostTarget,
	},
	TypeMX: {
		Type:  TypeMX,
		check: checkMX,
		shape: shapeMX,
	},
	TypeTXT: {
		Type:  TypeTXT,
		check: checkTXT,
	},
	TypeSRV: {
		Type:  TypeSRV,
		check: checkSRV,
		shape: shapeSRV,
	},
}

// Lookup returns the Kind for t.
func Lookup(t Type) (Kind, bool) {
	k, ok := kinds[t]
	return k, ok
}

// Types returns every supported record type.
func Types() []Type {
	return []Type{TypeA, TypeAAAA, TypeCNAME, TypeMX, TypeTXT, TypeSRV}
}

// Check validates the record content for this kind. Errors make the record
// unacceptable; warnings are informational.
func (k Kind) Check(r DNSRecord) (errs, warnings []string) {
	if r.Priority != nil && k.Type != TypeMX {
		errs = append(errs, fmt.Sprintf("priority is only allowed for MX records, not %s", k.Type))
	}
	if r.IsProxied() && !k.Proxyable {
		warnings = append(warnings, fmt.Sprintf("proxied is ignored for %s records", k.Type))
	}
	errs = append(errs, k.check(r)...)
	return errs, warnings
}

// Payload builds the provider record for name from r. Proxying is dropped
// for types that cannot be proxied.
func Payload(name string, r DNSRecord, defaultTTL int) (provider.Record, error) {
	k, ok := Lookup(r.Type)
	if !ok {
		return provider.Record{}, fmt.Errorf("%w: %s", ErrUnsupportedType, r.Type)
	}
	out := provider.Record{
		Type:    string(r.Type),
		Name:    name,
		Content: r.Value,
		TTL:     r.TTLOr(defaultTTL),
		Proxied: k.Proxyable && r.IsProxied(),
	}
	if k.shape != nil {
		if err := k.shape(r, &out); err != nil {
			return provider.Record{}, err
		}
	}
	return out, nil
}

func checkA(r DNSRecord) []string {
	addr, err := ParseIPv4(r.Value)
	if err != nil {
		return []string{fmt.Sprintf("invalid IPv4 address %q", r.Value)}
	}
	if r.IsProxied() && IsPrivate(addr) {
		return []string{fmt.Sprintf("cannot proxy private or reserved address %s", addr)}
	}
	return nil
}

func checkAAAA(r DNSRecord) []string {
	addr, err := ParseIPv6(r.Value)
	if err != nil {
		return []string{fmt.Sprintf("invalid IPv6 address %q", r.Value)}
	}
	if r.IsProxied() && IsPrivate(addr) {
		return []string{fmt.Sprintf("cannot proxy private or reserved address %s", addr)}
	}
	return nil
}

func shapeAAAA(r DNSRecord, out *provider.Record) error {
	addr, err := ParseIPv6(r.Value)
	if err != nil {
		return err
	}
	out.Content = addr.String()
	return nil
}

func checkHostTarget(r DNSRecord) []string {
	if _, err := NormalizeHostname(r.Value); err != nil {
		return []string{fmt.Sprintf("invalid %s target: %v", r.Type, err)}
	}
	return nil
}

func shapeHostTarget(r DNSRecord, out *provider.Record) error {
	host, err := NormalizeHostname(r.Value)
	if err != nil {
		return err
	}
	out.Content = host
	return nil
}

func checkMX(r DNSRecord) []string {
	errs := checkHostTarget(r)
	switch {
	case r.Priority == nil:
		errs = append(errs, "MX records require a priority")
	case *r.Priority < 0 || *r.Priority > 65535:
		errs = append(errs, fmt.Sprintf("MX priority %d out of range 0-65535", *r.Priority))
	}
	return errs
}

func shapeMX(r DNSRecord, out *provider.Record) error {
	if err := shapeHostTarget(r, out); err != nil {
		return err
	}
	if r.Priority == nil {
		return errors.New("MX record without priority")
	}
	out.Priority = Ptr(*r.Priority)
	return nil
}

func checkTXT(r DNSRecord) []string {
	if len(r.Value) > MaxTXTLength {
		return []string{fmt.Sprintf("TXT value is %d characters, maximum is %d", len(r.Value), MaxTXTLength)}
	}
	return nil
}

// SRV is the parsed value of an SRV record.
type SRV struct {
	Priority int
	Weight   int
	Port     int
	Target   string
}

// ParseSRV parses "priority weight port target".
func ParseSRV(value string) (SRV, error) {
	fields := strings.Fields(value)
	if len(fields) != 4 {
		return SRV{}, fmt.Errorf("SRV value must be \"priority weight port target\", got %q", value)
	}
	var nums [3]int
	for i, name := range []string{"priority", "weight", "port"} {
		n, err := strconv.Atoi(fields[i])
		if err != nil || n < 0 || n > 65535 {
			return SRV{}, fmt.Errorf("SRV %s %q must be an integer 0-65535", name, fields[i])
		}
		nums[i] = n
	}
	target, err := NormalizeHostname(fields[3])
	if err != nil {
		return SRV{}, fmt.Errorf("SRV target: %w", err)
	}
	return SRV{Priority: nums[0], Weight: nums[1], Port: nums[2], Target: target}, nil
}

func checkSRV(r DNSRecord) []string {
	if _, err := ParseSRV(r.Value); err != nil {
		return []string{err.Error()}
	}
	return nil
}

func shapeSRV(r DNSRecord, out *provider.Record) error {
	srv, err := ParseSRV(r.Value)
	if err != nil {
		return err
	}
	out.Content = fmt.Sprintf("%d %d %s", srv.Weight, srv.Port, srv.Target)
	out.Priority = Ptr(srv.Priority)
	out.Data = &provider.SRVData{
		Priority: srv.Priority,
		Weight:   srv.Weight,
		Port:     srv.Port,
		Target:   srv.Target,
	}
	return nil
}

// CanonicalContent returns content in the form used for comparisons:
// host names lowercased without a trailing dot, IPv6 in canonical form and
// TXT values without surrounding quotes.
func CanonicalContent(t Type, content string) string {
	content = strings.TrimSpace(content)
	switch t {
	case TypeAAAA:
		if addr, err := ParseIPv6(content); err == nil {
			return addr.String()
		}
	case TypeCNAME, TypeMX:
		return strings.ToLower(strings.TrimSuffix(content, "."))
	case TypeSRV:
		fields := strings.Fields(content)
		if n := len(fields); n > 0 {
			fields[n-1] = strings.ToLower(strings.TrimSuffix(fields[n-1], "."))
		}
		return strings.Join(fields, " ")
	case TypeTXT:
		if len(content) >= 2 && strings.HasPrefix(content, `"`) && strings.HasSuffix(content, `"`) {
			return content[1 : len(content)-1]
		}
	}
	return content
}
