package record

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"go4.org/netipx"
	"golang.org/x/net/idna"
)

// PrivateRanges are the address ranges that can never be proxied.
var PrivateRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var privateSet = mustIPSet(PrivateRanges)

func mustIPSet(prefixes []string) *netipx.IPSet {
	var b netipx.IPSetBuilder
	for _, p := range prefixes {
		b.AddPrefix(netip.MustParsePrefix(p))
	}
	set, err := b.IPSet()
	if err != nil {
		panic(err)
	}
	return set
}

// IsPrivate reports whether addr falls in one of PrivateRanges. IPv4-mapped
// IPv6 addresses are checked as IPv4.
func IsPrivate(addr netip.Addr) bool {
	return privateSet.Contains(addr.Unmap())
}

// ParseIPv4 parses a strict dotted-quad address. Leading zeros, missing
// octets and IPv6 forms are rejected.
func ParseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%q is not an IPv4 address", s)
	}
	return addr, nil
}

// ParseIPv6 parses an IPv6 literal, including compressed "::" forms.
// Zoned addresses are rejected.
func ParseIPv6(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	if !addr.Is6() {
		return netip.Addr{}, fmt.Errorf("%q is not an IPv6 address", s)
	}
	if addr.Zone() != "" {
		return netip.Addr{}, fmt.Errorf("%q has a zone", s)
	}
	return addr, nil
}

var labelRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidLabel reports whether s is an acceptable subdomain label: 1-63
// lowercase letters, digits or hyphens, no leading, trailing or consecutive
// hyphens.
func ValidLabel(s string) bool {
	return labelRe.MatchString(s) && !strings.Contains(s, "--")
}

// NormalizeHostname converts name to its lowercase ASCII form without a
// trailing dot and checks it is a syntactically valid host name.
func NormalizeHostname(name string) (string, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	if name == "" {
		return "", errors.New("empty hostname")
	}
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return "", fmt.Errorf("invalid hostname %q: %w", name, err)
	}
	ascii = strings.ToLower(ascii)
	if len(ascii) > 253 {
		return "", fmt.Errorf("hostname %q exceeds 253 characters", name)
	}
	for _, label := range strings.Split(ascii, ".") {
		if !labelRe.MatchString(label) {
			return "", fmt.Errorf("invalid hostname %q: bad label %q", name, label)
		}
	}
	return ascii, nil
}
