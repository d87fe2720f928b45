package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sipico/freesub/internal/record"
	"github.com/sipico/freesub/internal/validation"
)

// LoadPolicies reads the domain policy file at path.
func LoadPolicies(path string) (*record.PolicySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	set, err := ParsePolicies(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// ParsePolicies decodes a policy document. Unknown keys are rejected so
// typos do not silently disable a limit.
func ParsePolicies(r io.Reader) (*record.PolicySet, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var set record.PolicySet
	if err := dec.Decode(&set); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("policy file is empty")
		}
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	if set.Settings.DefaultTTL == 0 {
		set.Settings.DefaultTTL = record.DefaultTTL
	}
	if set.Settings.QuotaScope == "" {
		set.Settings.QuotaScope = record.QuotaGlobal
	}
	if set.Settings.MaxSubdomainsPerUser == 0 {
		set.Settings.MaxSubdomainsPerUser = validation.DefaultMaxSubdomainsPerUser
	}

	if err := validate.Struct(&set.Settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	domains := make(map[string]*record.Policy, len(set.Domains))
	for name, policy := range set.Domains {
		norm, err := record.NormalizeHostname(name)
		if err != nil {
			return nil, fmt.Errorf("invalid domain %q: %w", name, err)
		}
		if policy == nil {
			return nil, fmt.Errorf("domain %s has no settings", norm)
		}
		if _, dup := domains[norm]; dup {
			return nil, fmt.Errorf("domain %s is listed twice", norm)
		}
		for i, t := range policy.AllowedRecordTypes {
			policy.AllowedRecordTypes[i] = record.Type(strings.ToUpper(string(t)))
		}
		if err := validate.Struct(policy); err != nil {
			return nil, fmt.Errorf("invalid policy for %s: %w", norm, err)
		}
		domains[norm] = policy
	}
	set.Domains = domains
	return &set, nil
}
