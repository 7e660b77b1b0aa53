package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/pwa-marketplace/backend/internal/shared/types"
)

// policyFile is the on-disk shape of a policy bundle.
type policyFile struct {
	Policies []policyEntry `yaml:"policies"`
}

type policyEntry struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Permissions  []string `yaml:"permissions"`
	Restrictions []string `yaml:"restrictions"`
	Timeout      string   `yaml:"timeout"`
}

// LoadPolicies reads a YAML policy bundle and returns the policies it
// defines. Timeouts are Go duration strings ("30s", "5m"); a missing
// timeout defaults to zero and the registry's own default applies.
func LoadPolicies(path string) ([]types.ResourcePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicies(data)
}

// ParsePolicies parses a YAML policy bundle.
func ParsePolicies(data []byte) ([]types.ResourcePolicy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	policies := make([]types.ResourcePolicy, 0, len(file.Policies))
	for i, entry := range file.Policies {
		if entry.Name == "" {
			return nil, fmt.Errorf("policy %d: name is required", i)
		}

		var timeout time.Duration
		if entry.Timeout != "" {
			parsed, err := time.ParseDuration(entry.Timeout)
			if err != nil || parsed < 0 {
				return nil, fmt.Errorf("policy %q: invalid timeout %q", entry.Name, entry.Timeout)
			}
			timeout = parsed
		}

		policies = append(policies, types.ResourcePolicy{
			Name:         entry.Name,
			Description:  entry.Description,
			Permissions:  entry.Permissions,
			Restrictions: entry.Restrictions,
			Timeout:      timeout,
		})
	}
	return policies, nil
}
