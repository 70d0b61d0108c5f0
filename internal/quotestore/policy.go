package quotestore

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quotebot/quotegallery/internal/quotes"
)

const DefaultQuotaLimit = 50

// Policy is the effective storage limit per owner. How a limit was decided
// (plan, flags, overrides) is not this package's concern.
type Policy struct {
	DefaultLimit int                    `yaml:"defaultLimit"`
	Owners       map[string]OwnerPolicy `yaml:"owners"`
}

type OwnerPolicy struct {
	Limit       *int   `yaml:"limit"`
	Unlimited   bool   `yaml:"unlimited"`
	DisplayName string `yaml:"displayName"`
	AvatarURL   string `yaml:"avatarUrl"`
}

func DefaultPolicy() Policy {
	return Policy{DefaultLimit: DefaultQuotaLimit}
}

// LoadPolicy reads a YAML policy file. An empty path yields the default.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read quota policy: %w", err)
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (Policy, error) {
	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse quota policy: %w", err)
	}
	if policy.DefaultLimit < 0 {
		return Policy{}, fmt.Errorf("%w: negative default limit", quotes.ErrInvalidInput)
	}
	for owner, p := range policy.Owners {
		if p.Limit != nil && *p.Limit < 0 {
			return Policy{}, fmt.Errorf("%w: negative limit for %s", quotes.ErrInvalidInput, owner)
		}
	}
	return policy, nil
}

// Quota returns the owner's counter given how many artifacts they store.
func (p Policy) Quota(ownerID string, used int) quotes.Quota {
	owner := p.Owners[ownerID]
	if owner.Unlimited {
		return quotes.UnlimitedQuota(used)
	}
	limit := p.DefaultLimit
	if owner.Limit != nil {
		limit = *owner.Limit
	}
	return quotes.LimitedQuota(used, limit)
}

func (p Policy) Profile(ownerID string) quotes.Profile {
	owner := p.Owners[ownerID]
	name := owner.DisplayName
	if name == "" {
		name = ownerID
	}
	return quotes.Profile{ID: ownerID, DisplayName: name, AvatarURL: owner.AvatarURL}
}
