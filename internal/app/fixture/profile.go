package fixture

import (
	"github.com/pkg/errors"
)

const defaultEnvironment = "AzureCloud"

var ErrInvalidProfile = errors.New("invalid profile")

type User struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

type ManagementCertificate struct {
	Key  string `yaml:"key" json:"key"`
	Cert string `yaml:"cert" json:"cert"`
}

// Subscription is the account identity a scenario was recorded with.
// Exactly one of User and ManagementCertificate carries its auth material.
type Subscription struct {
	ID                           string                 `yaml:"id" json:"id"`
	Name                         string                 `yaml:"name" json:"name"`
	User                         *User                  `yaml:"user,omitempty" json:"user,omitempty"`
	ManagementCertificate        *ManagementCertificate `yaml:"management_certificate,omitempty" json:"management_certificate,omitempty"`
	TenantID                     string                 `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	RegisteredProviders          []string               `yaml:"registered_providers,omitempty" json:"registered_providers,omitempty"`
	RegisteredResourceNamespaces []string               `yaml:"registered_resource_namespaces,omitempty" json:"registered_resource_namespaces,omitempty"`
	IsDefault                    bool                   `yaml:"is_default" json:"is_default"`
	Environment                  string                 `yaml:"environment,omitempty" json:"environment,omitempty"`
}

func NewSubscription(s Subscription) (Subscription, error) {
	if s.ID == "" {
		return s, errors.Wrap(ErrInvalidProfile, "subscription id is required")
	}
	if s.Name == "" {
		return s, errors.Wrapf(ErrInvalidProfile, "subscription '%s' has no name", s.ID)
	}
	switch {
	case s.User == nil && s.ManagementCertificate == nil:
		return s, errors.Wrapf(ErrInvalidProfile, "subscription '%s' has no user or management certificate", s.ID)
	case s.User != nil && s.ManagementCertificate != nil:
		return s, errors.Wrapf(ErrInvalidProfile, "subscription '%s' has both a user and a management certificate", s.ID)
	case s.User != nil && s.User.Name == "":
		return s, errors.Wrapf(ErrInvalidProfile, "subscription '%s' user has no name", s.ID)
	case s.ManagementCertificate != nil && (s.ManagementCertificate.Key == "" || s.ManagementCertificate.Cert == ""):
		return s, errors.Wrapf(ErrInvalidProfile, "subscription '%s' management certificate needs a key and a cert", s.ID)
	}
	if s.Environment == "" {
		s.Environment = defaultEnvironment
	}
	return s, nil
}

type Profile struct {
	Subscriptions []Subscription `yaml:"subscriptions" json:"subscriptions"`
}

func NewProfile(subscriptions ...Subscription) (*Profile, error) {
	p := &Profile{}
	defaults := 0
	for _, s := range subscriptions {
		valid, err := NewSubscription(s)
		if err != nil {
			return nil, err
		}
		if valid.IsDefault {
			defaults++
		}
		p.Subscriptions = append(p.Subscriptions, valid)
	}
	if defaults > 1 {
		return nil, errors.Wrapf(ErrInvalidProfile, "%d subscriptions are marked as default", defaults)
	}
	return p, nil
}

// DefaultSubscription returns the subscription marked as default, or the
// only subscription of the profile.
func (p *Profile) DefaultSubscription() (Subscription, bool) {
	for _, s := range p.Subscriptions {
		if s.IsDefault {
			return s, true
		}
	}
	if len(p.Subscriptions) == 1 {
		return p.Subscriptions[0], true
	}
	return Subscription{}, false
}
