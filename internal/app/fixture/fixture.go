package fixture

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/form3tech-oss/replay-proxy/internal/app/replay"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Fixture is one recorded scenario: the account it was recorded with, the
// environment it expects and its ordered interactions.
type Fixture struct {
	name          string
	profile       *Profile
	environment   map[string]string
	randomTestIDs []string
	scope         *replay.Scope
}

// Load reads a fixture file. The file name, without extension, names the
// scenario when the document does not.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read fixture %s", path)
	}
	base := filepath.Base(path)
	f, err := parse(data, strings.TrimSuffix(base, filepath.Ext(base)))
	if err != nil {
		return nil, errors.Wrapf(err, "fixture %s", path)
	}
	return f, nil
}

func Parse(data []byte) (*Fixture, error) {
	return parse(data, "")
}

// ParseNamed is Parse for documents that may leave their name to the caller.
func ParseNamed(data []byte, name string) (*Fixture, error) {
	return parse(data, name)
}

func parse(data []byte, defaultName string) (*Fixture, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, malformed(err.Error())
	}
	if err := validateDocument(raw); err != nil {
		return nil, &replay.MalformedFixtureError{Index: violationIndex(err), Reason: err.Error()}
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, malformed(err.Error())
	}
	if doc.Name == "" {
		doc.Name = defaultName
	}
	if doc.Name == "" {
		return nil, malformed("name is required")
	}

	f := &Fixture{
		name:          doc.Name,
		environment:   map[string]string{},
		randomTestIDs: append([]string(nil), doc.RandomTestIDs...),
	}
	for k, v := range doc.Environment {
		f.environment[k] = v
	}

	if len(doc.Profile.Subscriptions) > 0 {
		profile, err := NewProfile(doc.Profile.Subscriptions...)
		if err != nil {
			return nil, malformed(err.Error())
		}
		f.profile = profile
	}

	interactions := make([]*replay.Interaction, 0, len(doc.Interactions))
	for idx, d := range doc.Interactions {
		interaction, err := replay.NewInteraction(d.definition())
		if err != nil {
			var mf *replay.MalformedFixtureError
			if errors.As(err, &mf) {
				mf.Index = idx
			}
			return nil, err
		}
		interactions = append(interactions, interaction)
	}

	scope, err := replay.NewScope(doc.Name, interactions, doc.RandomTestIDs)
	if err != nil {
		return nil, err
	}
	f.scope = scope

	log.Infof("loaded fixture '%s' (%d interactions)", f.name, len(interactions))
	return f, nil
}

func malformed(reason string) error {
	return &replay.MalformedFixtureError{Index: -1, Reason: reason}
}

func (f *Fixture) Name() string {
	return f.name
}

func (f *Fixture) Scope() *replay.Scope {
	return f.scope
}

// Profile returns the recorded account, nil when the fixture declares none.
func (f *Fixture) Profile() *Profile {
	return f.profile
}

func (f *Fixture) Environment() map[string]string {
	result := make(map[string]string, len(f.environment))
	for k, v := range f.environment {
		result[k] = v
	}
	return result
}

func (f *Fixture) RandomTestIDs() []string {
	return append([]string(nil), f.randomTestIDs...)
}

// SetEnvironment exports the variables the scenario expects. The returned
// func puts the previous values back.
func (f *Fixture) SetEnvironment() (func(), error) {
	return SetEnv(f.environment)
}

// SetEnv exports every variable of env and returns a func restoring the
// values they had before.
func SetEnv(env map[string]string) (func(), error) {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type previous struct {
		value string
		set   bool
	}
	saved := make(map[string]previous, len(keys))
	restore := func() {
		for k, p := range saved {
			if p.set {
				os.Setenv(k, p.value)
			} else {
				os.Unsetenv(k)
			}
		}
	}

	for _, k := range keys {
		value, set := os.LookupEnv(k)
		saved[k] = previous{value: value, set: set}
		if err := os.Setenv(k, env[k]); err != nil {
			restore()
			return nil, errors.Wrapf(err, "unable to set %s", k)
		}
	}
	return restore, nil
}

// FreshScope returns the scope with every recorded random identifier
// replaced by a newly generated one, and the replacements made.
func (f *Fixture) FreshScope() (*replay.Scope, map[string]string, error) {
	ids := FreshIDs(f.randomTestIDs)
	scope, err := f.scope.Substitute(ids)
	if err != nil {
		return nil, nil, err
	}
	return scope, ids, nil
}
