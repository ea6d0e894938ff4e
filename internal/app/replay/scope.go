package replay

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Scope is the ordered set of calls recorded for one scenario. Each call is
// one or more interactions that differ only in scheme; any one of them
// satisfies the call.
type Scope struct {
	name          string
	calls         [][]*Interaction
	randomTestIDs []string
}

// NewScope groups adjacent interactions recording the same call over
// different schemes. Interaction ids must be unique.
func NewScope(name string, interactions []*Interaction, randomTestIDs []string) (*Scope, error) {
	seen := make(map[string]struct{}, len(interactions))
	var calls [][]*Interaction
	for idx, interaction := range interactions {
		if interaction == nil {
			return nil, &MalformedFixtureError{Index: idx, Reason: "interaction is nil"}
		}
		if _, ok := seen[interaction.ID()]; ok {
			return nil, &MalformedFixtureError{Index: idx, Field: "id", Reason: "is not unique"}
		}
		seen[interaction.ID()] = struct{}{}

		if n := len(calls); n > 0 && joinsCall(calls[n-1], interaction) {
			calls[n-1] = append(calls[n-1], interaction)
			continue
		}
		calls = append(calls, []*Interaction{interaction})
	}

	return &Scope{
		name:          name,
		calls:         calls,
		randomTestIDs: append([]string(nil), randomTestIDs...),
	}, nil
}

func joinsCall(call []*Interaction, interaction *Interaction) bool {
	for _, v := range call {
		if !v.sameCall(interaction) {
			return false
		}
	}
	return true
}

func (s *Scope) Name() string {
	return s.name
}

// Interactions returns every interaction in declaration order.
func (s *Scope) Interactions() []*Interaction {
	var result []*Interaction
	for _, call := range s.calls {
		result = append(result, call...)
	}
	return result
}

// Calls returns the interactions grouped by logical call.
func (s *Scope) Calls() [][]*Interaction {
	result := make([][]*Interaction, len(s.calls))
	for i, call := range s.calls {
		result[i] = append([]*Interaction(nil), call...)
	}
	return result
}

// RandomTestIDs returns the identifiers that were randomly generated when
// the scenario was recorded.
func (s *Scope) RandomTestIDs() []string {
	return append([]string(nil), s.randomTestIDs...)
}

func (s *Scope) Lookup(id string) (*Interaction, bool) {
	for _, call := range s.calls {
		for _, i := range call {
			if i.ID() == id {
				return i, true
			}
		}
	}
	return nil, false
}

// Substitute returns a copy of the scope where each recorded identifier
// (key) is replaced by its fresh counterpart (value) in paths, bodies and
// header values. Longer identifiers are replaced first so that an id that
// prefixes another does not clobber it.
func (s *Scope) Substitute(ids map[string]string) (*Scope, error) {
	if len(ids) == 0 {
		return s, nil
	}

	recorded := make([]string, 0, len(ids))
	for k := range ids {
		if k == "" {
			return nil, errors.New("cannot substitute an empty identifier")
		}
		recorded = append(recorded, k)
	}
	sort.Slice(recorded, func(a, b int) bool {
		if len(recorded[a]) != len(recorded[b]) {
			return len(recorded[a]) > len(recorded[b])
		}
		return recorded[a] < recorded[b]
	})
	pairs := make([]string, 0, 2*len(recorded))
	for _, k := range recorded {
		pairs = append(pairs, k, ids[k])
	}
	replacer := strings.NewReplacer(pairs...)

	calls := make([][]*Interaction, len(s.calls))
	for ci, call := range s.calls {
		calls[ci] = make([]*Interaction, len(call))
		for vi, interaction := range call {
			substituted, err := interaction.substitute(replacer)
			if err != nil {
				return nil, errors.Wrapf(err, "substituting identifiers in %s", interaction)
			}
			calls[ci][vi] = substituted
		}
	}

	randomTestIDs := make([]string, len(s.randomTestIDs))
	for i, id := range s.randomTestIDs {
		randomTestIDs[i] = replacer.Replace(id)
	}

	return &Scope{name: s.name, calls: calls, randomTestIDs: randomTestIDs}, nil
}
