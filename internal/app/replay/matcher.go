package replay

import (
	"net/url"
	"reflect"
	"regexp"

	"github.com/pkg/errors"
)

type pathMatcher interface {
	match(requestURI string) bool
}

type stringPathMatcher struct {
	val string
}

func (m *stringPathMatcher) match(requestURI string) bool {
	return requestURI == m.val
}

type regexPathMatcher struct {
	val *regexp.Regexp
}

func (m *regexPathMatcher) match(requestURI string) bool {
	return m.val.MatchString(requestURI)
}

// normalizeRequestURI renders a recorded path+query the same way
// url.URL.RequestURI renders an outgoing request.
func normalizeRequestURI(raw string) (string, error) {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return "", err
	}
	return u.RequestURI(), nil
}

// BodyMatchKind selects how a request body is compared.
type BodyMatchKind int

const (
	// BodyWildcard accepts any body, empty or not.
	BodyWildcard BodyMatchKind = iota
	// BodyExact requires the body to equal Text byte for byte.
	BodyExact
	// BodyJSON requires every constraint to hold on the request document.
	BodyJSON
)

func (k BodyMatchKind) String() string {
	switch k {
	case BodyWildcard:
		return "wildcard"
	case BodyExact:
		return "exact"
	case BodyJSON:
		return "json"
	}
	return "unknown"
}

type BodyMatcher struct {
	Kind        BodyMatchKind
	Text        string
	Constraints []BodyConstraint
}

func AnyBody() BodyMatcher {
	return BodyMatcher{Kind: BodyWildcard}
}

func ExactBody(text string) BodyMatcher {
	return BodyMatcher{Kind: BodyExact, Text: text}
}

func JSONBody(constraints ...BodyConstraint) BodyMatcher {
	return BodyMatcher{Kind: BodyJSON, Constraints: constraints}
}

func (m BodyMatcher) validate() error {
	switch m.Kind {
	case BodyWildcard, BodyExact:
		return nil
	case BodyJSON:
		if len(m.Constraints) == 0 {
			return errors.New("json body matcher has no constraints")
		}
		for _, c := range m.Constraints {
			if err := c.validate(); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.Errorf("unknown body match kind %d", m.Kind)
}

// violations returns why body does not satisfy the matcher; none means a match.
func (m BodyMatcher) violations(body []byte, u *url.URL) []string {
	switch m.Kind {
	case BodyExact:
		if string(body) != m.Text {
			return []string{"request body does not match the recorded body"}
		}
	case BodyJSON:
		document := parseRequestDocument(body, u)
		var result []string
		for _, c := range m.Constraints {
			if err := c.evaluate(document); err != nil {
				result = append(result, err.Error())
			}
		}
		return result
	}
	return nil
}

func (m BodyMatcher) clone() BodyMatcher {
	out := m
	if m.Constraints != nil {
		out.Constraints = make([]BodyConstraint, len(m.Constraints))
		for i, c := range m.Constraints {
			c.Values = append([]interface{}(nil), c.Values...)
			out.Constraints[i] = c
		}
	}
	return out
}

func (m BodyMatcher) equal(other BodyMatcher) bool {
	if m.Kind != other.Kind || m.Text != other.Text || len(m.Constraints) != len(other.Constraints) {
		return false
	}
	for i := range m.Constraints {
		a, b := m.Constraints[i], other.Constraints[i]
		if a.Path != b.Path || a.Format != b.Format || !reflect.DeepEqual(a.Values, b.Values) {
			return false
		}
	}
	return true
}
