package replay

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrUnmatchedRequest        = errors.New("no matching interaction")
	ErrUnconsumedInteraction   = errors.New("expected interaction not invoked")
	ErrMalformedFixture        = errors.New("malformed fixture")
	ErrScenarioActive          = errors.New("a scenario is already active")
	ErrNoScenario              = errors.New("no active scenario")
	ErrInteractionNotInScope   = errors.New("interaction not found in scope")
	ErrUnsupportedOverridePath = errors.New("unsupported override path")
)

// UnmatchedRequestError is returned for an outbound call that has no pending
// interaction. Expected is the interaction the origin was waiting for, nil
// when the origin has nothing left (or was never recorded).
type UnmatchedRequestError struct {
	Method   string
	URL      string
	Expected *Interaction
	Reasons  []string
}

func (e *UnmatchedRequestError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s for %s %s", ErrUnmatchedRequest, e.Method, e.URL)
	if e.Expected == nil {
		b.WriteString(": no pending interactions for this origin")
	} else {
		fmt.Fprintf(&b, ": expected %s", e.Expected)
	}
	for _, r := range e.Reasons {
		b.WriteString("; ")
		b.WriteString(r)
	}
	return b.String()
}

func (e *UnmatchedRequestError) Is(target error) bool {
	return target == ErrUnmatchedRequest
}

// UnconsumedInteractionError reports a call that was still pending at
// teardown. Variants lists every recorded alternative of the call.
type UnconsumedInteractionError struct {
	Variants []*Interaction
}

func (e *UnconsumedInteractionError) Error() string {
	descriptions := make([]string, 0, len(e.Variants))
	for _, v := range e.Variants {
		descriptions = append(descriptions, v.String())
	}
	return fmt.Sprintf("%s: %s", ErrUnconsumedInteraction, strings.Join(descriptions, " | "))
}

func (e *UnconsumedInteractionError) Is(target error) bool {
	return target == ErrUnconsumedInteraction
}

// MalformedFixtureError is raised while loading, before any call is replayed.
type MalformedFixtureError struct {
	Index  int
	Field  string
	Reason string
}

func (e *MalformedFixtureError) Error() string {
	reason := e.Reason
	if e.Field != "" {
		reason = e.Field + " " + reason
	}
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", ErrMalformedFixture, reason)
	}
	return fmt.Sprintf("%s: interaction %d: %s", ErrMalformedFixture, e.Index, reason)
}

func (e *MalformedFixtureError) Is(target error) bool {
	return target == ErrMalformedFixture
}

func malformed(field, reason string) *MalformedFixtureError {
	return &MalformedFixtureError{Index: -1, Field: field, Reason: reason}
}
