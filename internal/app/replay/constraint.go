package replay

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/pkg/errors"
)

const (
	fmtLen     = "_length_"
	defaultFmt = "%v"
)

// BodyConstraint pins the value found at a JSONPath of the request document
// ($.body, $.query and $.path are available).
type BodyConstraint struct {
	Path   string        `json:"path" yaml:"path"`
	Values []interface{} `json:"values" yaml:"values"`
	Format string        `json:"format,omitempty" yaml:"format,omitempty"`
}

func (c BodyConstraint) format() string {
	if c.Format == "" {
		return defaultFmt
	}
	return c.Format
}

func (c BodyConstraint) validate() error {
	if !strings.HasPrefix(c.Path, "$.") {
		return errors.Errorf("constraint path %q must start with '$.'", c.Path)
	}
	if len(c.Values) == 0 {
		return errors.Errorf("constraint for %q has no values", c.Path)
	}
	return nil
}

func (c BodyConstraint) evaluate(document requestDocument) error {
	val, err := jsonpath.Get(document.encodeValues(c.Path), map[string]interface{}(document))
	if err != nil {
		return errors.Wrapf(err, "no value at path %q", c.Path)
	}
	if c.Format != fmtLen && reflect.TypeOf(val) == reflect.TypeOf([]interface{}{}) {
		return errors.Errorf("value at path %q is an array, use the %s format", c.Path, fmtLen)
	}
	return c.check(c.Values, val)
}

func (c BodyConstraint) check(expectedValues []interface{}, actualValue interface{}) error {
	if c.Format == fmtLen {
		if len(expectedValues) != 1 {
			return fmt.Errorf(
				"expected single positive integer value for path %q length constraint, but there are %v expected values",
				c.Path, len(expectedValues))
		}
		expected, ok := expectedValues[0].(int)
		if !ok || expected < 0 {
			return fmt.Errorf("expected value for %q length constraint must be a positive integer", c.Path)
		}

		actualSlice, ok := actualValue.([]interface{})
		if !ok {
			return fmt.Errorf("value at path %q must be an array due to length constraint", c.Path)
		}
		if expected != len(actualSlice) {
			return fmt.Errorf("value of length %v at path %q does not match length constraint %v",
				len(actualSlice), c.Path, expected)
		}
		return nil
	}

	expected := fmt.Sprintf(c.format(), expectedValues...)
	actual := fmt.Sprintf("%v", actualValue)
	if expected != actual {
		return fmt.Errorf("value %q at path %q does not match constraint %q", actual, c.Path, expected)
	}
	return nil
}
