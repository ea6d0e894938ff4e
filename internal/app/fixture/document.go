package fixture

import (
	"encoding/json"

	"github.com/form3tech-oss/replay-proxy/internal/app/replay"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk form of a fixture. JSON documents are read with
// the same decoder, JSON being valid YAML.
type Document struct {
	Name          string                `yaml:"name"`
	Profile       Profile               `yaml:"profile"`
	Environment   map[string]string     `yaml:"environment"`
	RandomTestIDs []string              `yaml:"random_test_ids"`
	Interactions  []InteractionDocument `yaml:"interactions"`
}

type InteractionDocument struct {
	ID        string           `yaml:"id"`
	Origin    string           `yaml:"origin"`
	Method    string           `yaml:"method"`
	Path      string           `yaml:"path"`
	PathRegex string           `yaml:"path_regex"`
	Body      BodyDocument     `yaml:"body"`
	Response  ResponseDocument `yaml:"response"`
}

func (d InteractionDocument) definition() replay.InteractionDefinition {
	return replay.InteractionDefinition{
		ID:        d.ID,
		Origin:    d.Origin,
		Method:    d.Method,
		Path:      d.Path,
		PathRegex: d.PathRegex,
		Body:      d.Body.Matcher,
		Response: replay.ResponseDefinition{
			Status:  d.Response.Status,
			Body:    string(d.Response.Body),
			Headers: []replay.Header(d.Response.Headers),
		},
	}
}

// BodyDocument is "*" for any body, a string for an exact body, or a
// mapping with a "json" list of constraints.
type BodyDocument struct {
	Matcher replay.BodyMatcher
}

func (b *BodyDocument) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			b.Matcher = replay.AnyBody()
			return nil
		}
		var text string
		if err := node.Decode(&text); err != nil {
			return err
		}
		if text == "*" {
			b.Matcher = replay.AnyBody()
		} else {
			b.Matcher = replay.ExactBody(text)
		}
		return nil
	case yaml.MappingNode:
		var doc struct {
			JSON []replay.BodyConstraint `yaml:"json"`
		}
		if err := node.Decode(&doc); err != nil {
			return err
		}
		b.Matcher = replay.JSONBody(doc.JSON...)
		return nil
	}
	return errors.Errorf("line %d: body must be a string or a json constraint list", node.Line)
}

type ResponseDocument struct {
	Status  int          `yaml:"status"`
	Body    ResponseBody `yaml:"body"`
	Headers HeaderList   `yaml:"headers"`
}

// ResponseBody accepts a literal string, or structured YAML which is
// re-encoded as JSON.
type ResponseBody string

func (b *ResponseBody) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var text string
		if err := node.Decode(&text); err != nil {
			return err
		}
		*b = ResponseBody(text)
		return nil
	}

	var value interface{}
	if err := node.Decode(&value); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "line %d: response body is not representable as JSON", node.Line)
	}
	*b = ResponseBody(data)
	return nil
}

// HeaderList keeps headers in document order. It reads either a mapping of
// name to value (or list of values) or a list of {name, values}.
type HeaderList []replay.Header

func (h *HeaderList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var headers []replay.Header
		if err := node.Decode(&headers); err != nil {
			return err
		}
		*h = headers
		return nil
	case yaml.MappingNode:
		headers := make([]replay.Header, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			values, err := headerValues(node.Content[i+1])
			if err != nil {
				return errors.Wrapf(err, "header '%s'", node.Content[i].Value)
			}
			headers = append(headers, replay.Header{Name: node.Content[i].Value, Values: values})
		}
		*h = headers
		return nil
	}
	return errors.Errorf("line %d: headers must be a mapping or a list", node.Line)
}

func headerValues(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		var values []string
		if err := node.Decode(&values); err != nil {
			return nil, err
		}
		return values, nil
	}
	return nil, errors.Errorf("line %d: header value must be a string or a list of strings", node.Line)
}
