package fixture

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://replay-proxy.local/fixture.schema.json"

const fixtureSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["interactions"],
  "properties": {
    "name": {"type": "string"},
    "profile": {
      "type": "object",
      "properties": {
        "subscriptions": {"type": "array", "items": {"$ref": "#/$defs/subscription"}}
      }
    },
    "environment": {
      "type": "object",
      "additionalProperties": {"$ref": "#/$defs/scalar"}
    },
    "random_test_ids": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "interactions": {"type": "array", "items": {"$ref": "#/$defs/interaction"}}
  },
  "$defs": {
    "scalar": {"type": ["string", "number", "boolean"]},
    "subscription": {
      "type": "object",
      "required": ["id", "name"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "name": {"type": "string", "minLength": 1},
        "user": {
          "type": "object",
          "required": ["name"],
          "properties": {"name": {"type": "string"}, "type": {"type": "string"}}
        },
        "management_certificate": {
          "type": "object",
          "required": ["key", "cert"],
          "properties": {"key": {"type": "string"}, "cert": {"type": "string"}}
        },
        "tenant_id": {"type": "string"},
        "registered_providers": {"type": "array", "items": {"type": "string"}},
        "registered_resource_namespaces": {"type": "array", "items": {"type": "string"}},
        "is_default": {"type": "boolean"},
        "environment": {"type": "string"}
      }
    },
    "interaction": {
      "type": "object",
      "required": ["origin", "method", "path", "response"],
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string"},
        "origin": {"type": "string", "minLength": 1},
        "method": {"type": "string", "minLength": 1},
        "path": {"type": "string", "minLength": 1},
        "path_regex": {"type": "string"},
        "body": {
          "oneOf": [
            {"type": ["string", "null"]},
            {
              "type": "object",
              "required": ["json"],
              "additionalProperties": false,
              "properties": {
                "json": {
                  "type": "array",
                  "minItems": 1,
                  "items": {
                    "type": "object",
                    "required": ["path", "values"],
                    "properties": {
                      "path": {"type": "string"},
                      "values": {"type": "array"},
                      "format": {"type": "string"}
                    }
                  }
                }
              }
            }
          ]
        },
        "response": {
          "type": "object",
          "required": ["status"],
          "additionalProperties": false,
          "properties": {
            "status": {"type": "integer", "minimum": 100, "maximum": 999},
            "body": {"type": ["string", "object", "array", "null"]},
            "headers": {
              "oneOf": [
                {
                  "type": "object",
                  "additionalProperties": {
                    "oneOf": [
                      {"$ref": "#/$defs/scalar"},
                      {"type": "array", "items": {"$ref": "#/$defs/scalar"}}
                    ]
                  }
                },
                {
                  "type": "array",
                  "items": {
                    "type": "object",
                    "required": ["name", "values"],
                    "properties": {
                      "name": {"type": "string", "minLength": 1},
                      "values": {"type": "array", "items": {"$ref": "#/$defs/scalar"}}
                    }
                  }
                }
              ]
            }
          }
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(fixtureSchema)); err != nil {
			schemaErr = errors.Wrap(err, "fixture schema load failed")
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = errors.Wrap(schemaErr, "fixture schema compile failed")
		}
	})
	return compiledSchema, schemaErr
}

// validateDocument checks a decoded YAML document against the fixture
// schema. The document is round-tripped through JSON first so that the
// validator only sees JSON types.
func validateDocument(raw interface{}) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return errors.Wrap(err, "fixture is not representable as JSON")
	}
	var document interface{}
	if err := json.Unmarshal(data, &document); err != nil {
		return errors.Wrap(err, "fixture is not representable as JSON")
	}
	return schema.Validate(document)
}

// violationIndex returns the interaction a schema violation points at, or -1
// when it is about the document itself.
func violationIndex(err error) int {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return -1
	}
	for _, leaf := range leafViolations(verr) {
		rest, ok := strings.CutPrefix(leaf.InstanceLocation, "/interactions/")
		if !ok {
			continue
		}
		segment, _, _ := strings.Cut(rest, "/")
		if idx, err := strconv.Atoi(segment); err == nil {
			return idx
		}
	}
	return -1
}

func leafViolations(verr *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(verr.Causes) == 0 {
		return []*jsonschema.ValidationError{verr}
	}
	var leaves []*jsonschema.ValidationError
	for _, cause := range verr.Causes {
		leaves = append(leaves, leafViolations(cause)...)
	}
	return leaves
}
