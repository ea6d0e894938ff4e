package replay

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	overrideStatusPath = "$.status"
	overrideBodyPrefix = "$.body."
)

// Override replaces part of a recorded response when the interaction it
// names is replayed. Path is either $.status or $.body.<path>.
type Override struct {
	Interaction string `json:"interaction"`
	Path        string `json:"path"`
	Value       string `json:"value"`
}

func LoadOverride(data []byte) (Override, error) {
	override := Override{}
	err := json.Unmarshal(data, &override)
	if err != nil {
		return override, errors.Wrap(err, "unable to parse override from data")
	}
	return override, nil
}

func (o Override) Key() string {
	return strings.Join([]string{o.Interaction, o.Path}, "_")
}

func (o Override) validate() error {
	switch {
	case o.Path == overrideStatusPath:
		code, err := strconv.Atoi(o.Value)
		if err != nil || code < 100 || code > 999 {
			return errors.Errorf("override value %q is not an HTTP status", o.Value)
		}
		return nil
	case strings.HasPrefix(o.Path, overrideBodyPrefix) && len(o.Path) > len(overrideBodyPrefix):
		return nil
	}
	return errors.Wrapf(ErrUnsupportedOverridePath, "path %q", o.Path)
}

func (o Override) modifyBody(b []byte) ([]byte, bool, error) {
	if !strings.HasPrefix(o.Path, overrideBodyPrefix) {
		return b, false, nil
	}
	if !gjson.ValidBytes(b) {
		return nil, false, errors.Errorf("cannot apply override %q, recorded body is not JSON", o.Path)
	}
	out, err := sjson.SetBytes(b, o.Path[len(overrideBodyPrefix):], o.Value)
	if err != nil {
		return nil, false, errors.Wrapf(err, "cannot apply override %q", o.Path)
	}
	return out, true, nil
}

func (o Override) modifyStatusCode() (bool, int) {
	if o.Path != overrideStatusPath {
		return false, 0
	}
	code, err := strconv.Atoi(o.Value)
	if err != nil {
		return false, 0
	}
	return true, code
}

// applyOverrides returns the status and body to replay for an interaction.
func applyOverrides(overrides []Override, status int, body []byte) (int, []byte, error) {
	for _, o := range overrides {
		if ok, code := o.modifyStatusCode(); ok {
			status = code
			continue
		}
		out, changed, err := o.modifyBody(body)
		if err != nil {
			return 0, nil, err
		}
		if changed {
			body = out
		}
	}
	return status, body, nil
}
