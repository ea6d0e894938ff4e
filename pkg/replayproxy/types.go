package replayproxy

import (
	"github.com/form3tech-oss/replay-proxy/internal/app/fixture"
	"github.com/form3tech-oss/replay-proxy/internal/app/replay"
)

type Config replay.Config

type Profile = fixture.Profile

// ScenarioInfo describes a started scenario. RandomTestIDs maps each id
// recorded with the fixture to the id the scenario expects now.
type ScenarioInfo struct {
	Name          string            `json:"name"`
	RandomTestIDs map[string]string `json:"random_test_ids"`
	Environment   map[string]string `json:"environment"`
	Profile       *Profile          `json:"profile,omitempty"`
}

type ScenarioState struct {
	Name     string   `json:"name"`
	Consumed []string `json:"consumed"`
	Pending  []string `json:"pending"`
	Done     bool     `json:"done"`
}

type Verification struct {
	Errors []string `json:"errors,omitempty"`
}

type apiError struct {
	ErrorMessage string   `json:"error_message"`
	Details      []string `json:"details,omitempty"`
}
