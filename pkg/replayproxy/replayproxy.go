package replayproxy

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/form3tech-oss/replay-proxy/internal/app/fixture"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

var ErrTimeout = errors.New("timeout waiting for interactions")

// ReplayServer is a replay server started through the admin API.
type ReplayServer struct {
	client http.Client
	url    string
}

func newReplayServer(url string) *ReplayServer {
	return &ReplayServer{
		client: http.Client{
			Timeout: 30 * time.Second,
		},
		url: url,
	}
}

func (s *ReplayServer) URL() string {
	return s.url
}

func (s *ReplayServer) IsReady() error {
	return isReady(&s.client, s.url+"/ready")
}

// Scenario is the scenario currently replayed by a replay-proxy.
type Scenario struct {
	Info ScenarioInfo

	conf *ProxyConfiguration
}

// LoadScenario starts the fixture file at path. Unnamed fixtures take the
// file name.
func (conf *ProxyConfiguration) LoadScenario(path string, fresh bool) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read fixture %s", path)
	}
	f, err := fixture.Load(path)
	if err != nil {
		return nil, err
	}
	return conf.startScenario(data, f.Name(), fresh)
}

// StartScenario starts the fixture document data. With fresh set, the
// recorded random test ids are replaced and Info.RandomTestIDs says with
// what.
func (conf *ProxyConfiguration) StartScenario(data []byte, fresh bool) (*Scenario, error) {
	return conf.startScenario(data, "", fresh)
}

func (conf *ProxyConfiguration) startScenario(data []byte, name string, fresh bool) (*Scenario, error) {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	if fresh {
		q.Set("fresh", "true")
	}
	target := conf.endpoint("/scenario")
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	res, err := conf.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		return nil, responseError(res)
	}

	s := &Scenario{conf: conf}
	if err := json.NewDecoder(res.Body).Decode(&s.Info); err != nil {
		return nil, errors.Wrap(err, "unable to decode scenario")
	}
	return s, nil
}

// RandomTestID returns the id the scenario expects in place of recorded.
func (s *Scenario) RandomTestID(recorded string) string {
	if fresh, ok := s.Info.RandomTestIDs[recorded]; ok {
		return fresh
	}
	return recorded
}

// SetEnvironment exports the environment the scenario was recorded with.
// The returned func restores the previous values.
func (s *Scenario) SetEnvironment() (func(), error) {
	return fixture.SetEnv(s.Info.Environment)
}

func (s *Scenario) State() (ScenarioState, error) {
	state := ScenarioState{}
	res, err := s.conf.client.Get(s.conf.endpoint("/scenario"))
	if err != nil {
		return state, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return state, responseError(res)
	}
	err = json.NewDecoder(res.Body).Decode(&state)
	return state, errors.Wrap(err, "unable to decode scenario state")
}

func (s *Scenario) AddOverride(interaction, path, value string) error {
	b, err := json.Marshal(map[string]string{
		"interaction": interaction,
		"path":        path,
		"value":       value,
	})
	if err != nil {
		return err
	}

	res, err := s.conf.client.Post(s.conf.endpoint("/scenario/overrides"), "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusNoContent {
		return responseError(res)
	}
	return nil
}

// WaitForAll blocks until every recorded call has been replayed, or the
// proxy's wait duration has passed.
func (s *Scenario) WaitForAll() error {
	return s.wait("")
}

func (s *Scenario) WaitFor(timeout time.Duration) error {
	return s.wait(timeout.String())
}

func (s *Scenario) wait(timeout string) error {
	target := s.conf.endpoint("/scenario/wait")
	if timeout != "" {
		target += "?timeout=" + url.QueryEscape(timeout)
	}

	res, err := s.conf.client.Get(target)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusRequestTimeout:
		return errors.Wrap(ErrTimeout, responseError(res).Error())
	}
	return responseError(res)
}

// Verify ends the scenario. It returns every unmatched request and every
// call that was never made.
func (s *Scenario) Verify() error {
	req, err := http.NewRequest(http.MethodDelete, s.conf.endpoint("/scenario"), nil)
	if err != nil {
		return err
	}
	res, err := s.conf.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		verification := Verification{}
		if err := json.NewDecoder(res.Body).Decode(&verification); err != nil {
			return errors.Wrap(err, "unable to decode verification")
		}
		var result *multierror.Error
		for _, e := range verification.Errors {
			result = multierror.Append(result, errors.New(e))
		}
		return result.ErrorOrNil()
	}
	return responseError(res)
}
