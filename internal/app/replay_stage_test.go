package app

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/form3tech-oss/replay-proxy/pkg/replayproxy"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	armFixture       = "fixture/testdata/arm_group_create_should_create_empty_group.yaml"
	recordedGroupID  = "xplatTestGCreate9241"
	apiVersion       = "?api-version=2014-04-01-preview"
	galleryItemPath  = "/Microsoft.Gallery/galleryitems/Microsoft.ASPNETStarterSite.0.2.2-preview"
	resourceGroups   = "/subscriptions/00977cdb-163f-435f-9c32-39ec8ae61f4d/resourcegroups"
	groupDeletionJob = "/subscriptions/00977cdb-163f-435f-9c32-39ec8ae61f4d/operationresults/eyJqb2JJZCI6IlJFU09VUkNFR1JPVVBERUxFVElPTkpPQi1YUExBVFRFU1RHQ1JFQVRFOTI0MS1XRVNUVVMiLCJqb2JMb2NhdGlvbiI6Indlc3R1cyJ9"
)

var recordedStatuses = []int{
	http.StatusOK,
	http.StatusNotFound,
	http.StatusCreated,
	http.StatusOK,
	http.StatusAccepted,
	http.StatusAccepted,
}

type replayCall struct {
	server *replayproxy.ReplayServer
	method string
	path   string
	body   string
}

type replayResponse struct {
	status int
	header http.Header
	body   string
}

type ReplayStage struct {
	t          *testing.T
	assert     *assert.Assertions
	conf       *replayproxy.ProxyConfiguration
	gallery    *replayproxy.ReplayServer
	management *replayproxy.ReplayServer
	scenario   *replayproxy.Scenario
	mu         sync.Mutex
	responses  []replayResponse
	waitErr    error
	waited     time.Duration
	verifyErr  error
}

func NewReplayStage(t *testing.T) (*ReplayStage, *ReplayStage, *ReplayStage) {
	s := &ReplayStage{
		t:      t,
		assert: assert.New(t),
		conf:   replayproxy.Configuration(adminURL.String()),
	}

	t.Cleanup(func() {
		if s.scenario != nil {
			// 404 once verified
			_ = s.scenario.Verify()
		}
		_ = s.conf.Reset()
	})

	return s, s, s
}

func retryOpts() []retry.Option {
	return []retry.Option{
		retry.Attempts(10),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(200 * time.Millisecond),
	}
}

func (s *ReplayStage) setupAndWaitForServer(path, origin string) *replayproxy.ReplayServer {
	server, err := s.conf.SetupProxy(proxyURL.String()+path, origin)
	require.NoError(s.t, err, "replay server setup failed")
	require.NoError(s.t, retry.Do(server.IsReady, retryOpts()...), "replay server readiness wait failed")
	return server
}

func (s *ReplayStage) and() *ReplayStage {
	return s
}

func (s *ReplayStage) a_replay_server_per_origin() *ReplayStage {
	require.NoError(s.t, retry.Do(s.conf.IsReady, retryOpts()...), "admin api readiness wait failed")
	s.gallery = s.setupAndWaitForServer("/gallery", "https://gallery.azure.com:443")
	s.management = s.setupAndWaitForServer("/management", "https://management.azure.com:443")
	return s
}

func (s *ReplayStage) the_arm_scenario_is_started() *ReplayStage {
	return s.startScenario(false)
}

func (s *ReplayStage) the_arm_scenario_is_started_with_fresh_ids() *ReplayStage {
	return s.startScenario(true)
}

func (s *ReplayStage) startScenario(fresh bool) *ReplayStage {
	scenario, err := s.conf.LoadScenario(armFixture, fresh)
	require.NoError(s.t, err)
	s.scenario = scenario
	return s
}

func (s *ReplayStage) the_status_of_the_nth_call_is_overridden(n, status int) *ReplayStage {
	state, err := s.scenario.State()
	require.NoError(s.t, err)
	require.Greater(s.t, len(state.Pending), n-1)

	err = s.scenario.AddOverride(state.Pending[n-1], "$.status", fmt.Sprintf("%d", status))
	require.NoError(s.t, err)
	return s
}

func (s *ReplayStage) groupPath() string {
	return resourceGroups + "/" + s.scenario.RandomTestID(recordedGroupID) + apiVersion
}

func (s *ReplayStage) galleryCalls() []replayCall {
	return []replayCall{
		{s.gallery, http.MethodGet, galleryItemPath, ""},
	}
}

func (s *ReplayStage) managementCalls() []replayCall {
	return []replayCall{
		{s.management, http.MethodGet, s.groupPath(), ""},
		{s.management, http.MethodPut, s.groupPath(), `{"location":"West US"}`},
		{s.management, http.MethodGet, resourceGroups + apiVersion, ""},
		{s.management, http.MethodDelete, s.groupPath(), ""},
		{s.management, http.MethodGet, groupDeletionJob + apiVersion, ""},
	}
}

func (s *ReplayStage) recordedCalls() []replayCall {
	return append(s.galleryCalls(), s.managementCalls()...)
}

func (s *ReplayStage) the_recorded_calls_are_sent() *ReplayStage {
	s.send(s.recordedCalls()...)
	return s
}

func (s *ReplayStage) the_recorded_calls_are_sent_except_the_last() *ReplayStage {
	calls := s.recordedCalls()
	s.send(calls[:len(calls)-1]...)
	return s
}

func (s *ReplayStage) the_group_is_created_before_it_is_looked_up() *ReplayStage {
	calls := s.managementCalls()
	s.send(calls[1], calls[0])
	return s
}

func (s *ReplayStage) an_unexpected_call_is_sent() *ReplayStage {
	s.send(replayCall{s.management, http.MethodPost, resourceGroups + "/unexpected" + apiVersion, `{}`})
	return s
}

func (s *ReplayStage) the_gallery_and_management_calls_are_sent_concurrently() *ReplayStage {
	wg := sync.WaitGroup{}
	for _, calls := range [][]replayCall{s.galleryCalls(), s.managementCalls()} {
		calls := calls
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.send(calls...)
		}()
	}
	wg.Wait()
	return s
}

func (s *ReplayStage) the_scenario_is_awaited() *ReplayStage {
	start := time.Now()
	s.waitErr = s.scenario.WaitFor(500 * time.Millisecond)
	s.waited = time.Since(start)
	return s
}

func (s *ReplayStage) the_scenario_is_verified() *ReplayStage {
	s.verifyErr = s.scenario.Verify()
	return s
}

func (s *ReplayStage) send(calls ...replayCall) {
	for _, c := range calls {
		res, err := s.sendCall(c)
		if !s.assert.NoError(err) {
			return
		}
		s.mu.Lock()
		s.responses = append(s.responses, res)
		s.mu.Unlock()
	}
}

func (s *ReplayStage) sendCall(c replayCall) (replayResponse, error) {
	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req, err := http.NewRequest(c.method, c.server.URL()+c.path, body)
	if err != nil {
		return replayResponse{}, errors.Wrap(err, "request creation failed")
	}
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return replayResponse{}, errors.Wrap(err, "sending request failed")
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return replayResponse{}, errors.Wrap(err, "unable to read response body")
	}
	return replayResponse{status: res.StatusCode, header: res.Header, body: string(b)}, nil
}

func (s *ReplayStage) every_response_has_the_recorded_status() *ReplayStage {
	statuses := make([]int, 0, len(s.responses))
	for _, res := range s.responses {
		statuses = append(statuses, res.status)
	}
	s.assert.Equal(recordedStatuses, statuses)
	return s
}

func (s *ReplayStage) the_nth_response_is_(n, status int) *ReplayStage {
	if s.assert.GreaterOrEqual(len(s.responses), n, "number of responses is less than expected") {
		s.assert.Equalf(status, s.responses[n-1].status, "unexpected status for response %d: %s", n, s.responses[n-1].body)
	}
	return s
}

func (s *ReplayStage) the_nth_response_body_contains(n int, text string) *ReplayStage {
	if s.assert.GreaterOrEqual(len(s.responses), n, "number of responses is less than expected") {
		s.assert.Contains(s.responses[n-1].body, text)
	}
	return s
}

func (s *ReplayStage) the_created_group_has_a_fresh_name() *ReplayStage {
	fresh := s.scenario.RandomTestID(recordedGroupID)
	s.assert.NotEqual(recordedGroupID, fresh)
	return s.the_nth_response_body_contains(3, `"name":"`+fresh+`"`)
}

func (s *ReplayStage) the_gallery_cookie_is_replayed() *ReplayStage {
	for _, res := range s.responses {
		if cookies := res.header.Values("Set-Cookie"); len(cookies) > 0 {
			s.assert.Contains(cookies[0], "domain=gallery.azure.com")
			return s
		}
	}
	s.assert.Fail("no response carried the gallery cookie")
	return s
}

func (s *ReplayStage) the_scenario_is_done() *ReplayStage {
	state, err := s.scenario.State()
	if s.assert.NoError(err) {
		s.assert.True(state.Done)
		s.assert.Empty(state.Pending)
		s.assert.Len(state.Consumed, len(recordedStatuses))
	}
	return s
}

func (s *ReplayStage) waiting_is_successful() *ReplayStage {
	s.assert.NoError(s.waitErr)
	return s
}

func (s *ReplayStage) waiting_times_out() *ReplayStage {
	s.assert.ErrorIs(s.waitErr, replayproxy.ErrTimeout)
	s.assert.Less(s.waited, 5*time.Second, "waiting did not give up")
	return s
}

func (s *ReplayStage) verification_is_successful() *ReplayStage {
	s.assert.NoError(s.verifyErr)
	return s
}

func (s *ReplayStage) verification_fails_with(messages ...string) *ReplayStage {
	if s.assert.Error(s.verifyErr, "verification did not fail") {
		for _, m := range messages {
			s.assert.Contains(s.verifyErr.Error(), m)
		}
	}
	return s
}
