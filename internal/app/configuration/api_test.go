package configuration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/form3tech-oss/replay-proxy/internal/app/replay"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

const jobFixture = "../fixture/testdata/cli_DotNet_job_delete.json"

func newAdminAPI(t *testing.T) (*echo.Echo, *replay.Session) {
	t.Helper()
	e := echo.New()
	session := &replay.Session{}
	setupAdminRoutes(e, session, replay.Config{WaitDelay: 10 * time.Millisecond, WaitDuration: 100 * time.Millisecond})
	return e, session
}

func call(e *echo.Echo, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func replayJobDelete(t *testing.T, session *replay.Session) {
	t.Helper()
	engine, ok := session.Current()
	require.True(t, ok)

	req, err := http.NewRequest(http.MethodDelete,
		"https://management.core.windows.net/5e7d1bb6-4953-44fe-8a54-43fbdb53b989/services/mobileservices/mobileservices/clitestDotNet4056/scheduler/jobs/foobar", nil)
	require.NoError(t, err)
	res, err := engine.RoundTrip(req)
	require.NoError(t, err)
	res.Body.Close()
}

func TestAdminScenarioLifecycle(t *testing.T) {
	r := require.New(t)
	e, session := newAdminAPI(t)

	data, err := os.ReadFile(jobFixture)
	r.NoError(err)

	rec := call(e, http.MethodPost, "/scenario?name=job_delete", data)
	r.Equal(http.StatusCreated, rec.Code, rec.Body.String())
	info := scenarioInfo{}
	r.NoError(json.Unmarshal(rec.Body.Bytes(), &info))
	r.Equal("job_delete", info.Name)
	r.NotNil(info.Profile)
	r.Equal("AzureCloud", info.Profile.Subscriptions[0].Environment)

	rec = call(e, http.MethodPost, "/scenario?name=job_delete", data)
	r.Equal(http.StatusConflict, rec.Code)

	rec = call(e, http.MethodGet, "/scenario", nil)
	r.Equal(http.StatusOK, rec.Code)
	state := scenarioState{}
	r.NoError(json.Unmarshal(rec.Body.Bytes(), &state))
	r.Len(state.Pending, 1)
	r.Empty(state.Consumed)
	r.False(state.Done)

	rec = call(e, http.MethodGet, "/scenario/wait?timeout=30ms", nil)
	r.Equal(http.StatusRequestTimeout, rec.Code)

	replayJobDelete(t, session)

	rec = call(e, http.MethodGet, "/scenario/wait", nil)
	r.Equal(http.StatusOK, rec.Code)

	rec = call(e, http.MethodGet, "/scenario", nil)
	r.NoError(json.Unmarshal(rec.Body.Bytes(), &state))
	r.Len(state.Consumed, 1)
	r.Empty(state.Pending)
	r.True(state.Done)

	rec = call(e, http.MethodDelete, "/scenario", nil)
	r.Equal(http.StatusOK, rec.Code)

	rec = call(e, http.MethodDelete, "/scenario", nil)
	r.Equal(http.StatusNotFound, rec.Code)
}

func TestAdminScenarioVerificationFailure(t *testing.T) {
	r := require.New(t)
	e, _ := newAdminAPI(t)

	data, err := os.ReadFile(jobFixture)
	r.NoError(err)
	rec := call(e, http.MethodPost, "/scenario?name=job_delete", data)
	r.Equal(http.StatusCreated, rec.Code)

	rec = call(e, http.MethodDelete, "/scenario", nil)
	r.Equal(http.StatusConflict, rec.Code)
	result := verification{}
	r.NoError(json.Unmarshal(rec.Body.Bytes(), &result))
	r.Len(result.Errors, 1)
	r.Contains(result.Errors[0], replay.ErrUnconsumedInteraction.Error())
}

func TestAdminRejectsMalformedFixture(t *testing.T) {
	r := require.New(t)
	e, session := newAdminAPI(t)

	rec := call(e, http.MethodPost, "/scenario", []byte(`{"name": "broken", "interactions": [{"origin": "https://a.example.com"}]}`))
	r.Equal(http.StatusBadRequest, rec.Code)
	r.Contains(rec.Body.String(), replay.ErrMalformedFixture.Error())

	data, err := os.ReadFile(jobFixture)
	r.NoError(err)
	rec = call(e, http.MethodPost, "/scenario", data)
	r.Equal(http.StatusBadRequest, rec.Code)
	r.Contains(rec.Body.String(), "name is required")

	_, ok := session.Current()
	r.False(ok)
}

func TestAdminFreshScenario(t *testing.T) {
	r := require.New(t)
	e, session := newAdminAPI(t)

	data, err := os.ReadFile("../fixture/testdata/arm_group_create_should_create_empty_group.yaml")
	r.NoError(err)

	rec := call(e, http.MethodPost, "/scenario?fresh=true", data)
	r.Equal(http.StatusCreated, rec.Code)
	info := scenarioInfo{}
	r.NoError(json.Unmarshal(rec.Body.Bytes(), &info))
	r.Equal("arm_group_create_should_create_empty_group", info.Name)
	r.Equal("West US", info.Environment["AZURE_ARM_TEST_LOCATION"])

	fresh, ok := info.RandomTestIDs["xplatTestGCreate9241"]
	r.True(ok)
	r.NotEqual("xplatTestGCreate9241", fresh)

	engine, ok := session.Current()
	r.True(ok)
	r.Equal([]string{fresh}, engine.Scope().RandomTestIDs())
}

func TestAdminOverrides(t *testing.T) {
	r := require.New(t)
	e, session := newAdminAPI(t)

	rec := call(e, http.MethodPost, "/scenario/overrides", []byte(`{"interaction":"x","path":"$.status","value":"500"}`))
	r.Equal(http.StatusNotFound, rec.Code)

	data, err := os.ReadFile(jobFixture)
	r.NoError(err)
	rec = call(e, http.MethodPost, "/scenario?name=job_delete", data)
	r.Equal(http.StatusCreated, rec.Code)

	engine, ok := session.Current()
	r.True(ok)
	id := engine.Pending()[0].ID()

	rec = call(e, http.MethodPost, "/scenario/overrides", []byte(`{"interaction":"missing","path":"$.status","value":"500"}`))
	r.Equal(http.StatusBadRequest, rec.Code)
	rec = call(e, http.MethodPost, "/scenario/overrides", []byte(`not json`))
	r.Equal(http.StatusBadRequest, rec.Code)

	rec = call(e, http.MethodPost, "/scenario/overrides", []byte(`{"interaction":"`+id+`","path":"$.status","value":"500"}`))
	r.Equal(http.StatusNoContent, rec.Code)

	req, err := http.NewRequest(http.MethodDelete,
		"https://management.core.windows.net/5e7d1bb6-4953-44fe-8a54-43fbdb53b989/services/mobileservices/mobileservices/clitestDotNet4056/scheduler/jobs/foobar", nil)
	r.NoError(err)
	res, err := engine.RoundTrip(req)
	r.NoError(err)
	res.Body.Close()
	r.Equal(http.StatusInternalServerError, res.StatusCode)
}

func TestAdminWaitTimesOut(t *testing.T) {
	r := require.New(t)
	e, _ := newAdminAPI(t)

	data, err := os.ReadFile(jobFixture)
	r.NoError(err)
	rec := call(e, http.MethodPost, "/scenario?name=job_delete", data)
	r.Equal(http.StatusCreated, rec.Code)

	start := time.Now()
	rec = call(e, http.MethodGet, "/scenario/wait?timeout=50ms", nil)
	r.Equal(http.StatusRequestTimeout, rec.Code)
	r.Contains(rec.Body.String(), "timed out waiting for 1 pending interactions")
	r.Less(time.Since(start), time.Second)

	// the configured wait duration applies without a timeout parameter
	start = time.Now()
	rec = call(e, http.MethodGet, "/scenario/wait", nil)
	r.Equal(http.StatusRequestTimeout, rec.Code)
	r.Less(time.Since(start), time.Second)

	rec = call(e, http.MethodGet, "/scenario/wait?timeout=soon", nil)
	r.Equal(http.StatusBadRequest, rec.Code)
}

func TestAdminWithoutScenario(t *testing.T) {
	r := require.New(t)
	e, _ := newAdminAPI(t)

	r.Equal(http.StatusOK, call(e, http.MethodGet, "/ready", nil).Code)
	r.Equal(http.StatusNotFound, call(e, http.MethodGet, "/scenario", nil).Code)
	r.Equal(http.StatusNotFound, call(e, http.MethodGet, "/scenario/wait", nil).Code)
}

func TestAdminProxies(t *testing.T) {
	r := require.New(t)
	e, session := newAdminAPI(t)
	defer CloseAllServers()

	serverAddr, err := getFreePortURL()
	r.NoError(err)
	body, err := json.Marshal(replay.Config{ServerAddress: *serverAddr, Origin: originURL("foo")})
	r.NoError(err)

	rec := call(e, http.MethodPost, "/proxies", body)
	r.Equal(http.StatusNoContent, rec.Code, rec.Body.String())
	_, loaded := loadServer(serverAddr.Host)
	r.True(loaded)

	rec = call(e, http.MethodPost, "/proxies", body)
	r.Equal(http.StatusInternalServerError, rec.Code)

	startGreetingScenario(t, session)
	waitForReady(t, http.DefaultClient, serverAddr.String()+"/ready")
	r.Equal("Hello, foo\n", get(t, http.DefaultClient, serverAddr.String()+"/greeting"))

	rec = call(e, http.MethodDelete, "/proxies", nil)
	r.Equal(http.StatusNoContent, rec.Code)
	_, loaded = loadServer(serverAddr.Host)
	r.False(loaded)
}
