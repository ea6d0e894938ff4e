package configuration

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/form3tech-oss/replay-proxy/internal/app/fixture"
	"github.com/form3tech-oss/replay-proxy/internal/app/httpresponse"
	"github.com/form3tech-oss/replay-proxy/internal/app/replay"
	"github.com/hashicorp/go-multierror"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type scenarioInfo struct {
	Name          string            `json:"name"`
	RandomTestIDs map[string]string `json:"random_test_ids"`
	Environment   map[string]string `json:"environment"`
	Profile       *fixture.Profile  `json:"profile,omitempty"`
}

type scenarioState struct {
	Name     string   `json:"name"`
	Consumed []string `json:"consumed"`
	Pending  []string `json:"pending"`
	Done     bool     `json:"done"`
}

type verification struct {
	Errors []string `json:"errors,omitempty"`
}

type adminAPI struct {
	session *replay.Session
	config  replay.Config
}

func ServeAdminAPI(port int, session *replay.Session, config replay.Config) *echo.Echo {
	adminServer := echo.New()
	adminServer.HideBanner = true

	setupAdminRoutes(adminServer, session, config)

	go func() {
		address := fmt.Sprintf(":%d", port)
		if err := adminServer.Start(address); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	return adminServer
}

func setupAdminRoutes(e *echo.Echo, session *replay.Session, config replay.Config) {
	api := adminAPI{session: session, config: config}

	e.GET("/ready", api.readinessHandler)
	e.DELETE("/proxies", api.deleteProxiesHandler)
	e.POST("/proxies", api.postProxiesHandler)
	e.POST("/scenario", api.postScenarioHandler)
	e.GET("/scenario", api.getScenarioHandler)
	e.DELETE("/scenario", api.deleteScenarioHandler)
	e.GET("/scenario/wait", api.scenarioWaitHandler)
	e.POST("/scenario/overrides", api.scenarioOverridesHandler)
}

func (a *adminAPI) readinessHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (a *adminAPI) deleteProxiesHandler(c echo.Context) error {
	log.Infof("closing all replay servers")
	CloseAllServers()
	return c.NoContent(http.StatusNoContent)
}

func (a *adminAPI) postProxiesHandler(c echo.Context) error {
	proxyConfig := replay.Config{}
	err := c.Bind(&proxyConfig)
	if err != nil {
		return c.JSON(
			http.StatusBadRequest,
			httpresponse.Errorf("unable to parse replay server configuration from data. %s", err.Error()),
		)
	}

	log.Infof("setting up replay server at %s for %s", proxyConfig.ServerAddress.String(), proxyConfig.Origin.String())

	err = ConfigureProxy(proxyConfig, a.session)
	if err != nil {
		return c.JSON(
			http.StatusInternalServerError,
			httpresponse.Errorf("unable to create replay server from configuration. %s", err.Error()),
		)
	}

	return c.NoContent(http.StatusNoContent)
}

// postScenarioHandler starts the fixture posted as the body, named by the
// name parameter when the document has no name. With fresh=true the
// recorded random ids are replaced with new ones first.
func (a *adminAPI) postScenarioHandler(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Errorf("unable to read fixture. %s", err.Error()))
	}

	f, err := fixture.ParseNamed(data, c.QueryParam("name"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Error(err.Error()))
	}

	scope := f.Scope()
	ids := map[string]string{}
	for _, id := range f.RandomTestIDs() {
		ids[id] = id
	}
	if c.QueryParam("fresh") == "true" {
		scope, ids, err = f.FreshScope()
		if err != nil {
			return c.JSON(http.StatusBadRequest, httpresponse.Error(err.Error()))
		}
	}

	if _, err := a.session.Start(scope, a.config.Options()...); err != nil {
		if errors.Is(err, replay.ErrScenarioActive) {
			return c.JSON(http.StatusConflict, httpresponse.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, httpresponse.Error(err.Error()))
	}

	return c.JSON(http.StatusCreated, scenarioInfo{
		Name:          f.Name(),
		RandomTestIDs: ids,
		Environment:   f.Environment(),
		Profile:       f.Profile(),
	})
}

func (a *adminAPI) getScenarioHandler(c echo.Context) error {
	engine, ok := a.session.Current()
	if !ok {
		return c.JSON(http.StatusNotFound, httpresponse.Error(replay.ErrNoScenario.Error()))
	}

	state := scenarioState{
		Name:     engine.Scope().Name(),
		Consumed: []string{},
		Pending:  []string{},
		Done:     engine.Done(),
	}
	for _, i := range engine.Consumed() {
		state.Consumed = append(state.Consumed, i.ID())
	}
	for _, i := range engine.Pending() {
		state.Pending = append(state.Pending, i.ID())
	}
	return c.JSON(http.StatusOK, state)
}

// deleteScenarioHandler verifies and ends the active scenario.
func (a *adminAPI) deleteScenarioHandler(c echo.Context) error {
	err := a.session.Stop()
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, verification{})
	case errors.Is(err, replay.ErrNoScenario):
		return c.JSON(http.StatusNotFound, httpresponse.Error(err.Error()))
	}

	result := verification{}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			result.Errors = append(result.Errors, e.Error())
		}
	} else {
		result.Errors = append(result.Errors, err.Error())
	}
	log.WithField("errors", len(result.Errors)).Warn("scenario verification failed")
	return c.JSON(http.StatusConflict, result)
}

func (a *adminAPI) scenarioWaitHandler(c echo.Context) error {
	engine, ok := a.session.Current()
	if !ok {
		return c.JSON(http.StatusNotFound, httpresponse.Error(replay.ErrNoScenario.Error()))
	}

	duration := a.config.Duration()
	if timeout := c.QueryParam("timeout"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return c.JSON(http.StatusBadRequest, httpresponse.Errorf("invalid timeout %q", timeout))
		}
		duration = d
	}

	if engine.WaitForAll(a.config.Delay(), duration) {
		return c.NoContent(http.StatusOK)
	}
	return c.JSON(http.StatusRequestTimeout,
		httpresponse.Errorf("timed out waiting for %d pending interactions", len(engine.Pending())))
}

func (a *adminAPI) scenarioOverridesHandler(c echo.Context) error {
	engine, ok := a.session.Current()
	if !ok {
		return c.JSON(http.StatusNotFound, httpresponse.Error(replay.ErrNoScenario.Error()))
	}

	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Errorf("unable to read override. %s", err.Error()))
	}
	override, err := replay.LoadOverride(data)
	if err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Error(err.Error()))
	}

	if err := engine.AddOverride(override); err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Error(err.Error()))
	}
	return c.NoContent(http.StatusNoContent)
}
