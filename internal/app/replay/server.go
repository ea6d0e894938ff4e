package replay

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/form3tech-oss/replay-proxy/internal/app/httpresponse"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// SetupRoutes serves the active scenario of session under prefix, replaying
// every request as if it had been sent to config.Origin.
func SetupRoutes(e *echo.Echo, prefix string, session *Session, config *Config) error {
	origin, err := originFromURL(&config.Origin)
	if err != nil {
		return errors.Wrap(err, "invalid replay origin")
	}

	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		prefix = ""
	}

	s := server{session: session, origin: origin, prefix: prefix}
	e.GET(prefix+"/ready", s.readinessHandler)
	e.Any(prefix+"/*", s.replayHandler)
	if prefix != "" {
		e.Any(prefix, s.replayHandler)
	}
	return nil
}

type server struct {
	session *Session
	origin  Origin
	prefix  string
}

func (s *server) readinessHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// stripPrefix removes the server prefix from u, keeping percent-encoded
// bytes such as %2F as they were sent.
func (s *server) stripPrefix(u *url.URL) error {
	escaped := strings.TrimPrefix(u.EscapedPath(), s.prefix)
	if escaped == "" {
		escaped = "/"
	}
	path, err := url.PathUnescape(escaped)
	if err != nil {
		return err
	}
	u.Path = path
	u.RawPath = escaped
	return nil
}

func (s *server) replayHandler(c echo.Context) error {
	req := c.Request()

	engine, ok := s.session.Current()
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, httpresponse.Errorf("no scenario is active, unable to replay %s %s", req.Method, req.URL.Path))
	}

	target := req.Clone(req.Context())
	if err := s.stripPrefix(target.URL); err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Errorf("invalid path %s. %s", req.URL.EscapedPath(), err.Error()))
	}
	target.Body = req.Body

	log.Infof("replaying %s %s on %s", req.Method, target.URL.RequestURI(), s.origin)
	res, err := engine.Replay(s.origin, target)
	if err != nil {
		var unmatched *UnmatchedRequestError
		if errors.As(err, &unmatched) {
			return c.JSON(http.StatusBadRequest, httpresponse.Details(unmatched.Error(), unmatched.Reasons))
		}
		return c.JSON(http.StatusInternalServerError, httpresponse.Error(err.Error()))
	}
	defer res.Body.Close()

	header := c.Response().Header()
	for name, values := range res.Header {
		if strings.EqualFold(name, echo.HeaderContentLength) {
			continue
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}
	c.Response().WriteHeader(res.StatusCode)
	_, err = io.Copy(c.Response(), res.Body)
	return err
}
