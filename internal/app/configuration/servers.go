package configuration

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/form3tech-oss/replay-proxy/internal/app/replay"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var servers sync.Map
var hostPaths sync.Map

// StartServer serves the session's scenario at url, replaying requests as
// addressed to config.Origin. Several paths of one host share a server.
func StartServer(url *url.URL, config *replay.Config, session *replay.Session) error {
	rootServer, loaded := loadServer(url.Host)
	if !loaded {
		var err error
		rootServer, err = newServer(url, config, session)
		if err != nil {
			return err
		}
		servers.Store(url.Host, rootServer)
		go func() {
			var err error
			if config.TLSCertFile != "" && config.TLSKeyFile != "" {
				err = rootServer.ListenAndServeTLS(config.TLSCertFile, config.TLSKeyFile)
			} else {
				err = rootServer.ListenAndServe()
			}
			if err != nil && err != http.ErrServerClosed {
				log.Error(err)
			}
		}()
		return nil
	}

	if strings.TrimLeft(url.Path, "/") == "" {
		// don't allow two servers on the same address, with empty path
		return fmt.Errorf("replay server already running at %s", url.String())
	}

	// don't allow two servers on the same address, with same path
	key := hostPathKey(url)
	if _, found := hostPaths.Load(key); found {
		return fmt.Errorf("replay server already running at %s", url.String())
	}

	e := rootServer.Handler.(*echo.Echo)
	if err := replay.SetupRoutes(e, url.Path, session, config); err != nil {
		return err
	}
	hostPaths.Store(key, true)
	log.Infof("replaying %s at %s", config.Origin.String(), url.String())
	return nil
}

func hostPathKey(url *url.URL) string {
	return url.Host + "/" + strings.Trim(url.Path, "/")
}

func loadServer(addr string) (*http.Server, bool) {
	server, loaded := servers.Load(addr)
	if !loaded {
		return nil, false
	}
	return server.(*http.Server), loaded
}

func ShutdownAllServers(ctx context.Context) {
	servers.Range(func(key, _ interface{}) bool {
		server, loaded := servers.LoadAndDelete(key)
		if loaded {
			if err := server.(*http.Server).Shutdown(ctx); err != nil {
				log.Error(err)
			}
		}
		return true
	})

	hostPaths.Range(func(key, value any) bool {
		hostPaths.Delete(key)
		return true
	})
}

// CloseAllServers stops every replay server without waiting for requests
// in flight.
func CloseAllServers() {
	servers.Range(func(key, _ interface{}) bool {
		server, loaded := servers.LoadAndDelete(key)
		if loaded {
			if err := server.(*http.Server).Close(); err != nil {
				log.Error(err)
			}
		}
		return true
	})

	hostPaths.Range(func(key, value any) bool {
		hostPaths.Delete(key)
		return true
	})
}

func newServer(url *url.URL, config *replay.Config, session *replay.Session) (*http.Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	if err := replay.SetupRoutes(e, url.Path, session, config); err != nil {
		return nil, err
	}

	s := http.Server{
		Addr:    url.Host,
		Handler: e,
	}

	if config.TLSCAFile != "" {
		if config.TLSCertFile == "" || config.TLSKeyFile == "" {
			return nil, errors.New("cannot run in mTLS mode without TLS cert and key")
		}

		caCertFile, err := os.ReadFile(config.TLSCAFile)
		if err != nil {
			return nil, errors.Wrap(err, "error reading CA certificate")
		}
		certPool := x509.NewCertPool()
		certPool.AppendCertsFromPEM(caCertFile)
		s.TLSConfig = &tls.Config{
			ClientAuth: tls.RequireAndVerifyClientCert,
			ClientCAs:  certPool,
			MinVersion: tls.VersionTLS12,
		}
	}

	if strings.TrimLeft(url.Path, "/") != "" {
		hostPaths.Store(hostPathKey(url), true)
	}
	log.Infof("replaying %s at %s", config.Origin.String(), url.String())

	return &s, nil
}
