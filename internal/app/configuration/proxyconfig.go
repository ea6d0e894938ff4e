package configuration

import (
	"context"
	"net/url"
	"strings"

	"github.com/form3tech-oss/replay-proxy/internal/app/replay"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
)

func NewFromEnv() (replay.Config, error) {
	ctx := context.Background()

	var config replay.Config
	err := envconfig.Process(ctx, &config)
	if err != nil {
		return config, errors.Wrap(err, "process env config")
	}
	return config, nil
}

// ProxyConfigs expands the server=origin pairs of config.Proxies into one
// config per replay server. SERVER_ADDRESS and ORIGIN, when both set, add
// one more.
func ProxyConfigs(config replay.Config) ([]replay.Config, error) {
	var result []replay.Config
	if config.ServerAddress.Host != "" && config.Origin.Host != "" {
		result = append(result, config)
	}

	for _, proxy := range config.Proxies {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}
		server, origin, ok := strings.Cut(proxy, "=")
		if !ok {
			return nil, errors.Errorf("proxy %q is not a server=origin pair", proxy)
		}

		serverURL, err := url.Parse(strings.TrimSpace(server))
		if err != nil {
			return nil, errors.Wrapf(err, "proxy %q", proxy)
		}
		originURL, err := url.Parse(strings.TrimSpace(origin))
		if err != nil {
			return nil, errors.Wrapf(err, "proxy %q", proxy)
		}
		if _, err := replay.ParseOrigin(originURL.String()); err != nil {
			return nil, errors.Wrapf(err, "proxy %q", proxy)
		}

		c := config
		c.ServerAddress = *serverURL
		c.Origin = *originURL
		result = append(result, c)
	}
	return result, nil
}

func ConfigureProxy(config replay.Config, session *replay.Session) error {
	return StartServer(&config.ServerAddress, &config, session)
}
