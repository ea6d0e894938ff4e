package replayproxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type ProxyConfiguration struct {
	client http.Client
	url    string
}

func Configuration(url string) *ProxyConfiguration {
	return &ProxyConfiguration{
		client: http.Client{
			Timeout: 30 * time.Second,
		},
		url: url,
	}
}

// SetupProxy starts a replay server at serverAddress answering as origin.
func (conf *ProxyConfiguration) SetupProxy(serverAddress, origin string) (*ReplayServer, error) {
	serverURL, err := url.Parse(serverAddress)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse server address")
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse origin")
	}

	config := &Config{
		ServerAddress: *serverURL,
		Origin:        *originURL,
	}
	return conf.SetupProxyWithConfig(config)
}

func (conf *ProxyConfiguration) SetupProxyWithConfig(config *Config) (*ReplayServer, error) {
	content, err := json.Marshal(config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal config")
	}

	req, err := http.NewRequest(http.MethodPost, conf.endpoint("/proxies"), bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := conf.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, responseError(res)
	}
	return newReplayServer(config.ServerAddress.String()), nil
}

// Reset closes every replay server.
func (conf *ProxyConfiguration) Reset() error {
	req, err := http.NewRequest(http.MethodDelete, conf.endpoint("/proxies"), nil)
	if err != nil {
		return err
	}

	res, err := conf.client.Do(req)
	if err != nil {
		return err
	}
	res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return errors.New("error resetting proxies")
	}
	return nil
}

func (conf *ProxyConfiguration) IsReady() error {
	return isReady(&conf.client, conf.endpoint("/ready"))
}

func (conf *ProxyConfiguration) endpoint(path string) string {
	return strings.TrimSuffix(conf.url, "/") + path
}

func isReady(client *http.Client, readyURL string) error {
	res, err := client.Get(readyURL)
	if err != nil {
		return err
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return errors.Errorf("%s is not ready: %d", readyURL, res.StatusCode)
	}
	return nil
}

// responseError reads the error an admin endpoint answered with.
func responseError(res *http.Response) error {
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrapf(err, "unexpected status %d", res.StatusCode)
	}

	apiErr := apiError{}
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.ErrorMessage == "" {
		return errors.Errorf("unexpected status %d: %s", res.StatusCode, string(body))
	}
	if len(apiErr.Details) > 0 {
		return errors.Errorf("%s: %s", apiErr.ErrorMessage, strings.Join(apiErr.Details, "; "))
	}
	return errors.New(apiErr.ErrorMessage)
}
