package replay

import (
	"net/url"
	"time"
)

const (
	defaultDelay    = 500 * time.Millisecond
	defaultDuration = 15 * time.Second
)

type Config struct {
	AdminPort     int           `env:"ADMIN_PORT,default=8080" json:"-"`
	ServerAddress url.URL       `env:"SERVER_ADDRESS" json:"server_address"` // Address to listen on
	Proxies       []string      `env:"PROXIES,delimiter=;" json:"-"`         // server=origin pairs, e.g. http://localhost:9000=https://management.azure.com:443
	Fixture       string        `env:"FIXTURE" json:"-"`                     // Scenario to start with
	RelaxedOrder  bool          `env:"RELAXED_ORDER" json:"-"`
	WaitDelay     time.Duration `env:"WAIT_DELAY" json:"-"`
	WaitDuration  time.Duration `env:"WAIT_DURATION" json:"-"`
	TLSCAFile     string        `env:"TLS_CA_FILE" json:"tls_ca_file,omitempty"`
	TLSCertFile   string        `env:"TLS_CERT_FILE" json:"tls_cert_file,omitempty"`
	TLSKeyFile    string        `env:"TLS_KEY_FILE" json:"tls_key_file,omitempty"`
	Origin        url.URL       `env:"ORIGIN" json:"origin"` // Origin replayed by SERVER_ADDRESS, overridden for each value of Proxies
}

func (c *Config) Delay() time.Duration {
	if c.WaitDelay == 0 {
		return defaultDelay
	}
	return c.WaitDelay
}

func (c *Config) Duration() time.Duration {
	if c.WaitDuration == 0 {
		return defaultDuration
	}
	return c.WaitDuration
}

func (c *Config) Options() []Option {
	var opts []Option
	if c.RelaxedOrder {
		opts = append(opts, WithRelaxedOrder())
	}
	return opts
}
