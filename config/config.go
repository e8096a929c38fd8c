// Package config loads the digestget configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/vitalvas/peerhttp/client"
	"github.com/vitalvas/peerhttp/securestr"
	"github.com/vitalvas/peerhttp/sockhttp"
	"golang.org/x/net/proxy"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// ProxyConfig selects the forward proxy.
type ProxyConfig struct {
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	Exclude []string `yaml:"exclude"`

	// FromEnvironment reads HTTP_PROXY, HTTPS_PROXY and NO_PROXY when no
	// host is configured.
	FromEnvironment bool `yaml:"from_environment"`
}

// Config is the digestget configuration.
type Config struct {
	Timeout        time.Duration `yaml:"timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	Proxy ProxyConfig `yaml:"proxy"`

	// SOCKS5 tunnels every socket through a SOCKS5 server, given as
	// "host:port" or "socks5://[user:pass@]host:port".
	SOCKS5 string `yaml:"socks5"`

	Username string            `yaml:"username"`
	Password *securestr.String `yaml:"password"`

	// PasswordEnv names an environment variable holding the password. It
	// is only consulted when Password is empty.
	PasswordEnv string `yaml:"password_env"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Timeout:        sockhttp.DefaultTimeout,
		ConnectTimeout: sockhttp.DefaultConnectTimeout,
		LogLevel:       "info",
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalid, c.Timeout)
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect_timeout must be positive, got %s", ErrInvalid, c.ConnectTimeout)
	}

	if c.Proxy.Port < 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("%w: proxy.port %d out of range", ErrInvalid, c.Proxy.Port)
	}

	if c.Proxy.Host == "" && (c.Proxy.Port != 0 || len(c.Proxy.Exclude) > 0) {
		return fmt.Errorf("%w: proxy.host is required with proxy.port or proxy.exclude", ErrInvalid)
	}

	if c.SOCKS5 != "" {
		if _, err := socksURL(c.SOCKS5); err != nil {
			return fmt.Errorf("%w: socks5: %w", ErrInvalid, err)
		}
	}

	if c.Username == "" && (!c.Password.IsEmpty() || c.PasswordEnv != "") {
		return fmt.Errorf("%w: password given without username", ErrInvalid)
	}

	if _, err := c.SlogLevel(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return nil
}

// SlogLevel returns LogLevel as a slog.Level. An empty level means info.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}

	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}

	return level, nil
}

// ResolvePassword returns Password, or the value of the PasswordEnv
// variable when Password is empty. It returns nil when neither is set.
func (c *Config) ResolvePassword() *securestr.String {
	if !c.Password.IsEmpty() {
		return c.Password
	}

	if c.PasswordEnv == "" {
		return nil
	}

	if v, ok := os.LookupEnv(c.PasswordEnv); ok && v != "" {
		return securestr.New(v)
	}

	return nil
}

// ProxyFor returns the proxy to use for target, or nil for none.
func (c *Config) ProxyFor(target *url.URL) (*sockhttp.Proxy, error) {
	if c.Proxy.Host != "" {
		return &sockhttp.Proxy{
			Host:    c.Proxy.Host,
			Port:    c.Proxy.Port,
			Exclude: c.Proxy.Exclude,
		}, nil
	}

	if c.Proxy.FromEnvironment {
		return sockhttp.ProxyFromEnvironment(target)
	}

	return nil, nil
}

// Dialer returns the SOCKS5 dialer sockets connect through, or nil for
// direct connections.
func (c *Config) Dialer() (proxy.ContextDialer, error) {
	if c.SOCKS5 == "" {
		return nil, nil
	}

	u, err := socksURL(c.SOCKS5)
	if err != nil {
		return nil, err
	}

	d, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("config: socks5: %w", err)
	}

	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("config: socks5 dialer %T does not support contexts", d)
	}

	return cd, nil
}

// ClientConfig builds the client configuration for target.
func (c *Config) ClientConfig(target *url.URL, logger *slog.Logger) (client.Config, error) {
	p, err := c.ProxyFor(target)
	if err != nil {
		return client.Config{}, err
	}

	dialer, err := c.Dialer()
	if err != nil {
		return client.Config{}, err
	}

	return client.Config{
		Username:       c.Username,
		Password:       c.ResolvePassword(),
		Proxy:          p,
		Timeout:        c.Timeout,
		ConnectTimeout: c.ConnectTimeout,
		Dialer:         dialer,
		Logger:         logger,
	}, nil
}

func socksURL(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "socks5://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}

	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		return nil, err
	}

	return u, nil
}
