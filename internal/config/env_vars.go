package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type EnvVars struct {
	Env         string        `env:"ENV" envDefault:"DEV"`
	AppName     string        `env:"APP_NAME" envDefault:"Storefront Session"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	APIBaseURL  string        `env:"STOREFRONT_API_BASE_URL" envDefault:"http://localhost:8080"`
	HTTPTimeout time.Duration `env:"STOREFRONT_HTTP_TIMEOUT" envDefault:"10s"`
	StubAddr    string        `env:"STOREFRONT_STUB_ADDR" envDefault:"8080"`
	StubSecret  string        `env:"STOREFRONT_STUB_SECRET"`
	MetricsAddr string        `env:"STOREFRONT_METRICS_ADDR"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetEnv() string {
	return e.Env
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

// GetAPIBaseURL returns the storefront backend base URL without a trailing slash.
func (e EnvVars) GetAPIBaseURL() string {
	return strings.TrimRight(e.APIBaseURL, "/")
}

func (e EnvVars) GetHTTPTimeout() time.Duration {
	return e.HTTPTimeout
}

// GetStubAddr returns the stub backend listen address, accepting a bare port.
func (e EnvVars) GetStubAddr() string {
	addr := e.StubAddr
	if addr != "" && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	return addr
}

func (e EnvVars) GetStubSecret() string {
	return e.StubSecret
}

// GetMetricsAddr is empty when metrics should not be served.
func (e EnvVars) GetMetricsAddr() string {
	return e.MetricsAddr
}

func (e EnvVars) validate() error {
	u, err := url.Parse(e.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid STOREFRONT_API_BASE_URL %q", e.APIBaseURL)
	}
	if e.HTTPTimeout <= 0 {
		return fmt.Errorf("STOREFRONT_HTTP_TIMEOUT must be positive")
	}
	return nil
}
