package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config interface {
	EnvConfig
	CorsConfig
	SessionConfig
	StorageConfig
	OIDCConfig
}

type EnvConfig interface {
	GetEnv() string
	GetAppName() string
	GetLogLevel() string
	GetAPIBaseURL() string
	GetHTTPTimeout() time.Duration
	GetStubAddr() string
	GetStubSecret() string
	GetMetricsAddr() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
}

type mainConfig struct {
	EnvVars
	Cors
	Session
	Storage
	OIDC
}

// New reads the configuration from the environment and validates it.
func New() (Config, error) {
	var c mainConfig
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c mainConfig) validate() error {
	if err := c.EnvVars.validate(); err != nil {
		return err
	}
	if err := c.Session.validate(); err != nil {
		return err
	}
	return c.Storage.validate()
}
