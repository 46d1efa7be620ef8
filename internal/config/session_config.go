package config

import (
	"fmt"
	"time"
)

type SessionConfig interface {
	GetLoginPath() string
	GetAdminLoginPath() string
	GetRefreshThreshold() time.Duration
	GetMinPasswordLength() int
	GetDeriveExpiryFromJWT() bool
}

type Session struct {
	LoginPath           string        `env:"STOREFRONT_LOGIN_PATH" envDefault:"/login"`
	AdminLoginPath      string        `env:"STOREFRONT_ADMIN_LOGIN_PATH" envDefault:"/admin/login"`
	RefreshThreshold    time.Duration `env:"STOREFRONT_REFRESH_THRESHOLD" envDefault:"5m"`
	MinPasswordLength   int           `env:"STOREFRONT_MIN_PASSWORD_LENGTH" envDefault:"6"`
	DeriveExpiryFromJWT bool          `env:"STOREFRONT_JWT_EXPIRY"`
}

var _ SessionConfig = Session{}

func (s Session) GetLoginPath() string {
	return s.LoginPath
}

func (s Session) GetAdminLoginPath() string {
	return s.AdminLoginPath
}

func (s Session) GetRefreshThreshold() time.Duration {
	return s.RefreshThreshold
}

func (s Session) GetMinPasswordLength() int {
	return s.MinPasswordLength
}

// GetDeriveExpiryFromJWT reports whether a missing expiresAt is read from the
// access token's exp claim.
func (s Session) GetDeriveExpiryFromJWT() bool {
	return s.DeriveExpiryFromJWT
}

func (s Session) validate() error {
	if s.RefreshThreshold < 0 {
		return fmt.Errorf("STOREFRONT_REFRESH_THRESHOLD must not be negative")
	}
	if s.MinPasswordLength < 1 {
		return fmt.Errorf("STOREFRONT_MIN_PASSWORD_LENGTH must be at least 1")
	}
	return nil
}
