package config

import "github.com/jrsteele09/storefront-session/oauthprovider"

type OIDCConfig interface {
	GetOIDCEnabled() bool
	GetOIDC() oauthprovider.Config
}

type OIDC struct {
	Issuer       string `env:"STOREFRONT_OIDC_ISSUER"`
	ClientID     string `env:"STOREFRONT_OIDC_CLIENT_ID"`
	ClientSecret string `env:"STOREFRONT_OIDC_CLIENT_SECRET"`
	RedirectURL  string `env:"STOREFRONT_OIDC_REDIRECT_URL" envDefault:"http://localhost:8085/callback"`
}

var _ OIDCConfig = OIDC{}

// GetOIDCEnabled reports whether an identity provider is configured.
func (o OIDC) GetOIDCEnabled() bool {
	return o.Issuer != "" && o.ClientID != ""
}

func (o OIDC) GetOIDC() oauthprovider.Config {
	return oauthprovider.Config{
		IssuerURL:    o.Issuer,
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		RedirectURL:  o.RedirectURL,
	}
}
