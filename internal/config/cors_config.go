package config

import (
	"slices"
	"strings"
)

type Cors struct {
	Origins []string `env:"STOREFRONT_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

var _ CorsConfig = Cors{}

type AllowedOrigins []string

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	return slices.Contains(a, "*") || slices.Contains(a, origin)
}

func (a AllowedOrigins) String() string {
	return strings.Join(a, ", ")
}

func (c Cors) GetAllowedOrigins() AllowedOrigins {
	return AllowedOrigins(c.Origins)
}
