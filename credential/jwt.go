package credential

import (
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ExpiryFromJWT reads the exp claim of a JWT bearer token without verifying
// its signature and returns it in epoch milliseconds. Opaque tokens and tokens
// without exp return false. The signature is the backend's concern; the
// client only needs to know when to stop trusting the token.
func ExpiryFromJWT(rawToken string) (int64, bool) {
	if strings.Count(rawToken, ".") != 2 {
		return 0, false
	}
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return 0, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	return exp.UnixMilli(), true
}

// WithDerivedExpiry fills ExpiresAt from the token's exp claim when the
// backend did not supply one.
func (t Tokens) WithDerivedExpiry() Tokens {
	if t.HasExpiry() {
		return t
	}
	if exp, ok := ExpiryFromJWT(t.Token); ok {
		t.ExpiresAt = exp
	}
	return t
}
