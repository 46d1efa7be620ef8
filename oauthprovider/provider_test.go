package oauthprovider_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/storefront-session/oauthprovider"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const clientID = "storefront"

type fakeIssuer struct {
	server *httptest.Server
	key    *rsa.PrivateKey

	mu           sync.Mutex
	nonce        string
	codeVerifier string
}

func setupFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	f := &fakeIssuer{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                f.server.URL,
			"authorization_endpoint":                f.server.URL + "/authorize",
			"token_endpoint":                        f.server.URL + "/token",
			"jwks_uri":                              f.server.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("GET /jwks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA", "alg": "RS256", "use": "sig", "kid": "k1",
			"n": base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e": base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.codeVerifier = r.Form.Get("code_verifier")
		nonce := f.nonce
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at", "token_type": "Bearer", "expires_in": 3600,
			"id_token": f.sign(t, nonce, time.Hour),
		})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIssuer) sign(t *testing.T, nonce string, ttl time.Duration) string {
	t.Helper()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, jwtlib.MapClaims{
		"iss":            f.server.URL,
		"aud":            clientID,
		"sub":            "google-123",
		"email":          "grace@example.com",
		"email_verified": true,
		"given_name":     "Grace",
		"family_name":    "Hopper",
		"nonce":          nonce,
		"iat":            time.Now().Unix(),
		"exp":            time.Now().Add(ttl).Unix(),
	})
	tok.Header["kid"] = "k1"
	raw, err := tok.SignedString(f.key)
	require.NoError(t, err)
	return raw
}

func (f *fakeIssuer) config() oauthprovider.Config {
	return oauthprovider.Config{
		IssuerURL:    f.server.URL,
		ClientID:     clientID,
		ClientSecret: "shh",
		RedirectURL:  "http://localhost/callback",
	}
}

func TestProvider_AuthorizationCodeFlow(t *testing.T) {
	issuer := setupFakeIssuer(t)
	ctx := context.Background()

	p, err := oauthprovider.New(ctx, issuer.config())
	require.NoError(t, err)

	authReq := p.AuthCodeURL()
	u, err := url.Parse(authReq.URL)
	require.NoError(t, err)
	require.Equal(t, "/authorize", u.Path)
	require.Equal(t, authReq.State, u.Query().Get("state"))
	require.Equal(t, authReq.Nonce, u.Query().Get("nonce"))
	require.Equal(t, "S256", u.Query().Get("code_challenge_method"))

	issuer.mu.Lock()
	issuer.nonce = authReq.Nonce
	issuer.mu.Unlock()

	t.Run("state mismatch", func(t *testing.T) {
		_, _, err := p.Exchange(ctx, authReq, "forged", "code")
		require.Error(t, err)
	})

	t.Run("verified id token", func(t *testing.T) {
		raw, claims, err := p.Exchange(ctx, authReq, authReq.State, "code")
		require.NoError(t, err)
		require.NotEmpty(t, raw)
		require.Equal(t, "grace@example.com", claims.Email)
		require.Equal(t, "Grace", claims.GivenName)
		issuer.mu.Lock()
		require.Equal(t, authReq.CodeVerifier, issuer.codeVerifier)
		issuer.mu.Unlock()
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		issuer.mu.Lock()
		issuer.nonce = "replayed"
		issuer.mu.Unlock()
		_, _, err := p.Exchange(ctx, authReq, authReq.State, "code")
		require.Error(t, err)
	})
}

func TestProvider_VerifyWithStaticKeys(t *testing.T) {
	issuer := setupFakeIssuer(t)
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&issuer.key.PublicKey}}
	p := oauthprovider.NewWithKeySet(issuer.config(), oauth2.Endpoint{TokenURL: issuer.server.URL + "/token"}, keySet)
	ctx := context.Background()

	claims, err := p.Verify(ctx, issuer.sign(t, "", time.Hour))
	require.NoError(t, err)
	require.Equal(t, "google-123", claims.Subject)

	_, err = p.Verify(ctx, issuer.sign(t, "", -time.Minute))
	require.Error(t, err, "expired")

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged, err := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, jwtlib.MapClaims{
		"iss": issuer.server.URL, "aud": clientID, "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(other)
	require.NoError(t, err)
	_, err = p.Verify(ctx, forged)
	require.Error(t, err, "wrong signing key")
}
