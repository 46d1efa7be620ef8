package oauthprovider

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes defaults to openid, profile and email.
	Scopes []string
}

// Claims are the ID token claims the storefront backend needs to sign a user in.
type Claims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
	Nonce         string `json:"nonce"`
}

// Provider runs the authorization code flow against an OpenID Connect issuer
// and hands back a verified ID token.
type Provider struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
}

// New discovers the issuer's endpoints and signing keys.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return newProvider(cfg, provider.Endpoint(), provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})), nil
}

// NewWithKeySet skips discovery; endpoint and keys are supplied directly.
func NewWithKeySet(cfg Config, endpoint oauth2.Endpoint, keySet oidc.KeySet) *Provider {
	return newProvider(cfg, endpoint, oidc.NewVerifier(cfg.IssuerURL, keySet, &oidc.Config{ClientID: cfg.ClientID}))
}

func newProvider(cfg Config, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) *Provider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	return &Provider{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier: verifier,
	}
}

// AuthRequest is one pending authorization. Keep it until the callback.
type AuthRequest struct {
	URL          string
	State        string
	Nonce        string
	CodeVerifier string
}

// AuthCodeURL starts an authorization with fresh state, nonce and PKCE verifier.
func (p *Provider) AuthCodeURL() AuthRequest {
	req := AuthRequest{
		State:        uuid.NewString(),
		Nonce:        uuid.NewString(),
		CodeVerifier: oauth2.GenerateVerifier(),
	}
	req.URL = p.oauth2Config.AuthCodeURL(req.State, oidc.Nonce(req.Nonce), oauth2.S256ChallengeOption(req.CodeVerifier))
	return req
}

// Exchange completes the authorization started by req and returns the raw,
// verified ID token together with its claims.
func (p *Provider) Exchange(ctx context.Context, req AuthRequest, state, code string) (string, *Claims, error) {
	if state == "" || state != req.State {
		return "", nil, errors.New("invalid state parameter")
	}
	token, err := p.oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(req.CodeVerifier))
	if err != nil {
		return "", nil, errors.Wrap(err, "token exchange failed")
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", nil, errors.New("no ID token in response")
	}
	claims, err := p.Verify(ctx, rawIDToken)
	if err != nil {
		return "", nil, err
	}
	if claims.Nonce != req.Nonce {
		return "", nil, errors.New("invalid nonce")
	}
	return rawIDToken, claims, nil
}

// Verify checks the ID token's signature, issuer, audience and expiry.
func (p *Provider) Verify(ctx context.Context, rawIDToken string) (*Claims, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrap(err, "ID token verification failed")
	}
	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "failed to extract claims")
	}
	return &claims, nil
}
