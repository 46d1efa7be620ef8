package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/storefront-session/autherr"
	"github.com/jrsteele09/storefront-session/credential"
	"github.com/rs/zerolog/log"
)

// Endpoint paths relative to the backend base URL.
const (
	PathLogin                 = "/api/user/login"
	PathAdminLogin            = "/api/admin/loginAdmin"
	PathSignup                = "/api/user/register"
	PathAdminSignup           = "/api/admin/createAdmin"
	PathSendVerificationEmail = "/api/admin/send-verification-email-admin"
	PathVerifyEmail           = "/api/admin/verify-email-admin"
	PathLogout                = "/api/user/logout"
	PathRefresh               = "/api/user/refresh-token"
	PathGoogleSignup          = "/api/user/google-signup"
	PathGoogleLogin           = "/api/user/google-login"
)

const maxBodyBytes = 1 << 20

// Client calls the backend credential endpoints. It does not attach session
// credentials on its own; login calls must never go through the interceptor
// chain, since a 401 there means wrong password, not an expired session.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Client for baseURL. A nil httpClient gets a 10 second timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Login(ctx context.Context, creds LoginCredentials) (LoginResult, error) {
	env, err := c.post(ctx, PathLogin, "", creds, "Login failed")
	if err != nil {
		return nil, err
	}
	return ParseLogin(*env), nil
}

func (c *Client) AdminLogin(ctx context.Context, creds LoginCredentials) (LoginResult, error) {
	env, err := c.post(ctx, PathAdminLogin, "", creds, "Admin login failed")
	if err != nil {
		return nil, err
	}
	return ParseLogin(*env), nil
}

func (c *Client) Signup(ctx context.Context, data SignupData) (*Envelope, error) {
	return c.post(ctx, PathSignup, "", data, "Signup failed")
}

func (c *Client) AdminSignup(ctx context.Context, data AdminSignupData) (*Envelope, error) {
	return c.post(ctx, PathAdminSignup, "", data, "Admin signup failed")
}

func (c *Client) SendVerificationEmail(ctx context.Context, data EmailVerificationData) (*Envelope, error) {
	return c.post(ctx, PathSendVerificationEmail, "", data, "Failed to send verification email")
}

func (c *Client) VerifyEmail(ctx context.Context, data EmailVerificationData) (*Envelope, error) {
	return c.post(ctx, PathVerifyEmail, "", data, "Email verification failed")
}

// GoogleSignup registers the holder of an identity provider ID token.
func (c *Client) GoogleSignup(ctx context.Context, idToken string) (LoginResult, error) {
	raw, err := c.do(ctx, PathGoogleSignup, "", map[string]string{"idToken": idToken}, "Google signup failed")
	if err != nil {
		return nil, err
	}
	var resp googleSignupResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Token == "" || resp.User == nil {
		return LoginFailure{Message: "Missing token or user in signup response"}, nil
	}
	return LoginSuccess{Tokens: credential.Tokens{Token: resp.Token}, Identity: *resp.User}, nil
}

// GoogleLogin signs in an already registered identity provider user.
func (c *Client) GoogleLogin(ctx context.Context, idToken string) (LoginResult, error) {
	env, err := c.post(ctx, PathGoogleLogin, "", map[string]string{"idToken": idToken}, "Google login failed")
	if err != nil {
		return nil, err
	}
	env.Successfully = true
	return ParseLogin(*env), nil
}

// Logout tells the backend the bearer token is no longer in use.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.post(ctx, PathLogout, token, struct{}{}, "Logout failed")
	return err
}

// Refresh exchanges a refresh token for new tokens.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (credential.Tokens, error) {
	env, err := c.post(ctx, PathRefresh, "", map[string]string{"refreshToken": refreshToken}, "Token refresh failed")
	if err != nil {
		return credential.Tokens{}, err
	}
	var data refreshData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		return credential.Tokens{}, autherr.New("Token refresh returned no token", autherr.CodeAPIError, http.StatusOK)
	}
	return credential.Tokens{Token: data.Token, RefreshToken: data.RefreshToken, ExpiresAt: data.ExpiresAt}, nil
}

func (c *Client) post(ctx context.Context, path, bearer string, body any, fallback string) (*Envelope, error) {
	raw, err := c.do(ctx, path, bearer, body, fallback)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, autherr.New(fallback, autherr.CodeAPIError, http.StatusOK)
		}
	}
	return &env, nil
}

// do sends body as JSON and returns the raw response for 2xx statuses. Every
// other outcome is returned as a classified *autherr.Error.
func (c *Client) do(ctx context.Context, path, bearer string, body any, fallback string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, autherr.Classify(err, 0, "", fallback)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, autherr.Classify(err, 0, "", fallback)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env Envelope
		_ = json.Unmarshal(raw, &env)
		log.Debug().Str("path", path).Int("status", resp.StatusCode).Msg("backend rejected request")
		return nil, autherr.Classify(nil, resp.StatusCode, env.Text(), fallback)
	}
	return raw, nil
}
