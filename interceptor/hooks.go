package interceptor

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/storefront-session/credential"
	"github.com/jrsteele09/storefront-session/session"
	"github.com/rs/zerolog/log"
)

const (
	DefaultLoginPath = "/login"
	RequestIDHeader  = "X-Request-ID"
)

// Session is the part of the session manager the hooks rely on.
// *session.Manager implements it.
type Session interface {
	CurrentTokens(ctx context.Context) (credential.Tokens, bool)
	NeedsRefresh(tokens credential.Tokens) bool
	RefreshTokens(ctx context.Context) (credential.Tokens, error)
	Invalidate(ctx context.Context, reason string) error
}

var _ Session = (*session.Manager)(nil)

// SameOrigin reports whether u targets the scheme and host of origin.
func SameOrigin(u, origin *url.URL) bool {
	if u == nil || origin == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, origin.Scheme) && strings.EqualFold(u.Host, origin.Host)
}

// BearerHook attaches the session's bearer token to requests bound for
// origin, refreshing first when the token is close to expiry. Without a
// session, or when the refresh fails, the request goes out unauthenticated.
func BearerHook(sess Session, origin *url.URL) RequestHook {
	return func(req *http.Request) error {
		if !SameOrigin(req.URL, origin) {
			return nil
		}
		ctx := req.Context()
		tokens, ok := sess.CurrentTokens(ctx)
		if !ok {
			return nil
		}
		if sess.NeedsRefresh(tokens) {
			refreshed, err := sess.RefreshTokens(ctx)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				log.Warn().Err(err).Str("path", req.URL.Path).Msg("sending request without credentials after failed refresh")
				req.Header.Del("Authorization")
				return nil
			}
			tokens = refreshed
		}
		if tokens.Token != "" {
			req.Header.Set("Authorization", "Bearer "+tokens.Token)
		}
		return nil
	}
}

// RequestIDHook tags backend-bound requests that carry no request id.
func RequestIDHook(origin *url.URL) RequestHook {
	return func(req *http.Request) error {
		if SameOrigin(req.URL, origin) && req.Header.Get(RequestIDHeader) == "" {
			req.Header.Set(RequestIDHeader, uuid.NewString())
		}
		return nil
	}
}

// InvalidationHook clears the session on a 401 or 403 from origin and sends
// the navigator to the login page, carrying the current path as the redirect
// parameter. It stays put when already on the login page.
func InvalidationHook(sess Session, origin *url.URL, nav Navigator, loginPath string) ResponseHook {
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	return func(req *http.Request, resp *http.Response) {
		if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
			return
		}
		if !SameOrigin(req.URL, origin) {
			return
		}
		log.Warn().Int("status", resp.StatusCode).Str("path", req.URL.Path).Msg("backend rejected session")
		if err := sess.Invalidate(context.WithoutCancel(req.Context()), session.ReasonUnauthorized); err != nil {
			log.Err(err).Msg("failed to clear rejected session")
		}
		if nav == nil {
			return
		}
		current := nav.CurrentPath()
		if strings.Contains(current, loginPath) {
			return
		}
		nav.Navigate(loginPath + "?redirect=" + url.QueryEscape(current))
	}
}

type Options struct {
	LoginPath string
	Timeout   time.Duration
	// Base is the transport requests finally go through; nil means
	// http.DefaultTransport.
	Base http.RoundTripper
}

// NewClient returns an http.Client whose requests to backendURL carry the
// session credential and whose 401/403 responses end the session.
func NewClient(sess Session, backendURL string, nav Navigator, opts Options) (*http.Client, error) {
	origin, err := url.Parse(backendURL)
	if err != nil {
		return nil, err
	}
	p := NewPipeline(opts.Base).
		OnRequest(RequestIDHook(origin), BearerHook(sess, origin)).
		OnResponse(InvalidationHook(sess, origin, nav, opts.LoginPath))
	return &http.Client{Transport: p, Timeout: opts.Timeout}, nil
}
