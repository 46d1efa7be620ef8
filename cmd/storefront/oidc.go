package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/jrsteele09/storefront-session/oauthprovider"
	"github.com/rs/zerolog/log"
)

type callbackResult struct {
	state string
	code  string
	err   error
}

// runOIDCLogin runs the authorization code flow with a loopback redirect and
// signs in to the storefront with the verified ID token.
func runOIDCLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("oidc-login", a.out)
	timeout := fs.Duration("timeout", 5*time.Minute, "how long to wait for the browser callback")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := flagsDone(fs); err != nil {
		return err
	}
	if !a.cfg.GetOIDCEnabled() {
		return errors.New("no identity provider configured, set STOREFRONT_OIDC_ISSUER and STOREFRONT_OIDC_CLIENT_ID")
	}

	provider, err := oauthprovider.New(ctx, a.cfg.GetOIDC())
	if err != nil {
		return err
	}
	redirect, err := url.Parse(a.cfg.GetOIDC().RedirectURL)
	if err != nil {
		return fmt.Errorf("invalid redirect URL: %w", err)
	}

	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	authReq := provider.AuthCodeURL()
	results := make(chan callbackResult, 1)
	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return fmt.Errorf("listen for callback: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res := callbackResult{state: q.Get("state"), code: q.Get("code")}
		if e := q.Get("error"); e != "" {
			res.err = fmt.Errorf("authorization failed: %s", e)
		}
		select {
		case results <- res:
		default:
		}
		fmt.Fprintln(w, "You can close this window and return to the terminal.")
	})
	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Msg("callback server stopped")
		}
	}()
	defer server.Close()

	fmt.Fprintln(a.out, "Open this URL to sign in:")
	fmt.Fprintln(a.out, authReq.URL)

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	var res callbackResult
	select {
	case res = <-results:
	case <-waitCtx.Done():
		return fmt.Errorf("waiting for sign-in: %w", waitCtx.Err())
	}
	if res.err != nil {
		return res.err
	}

	rawIDToken, _, err := provider.Exchange(ctx, authReq, res.state, res.code)
	if err != nil {
		return err
	}
	login, err := a.manager.LoginWithIDToken(ctx, rawIDToken)
	if err != nil {
		return err
	}
	a.printLogin(login)
	return nil
}

func flagsDone(fs *flag.FlagSet) error {
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return nil
}
