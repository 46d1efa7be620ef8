package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/storefront-session/credential"
	"github.com/jrsteele09/storefront-session/internal/config"
	"github.com/jrsteele09/storefront-session/internal/stubbackend"
	"github.com/jrsteele09/storefront-session/oauthprovider"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	demoEmail    = "demo@example.com"
	demoPassword = "password"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Err(err).Msg("Error running stub backend")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("Stub backend stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.New()
	if err != nil {
		return err
	}
	configureLogging(c)
	displayAppname(c.GetAppName() + " Stub")

	ctx := context.Background()
	opts := stubbackend.Options{
		Env:            c.GetEnv(),
		Secret:         c.GetStubSecret(),
		AllowedOrigins: c.GetAllowedOrigins(),
	}
	if c.GetOIDCEnabled() {
		verifier, err := idTokenVerifier(ctx, c.GetOIDC())
		if err != nil {
			return err
		}
		opts.VerifyIDToken = verifier
	}
	backend := stubbackend.New(opts)
	if c.GetEnv() == "DEV" {
		seedDemoAccount(backend)
	}

	server := &http.Server{Addr: c.GetStubAddr(), Handler: backend}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(server) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(server)
}

// idTokenVerifier checks Google sign-in tokens against the configured issuer
// instead of trusting them unverified.
func idTokenVerifier(ctx context.Context, cfg oauthprovider.Config) (stubbackend.IDTokenVerifier, error) {
	provider, err := oauthprovider.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, rawIDToken string) (*stubbackend.IDClaims, error) {
		claims, err := provider.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, err
		}
		return &stubbackend.IDClaims{
			Email:      claims.Email,
			GivenName:  claims.GivenName,
			FamilyName: claims.FamilyName,
			Picture:    claims.Picture,
		}, nil
	}, nil
}

func seedDemoAccount(backend *stubbackend.Server) {
	_, err := backend.Accounts().Create(credential.Identity{
		FirstName: "Demo",
		LastName:  "Shopper",
		Email:     demoEmail,
		Role:      credential.RoleUser,
	}, demoPassword)
	if err != nil {
		log.Err(err).Msg("failed to seed demo account")
		return
	}
	log.Info().Str("email", demoEmail).Str("password", demoPassword).Msg("seeded demo account")
}

func configureLogging(c config.Config) {
	if level, err := zerolog.ParseLevel(c.GetLogLevel()); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Stub backend listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
