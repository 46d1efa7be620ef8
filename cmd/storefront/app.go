package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jrsteele09/storefront-session/api"
	"github.com/jrsteele09/storefront-session/autherr"
	"github.com/jrsteele09/storefront-session/interceptor"
	"github.com/jrsteele09/storefront-session/internal/config"
	"github.com/jrsteele09/storefront-session/session"
	"github.com/jrsteele09/storefront-session/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// app wires the single session manager a process owns.
type app struct {
	cfg      config.Config
	out      io.Writer
	api      *api.Client
	manager  *session.Manager
	nav      *interceptor.MemoryNavigator
	http     *http.Client
	registry *prometheus.Registry
}

func newApp(ctx context.Context, cfg config.Config, out io.Writer) (*app, error) {
	store, err := storage.NewBackend(ctx, cfg.GetStorageOptions())
	if err != nil {
		return nil, fmt.Errorf("open session storage: %w", err)
	}

	apiClient := api.New(cfg.GetAPIBaseURL(), &http.Client{Timeout: cfg.GetHTTPTimeout()})
	registry := prometheus.NewRegistry()
	manager := session.NewManager(apiClient, store,
		session.WithRefresher(apiClient),
		session.WithMetrics(session.NewMetrics(registry)),
		session.WithRefreshThreshold(cfg.GetRefreshThreshold()),
		session.WithMinPasswordLength(cfg.GetMinPasswordLength()),
		session.WithJWTExpiry(cfg.GetDeriveExpiryFromJWT()),
	)

	nav := interceptor.NewMemoryNavigator("/")
	httpClient, err := interceptor.NewClient(manager, cfg.GetAPIBaseURL(), nav, interceptor.Options{
		LoginPath: cfg.GetLoginPath(),
		Timeout:   cfg.GetHTTPTimeout(),
	})
	if err != nil {
		manager.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		out:      out,
		api:      apiClient,
		manager:  manager,
		nav:      nav,
		http:     httpClient,
		registry: registry,
	}, nil
}

func (a *app) Close() {
	if err := a.manager.Close(); err != nil {
		log.Err(err).Msg("failed to close session storage")
	}
}

// serveMetrics exposes the session counters until ctx ends.
func (a *app) serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Msg("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

// describe renders an error for a terminal user.
func describe(err error) string {
	var authErr *autherr.Error
	if errors.As(err, &authErr) {
		return fmt.Sprintf("%s [%s]", authErr.Message, authErr.Code)
	}
	return err.Error()
}
