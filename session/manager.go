package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jrsteele09/storefront-session/api"
	"github.com/jrsteele09/storefront-session/autherr"
	"github.com/jrsteele09/storefront-session/broadcast"
	"github.com/jrsteele09/storefront-session/credential"
	"github.com/jrsteele09/storefront-session/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Storage keys owned by the session manager.
const (
	KeyTokens    = "authTokens"
	KeyUser      = "userData"
	KeyTimestamp = "authTimestamp"
)

const (
	DefaultRefreshThreshold  = 5 * time.Minute
	DefaultMinPasswordLength = 6
)

// ErrNoSession is returned by RefreshTokens when there is nothing to refresh.
var ErrNoSession = errors.New("no active session")

// Backend is the credential API the manager drives. *api.Client implements it.
type Backend interface {
	Login(ctx context.Context, creds api.LoginCredentials) (api.LoginResult, error)
	AdminLogin(ctx context.Context, creds api.LoginCredentials) (api.LoginResult, error)
	Signup(ctx context.Context, data api.SignupData) (*api.Envelope, error)
	AdminSignup(ctx context.Context, data api.AdminSignupData) (*api.Envelope, error)
	SendVerificationEmail(ctx context.Context, data api.EmailVerificationData) (*api.Envelope, error)
	VerifyEmail(ctx context.Context, data api.EmailVerificationData) (*api.Envelope, error)
	GoogleSignup(ctx context.Context, idToken string) (api.LoginResult, error)
	GoogleLogin(ctx context.Context, idToken string) (api.LoginResult, error)
	Logout(ctx context.Context, token string) error
}

// Refresher exchanges a refresh token for new tokens. *api.Client implements it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (credential.Tokens, error)
}

type Option func(*Manager)

// WithRefresher enables real token refresh. Without it RefreshTokens returns
// the current tokens unchanged.
func WithRefresher(r Refresher) Option {
	return func(m *Manager) { m.refresher = r }
}

func WithBus(bus *broadcast.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

func WithRefreshThreshold(d time.Duration) Option {
	return func(m *Manager) { m.refreshThreshold = d }
}

func WithMinPasswordLength(n int) Option {
	return func(m *Manager) { m.minPasswordLength = n }
}

// WithJWTExpiry fills a missing expiresAt from the bearer token's exp claim.
func WithJWTExpiry(enabled bool) Option {
	return func(m *Manager) { m.deriveExpiry = enabled }
}

// Manager owns the persisted session record. Exactly one Manager should exist
// per process; the refresh coalescing only holds within one instance.
type Manager struct {
	backend   Backend
	refresher Refresher
	store     *storage.Manager
	bus       *broadcast.Bus
	metrics   *Metrics

	refreshThreshold  time.Duration
	minPasswordLength int
	deriveExpiry      bool

	refreshGroup singleflight.Group

	watchLock sync.Mutex
	stopWatch func()
}

func NewManager(backend Backend, store storage.Backend, opts ...Option) *Manager {
	m := &Manager{
		backend:           backend,
		store:             storage.NewManager(store, KeyTokens, KeyUser, KeyTimestamp),
		refreshThreshold:  DefaultRefreshThreshold,
		minPasswordLength: DefaultMinPasswordLength,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus == nil {
		m.bus = broadcast.NewBus()
	}
	return m
}

func (m *Manager) RefreshThreshold() time.Duration {
	return m.refreshThreshold
}

func (m *Manager) Bus() *broadcast.Bus {
	return m.bus
}

// Subscribe registers fn for AuthChange and Storage events.
func (m *Manager) Subscribe(fn broadcast.Handler) (unsubscribe func()) {
	return m.bus.Subscribe(fn)
}

func (m *Manager) Login(ctx context.Context, creds api.LoginCredentials) (*api.LoginSuccess, error) {
	if err := m.validateCredentials(creds); err != nil {
		return nil, err
	}
	res, err := m.backend.Login(ctx, creds)
	return m.completeLogin(ctx, KindUser, res, err)
}

func (m *Manager) AdminLogin(ctx context.Context, creds api.LoginCredentials) (*api.LoginSuccess, error) {
	if err := m.validateCredentials(creds); err != nil {
		return nil, err
	}
	res, err := m.backend.AdminLogin(ctx, creds)
	return m.completeLogin(ctx, KindAdmin, res, err)
}

// LoginWithIDToken signs in with an identity provider ID token. It registers
// the user first and falls back to a plain login when the backend reports the
// account already exists.
func (m *Manager) LoginWithIDToken(ctx context.Context, idToken string) (*api.LoginSuccess, error) {
	if idToken == "" {
		return nil, autherr.NewValidation("ID token is required")
	}
	res, err := m.backend.GoogleSignup(ctx, idToken)
	if errors.Is(err, autherr.ErrUserExists) || errors.Is(err, autherr.ErrValidation) {
		log.Debug().Msg("identity provider account exists, signing in")
		res, err = m.backend.GoogleLogin(ctx, idToken)
	}
	return m.completeLogin(ctx, KindIDToken, res, err)
}

// completeLogin persists a successful login. Every other outcome is returned
// as an error; nothing is written.
func (m *Manager) completeLogin(ctx context.Context, kind string, res api.LoginResult, err error) (*api.LoginSuccess, error) {
	if err != nil {
		m.metrics.login(kind, ResultFailed)
		return nil, err
	}
	switch r := res.(type) {
	case api.LoginSuccess:
		if m.deriveExpiry {
			r.Tokens = r.Tokens.WithDerivedExpiry()
		}
		if err := m.persist(ctx, credential.NewSessionRecord(r.Tokens, r.Identity)); err != nil {
			m.metrics.login(kind, ResultFailed)
			return nil, err
		}
		m.metrics.login(kind, ResultOK)
		return &r, nil
	case api.LoginFailure:
		m.metrics.login(kind, ResultFailed)
		return nil, autherr.New(r.Message, autherr.CodeAPIError, 0)
	}
	m.metrics.login(kind, ResultFailed)
	return nil, autherr.New("Login failed", autherr.CodeUnknown, 0)
}

func (m *Manager) persist(ctx context.Context, rec credential.SessionRecord) error {
	if err := m.store.SetAll(ctx, map[string]any{
		KeyTokens:    rec.Tokens,
		KeyUser:      rec.Identity,
		KeyTimestamp: rec.Timestamp,
	}); err != nil {
		return err
	}
	m.notify()
	return nil
}

func (m *Manager) notify() {
	m.bus.Publish(broadcast.Event{Name: broadcast.AuthChange})
}

// Signup registers a storefront user. It never creates a session; the
// account must be verified and then logged in.
func (m *Manager) Signup(ctx context.Context, data api.SignupData) (*api.Envelope, error) {
	if err := m.validateSignup(data); err != nil {
		return nil, err
	}
	return m.backend.Signup(ctx, data)
}

func (m *Manager) AdminSignup(ctx context.Context, data api.AdminSignupData) (*api.Envelope, error) {
	if err := m.validateAdminSignup(data); err != nil {
		return nil, err
	}
	return m.backend.AdminSignup(ctx, data)
}

func (m *Manager) SendVerificationEmail(ctx context.Context, data api.EmailVerificationData) (*api.Envelope, error) {
	if err := validateSendVerification(data); err != nil {
		return nil, err
	}
	return m.backend.SendVerificationEmail(ctx, data)
}

func (m *Manager) VerifyEmail(ctx context.Context, data api.EmailVerificationData) (*api.Envelope, error) {
	if err := validateVerifyEmail(data); err != nil {
		return nil, err
	}
	return m.backend.VerifyEmail(ctx, data)
}

// Logout notifies the backend when a session exists, then always clears the
// local record and broadcasts. It is safe to call without a session.
func (m *Manager) Logout(ctx context.Context) error {
	if tokens, ok := m.CurrentTokens(ctx); ok {
		if err := m.backend.Logout(ctx, tokens.Token); err != nil {
			log.Warn().Err(err).Msg("backend logout failed, clearing local session anyway")
		}
	}
	return m.clear(ctx, ReasonLogout)
}

// Invalidate clears the session without contacting the backend.
func (m *Manager) Invalidate(ctx context.Context, reason string) error {
	log.Info().Str("reason", reason).Msg("session invalidated")
	return m.clear(ctx, reason)
}

func (m *Manager) clear(ctx context.Context, reason string) error {
	err := m.store.Clear(ctx)
	m.metrics.invalidation(reason)
	m.notify()
	return err
}

// Record returns the persisted session. A record missing any part, or with an
// empty token, is cleared and reported as absent. When storage cannot be read
// the session is reported as absent for this call only and nothing is cleared.
func (m *Manager) Record(ctx context.Context) (credential.SessionRecord, bool) {
	rec, _, ok, err := m.readRecord(ctx)
	if err != nil {
		return credential.SessionRecord{}, false
	}
	return rec, ok
}

// readRecord reads all session keys in one backend call. rawTokens is the
// stored tokens value exactly as read, for a later compare-and-swap.
func (m *Manager) readRecord(ctx context.Context) (rec credential.SessionRecord, rawTokens []byte, ok bool, err error) {
	snap, err := m.store.Load(ctx, KeyTokens, KeyUser, KeyTimestamp)
	if err != nil {
		log.Warn().Err(err).Msg("session storage unavailable, leaving record in place")
		return credential.SessionRecord{}, nil, false, err
	}
	tokens, hasTokens := storage.Decode[credential.Tokens](ctx, snap, KeyTokens)
	identity, hasIdentity := storage.Decode[credential.Identity](ctx, snap, KeyUser)
	timestamp, _ := storage.Decode[int64](ctx, snap, KeyTimestamp)

	if !hasTokens && !hasIdentity {
		return credential.SessionRecord{}, nil, false, nil
	}
	rec = credential.SessionRecord{Tokens: tokens, Identity: identity, Timestamp: timestamp}
	if !hasTokens || !hasIdentity || !rec.Complete() {
		log.Warn().Bool("tokens", hasTokens).Bool("identity", hasIdentity).Msg("incomplete session record removed")
		if err := m.clear(ctx, ReasonCorrupt); err != nil {
			log.Err(err).Msg("failed to remove incomplete session record")
		}
		return credential.SessionRecord{}, nil, false, nil
	}
	rawTokens, _ = snap.Raw(KeyTokens)
	return rec, rawTokens, true, nil
}

func (m *Manager) CurrentTokens(ctx context.Context) (credential.Tokens, bool) {
	rec, ok := m.Record(ctx)
	return rec.Tokens, ok
}

func (m *Manager) CurrentUser(ctx context.Context) (credential.Identity, bool) {
	rec, ok := m.Record(ctx)
	return rec.Identity, ok
}

// IsAuthenticated is true when a complete record exists whose token has not
// literally expired. It stays true while a refresh is in flight.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	tokens, ok := m.CurrentTokens(ctx)
	return ok && tokens.Valid(credential.NowTimeFunc())
}

// NeedsRefresh reports whether the current tokens are within the refresh
// threshold of expiry.
func (m *Manager) NeedsRefresh(tokens credential.Tokens) bool {
	return tokens.Stale(credential.NowTimeFunc(), m.refreshThreshold)
}
