package stubbackend

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/storefront-session/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Route patterns served by the stub backend.
const (
	RouteLogin                 = "POST /api/user/login"
	RouteAdminLogin            = "POST /api/admin/loginAdmin"
	RouteRegister              = "POST /api/user/register"
	RouteCreateAdmin           = "POST /api/admin/createAdmin"
	RouteSendVerificationEmail = "POST /api/admin/send-verification-email-admin"
	RouteVerifyEmail           = "POST /api/admin/verify-email-admin"
	RouteLogout                = "POST /api/user/logout"
	RouteRefreshToken          = "POST /api/user/refresh-token"
	RouteGoogleSignup          = "POST /api/user/google-signup"
	RouteGoogleLogin           = "POST /api/user/google-login"
	RouteProfile               = "GET /api/user/profile"
	RouteAdminOrders           = "GET /api/admin/orders"
)

// IDClaims are the identity provider claims the google endpoints consume.
type IDClaims struct {
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

// IDTokenVerifier turns an identity provider ID token into claims.
type IDTokenVerifier func(ctx context.Context, rawIDToken string) (*IDClaims, error)

type Options struct {
	Env            string
	Secret         string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	AllowedOrigins []string
	// VerifyIDToken defaults to reading claims without checking the signature.
	VerifyIDToken IDTokenVerifier
}

// Server is an in-memory implementation of the storefront credential API.
type Server struct {
	env      string
	mux      *http.ServeMux
	routes   []string
	opts     Options
	accounts *AccountStore
	tokens   *TokenIssuer
	verifyID IDTokenVerifier

	hitsLock sync.Mutex
	hits     map[string]int
}

func New(opts Options) *Server {
	if opts.Secret == "" {
		opts.Secret = "stub-backend-secret"
	}
	if opts.AccessTTL == 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL == 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	s := &Server{
		env:      opts.Env,
		mux:      http.NewServeMux(),
		opts:     opts,
		accounts: NewAccountStore(),
		tokens:   NewTokenIssuer(opts.Secret, opts.AccessTTL, opts.RefreshTTL),
		verifyID: opts.VerifyIDToken,
		hits:     make(map[string]int),
	}
	if s.verifyID == nil {
		s.verifyID = unverifiedIDClaims
	}
	s.initRoutes()
	s.logRoutes()
	return s
}

func (s *Server) initRoutes() {
	public := s.APIMiddleware()
	protected := append(s.APIMiddleware(), s.BearerMiddleware)

	s.RegisterRouteFunc(RouteLogin, ChainMiddleware(s.LoginHandler, public...))
	s.RegisterRouteFunc(RouteAdminLogin, ChainMiddleware(s.AdminLoginHandler, public...))
	s.RegisterRouteFunc(RouteRegister, ChainMiddleware(s.RegisterHandler, public...))
	s.RegisterRouteFunc(RouteCreateAdmin, ChainMiddleware(s.CreateAdminHandler, public...))
	s.RegisterRouteFunc(RouteSendVerificationEmail, ChainMiddleware(s.SendVerificationEmailHandler, public...))
	s.RegisterRouteFunc(RouteVerifyEmail, ChainMiddleware(s.VerifyEmailHandler, public...))
	s.RegisterRouteFunc(RouteRefreshToken, ChainMiddleware(s.RefreshTokenHandler, public...))
	s.RegisterRouteFunc(RouteGoogleSignup, ChainMiddleware(s.GoogleSignupHandler, public...))
	s.RegisterRouteFunc(RouteGoogleLogin, ChainMiddleware(s.GoogleLoginHandler, public...))
	s.RegisterRouteFunc(RouteLogout, ChainMiddleware(s.LogoutHandler, protected...))
	s.RegisterRouteFunc(RouteProfile, ChainMiddleware(s.ProfileHandler, protected...))
	s.RegisterRouteFunc(RouteAdminOrders, ChainMiddleware(s.AdminOrdersHandler, append(protected, s.AdminMiddleware)...))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			log.Debug().Str("method", parts[0]).Str("path", parts[1]).Msg("route")
		} else {
			log.Debug().Str("path", parts[0]).Msg("route")
		}
	}
}

// Accounts exposes the account store for seeding.
func (s *Server) Accounts() *AccountStore {
	return s.accounts
}

// Hits returns how many requests reached the route pattern.
func (s *Server) Hits(route string) int {
	s.hitsLock.Lock()
	defer s.hitsLock.Unlock()
	return s.hits[route]
}

func (s *Server) countHit(pattern string) {
	s.hitsLock.Lock()
	s.hits[pattern]++
	s.hitsLock.Unlock()
}

func unverifiedIDClaims(_ context.Context, raw string) (*IDClaims, error) {
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, errors.Wrap(apperrors.ErrInvalidIDToken, err.Error())
	}
	idc := &IDClaims{}
	idc.Email, _ = claims["email"].(string)
	idc.GivenName, _ = claims["given_name"].(string)
	idc.FamilyName, _ = claims["family_name"].(string)
	idc.Picture, _ = claims["picture"].(string)
	if idc.Email == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidIDToken, "no email claim")
	}
	return idc, nil
}
