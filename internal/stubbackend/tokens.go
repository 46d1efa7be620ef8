package stubbackend

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/storefront-session/credential"
	apperrors "github.com/jrsteele09/storefront-session/internal/errors"
	"github.com/pkg/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const refreshTokenLength = 32

type storedRefreshToken struct {
	token  string
	userID int64
	iat    time.Time
}

// TokenIssuer signs HS256 access tokens and keeps opaque refresh tokens, one
// per user. Logged out access tokens are remembered by jti until they expire.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	lock    sync.Mutex
	refresh map[string]storedRefreshToken
	byUser  map[int64]string
	revoked map[string]time.Time
}

func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		refresh:    make(map[string]storedRefreshToken),
		byUser:     make(map[int64]string),
		revoked:    make(map[string]time.Time),
	}
}

// Issue creates an access token and rotates the user's refresh token.
func (ti *TokenIssuer) Issue(profile credential.Identity) (credential.Tokens, error) {
	now := NowTimeFunc()
	exp := now.Add(ti.accessTTL)
	role := profile.Role
	if profile.AdminRole != "" {
		role = profile.AdminRole
	}
	claims := jwtlib.MapClaims{
		"sub":   fmt.Sprint(profile.ID),
		"email": profile.Email,
		"role":  string(role),
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
		"jti":   uuid.New().String(),
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return credential.Tokens{}, errors.Wrap(err, "failed to sign access token")
	}

	refreshToken, err := ti.createRefresh(profile.ID, now)
	if err != nil {
		return credential.Tokens{}, err
	}
	return credential.Tokens{Token: signed, RefreshToken: refreshToken, ExpiresAt: exp.UnixMilli()}, nil
}

func (ti *TokenIssuer) createRefresh(userID int64, now time.Time) (string, error) {
	tokenBytes := make([]byte, refreshTokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	tokenStr := hex.EncodeToString(tokenBytes)

	ti.lock.Lock()
	defer ti.lock.Unlock()
	if existing, ok := ti.byUser[userID]; ok {
		delete(ti.refresh, existing)
	}
	ti.refresh[tokenStr] = storedRefreshToken{token: tokenStr, userID: userID, iat: now}
	ti.byUser[userID] = tokenStr
	return tokenStr, nil
}

// Redeem consumes a refresh token and returns the user it was issued to.
func (ti *TokenIssuer) Redeem(refreshToken string) (int64, error) {
	ti.lock.Lock()
	defer ti.lock.Unlock()
	rt, ok := ti.refresh[refreshToken]
	if !ok {
		return 0, apperrors.ErrInvalidRefreshToken
	}
	delete(ti.refresh, refreshToken)
	delete(ti.byUser, rt.userID)
	if NowTimeFunc().Sub(rt.iat) > ti.refreshTTL {
		return 0, apperrors.Wrapf(apperrors.ErrInvalidRefreshToken, "issued %s", rt.iat.Format(time.RFC3339))
	}
	return rt.userID, nil
}

// AccessClaims is what the backend knows about a presented bearer token.
type AccessClaims struct {
	UserID int64
	Email  string
	Role   credential.RoleType
	jti    string
	exp    time.Time
}

// Validate verifies the signature, expiry and revocation state of an access token.
func (ti *TokenIssuer) Validate(raw string) (*AccessClaims, error) {
	claims := jwtlib.MapClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ti.secret, nil
	}, jwtlib.WithTimeFunc(NowTimeFunc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidToken, err)
	}

	ac := &AccessClaims{}
	if sub, err := claims.GetSubject(); err == nil {
		ac.UserID, _ = strconv.ParseInt(sub, 10, 64)
	}
	ac.Email, _ = claims["email"].(string)
	role, _ := claims["role"].(string)
	ac.Role = credential.RoleType(role)
	ac.jti, _ = claims["jti"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		ac.exp = exp.Time
	}

	ti.lock.Lock()
	defer ti.lock.Unlock()
	if _, revoked := ti.revoked[ac.jti]; revoked {
		return nil, apperrors.ErrTokenRevoked
	}
	return ac, nil
}

// Revoke invalidates the access token and the user's refresh token.
func (ti *TokenIssuer) Revoke(ac *AccessClaims) {
	ti.lock.Lock()
	defer ti.lock.Unlock()
	now := NowTimeFunc()
	for jti, exp := range ti.revoked {
		if now.After(exp) {
			delete(ti.revoked, jti)
		}
	}
	ti.revoked[ac.jti] = ac.exp
	if rt, ok := ti.byUser[ac.UserID]; ok {
		delete(ti.refresh, rt)
		delete(ti.byUser, ac.UserID)
	}
}
