package stubbackend_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jrsteele09/storefront-session/credential"
	apperrors "github.com/jrsteele09/storefront-session/internal/errors"
	"github.com/jrsteele09/storefront-session/internal/stubbackend"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	server *stubbackend.Server
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	s := stubbackend.New(stubbackend.Options{Secret: "test-secret", AllowedOrigins: []string{"https://shop.example"}})
	_, err := s.Accounts().Create(credential.Identity{
		FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Role: credential.RoleUser,
	}, "secret123")
	require.NoError(t, err)
	return &testFixture{server: s}
}

func (f *testFixture) post(t *testing.T, path string, body any, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestLoginHandler(t *testing.T) {
	f := setupTestFixture(t)

	t.Run("valid credentials", func(t *testing.T) {
		rec, body := f.post(t, "/api/user/login", map[string]string{"email": "ada@example.com", "password": "secret123"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, true, body["successfully"])
		data := body["data"].(map[string]any)
		require.NotEmpty(t, data["token"])
		require.NotEmpty(t, data["refreshToken"])
		require.Equal(t, "Ada", data["firstName"])
	})

	t.Run("wrong password", func(t *testing.T) {
		rec, body := f.post(t, "/api/user/login", map[string]string{"email": "ada@example.com", "password": "nope"}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, false, body["successfully"])
		require.Equal(t, "Invalid email or password", body["data"])
	})

	t.Run("counts hits per route", func(t *testing.T) {
		require.Equal(t, 2, f.server.Hits(stubbackend.RouteLogin))
	})

	t.Run("cors for allowed origin", func(t *testing.T) {
		rec, _ := f.post(t, "/api/user/login", map[string]string{}, http.Header{"Origin": {"https://shop.example"}})
		require.Equal(t, "https://shop.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestAdminFlow(t *testing.T) {
	f := setupTestFixture(t)
	admin := map[string]string{
		"firstName": "Grace", "lastName": "Hopper", "userName": "grace",
		"email": "grace@example.com", "password": "secret123",
	}

	rec, _ := f.post(t, "/api/admin/createAdmin", admin, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = f.post(t, "/api/admin/createAdmin", admin, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	creds := map[string]string{"email": "grace@example.com", "password": "secret123"}
	rec, body := f.post(t, "/api/admin/loginAdmin", creds, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "Email not verified", body["data"])

	rec, _ = f.post(t, "/api/admin/send-verification-email-admin", map[string]string{"email": "grace@example.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = f.post(t, "/api/admin/verify-email-admin", map[string]string{"email": "grace@example.com", "otp": "not-it"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Invalid OTP", body["data"])

	otp := f.server.Accounts().PendingOTP("grace@example.com")
	require.Len(t, otp, 6)
	rec, _ = f.post(t, "/api/admin/verify-email-admin", map[string]string{"email": "grace@example.com", "otp": otp}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = f.post(t, "/api/admin/loginAdmin", creds, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	require.Equal(t, "ADMIN", data["adminRole"])

	rec, _ = f.post(t, "/api/admin/loginAdmin", map[string]string{"email": "ada@example.com", "password": "secret123"}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code, "non-admin account")
}

func TestRegisterHandler_RequiresFields(t *testing.T) {
	f := setupTestFixture(t)
	rec, body := f.post(t, "/api/user/register", map[string]string{"firstName": "A", "lastName": "B", "email": "x@y.z"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "password is required", body["data"])
}

func TestProtectedRoutes(t *testing.T) {
	f := setupTestFixture(t)
	_, body := f.post(t, "/api/user/login", map[string]string{"email": "ada@example.com", "password": "secret123"}, nil)
	data := body["data"].(map[string]any)
	token := data["token"].(string)
	refreshToken := data["refreshToken"].(string)

	get := func(path, bearer string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusUnauthorized, get("/api/user/profile", ""))
	require.Equal(t, http.StatusUnauthorized, get("/api/user/profile", "garbage"))
	require.Equal(t, http.StatusOK, get("/api/user/profile", token))
	require.Equal(t, http.StatusForbidden, get("/api/admin/orders", token))

	rec, body := f.post(t, "/api/user/refresh-token", map[string]string{"refreshToken": refreshToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	refreshed := body["data"].(map[string]any)
	require.NotEqual(t, refreshToken, refreshed["refreshToken"])

	rec, _ = f.post(t, "/api/user/refresh-token", map[string]string{"refreshToken": refreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "refresh tokens are single use")

	rec, _ = f.post(t, "/api/user/logout", struct{}{}, http.Header{"Authorization": {"Bearer " + token}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusUnauthorized, get("/api/user/profile", token), "revoked after logout")
}

func TestTokenIssuer_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	stubbackend.NowTimeFunc = func() time.Time { return now }
	defer func() { stubbackend.NowTimeFunc = time.Now }()

	ti := stubbackend.NewTokenIssuer("k", time.Minute, time.Hour)
	tokens, err := ti.Issue(credential.Identity{ID: 7, Email: "a@b.c", Role: credential.RoleUser})
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Minute).UnixMilli(), tokens.ExpiresAt)

	exp, ok := credential.ExpiryFromJWT(tokens.Token)
	require.True(t, ok)
	require.Equal(t, tokens.ExpiresAt, exp)

	claims, err := ti.Validate(tokens.Token)
	require.NoError(t, err)
	require.EqualValues(t, 7, claims.UserID)

	now = now.Add(2 * time.Minute)
	_, err = ti.Validate(tokens.Token)
	require.ErrorIs(t, err, apperrors.ErrInvalidToken)

	now = now.Add(2 * time.Hour)
	_, err = ti.Redeem(tokens.RefreshToken)
	require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken, "refresh token past its lifetime")
}
