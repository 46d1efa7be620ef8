package stubbackend

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/jrsteele09/storefront-session/credential"
	apperrors "github.com/jrsteele09/storefront-session/internal/errors"
	"github.com/rs/zerolog/log"
)

type envelope struct {
	Data         any    `json:"data"`
	Successfully bool   `json:"successfully"`
	Message      string `json:"message,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	UserName    string `json:"userName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phoneNumber"`
	Address     string `json:"address"`
	City        string `json:"city"`
	State       string `json:"state"`
	Country     string `json:"country"`
}

type verificationRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type idTokenRequest struct {
	IDToken string `json:"idToken"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Data: message, Successfully: false})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return false
	}
	return true
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	acc, ok := s.accounts.Authenticate(req.Email, req.Password)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	s.writeLogin(w, acc.Profile, "Login successful")
}

func (s *Server) AdminLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	acc, ok := s.accounts.Authenticate(req.Email, req.Password)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if !acc.Profile.IsAdmin() {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	if !acc.Profile.IsVerified {
		writeError(w, http.StatusForbidden, "Email not verified")
		return
	}
	s.writeLogin(w, acc.Profile, "Admin login successful")
}

func (s *Server) writeLogin(w http.ResponseWriter, profile credential.Identity, message string) {
	tokens, err := s.tokens.Issue(profile)
	if err != nil {
		log.Err(err).Msg("failed to issue tokens")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	data, err := loginPayload(profile, tokens)
	if err != nil {
		log.Err(err).Msg("failed to encode login response")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Data:         data,
		Successfully: true,
		Message:      message,
	})
}

// loginPayload is the profile with the credential fields alongside it.
func loginPayload(profile credential.Identity, tokens credential.Tokens) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(profile)
	if err != nil {
		return nil, err
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	creds, err := json.Marshal(tokens)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(creds, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	if missing := firstMissing(map[string]string{
		"firstName": req.FirstName, "lastName": req.LastName, "email": req.Email,
		"password": req.Password, "phoneNumber": req.PhoneNumber,
	}, "firstName", "lastName", "email", "password", "phoneNumber"); missing != "" {
		writeError(w, http.StatusBadRequest, missing+" is required")
		return
	}
	s.createAccount(w, req, credential.Identity{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Address:     req.Address,
		City:        req.City,
		State:       req.State,
		Country:     req.Country,
		Role:        credential.RoleUser,
	}, "User registered successfully")
}

func (s *Server) CreateAdminHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	if missing := firstMissing(map[string]string{
		"firstName": req.FirstName, "lastName": req.LastName, "userName": req.UserName,
		"email": req.Email, "password": req.Password,
	}, "firstName", "lastName", "userName", "email", "password"); missing != "" {
		writeError(w, http.StatusBadRequest, missing+" is required")
		return
	}
	s.createAccount(w, req, credential.Identity{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		UserName:  req.UserName,
		Email:     req.Email,
		AdminRole: credential.RoleAdmin,
	}, "Admin created successfully")
}

func (s *Server) createAccount(w http.ResponseWriter, req registerRequest, profile credential.Identity, message string) {
	acc, err := s.accounts.Create(profile, req.Password)
	switch {
	case apperrors.Is(err, apperrors.ErrUserExists):
		writeError(w, http.StatusConflict, "User already exists")
		return
	case err != nil:
		log.Err(err).Msg("failed to create account")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Data: acc.Profile, Successfully: true, Message: message})
}

func firstMissing(fields map[string]string, order ...string) string {
	for _, name := range order {
		if strings.TrimSpace(fields[name]) == "" {
			return name
		}
	}
	return ""
}

func (s *Server) SendVerificationEmailHandler(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if !decode(w, r, &req) {
		return
	}
	otp, err := newOTP()
	if err != nil {
		log.Err(err).Msg("failed to generate otp")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := s.accounts.SetOTP(req.Email, otp); err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	// There is no mail transport; the code is only logged.
	log.Info().Str("email", req.Email).Str("otp", otp).Msg("verification code issued")
	writeJSON(w, http.StatusOK, envelope{Data: "Verification email sent", Successfully: true})
}

func (s *Server) VerifyEmailHandler(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if !decode(w, r, &req) {
		return
	}
	ok, err := s.accounts.Verify(req.Email, req.OTP)
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid OTP")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: "Email verified", Successfully: true})
}

func newOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	s.tokens.Revoke(claimsFromContext(r.Context()))
	writeJSON(w, http.StatusOK, envelope{Data: "Logged out", Successfully: true})
}

func (s *Server) RefreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	userID, err := s.tokens.Redeem(req.RefreshToken)
	if err != nil {
		log.Debug().Err(err).Msg("refresh rejected")
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	acc, err := s.accounts.GetByID(userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	tokens, err := s.tokens.Issue(acc.Profile)
	if err != nil {
		log.Err(err).Msg("failed to issue tokens")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: tokens, Successfully: true})
}

// GoogleSignupHandler answers with a bare {token, user} body rather than an envelope.
func (s *Server) GoogleSignupHandler(w http.ResponseWriter, r *http.Request) {
	var req idTokenRequest
	if !decode(w, r, &req) {
		return
	}
	claims, err := s.verifyID(r.Context(), req.IDToken)
	if err != nil {
		log.Debug().Err(err).Msg("rejected id token")
		writeError(w, http.StatusUnauthorized, "Invalid ID token")
		return
	}
	acc, err := s.accounts.Create(credential.Identity{
		FirstName:  claims.GivenName,
		LastName:   claims.FamilyName,
		Email:      claims.Email,
		ImageURL:   claims.Picture,
		IsVerified: true,
		Role:       credential.RoleUser,
	}, "")
	switch {
	case apperrors.Is(err, apperrors.ErrUserExists):
		writeError(w, http.StatusConflict, "User already exists")
		return
	case err != nil:
		log.Err(err).Msg("failed to create account")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	tokens, err := s.tokens.Issue(acc.Profile)
	if err != nil {
		log.Err(err).Msg("failed to issue tokens")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": tokens.Token, "user": acc.Profile})
}

func (s *Server) GoogleLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req idTokenRequest
	if !decode(w, r, &req) {
		return
	}
	claims, err := s.verifyID(r.Context(), req.IDToken)
	if err != nil {
		log.Debug().Err(err).Msg("rejected id token")
		writeError(w, http.StatusUnauthorized, "Invalid ID token")
		return
	}
	acc, err := s.accounts.GetByEmail(claims.Email)
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	s.writeLogin(w, acc.Profile, "Login successful")
}

func (s *Server) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	acc, err := s.accounts.GetByID(claimsFromContext(r.Context()).UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: acc.Profile, Successfully: true})
}

func (s *Server) AdminOrdersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Data: []any{}, Successfully: true})
}
