package api

import (
	"encoding/json"
	"strings"

	"github.com/jrsteele09/storefront-session/credential"
)

// Envelope is the shape every credential endpoint responds with. Data is an
// error string on failure and an object on success.
type Envelope struct {
	Data         json.RawMessage `json:"data"`
	Successfully bool            `json:"successfully"`
	Message      string          `json:"message,omitempty"`
}

// Text returns the human readable message carried by the envelope, preferring
// Message and falling back to a string Data.
func (e Envelope) Text() string {
	if e.Message != "" {
		return e.Message
	}
	var s string
	if len(e.Data) > 0 && json.Unmarshal(e.Data, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if len(e.Data) > 0 && json.Unmarshal(e.Data, &obj) == nil {
		return obj.Message
	}
	return ""
}

type LoginCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupData struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phoneNumber"`
	Address     string `json:"address"`
	City        string `json:"city"`
	State       string `json:"state"`
	Country     string `json:"country"`
}

type AdminSignupData struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	UserName  string `json:"userName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type EmailVerificationData struct {
	Email string `json:"email"`
	OTP   string `json:"otp,omitempty"`
}

// LoginResult is either LoginSuccess or LoginFailure.
type LoginResult interface {
	loginResult()
}

// LoginSuccess carries a usable credential and the principal it belongs to.
type LoginSuccess struct {
	Tokens   credential.Tokens
	Identity credential.Identity
	Message  string
}

// LoginFailure is a response the backend marked unsuccessful, or one that
// claimed success without a token.
type LoginFailure struct {
	Message string
}

func (LoginSuccess) loginResult() {}
func (LoginFailure) loginResult() {}

// loginFields are the credential entries that sit alongside the user profile
// in a login response's data object.
var loginFields = []string{"token", "refreshToken", "expiresAt", "message"}

// ParseLogin narrows a login envelope into a LoginResult. Only the token
// decides success; the profile is decoded leniently around it.
func ParseLogin(env Envelope) LoginResult {
	var data map[string]json.RawMessage
	if len(env.Data) == 0 || json.Unmarshal(env.Data, &data) != nil {
		return LoginFailure{Message: failureText(env.Text())}
	}
	token := stringField(data, "token")
	message := stringField(data, "message")
	if !env.Successfully || strings.TrimSpace(token) == "" {
		msg := env.Text()
		if msg == "" {
			msg = message
		}
		return LoginFailure{Message: failureText(msg)}
	}

	var identity credential.Identity
	if err := json.Unmarshal(env.Data, &identity); err != nil {
		return LoginFailure{Message: failureText(env.Text())}
	}
	for _, name := range loginFields {
		delete(identity.Extra, name)
	}
	if len(identity.Extra) == 0 {
		identity.Extra = nil
	}
	return LoginSuccess{
		Tokens: credential.Tokens{
			Token:        token,
			RefreshToken: stringField(data, "refreshToken"),
			ExpiresAt:    int64Field(data, "expiresAt"),
		},
		Identity: identity,
		Message:  message,
	}
}

func stringField(data map[string]json.RawMessage, name string) string {
	var s string
	if raw, ok := data[name]; ok && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

// int64Field accepts integers, floats and numeric strings.
func int64Field(data map[string]json.RawMessage, name string) int64 {
	raw, ok := data[name]
	if !ok {
		return 0
	}
	var n json.Number
	if json.Unmarshal(raw, &n) != nil {
		return 0
	}
	if v, err := n.Int64(); err == nil {
		return v
	}
	if f, err := n.Float64(); err == nil {
		return int64(f)
	}
	return 0
}

func failureText(msg string) string {
	if msg == "" {
		return "Login failed"
	}
	return msg
}

// googleSignupResponse is not enveloped: the token and user sit at the top level.
type googleSignupResponse struct {
	Token string               `json:"token"`
	User  *credential.Identity `json:"user"`
}

type refreshData struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
}
