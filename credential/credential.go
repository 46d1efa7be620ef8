package credential

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Tokens is the bearer credential issued by the backend.
// ExpiresAt is epoch milliseconds; zero means the token never expires locally.
type Tokens struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
}

// HasExpiry reports whether the tokens carry an absolute expiry.
func (t Tokens) HasExpiry() bool {
	return t.ExpiresAt > 0
}

// Expired reports whether the literal expiry has passed.
func (t Tokens) Expired(now time.Time) bool {
	if !t.HasExpiry() {
		return false
	}
	return now.UnixMilli() >= t.ExpiresAt
}

// Stale reports whether the tokens are within threshold of expiry and should
// be refreshed before use.
func (t Tokens) Stale(now time.Time, threshold time.Duration) bool {
	if !t.HasExpiry() {
		return false
	}
	return now.UnixMilli() >= t.ExpiresAt-threshold.Milliseconds()
}

// Valid is true when the token is non-empty and not literally expired.
func (t Tokens) Valid(now time.Time) bool {
	return t.Token != "" && !t.Expired(now)
}

// RoleType is the role discriminator carried on an Identity.
type RoleType string

const (
	RoleAdmin RoleType = "ADMIN"
	RoleUser  RoleType = "USER"
)

// Identity is the authenticated principal's profile as returned by the backend.
// Decoding is lenient: a field whose value does not fit its Go type, and any
// field this struct does not name, is kept verbatim in Extra and written back
// out on encode.
type Identity struct {
	ID          int64    `json:"id,omitempty"`
	FirstName   string   `json:"firstName,omitempty"`
	LastName    string   `json:"lastName,omitempty"`
	UserName    string   `json:"userName,omitempty"`
	Email       string   `json:"email,omitempty"`
	PhoneNumber string   `json:"phoneNumber,omitempty"`
	Address     string   `json:"address,omitempty"`
	City        string   `json:"city,omitempty"`
	State       string   `json:"state,omitempty"`
	Country     string   `json:"country,omitempty"`
	DateCreated []int    `json:"dateCreated,omitempty"`
	IsVerified  bool     `json:"isVerified,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	Role        RoleType `json:"role,omitempty"`
	AdminRole   RoleType `json:"adminRole,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// identityFields has Identity's fields without its methods.
type identityFields Identity

var identityJSONNames = jsonNames(reflect.TypeOf(identityFields{}))

func jsonNames(t reflect.Type) map[string]bool {
	names := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			names[name] = true
		}
	}
	return names
}

func (i *Identity) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var fields identityFields
	var extra map[string]json.RawMessage
	for name, value := range raw {
		if identityJSONNames[name] {
			one, err := json.Marshal(map[string]json.RawMessage{name: value})
			var scratch identityFields
			if err == nil && json.Unmarshal(one, &scratch) == nil {
				_ = json.Unmarshal(one, &fields)
				continue
			}
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[name] = value
	}
	fields.Extra = extra
	*i = Identity(fields)
	return nil
}

func (i Identity) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(identityFields(i))
	if err != nil || len(i.Extra) == 0 {
		return known, err
	}
	merged := make(map[string]json.RawMessage, len(i.Extra))
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for name, value := range i.Extra {
		if _, ok := merged[name]; !ok {
			merged[name] = value
		}
	}
	return json.Marshal(merged)
}

// HasRole checks both role fields, since admin sessions may carry either.
func (i Identity) HasRole(role RoleType) bool {
	return i.Role == role || i.AdminRole == role
}

// IsAdmin is what router guards query to gate admin views.
func (i Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

// Initials returns up to two upper-case letters for avatar display.
func (i Identity) Initials() string {
	switch {
	case i.FirstName != "" && i.LastName != "":
		return upperFirst(i.FirstName) + upperFirst(i.LastName)
	case i.UserName != "":
		return upperFirst(i.UserName)
	case i.Email != "":
		return upperFirst(i.Email)
	}
	return ""
}

func upperFirst(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return ""
	}
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] -= 'a' - 'A'
	}
	return string(r[:1])
}

// SessionRecord is persisted and cleared as one unit.
type SessionRecord struct {
	Tokens    Tokens   `json:"tokens"`
	Identity  Identity `json:"identity"`
	Timestamp int64    `json:"timestamp"`
}

// NewSessionRecord stamps a record with the current time.
func NewSessionRecord(tokens Tokens, identity Identity) SessionRecord {
	return SessionRecord{
		Tokens:    tokens,
		Identity:  identity,
		Timestamp: NowTimeFunc().UnixMilli(),
	}
}

// Complete is the invariant every stored record must satisfy.
func (r SessionRecord) Complete() bool {
	return r.Tokens.Token != ""
}
