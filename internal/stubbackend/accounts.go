package stubbackend

import (
	"strings"
	"sync"

	"github.com/jrsteele09/storefront-session/credential"
	apperrors "github.com/jrsteele09/storefront-session/internal/errors"
	"golang.org/x/crypto/bcrypt"
)

// Account is a registered principal as the backend stores it.
type Account struct {
	Profile      credential.Identity
	PasswordHash string
	OTP          string
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// AccountStore keeps accounts in memory, keyed by lower-cased email.
type AccountStore struct {
	lock     sync.RWMutex
	accounts map[string]*Account
	nextID   int64
}

func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string]*Account)}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create adds a new account, assigning its ID and creation date.
func (s *AccountStore) Create(profile credential.Identity, password string) (*Account, error) {
	var hash string
	if password != "" {
		h, err := HashPassword(password)
		if err != nil {
			return nil, err
		}
		hash = h
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	key := emailKey(profile.Email)
	if _, ok := s.accounts[key]; ok {
		return nil, apperrors.ErrUserExists
	}
	s.nextID++
	profile.ID = s.nextID
	now := NowTimeFunc()
	profile.DateCreated = []int{now.Year(), int(now.Month()), now.Day()}
	acc := &Account{Profile: profile, PasswordHash: hash}
	s.accounts[key] = acc
	return acc, nil
}

func (s *AccountStore) GetByEmail(email string) (*Account, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	acc, ok := s.accounts[emailKey(email)]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	cp := *acc
	return &cp, nil
}

func (s *AccountStore) GetByID(id int64) (*Account, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	for _, acc := range s.accounts {
		if acc.Profile.ID == id {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, apperrors.ErrUserNotFound
}

// Authenticate returns the account when password matches its hash.
func (s *AccountStore) Authenticate(email, password string) (*Account, bool) {
	acc, err := s.GetByEmail(email)
	if err != nil || acc.PasswordHash == "" {
		return nil, false
	}
	if !CheckPasswordHash(password, acc.PasswordHash) {
		return nil, false
	}
	return acc, true
}

func (s *AccountStore) SetOTP(email, otp string) error {
	return s.update(email, func(acc *Account) { acc.OTP = otp })
}

// Verify marks the account verified when otp matches the last issued code.
func (s *AccountStore) Verify(email, otp string) (bool, error) {
	matched := false
	err := s.update(email, func(acc *Account) {
		if acc.OTP != "" && acc.OTP == otp {
			acc.OTP = ""
			acc.Profile.IsVerified = true
			matched = true
		}
	})
	return matched, err
}

func (s *AccountStore) update(email string, fn func(*Account)) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	acc, ok := s.accounts[emailKey(email)]
	if !ok {
		return apperrors.ErrUserNotFound
	}
	fn(acc)
	return nil
}

// PendingOTP returns the unconsumed verification code for email, if any.
func (s *AccountStore) PendingOTP(email string) string {
	acc, err := s.GetByEmail(email)
	if err != nil {
		return ""
	}
	return acc.OTP
}
