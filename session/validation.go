package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jrsteele09/storefront-session/api"
	"github.com/jrsteele09/storefront-session/autherr"
)

var emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

func (m *Manager) validateCredentials(creds api.LoginCredentials) error {
	if strings.TrimSpace(creds.Email) == "" {
		return autherr.NewValidation("Email is required")
	}
	if creds.Password == "" {
		return autherr.NewValidation("Password is required")
	}
	return m.validateEmailAndPassword(creds.Email, creds.Password)
}

func (m *Manager) validateEmailAndPassword(email, password string) error {
	if !emailPattern.MatchString(email) {
		return autherr.NewValidation("Please enter a valid email address")
	}
	if len(password) < m.minPasswordLength {
		return autherr.NewValidation(fmt.Sprintf("Password must be at least %d characters long", m.minPasswordLength))
	}
	return nil
}

type requiredField struct {
	label string
	value string
}

func firstMissing(fields ...requiredField) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return autherr.NewValidation(f.label + " is required")
		}
	}
	return nil
}

func (m *Manager) validateSignup(data api.SignupData) error {
	if err := firstMissing(
		requiredField{"FirstName", data.FirstName},
		requiredField{"LastName", data.LastName},
		requiredField{"Email", data.Email},
		requiredField{"Password", data.Password},
		requiredField{"PhoneNumber", data.PhoneNumber},
	); err != nil {
		return err
	}
	return m.validateEmailAndPassword(data.Email, data.Password)
}

func (m *Manager) validateAdminSignup(data api.AdminSignupData) error {
	for _, v := range []string{data.FirstName, data.LastName, data.UserName, data.Email, data.Password} {
		if strings.TrimSpace(v) == "" {
			return autherr.NewValidation("All fields are required")
		}
	}
	return m.validateEmailAndPassword(data.Email, data.Password)
}

func validateSendVerification(data api.EmailVerificationData) error {
	if strings.TrimSpace(data.Email) == "" {
		return autherr.NewValidation("Email is required")
	}
	return nil
}

func validateVerifyEmail(data api.EmailVerificationData) error {
	if strings.TrimSpace(data.Email) == "" || strings.TrimSpace(data.OTP) == "" {
		return autherr.NewValidation("Email and OTP are required")
	}
	return nil
}
