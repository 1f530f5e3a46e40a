// Package policy holds the account naming and password rules shared by
// registration, password changes and request validation.
package policy

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MinUsernameLength = 4
	MaxUsernameLength = 16
	MinPasswordLength = 8

	forbiddenUsernamePart = "admin"

	// Characters counting as "special" for the password rule.
	specialChars = `!*#,;?+-_.=~^%(){}|:"/`
	// Permitted in passwords without counting as special.
	extraPasswordChars = "@"
)

// IsValidUsername reports whether s is 4-16 ASCII letters or digits and does
// not contain "admin" in any letter case.
func IsValidUsername(s string) bool {
	if len(s) < MinUsernameLength || len(s) > MaxUsernameLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isAlnum(s[i]) {
			return false
		}
	}
	return !strings.Contains(strings.ToLower(s), forbiddenUsernamePart)
}

// IsValidPassword reports whether s has at least 8 characters including a
// digit, an upper case letter, a lower case letter and a special character,
// and nothing outside that alphabet.
func IsValidPassword(s string) bool {
	if len(s) < MinPasswordLength {
		return false
	}

	var digit, upper, lower, special bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digit = true
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= 'a' && c <= 'z':
			lower = true
		case strings.IndexByte(specialChars, c) >= 0:
			special = true
		case strings.IndexByte(extraPasswordChars, c) >= 0:
		default:
			return false
		}
	}
	return digit && upper && lower && special
}

// Register adds the "username" and "password" tags to v.
func Register(v *validator.Validate) error {
	if err := v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return IsValidUsername(fl.Field().String())
	}); err != nil {
		return err
	}
	return v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return IsValidPassword(fl.Field().String())
	})
}

// NewValidator returns a validator with the policy tags registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	if err := Register(v); err != nil {
		panic(err)
	}
	return v
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
