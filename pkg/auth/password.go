// Package auth implements password hashing, session tokens and the session
// lifecycle: creation, quick and full verification, revocation and expiry.
package auth

import (
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns the bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword returns true iff the password matches the hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var (
	usernameRE = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)
	emailRE    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// ValidUsername returns true iff the username is 3-20 word characters.
func ValidUsername(username string) bool {
	return usernameRE.MatchString(username)
}

// ValidEmail returns true iff the email has a plausible shape.
func ValidEmail(email string) bool {
	return len(email) <= 254 && emailRE.MatchString(email)
}

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 8

// ValidPassword returns true iff the password is acceptable.
func ValidPassword(password string) bool {
	return len(password) >= MinPasswordLength
}
