// Package auth authenticates API users and issues bearer tokens.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("incorrect username or password")

// Users holds the accounts allowed to request tokens.
type Users struct {
	secrets map[string]string
}

// ParseUsers reads "user:secret" entries. A secret starting with "$2" is
// treated as a bcrypt hash, anything else as a plain password.
func ParseUsers(entries []string) (*Users, error) {
	u := &Users{secrets: make(map[string]string, len(entries))}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, secret, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || secret == "" {
			return nil, fmt.Errorf("invalid user entry %q (want user:password)", name)
		}
		u.secrets[name] = secret
	}
	return u, nil
}

// Len returns the number of configured users.
func (u *Users) Len() int {
	return len(u.secrets)
}

// Authenticate checks password for username.
func (u *Users) Authenticate(username, password string) error {
	secret, ok := u.secrets[username]
	if !ok {
		// Keep timing close to the known-user path.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return ErrInvalidCredentials
	}
	if isBcrypt(secret) {
		if err := bcrypt.CompareHashAndPassword([]byte(secret), []byte(password)); err != nil {
			return ErrInvalidCredentials
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(password)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z6DuaFZvvi1Otmlh3hT5M/Ny")

// HashPassword returns a bcrypt hash suitable for API_USERS.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
