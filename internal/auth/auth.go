// Package auth provides minimal authentication helpers.
//
// It intentionally avoids policy decisions and storage concerns.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// Authenticator checks a principal's credentials.
type Authenticator interface {
	Authenticate(principal, credentials string) error
}

// StaticToken is a simple validator for a single shared token.
// It is intended only for development and proofs of concept.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// AnyPrincipal accepts any principal whose credentials pass the validator.
type AnyPrincipal struct {
	Validator Validator
}

func (a AnyPrincipal) Authenticate(_ string, credentials string) error {
	if a.Validator == nil {
		return ErrUnauthorized
	}
	return a.Validator.Validate(credentials)
}

// UserTable maps principals to tokens.
type UserTable struct {
	mu    sync.RWMutex
	users map[string]string
}

func NewUserTable(users map[string]string) *UserTable {
	t := &UserTable{users: make(map[string]string, len(users))}
	for name, token := range users {
		t.users[strings.TrimSpace(name)] = token
	}
	return t
}

func (t *UserTable) Authenticate(principal, credentials string) error {
	t.mu.RLock()
	token, ok := t.users[strings.TrimSpace(principal)]
	t.mu.RUnlock()
	if !ok {
		return ErrUnauthorized
	}
	return StaticToken{Token: token}.Validate(credentials)
}

// Replace swaps the whole table, used on config reload.
func (t *UserTable) Replace(users map[string]string) {
	next := make(map[string]string, len(users))
	for name, token := range users {
		next[strings.TrimSpace(name)] = token
	}
	t.mu.Lock()
	t.users = next
	t.mu.Unlock()
}

func (t *UserTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users)
}
