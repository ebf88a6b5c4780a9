// Package models defines the core domain entities for the brainscan client.
// These models represent the authenticated session, submitted images, raw predictions
// returned by the screening API, and the interpretations derived from them.
// Entities that cross a trust boundary include validation to keep bad data out of the workflows.
package models

import (
	"errors"
	"strings"
)

// User is the identity attached to an authenticated session.
type User struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Validate checks that the user carries an identity.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return errors.New("username must not be empty")
	}
	return nil
}

// SessionState discriminates the Session variant.
type SessionState int

const (
	// Anonymous sessions carry neither token nor user.
	Anonymous SessionState = iota
	// Authenticated sessions carry both.
	Authenticated
)

func (s SessionState) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

// Session is either Anonymous or Authenticated{token, user}. The zero value is Anonymous.
// Fields are unexported so a token can never exist without a user and vice versa.
type Session struct {
	state SessionState
	token string
	user  User
}

// AnonymousSession returns the empty session.
func AnonymousSession() Session {
	return Session{}
}

// NewAuthenticated builds an authenticated session, rejecting incomplete pairs.
func NewAuthenticated(token string, user User) (Session, error) {
	if token == "" {
		return Session{}, errors.New("session token must not be empty")
	}
	if err := user.Validate(); err != nil {
		return Session{}, err
	}
	return Session{state: Authenticated, token: token, user: user}, nil
}

// State reports which variant the session holds.
func (s Session) State() SessionState { return s.state }

// IsAuthenticated reports whether the session holds a verified token.
func (s Session) IsAuthenticated() bool { return s.state == Authenticated }

// Token returns the bearer credential, or "" when anonymous.
func (s Session) Token() string { return s.token }

// User returns the session identity, or nil when anonymous.
func (s Session) User() *User {
	if s.state != Authenticated {
		return nil
	}
	u := s.user
	return &u
}
