// Package tokenstore persists the signed-in GitHub session across restarts.
package tokenstore

import (
	"context"
	"errors"
	"time"
)

// ErrNoSession is returned by Load when nobody is signed in.
var ErrNoSession = errors.New("no stored session")

// User is the authenticated GitHub identity.
type User struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatarUrl"`
}

// Session pairs an access token with the identity it belongs to.
type Session struct {
	Token     string    `json:"token"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
}

// Valid reports whether the session can authorize writes.
func (s *Session) Valid() bool {
	return s != nil && s.Token != "" && s.User.Login != ""
}

// Store defines durable session storage. There is at most one session.
type Store interface {
	// Load returns the stored session or ErrNoSession.
	Load(ctx context.Context) (*Session, error)
	// Save replaces the stored session.
	Save(ctx context.Context, s *Session) error
	// Clear removes the stored session. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}
