// Package domain holds the client entities and the failures surfaced to callers.
package domain

import (
	"errors"
	"time"
)

const (
	MaxEmailLen = 254
)

var (
	ErrSubjectEmpty   = errors.New("subject empty")
	ErrSubjectTooLong = errors.New("subject too long")
)

type UserID string

// Subject is the identity a credential was issued for.
type Subject struct {
	ID    UserID `json:"id"`
	Email string `json:"email"`
}

// Credential is the short-lived access token kept by the client.
// ExpiresAt holds epoch seconds; nil means the issuer did not state an expiry.
type Credential struct {
	AccessToken string  `json:"access_token"`
	ExpiresAt   *int64  `json:"expires_at,omitempty"`
	User        Subject `json:"user"`
}

// NewSubject is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewSubject(id UserID, email string) (*Subject, error) {
	if len(email) == 0 {
		return nil, ErrSubjectEmpty
	}
	if len(email) > MaxEmailLen {
		return nil, ErrSubjectTooLong
	}
	return &Subject{ID: id, Email: email}, nil
}

// ExpiredAt reports whether the credential is expired at now (seconds resolution).
func (c *Credential) ExpiredAt(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return now.Unix() >= *c.ExpiresAt
}

// Remaining returns the validity left at now, or -1 when no expiry is known.
func (c *Credential) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return -1
	}
	return time.Unix(*c.ExpiresAt, 0).Sub(now)
}
