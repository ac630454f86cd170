package core

import (
	"context"

	"github.com/dkeye/voicectl/internal/domain"
)

// BlobStore is a persistent key-value store of opaque strings.
type BlobStore interface {
	// Get returns ok=false when the key does not exist.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// IdentityService exchanges a subject/secret pair for an access token.
type IdentityService interface {
	Authenticate(ctx context.Context, subject, secret string) (token string, err error)
}

// TicketService exchanges an access token for connection parameters.
type TicketService interface {
	ExchangeForTicket(ctx context.Context, accessToken string) (*domain.SessionTicket, error)
}

// Notifier surfaces user-facing messages, e.g. as toasts or terminal lines.
type Notifier interface {
	Notify(title, description string)
}

type NotifierFunc func(title, description string)

func (f NotifierFunc) Notify(title, description string) { f(title, description) }
