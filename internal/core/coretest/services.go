package coretest

import (
	"context"
	"sync"

	"github.com/dkeye/voicectl/internal/core"
	"github.com/dkeye/voicectl/internal/domain"
)

// TicketFunc adapts a function to core.TicketService.
type TicketFunc func(ctx context.Context, accessToken string) (*domain.SessionTicket, error)

func (f TicketFunc) ExchangeForTicket(ctx context.Context, accessToken string) (*domain.SessionTicket, error) {
	return f(ctx, accessToken)
}

// IdentityFunc adapts a function to core.IdentityService.
type IdentityFunc func(ctx context.Context, subject, secret string) (string, error)

func (f IdentityFunc) Authenticate(ctx context.Context, subject, secret string) (string, error) {
	return f(ctx, subject, secret)
}

// Notification is a recorded core.Notifier message.
type Notification struct {
	Title       string
	Description string
}

// Notifications records every message it is given.
type Notifications struct {
	mu   sync.Mutex
	list []Notification
}

func (n *Notifications) Notify(title, description string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, Notification{Title: title, Description: description})
}

func (n *Notifications) All() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.list...)
}

var (
	_ core.IdentityService = IdentityFunc(nil)
	_ core.TicketService   = TicketFunc(nil)
	_ core.Notifier        = (*Notifications)(nil)
)
