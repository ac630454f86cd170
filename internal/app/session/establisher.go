// Package session exchanges operator secrets for a credential and a credential
// for a one-time media session ticket.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/voicectl/internal/app/credential"
	"github.com/dkeye/voicectl/internal/core"
	"github.com/dkeye/voicectl/internal/domain"
	"github.com/rs/zerolog/log"
)

// Rejection texts the identity service returns with a 200 status.
var rejectionCodes = map[string]struct{}{
	"INVALID_CODE":  {},
	"INVALID_EMAIL": {},
	"COULD NOT VERIFY USER DEVICE RELATIONSHIP": {},
}

type Establisher struct {
	identity core.IdentityService
	tickets  core.TicketService
	creds    *credential.Store
	now      func() time.Time
}

func NewEstablisher(identity core.IdentityService, tickets core.TicketService, creds *credential.Store) *Establisher {
	return &Establisher{
		identity: identity,
		tickets:  tickets,
		creds:    creds,
		now:      time.Now,
	}
}

// WithClock replaces the time source used for local expiry checks.
func (e *Establisher) WithClock(now func() time.Time) *Establisher {
	e.now = now
	return e
}

// Authenticate exchanges subjectRef/secret for a credential and stores it.
func (e *Establisher) Authenticate(ctx context.Context, subjectRef, secret string) (*domain.Credential, error) {
	subjectRef = strings.TrimSpace(subjectRef)
	secret = strings.TrimSpace(secret)
	if subjectRef == "" || secret == "" {
		return nil, fmt.Errorf("%w: subject and secret are required", domain.ErrInvalidInput)
	}

	token, err := e.identity.Authenticate(ctx, subjectRef, secret)
	if err != nil {
		log.Error().Err(err).Str("module", "app.session").Str("subject", subjectRef).Msg("identity request failed")
		if errors.Is(err, domain.ErrAuthFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthFailed, err)
	}
	token = strings.TrimSpace(token)
	if _, rejected := rejectionCodes[token]; rejected {
		log.Warn().Str("module", "app.session").Str("subject", subjectRef).Str("code", token).Msg("identity service rejected credentials")
		return nil, fmt.Errorf("%w: %s", domain.ErrAuthFailed, token)
	}
	if strings.Count(token, ".") != 2 {
		return nil, fmt.Errorf("%w: token is not a JWT", domain.ErrMalformedCredential)
	}

	claims, err := ParseClaims(token)
	if err != nil {
		log.Error().Err(err).Str("module", "app.session").Msg("token claims unreadable")
		return nil, err
	}

	subject, err := domain.NewSubject(claims.UserID, subjectRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	cred := domain.Credential{
		AccessToken: token,
		ExpiresAt:   claims.ExpiresAt,
		User:        *subject,
	}
	if err := e.creds.Save(ctx, cred); err != nil {
		return nil, err
	}

	ev := log.Info().Str("module", "app.session").Str("user", string(cred.User.ID))
	if cred.ExpiresAt != nil {
		ev = ev.Time("expires_at", time.Unix(*cred.ExpiresAt, 0))
	}
	ev.Msg("authenticated")
	return &cred, nil
}

// EstablishSession exchanges a valid credential for a fresh session ticket.
func (e *Establisher) EstablishSession(ctx context.Context, cred domain.Credential) (*domain.SessionTicket, error) {
	if e.expired(cred) {
		log.Warn().Str("module", "app.session").Str("user", string(cred.User.ID)).Msg("credential expired before ticket request")
		return nil, domain.ErrCredentialExpired
	}

	ticket, err := e.tickets.ExchangeForTicket(ctx, cred.AccessToken)
	if err != nil {
		log.Error().Err(err).Str("module", "app.session").Msg("ticket request failed")
		if errors.Is(err, domain.ErrCredentialExpired) || errors.Is(err, domain.ErrTicketRequestFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrTicketRequestFailed, err)
	}
	if ticket == nil || ticket.JoinToken == "" || ticket.MediaURL == "" {
		return nil, fmt.Errorf("%w: incomplete ticket", domain.ErrTicketRequestFailed)
	}

	log.Info().
		Str("module", "app.session").
		Str("room", string(ticket.Room)).
		Str("correlation_id", string(ticket.CorrelationID)).
		Msg("session ticket issued")
	return ticket, nil
}

// InitializeSession authenticates and immediately requests a ticket.
func (e *Establisher) InitializeSession(ctx context.Context, subjectRef, secret string) (*domain.Credential, *domain.SessionTicket, error) {
	cred, err := e.Authenticate(ctx, subjectRef, secret)
	if err != nil {
		return nil, nil, err
	}
	ticket, err := e.EstablishSession(ctx, *cred)
	if err != nil {
		return cred, nil, err
	}
	return cred, ticket, nil
}

func (e *Establisher) expired(cred domain.Credential) bool {
	now := e.now()
	if cred.ExpiresAt != nil {
		return cred.ExpiredAt(now)
	}
	// Fall back to the token's own exp claim; an unreadable token is left for
	// the ticketing service to judge.
	claims, err := ParseClaims(cred.AccessToken)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("could not read token expiry")
		return false
	}
	return claims.ExpiresAt != nil && now.Unix() >= *claims.ExpiresAt
}
