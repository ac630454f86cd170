package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dkeye/voicectl/internal/domain"
	"github.com/rs/zerolog/log"
)

type ticketRequest struct {
	Token string `json:"token"`
}

// ExchangeForTicket asks the backend for a one-time media join ticket.
func (c *Client) ExchangeForTicket(ctx context.Context, accessToken string) (*domain.SessionTicket, error) {
	b, err := json.Marshal(ticketRequest{Token: accessToken})
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", domain.ErrTicketRequestFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.TicketPath, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTicketRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTicketRequestFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		body := readBody(resp)
		log.Warn().Str("module", "adapters.backend").Str("body", body).Msg("ticket request rejected, credential expired")
		return nil, fmt.Errorf("%w: %s", domain.ErrCredentialExpired, body)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body := readBody(resp)
		log.Error().Str("module", "adapters.backend").Int("status", resp.StatusCode).Str("body", body).Msg("ticket request failed")
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrTicketRequestFailed, resp.StatusCode, body)
	}

	var ticket domain.SessionTicket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrTicketRequestFailed, err)
	}
	return &ticket, nil
}
