package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dkeye/voicectl/internal/domain"
	"github.com/rs/zerolog/log"
)

// Authenticate returns the raw token text. The service answers some
// rejections with a 200 and a code in the body; those are judged by the caller.
func (c *Client) Authenticate(ctx context.Context, subject, secret string) (string, error) {
	q := url.Values{}
	q.Set("device_code", secret)
	q.Set("email", subject)
	q.Set("mac_address", c.cfg.DeviceID)
	q.Set("expire_days", strconv.Itoa(c.cfg.ExpireDays))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+c.cfg.AuthPath+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	body := readBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error().Str("module", "adapters.backend").Int("status", resp.StatusCode).Str("body", body).Msg("hardware auth failed")
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrAuthFailed, resp.StatusCode, body)
	}
	return body, nil
}
