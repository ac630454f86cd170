// Package backend talks to the identity and ticketing HTTP services.
package backend

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultAuthPath   = "/api/hardware_auth"
	DefaultTicketPath = "/api/livekit-token"
	maxBody           = 1 << 20
)

type Config struct {
	BaseURL    string
	AuthPath   string
	TicketPath string
	ExpireDays int
	Timeout    time.Duration
	// DeviceID identifies this client to the identity service. Generated when empty.
	DeviceID string
}

// Client implements core.IdentityService and core.TicketService.
type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config, hc *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend url is not configured")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.AuthPath == "" {
		cfg.AuthPath = DefaultAuthPath
	}
	if cfg.TicketPath == "" {
		cfg.TicketPath = DefaultTicketPath
	}
	if cfg.ExpireDays <= 0 {
		cfg.ExpireDays = 30
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = NewDeviceID()
	}
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, http: hc}, nil
}

// NewDeviceID returns a pseudo hardware address in the WEB:XXXXXX:LOGIN form
// the identity service expects from non-hardware clients.
func NewDeviceID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("WEB:%s:LOGIN", strings.ToUpper(id[:6]))
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	return strings.TrimSpace(string(b))
}
