package devserver

import (
	"context"
	"time"

	"github.com/dkeye/voicectl/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const SignalPath = "/rtc"

type Config struct {
	Mode       string
	Secret     string
	AuthPath   string
	TicketPath string
	// DeviceCode is the one code the auth endpoint accepts.
	DeviceCode    string
	RoomName      string
	AgentIdentity string
	WebRTC        webrtc.Configuration
}

type Server struct {
	Room *Room
	cfg  Config
	now  func() time.Time
}

func New(cfg Config) *Server {
	if cfg.AuthPath == "" {
		cfg.AuthPath = "/api/hardware_auth"
	}
	if cfg.TicketPath == "" {
		cfg.TicketPath = "/api/livekit-token"
	}
	if cfg.DeviceCode == "" {
		cfg.DeviceCode = "123456"
	}
	if cfg.RoomName == "" {
		cfg.RoomName = "dev-room"
	}
	if cfg.AgentIdentity == "" {
		cfg.AgentIdentity = "agent-dev"
	}
	room := NewRoom(domain.RoomName(cfg.RoomName), NewAgent(cfg.AgentIdentity))
	room.webrtc = cfg.WebRTC
	room.RequireTokens()
	return &Server{Room: room, cfg: cfg, now: time.Now}
}

// Router serves the identity, ticketing and signaling endpoints.
func (s *Server) Router(ctx context.Context) *gin.Engine {
	if s.cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if s.cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET(s.cfg.AuthPath, s.handleAuth)
	r.POST(s.cfg.TicketPath, s.handleTicket)
	r.GET(SignalPath, func(c *gin.Context) {
		s.Room.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "devserver").Str("room", s.cfg.RoomName).Str("agent", s.cfg.AgentIdentity).Msg("router setup")
	return r
}
