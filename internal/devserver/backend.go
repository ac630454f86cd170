package devserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dkeye/voicectl/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Identity and ticketing endpoints. The wire shapes follow the hosted
// backend: rejections on the auth endpoint come back as 200 with a code.

type ticketRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleAuth(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	code := strings.TrimSpace(c.Query("device_code"))
	device := c.Query("mac_address")

	switch {
	case email == "" || !strings.Contains(email, "@"):
		c.String(http.StatusOK, "INVALID_EMAIL")
		return
	case code != s.cfg.DeviceCode:
		c.String(http.StatusOK, "INVALID_CODE")
		return
	case device == "":
		c.String(http.StatusOK, "COULD NOT VERIFY USER DEVICE RELATIONSHIP")
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("expire_days", "30"))
	if err != nil || days <= 0 {
		days = 30
	}
	token, err := s.issueAccessToken(email, time.Duration(days)*24*time.Hour)
	if err != nil {
		log.Error().Err(err).Str("module", "devserver").Msg("sign token")
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	log.Info().Str("module", "devserver").Str("email", email).Str("device", device).Msg("issued access token")
	c.String(http.StatusOK, token)
}

func (s *Server) issueAccessToken(email string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": uuid.NewSHA1(uuid.NameSpaceURL, []byte(email)).String(),
		"email":   email,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
}

func (s *Server) verifyAccessToken(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return []byte(s.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims")
	}
	uid, _ := claims["user_id"].(string)
	return uid, nil
}

func (s *Server) handleTicket(c *gin.Context) {
	var req ticketRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	uid, err := s.verifyAccessToken(req.Token)
	if err != nil {
		log.Warn().Err(err).Str("module", "devserver").Msg("ticket request with bad token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token expired or invalid"})
		return
	}

	scheme := "ws"
	if c.Request.TLS != nil {
		scheme = "wss"
	}
	ticket := domain.SessionTicket{
		JoinToken:     s.Room.IssueToken(),
		MediaURL:      scheme + "://" + c.Request.Host + SignalPath,
		Room:          s.Room.Name,
		CorrelationID: domain.CorrelationID(uuid.NewString()),
	}
	log.Info().Str("module", "devserver").Str("user", uid).Str("correlation_id", string(ticket.CorrelationID)).Msg("issued ticket")
	c.JSON(http.StatusOK, ticket)
}
