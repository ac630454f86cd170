package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/voicectl/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type LoginRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type MeResponse struct {
	UserID    domain.UserID `json:"user_id"`
	Email     string        `json:"email,omitempty"`
	ExpiresAt *int64        `json:"expires_at,omitempty"`
}

func meFrom(c *domain.Credential) MeResponse {
	return MeResponse{UserID: c.User.ID, Email: c.User.Email, ExpiresAt: c.ExpiresAt}
}

// statusOf maps client errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthFailed),
		errors.Is(err, domain.ErrNotAuthenticated),
		errors.Is(err, domain.ErrCredentialExpired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrMalformedCredential),
		errors.Is(err, domain.ErrTicketRequestFailed),
		errors.Is(err, domain.ErrConnectionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// saveSession writes the cookie session. A failure only costs the UI its
// cookie, so it is logged rather than returned.
func saveSession(c *gin.Context, sess sessions.Session) {
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("client", c.GetString("client_token")).Str("path", c.FullPath()).Msg("session save")
	}
}

func fail(c *gin.Context, err error) {
	status := statusOf(err)
	log.Warn().Err(err).Str("module", "adapters.http").Str("client", c.GetString("client_token")).Int("status", status).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

func (a *API) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid body"})
		return
	}
	cred, err := a.Sessions.Authenticate(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		fail(c, err)
		return
	}
	sess := sessions.Default(c)
	sess.Set("user_id", string(cred.User.ID))
	saveSession(c, sess)
	c.JSON(http.StatusOK, meFrom(cred))
}

func (a *API) logout(c *gin.Context) {
	ctx := c.Request.Context()
	if err := a.Orch.StopSession(ctx); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("stop session on logout")
	}
	if err := a.Creds.Clear(ctx); err != nil {
		fail(c, err)
		return
	}
	sess := sessions.Default(c)
	sess.Clear()
	saveSession(c, sess)
	c.Status(http.StatusNoContent)
}

func (a *API) me(c *gin.Context) {
	cred, err := a.Creds.Load(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if cred == nil {
		fail(c, domain.ErrNotAuthenticated)
		return
	}
	c.JSON(http.StatusOK, meFrom(cred))
}

func (a *API) state(c *gin.Context) {
	c.JSON(http.StatusOK, a.Orch.Snapshot())
}

func (a *API) startSession(c *gin.Context) {
	if err := a.Orch.StartSession(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a.Orch.Snapshot())
}

func (a *API) stopSession(c *gin.Context) {
	if err := a.Orch.StopSession(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a.Orch.Snapshot())
}

func (a *API) startTurn(c *gin.Context) {
	a.Orch.Turns.StartTurn(c.Request.Context())
	c.JSON(http.StatusOK, a.Orch.Snapshot())
}

func (a *API) endTurn(c *gin.Context) {
	a.Orch.Turns.EndTurn(c.Request.Context())
	c.JSON(http.StatusOK, a.Orch.Snapshot())
}

func (a *API) cancelTurn(c *gin.Context) {
	a.Orch.Turns.CancelTurn(c.Request.Context())
	c.JSON(http.StatusOK, a.Orch.Snapshot())
}
