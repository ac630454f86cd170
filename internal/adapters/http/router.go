// Package http serves the local control API a UI process uses to drive the
// client: login, session start and stop, turn control and state.
package http

import (
	"github.com/dkeye/voicectl/internal/app/credential"
	"github.com/dkeye/voicectl/internal/app/orch"
	"github.com/dkeye/voicectl/internal/app/session"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type RouterConfig struct {
	Mode   string
	Secret string
}

type API struct {
	Orch     *orch.Orchestrator
	Sessions *session.Establisher
	Creds    *credential.Store
	Gatherer prometheus.Gatherer
}

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware tags each UI client with a cookie-backed id for logs.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(cfg RouterConfig, api *API) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, MaxAge: 3600 * 24 * 7})
	r.Use(sessions.Sessions("VoiceSessions", store))
	r.Use(ClientTokenMiddleware())

	if api.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(api.Gatherer, promhttp.HandlerOpts{})))
	}

	g := r.Group("/api")
	g.POST("/login", api.login)
	g.POST("/logout", api.logout)
	g.GET("/me", api.me)
	g.GET("/state", api.state)
	g.POST("/session/start", api.startSession)
	g.POST("/session/stop", api.stopSession)
	g.POST("/turn/start", api.startTurn)
	g.POST("/turn/end", api.endTurn)
	g.POST("/turn/cancel", api.cancelTurn)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
