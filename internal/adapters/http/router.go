package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/castbeam/relay/internal/adapters/ws"
	"github.com/castbeam/relay/internal/app"
	"github.com/castbeam/relay/internal/app/relay"
	"github.com/castbeam/relay/internal/config"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware gives every browser a stable identity cookie.
// The token doubles as the connection ID on both transports, so a
// reconnecting host keeps its standing.
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

func SetupRouter(ctx context.Context, cfg *config.Config, store *app.SessionStore, router *relay.Router) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RelaySessions", cookieStore))
	r.Use(ClientTokenMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	h := &SignalingHandlers{
		Store:     store,
		Router:    router,
		SignalTTL: cfg.SignalTTL,
	}
	wsCtl := ws.NewController(router, cfg)

	api := r.Group("/api")

	api.POST("/session", h.CreateSession)
	api.GET("/session/:sessionId", h.GetSession)
	api.DELETE("/session/:sessionId", h.DeleteSession)

	api.POST("/signaling/:sessionId", h.PostSignal)
	api.GET("/signaling/:sessionId/:kind", h.GetSignal)

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("conn", c.GetString("client_token")).Msg("ws signal endpoint hit")
		wsCtl.Handle(ctx, c)
	})

	return r
}
