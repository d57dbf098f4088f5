package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quorumlab/quorum/internal/adapters/signal"
	"github.com/quorumlab/quorum/internal/app"
	"github.com/quorumlab/quorum/internal/config"
	"github.com/quorumlab/quorum/internal/core"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware pins a stable client identity to the browser.
// The identity provider in front of this service is expected to have
// verified it; we trust the token as the user id.
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

func SetupRouter(ctx context.Context, cfg *config.Config, orch *app.Orchestrator, rooms *core.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("QuorumSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Msg("router setup")

	h := &Handler{Orch: orch}
	api := r.Group("/api")

	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:id", h.GetSession)
	api.POST("/sessions/:id/close", h.CloseSession)
	api.POST("/sessions/topics", h.CreateTopic)
	api.POST("/sessions/topics/:id/close", h.CloseTopic)
	api.POST("/sessions/messages", h.SendMessage)

	api.POST("/votes", h.CastVote)
	api.DELETE("/votes/:topicId", h.RetractVote)
	api.GET("/votes/results/:topicId", h.Results)

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(200, gin.H{"rooms": rooms.List()})
	})

	wsCtl := signal.NewController(rooms, cfg.ReadLimit, cfg.PingPeriod)
	api.GET("/ws", func(c *gin.Context) {
		wsCtl.HandleWS(ctx, c)
	})

	return r
}
