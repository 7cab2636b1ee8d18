// Package http wires the gin router: a public surface (health, image files,
// auth, the gateway webhook) and a JWT-guarded management API.
package http

import (
	"github.com/gin-gonic/gin"

	"tiendabot/internal/config"
	"tiendabot/internal/transport/http/handler"
	"tiendabot/internal/transport/http/middleware"
)

type Handlers struct {
	Health     *handler.HealthHandler
	Auth       *handler.AuthHandler
	Session    *handler.SessionHandler
	Knowledge  *handler.KnowledgeHandler
	Image      *handler.ImageHandler
	Config     *handler.ConfigHandler
	Channel    *handler.ChannelHandler
	Introspect *handler.IntrospectHandler
	Eval       *handler.EvalHandler
}

func NewRouter(cfg *config.Config, h Handlers, imagesDir string) *gin.Engine {
	gin.SetMode(cfg.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/healthz", h.Health.Check)
	router.Static("/images", imagesDir)

	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", h.Auth.Register)
			auth.POST("/login", h.Auth.Login)
		}

		api.POST("/webhooks/evolution", h.Channel.EvolutionWebhook)
	}

	admin := api.Group("")
	admin.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
	{
		admin.GET("/auth/me", h.Auth.Me)

		sessions := admin.Group("/sessions")
		{
			sessions.POST("", h.Session.Create)
			sessions.GET("", h.Session.List)
			sessions.GET("/:id", h.Session.Get)
			sessions.DELETE("/:id", h.Session.Delete)
			sessions.PUT("/:id/context", h.Session.SetContext)
			sessions.POST("/:id/messages", h.Session.PostMessage)
			sessions.POST("/:id/handoff", h.Session.RequestHandoff)
			sessions.POST("/:id/operator-reply", h.Session.OperatorReply)
			sessions.POST("/:id/return-to-bot", h.Session.ReturnToBot)
		}

		knowledge := admin.Group("/knowledge")
		{
			knowledge.POST("/upload", h.Knowledge.Upload)
			knowledge.POST("/chat-export", h.Knowledge.UploadChatExport)
			knowledge.POST("/notes", h.Knowledge.AddNote)
			knowledge.GET("/documents", h.Knowledge.List)
			knowledge.PUT("/documents/:id", h.Knowledge.Update)
			knowledge.DELETE("/documents/:id", h.Knowledge.Delete)
		}

		imagesGroup := admin.Group("/images")
		{
			imagesGroup.POST("", h.Image.Upload)
			imagesGroup.GET("", h.Image.List)
			imagesGroup.DELETE("/:id", h.Image.Delete)
		}

		cfgGroup := admin.Group("/config")
		{
			cfgGroup.GET("", h.Config.Get)
			cfgGroup.PUT("/prompt", h.Config.PutPrompt)
			cfgGroup.PUT("/model", h.Config.PutModelParams)
			cfgGroup.PUT("/default-context", h.Config.PutDefaultContext)
			cfgGroup.PUT("/session-timeout", h.Config.PutSessionTimeout)
			cfgGroup.PUT("/greeting", h.Config.PutGreeting)
			cfgGroup.GET("/prompt/versions", h.Config.ListPromptVersions)
			cfgGroup.POST("/prompt/restore", h.Config.RestorePromptVersion)
		}

		channels := admin.Group("/channels")
		{
			channels.GET("", h.Channel.Statuses)
			channels.POST("/:type/connect", h.Channel.Connect)
			channels.POST("/:type/disconnect", h.Channel.Disconnect)
		}

		introspect := admin.Group("/introspect")
		{
			introspect.POST("/ask", h.Introspect.Ask)
			introspect.POST("/apply", h.Introspect.Apply)
		}

		evalGroup := admin.Group("/eval")
		{
			evalGroup.GET("/cases", h.Eval.List)
			evalGroup.POST("/cases", h.Eval.Add)
			evalGroup.DELETE("/cases/:id", h.Eval.Delete)
			evalGroup.POST("/cases/:id/run", h.Eval.RunOne)
			evalGroup.POST("/run", h.Eval.RunAll)
		}
	}

	return router
}
