package http

import (
	"github.com/gin-gonic/gin"

	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/bootstrap"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/transport/http/handler"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	authHandler := handler.NewAuthHandler(app.AuthService)
	documentHandler := handler.NewDocumentHandler(app.RAGService)
	ragHandler := handler.NewRAGHandler(app.RAGService, app.ConversationService)
	conversationHandler := handler.NewConversationHandler(app.ConversationService)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(app.Config.Auth.JWTSecret), authHandler.Me)

	authed := v1.Group("")
	authed.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))

	docGroup := authed.Group("/documents")
	docGroup.POST("", documentHandler.Create)
	docGroup.POST("/upload", documentHandler.UploadPDF)
	docGroup.GET("", documentHandler.List)
	docGroup.DELETE("/:id", documentHandler.Delete)

	ragGroup := authed.Group("/rag")
	ragGroup.POST("/ask", ragHandler.Ask)
	ragGroup.POST("/ask/stream", ragHandler.AskStream)
	ragGroup.PUT("/context", ragHandler.UpdateContext)
	ragGroup.GET("/sessions", ragHandler.ListSessions)
	ragGroup.POST("/memory/clear", ragHandler.ClearMemory)
	ragGroup.GET("/metrics", ragHandler.Metrics)

	convGroup := authed.Group("/conversations")
	convGroup.POST("", conversationHandler.Create)
	convGroup.GET("", conversationHandler.List)
	convGroup.DELETE("/:id", conversationHandler.Delete)
	convGroup.GET("/history", conversationHandler.GetHistory)

	return router
}
