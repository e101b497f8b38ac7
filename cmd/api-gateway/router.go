package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-counsel-api/api/swagger"
	"github.com/noah-isme/sma-counsel-api/internal/handler"
	"github.com/noah-isme/sma-counsel-api/internal/middleware"
	"github.com/noah-isme/sma-counsel-api/internal/models"
	"github.com/noah-isme/sma-counsel-api/internal/service"
	"github.com/noah-isme/sma-counsel-api/pkg/config"
	"github.com/noah-isme/sma-counsel-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-counsel-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-counsel-api/pkg/middleware/requestid"
)

type tokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

type routerDeps struct {
	metrics      *service.MetricsService
	auth         tokenValidator
	authHandler  *handler.AuthHandler
	consultation *handler.ConsultationHandler
	behavior     *handler.BehaviorHandler
	models       *handler.ModelHandler
	health       *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if deps.metrics != nil {
		r.Use(middleware.Metrics(deps.metrics))
	}

	r.GET("/health", deps.health.Health)
	r.GET("/ready", deps.health.Ready)
	r.GET("/metrics", deps.health.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	prefix := cfg.APIPrefix
	if prefix == "" {
		prefix = "/api/v1"
	}
	api := r.Group(prefix)

	auth := api.Group("/auth")
	auth.POST("/login", deps.authHandler.Login)
	auth.POST("/check-lock", deps.authHandler.CheckLock)
	auth.POST("/record-failure", deps.authHandler.RecordFailure)

	// Signed tokens authorise downloads on their own.
	api.GET("/export/:token", deps.behavior.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.auth), middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin))

	secured.GET("/auth/me", deps.authHandler.Me)
	secured.GET("/models", deps.models.List)

	consultations := secured.Group("/consultations")
	consultations.GET("", deps.consultation.List)
	consultations.POST("", deps.consultation.Create)
	consultations.POST("/summarize", deps.consultation.Summarize)
	consultations.GET("/stats", deps.consultation.Stats)
	consultations.GET("/:id", deps.consultation.Get)
	consultations.PUT("/:id", deps.consultation.Update)
	consultations.DELETE("/:id", deps.consultation.Delete)

	secured.GET("/students", deps.consultation.Students)
	secured.DELETE("/students/:key", deps.consultation.DeleteStudent)

	behavior := secured.Group("/behavior")
	behavior.POST("/batches", deps.behavior.StartBatch)
	behavior.POST("/batches/stream", deps.behavior.StreamBatch)
	behavior.GET("/progress", deps.behavior.Progress)
	behavior.GET("/drafts", deps.behavior.ListDrafts)
	behavior.PUT("/drafts/:key", deps.behavior.UpdateDraft)
	behavior.POST("/drafts/:key/regenerate", deps.behavior.RegenerateDraft)
	behavior.POST("/exports", deps.behavior.Export)

	return r
}
