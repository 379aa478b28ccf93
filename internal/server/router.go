package server

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/smarttask-api/internal/handler"
	"github.com/noah-isme/smarttask-api/internal/middleware"
	"github.com/noah-isme/smarttask-api/internal/models"
	"github.com/noah-isme/smarttask-api/internal/service"
	"github.com/noah-isme/smarttask-api/pkg/config"
	"github.com/noah-isme/smarttask-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/smarttask-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/smarttask-api/pkg/middleware/requestid"
)

// Dependencies groups what the router needs to serve requests.
type Dependencies struct {
	Logger        *zap.Logger
	Metrics       *service.MetricsService
	Authenticator gin.HandlerFunc
	Auth          *handler.AuthHandler
	Accounts      *handler.AccountHandler
	Tasks         *handler.TaskHandler
	Observability *handler.MetricsHandler
}

// NewRouter builds the gin engine with the middleware chain and every route.
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Tracing(cfg.Telemetry.ServiceName))
	r.Use(middleware.Metrics(deps.Metrics))
	if deps.Authenticator != nil {
		r.Use(deps.Authenticator)
	}

	r.GET("/health", deps.Observability.Health)
	r.GET("/ready", deps.Observability.Ready)
	r.GET("/metrics", deps.Observability.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/register", deps.Auth.Register)
	auth.POST("/login", deps.Auth.Login)
	auth.POST("/refresh", deps.Auth.Refresh)
	auth.POST("/service-login", deps.Auth.ServiceLogin)
	auth.POST("/logout", middleware.RequireAuth(), deps.Auth.Logout)
	auth.GET("/me", middleware.RequireAuth(), deps.Auth.Me)

	api.DELETE("/account", middleware.RequireRoles(models.RoleUser), deps.Accounts.Delete)
	api.GET("/account/activity", middleware.RequireRoles(models.RoleUser), deps.Accounts.Activity)
	api.POST("/admin/accounts/:id/disable", middleware.RequireRoles(models.RoleService), deps.Accounts.Disable)

	tasks := api.Group("/tasks", middleware.RequireRoles(models.RoleUser))
	tasks.GET("", deps.Tasks.List)
	tasks.POST("", deps.Tasks.Create)
	tasks.PUT("/:id", deps.Tasks.Update)
	tasks.DELETE("/:id", deps.Tasks.Delete)

	return r
}
