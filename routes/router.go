package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cppla/accesso/config"
	"github.com/cppla/accesso/controllers"
	"github.com/cppla/accesso/middleware"
	"github.com/cppla/accesso/services"
	"github.com/cppla/accesso/storage"
	"github.com/cppla/accesso/utils"
)

// Services bundles what the HTTP layer needs.
type Services struct {
	Text    *services.TextService
	Files   *services.FileService
	Links   *services.LinkService
	Sweeper *services.Sweeper
	// Local is set when files live on disk and must be served by this process.
	Local *storage.LocalStore
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, deps Services) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	gl := utils.Logger
	if cfg.GinPath != "" {
		if fl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress); err == nil {
			gl = fl
		} else {
			utils.Sugar.Warnf("gin file logger unavailable, using app logger: %v", err)
		}
	}
	r.Use(utils.Ginzap(gl, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(gl, false))

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "x-text-password", "x-file-password"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
		corsCfg.AllowCredentials = true
	}
	r.Use(cors.New(corsCfg))

	if deps.Local != nil && strings.HasPrefix(deps.Local.BaseURL(), "/") {
		r.Static(deps.Local.BaseURL(), deps.Local.Dir())
	}

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})
	if cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	textController := controllers.NewTextController(deps.Text)
	fileController := controllers.NewFileController(deps.Files)
	linkController := controllers.NewLinkController(deps.Links)
	cleanupController := controllers.NewCleanupController(deps.Sweeper)

	limited := middleware.RateLimitMiddleware(cfg.RateLimitPerMinute)

	api := r.Group("/api")

	text := api.Group("/text")
	text.POST("/create", limited, textController.Create)
	text.GET("/:code", textController.Get)

	files := api.Group("/files")
	files.POST("/create", limited, fileController.CreateTunnel)
	files.POST("/upload", limited, fileController.Upload)
	files.GET("/:code", fileController.List)
	files.GET("/:code/download/:id", fileController.Download)

	links := api.Group("/links")
	links.POST("/create", limited, linkController.Create)
	links.GET("/:code/stats", linkController.Stats)

	api.GET("/cleanup", middleware.CronSecretRequired(cfg.CronSecret), cleanupController.Run)

	r.GET("/l/:code", linkController.Redirect)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, "Not found")
	})

	return r
}
