package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tunebox/tunesync/internal/server/handlers/files"
	"github.com/tunebox/tunesync/internal/server/handlers/keys"
	"github.com/tunebox/tunesync/internal/server/middlewares"
	"github.com/tunebox/tunesync/internal/version"
)

func SetupRoutes(config *Config, svc *Services) (http.Handler, error) {
	r := gin.New()

	filesH := files.New(svc.Blob)
	keysH := keys.New(svc.MasterKey)

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	if config.HTTP.TLSEnabled() {
		r.Use(middlewares.HSTS())
	}
	r.Use(middlewares.GZIP())
	r.Use(middlewares.CORS())

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	v1 := r.Group("/api/v1")
	if config.RateLimit != "" {
		limiter, err := middlewares.RateLimiter(config.RateLimit)
		if err != nil {
			return nil, err
		}
		v1.Use(limiter)
	}
	v1.Use(middlewares.JWTAuth(svc.Auth))
	if svc.AccessLog != nil {
		v1.Use(svc.AccessLog.Middleware())
	}
	{
		v1.GET("/files/list", filesH.List)
		v1.PUT("/files/upload", filesH.Upload)
		v1.GET("/files/download", filesH.Download)
		v1.POST("/files/delete", filesH.Delete)

		v1.GET("/keys/server", keysH.ServerKey)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
