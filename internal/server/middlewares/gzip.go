package middlewares

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// file bodies are streamed and may already be encrypted or compressed audio
var excludedPaths = []string{
	"/healthz",
	"/api/v1/files/download",
	"/api/v1/files/upload",
}

func GZIP() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.BestSpeed,
		gzip.WithExcludedPaths(excludedPaths),
	)
}
