package middleware

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// chunk bodies are opaque bytes, compressing them again buys nothing
var excludedPaths = []string{
	"/healthz",
	"/api/v1/chunks",
}

func GZIP() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.BestSpeed,
		gzip.WithExcludedPaths(excludedPaths),
	)
}
