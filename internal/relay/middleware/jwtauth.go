package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/confsync/confsync/internal/relay/api"
	"github.com/confsync/confsync/internal/relay/auth"
)

const (
	bearerPrefix   = "Bearer "
	authHeader     = "Authorization"
	UserContextKey = "user"
)

// JWTAuth validates the bearer access token and stores the subject in
// the gin context under UserContextKey. With auth disabled every
// request passes through as the anonymous user.
func JWTAuth(authService *auth.Service) gin.HandlerFunc {
	if !authService.IsEnabled() {
		slog.Info("auth middleware disabled")
		return func(ctx *gin.Context) {
			ctx.Set(UserContextKey, "anonymous@localhost")
			ctx.Next()
		}
	}
	slog.Info("auth middleware enabled")
	return func(ctx *gin.Context) {
		authHeaderValue := ctx.GetHeader(authHeader)
		if authHeaderValue == "" {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials,
				fmt.Errorf("authorization header is missing"))
			return
		}

		if !strings.HasPrefix(authHeaderValue, bearerPrefix) {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials,
				fmt.Errorf("authorization header format must be Bearer {token}"))
			return
		}

		tokenString := strings.TrimPrefix(authHeaderValue, bearerPrefix)
		if tokenString == "" {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials,
				fmt.Errorf("token is missing"))
			return
		}

		claims, err := authService.ValidateAccessToken(ctx, tokenString)
		if err != nil {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials, err)
			return
		}

		ctx.Set(UserContextKey, claims.Subject)
		ctx.Next()
	}
}
