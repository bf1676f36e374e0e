package middlewares

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tunebox/tunesync/internal/server/auth"
	"github.com/tunebox/tunesync/internal/server/handlers/api"
)

const (
	bearerPrefix = "Bearer "
	authHeader   = "Authorization"
)

// JWTAuth validates bearer access tokens and stores the token subject as the request user.
// With auth disabled every request runs as the anonymous user.
func JWTAuth(authService *auth.AuthService) gin.HandlerFunc {
	if !authService.IsEnabled() {
		slog.Info("auth middleware disabled")
		anonymous := authService.AnonymousUser()
		return func(ctx *gin.Context) {
			api.SetUser(ctx, anonymous)
			ctx.Next()
		}
	}

	slog.Info("auth middleware enabled")
	return func(ctx *gin.Context) {
		value := ctx.GetHeader(authHeader)
		if value == "" {
			abortUnauthorized(ctx, errors.New("authorization header is missing"))
			return
		}

		if !strings.HasPrefix(value, bearerPrefix) {
			abortUnauthorized(ctx, errors.New("authorization header format must be Bearer {token}"))
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(value, bearerPrefix))
		claims, err := authService.ValidateAccessToken(ctx, token)
		if err != nil {
			abortUnauthorized(ctx, err)
			return
		}

		api.SetUser(ctx, claims.Subject)
		ctx.Next()
	}
}

func abortUnauthorized(ctx *gin.Context, err error) {
	api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials, err)
}
