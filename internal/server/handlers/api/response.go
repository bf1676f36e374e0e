package api

import "github.com/gin-gonic/gin"

const userContextKey = "user"

func AbortWithError(ctx *gin.Context, status int, code string, err error) {
	ctx.Abort()
	ctx.Error(err)
	ctx.PureJSON(status, APIError{
		Code:    code,
		Message: err.Error(),
	})
}

// SetUser records the authenticated user on the request
func SetUser(ctx *gin.Context, user string) {
	ctx.Set(userContextKey, user)
}

// User returns the authenticated user of the request
func User(ctx *gin.Context) string {
	return ctx.GetString(userContextKey)
}

const (
	rootContextKey = "target_root"
	pathContextKey = "target_path"
)

// SetTarget records the file a request operates on for the access log
func SetTarget(ctx *gin.Context, root, path string) {
	ctx.Set(rootContextKey, root)
	ctx.Set(pathContextKey, path)
}

func Target(ctx *gin.Context) (root, path string) {
	return ctx.GetString(rootContextKey), ctx.GetString(pathContextKey)
}
