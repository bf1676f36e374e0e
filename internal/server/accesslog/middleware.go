package accesslog

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tunebox/tunesync/internal/server/handlers/api"
)

var routeOps = map[string]Op{
	"files/list":     OpList,
	"files/upload":   OpUpload,
	"files/download": OpDownload,
	"files/delete":   OpDelete,
}

// Middleware records every file API request in the requesting user's access log.
// It must run after the auth middleware so the user is known.
func (al *AccessLogger) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		op, ok := opFor(ctx.FullPath())
		if !ok {
			ctx.Next()
			return
		}

		start := time.Now()
		var body *countingBody
		if op == OpUpload && ctx.Request.Body != nil {
			body = &countingBody{ReadCloser: ctx.Request.Body}
			ctx.Request.Body = body
		}

		ctx.Next()

		entry := &Entry{
			Timestamp:  start.UTC(),
			User:       api.User(ctx),
			Op:         op,
			StatusCode: ctx.Writer.Status(),
			Duration:   time.Since(start),
			IP:         ctx.ClientIP(),
			UserAgent:  ctx.Request.UserAgent(),
		}
		entry.Root, entry.Path = api.Target(ctx)
		switch {
		case body != nil:
			entry.Bytes = body.n
		case op == OpDownload && ctx.Writer.Size() > 0:
			entry.Bytes = int64(ctx.Writer.Size())
		}

		if err := al.Write(entry); err != nil {
			slog.Error("access log write", "user", entry.User, "op", op, "error", err)
		}
	}
}

func opFor(fullPath string) (Op, bool) {
	for suffix, op := range routeOps {
		if strings.HasSuffix(fullPath, "/"+suffix) {
			return op, true
		}
	}
	return "", false
}

type countingBody struct {
	io.ReadCloser
	n int64
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n += int64(n)
	return n, err
}
