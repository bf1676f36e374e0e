package keys

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tunebox/tunesync/internal/envelope"
	"github.com/tunebox/tunesync/internal/server/handlers/api"
)

var errNoMasterKey = errors.New("server side encryption is not configured")

type ServerKeyResponse struct {
	Key string `json:"key"`
}

// KeysHandler hands out per user keys derived from the server master key
type KeysHandler struct {
	master []byte
}

func New(master []byte) *KeysHandler {
	return &KeysHandler{master: master}
}

func (h *KeysHandler) ServerKey(ctx *gin.Context) {
	if len(h.master) == 0 {
		api.AbortWithError(ctx, http.StatusPreconditionFailed, api.CodeKeyUnavailable, errNoMasterKey)
		return
	}

	key, err := envelope.DeriveServerKey(h.master, api.User(ctx))
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	ctx.Header("Cache-Control", "no-store")
	ctx.PureJSON(http.StatusOK, &ServerKeyResponse{Key: envelope.EncodeKey(key)})
}
