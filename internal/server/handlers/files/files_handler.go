package files

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tunebox/tunesync/internal/server/blob"
	"github.com/tunebox/tunesync/internal/server/handlers/api"
)

type FilesHandler struct {
	blob *blob.BlobService
}

func New(blob *blob.BlobService) *FilesHandler {
	return &FilesHandler{blob: blob}
}

func (h *FilesHandler) List(ctx *gin.Context) {
	var req ListRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	prefix, err := blob.NormalizePrefix(req.Prefix)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeFileInvalidPath, err)
		return
	}
	owner := api.User(ctx)
	root, err := blob.NormalizeRoot(owner, req.Root)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeFileInvalidPath, err)
		return
	}

	api.SetTarget(ctx, root, prefix)

	files, err := h.blob.List(ctx.Request.Context(), owner, root, prefix)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileListFailed, err)
		return
	}

	resp := &ListResponse{Files: make([]*FileResponse, 0, len(files))}
	for _, f := range files {
		resp.Files = append(resp.Files, toFileResponse(f))
	}
	ctx.PureJSON(http.StatusOK, resp)
}

// Upload stores the raw request body as the new version of root/path
func (h *FilesHandler) Upload(ctx *gin.Context) {
	var req UploadRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	key, err := blob.NormalizeKey(api.User(ctx), req.Root, req.Path)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeFileInvalidPath, err)
		return
	}
	api.SetTarget(ctx, key.Root, key.Path)

	info, err := h.blob.Put(ctx.Request.Context(), key, ctx.Request.Body, req.Mtime, req.Permission)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileUploadFailed, err)
		return
	}

	slog.Info("file upload", "user", key.Owner, "root", key.Root, "path", key.Path, "size", info.Size, "version", info.Version)
	ctx.PureJSON(http.StatusOK, toFileResponse(info))
}

// Download streams the current version with its attributes in X-Tune-* headers
func (h *FilesHandler) Download(ctx *gin.Context) {
	var req DownloadRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	key, err := blob.NormalizeKey(api.User(ctx), req.Root, req.Path)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeFileInvalidPath, err)
		return
	}
	api.SetTarget(ctx, key.Root, key.Path)

	info, body, err := h.blob.Get(ctx.Request.Context(), key)
	if errors.Is(err, blob.ErrNotFound) {
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeFileNotFound, fmt.Errorf("file not found: %s", key.Path))
		return
	} else if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileDownloadFailed, err)
		return
	}
	defer body.Close()

	ctx.Header(headerFileSize, strconv.FormatInt(info.Size, 10))
	ctx.Header(headerFileMtime, strconv.FormatInt(info.Mtime, 10))
	ctx.Header(headerFilePermission, strconv.FormatUint(uint64(info.Permission), 10))
	ctx.Header(headerFileVersion, strconv.FormatInt(info.Version, 10))
	ctx.DataFromReader(http.StatusOK, info.Size, "application/octet-stream", body, nil)
}

func (h *FilesHandler) Delete(ctx *gin.Context) {
	var req DeleteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	key, err := blob.NormalizeKey(api.User(ctx), req.Root, req.Path)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeFileInvalidPath, err)
		return
	}
	api.SetTarget(ctx, key.Root, key.Path)

	deleted, err := h.blob.Delete(ctx.Request.Context(), key)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeFileDeleteFailed, err)
		return
	}
	if !deleted {
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeFileNotFound, fmt.Errorf("file not found: %s", key.Path))
		return
	}

	slog.Info("file delete", "user", key.Owner, "root", key.Root, "path", key.Path)
	ctx.PureJSON(http.StatusOK, &DeleteResponse{Path: key.Path, Deleted: true})
}
