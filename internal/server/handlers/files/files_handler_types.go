package files

import "github.com/tunebox/tunesync/internal/server/blob"

const (
	headerFileSize       = "X-Tune-Size"
	headerFileMtime      = "X-Tune-Mtime"
	headerFilePermission = "X-Tune-Permission"
	headerFileVersion    = "X-Tune-Version"
)

type ListRequest struct {
	Root   string `form:"root" binding:"required"`
	Prefix string `form:"prefix"`
}

type UploadRequest struct {
	Root       string `form:"root" binding:"required"`
	Path       string `form:"path" binding:"required"`
	Mtime      int64  `form:"mtime"`
	Permission uint32 `form:"permission"`
}

type DownloadRequest struct {
	Root string `form:"root" binding:"required"`
	Path string `form:"path" binding:"required"`
}

type DeleteRequest struct {
	Root string `json:"root" binding:"required"`
	Path string `json:"path" binding:"required"`
}

type FileResponse struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	Mtime      int64  `json:"mtime"`
	Permission uint32 `json:"permission"`
	Version    int64  `json:"version"`
}

type ListResponse struct {
	Files []*FileResponse `json:"files"`
}

type DeleteResponse struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted"`
}

func toFileResponse(info *blob.FileInfo) *FileResponse {
	return &FileResponse{
		Path:       info.Path,
		Size:       info.Size,
		Mtime:      info.Mtime,
		Permission: info.Permission,
		Version:    info.Version,
	}
}
