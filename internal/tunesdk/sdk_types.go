package tunesdk

const (
	HeaderUserAgent     = "User-Agent"
	HeaderClientVersion = "X-Tune-Client"
	HeaderDeviceID      = "X-Tune-Device-Id"

	// attributes of a downloaded file
	HeaderFileSize       = "X-Tune-Size"
	HeaderFileMtime      = "X-Tune-Mtime"
	HeaderFilePermission = "X-Tune-Permission"
	HeaderFileVersion    = "X-Tune-Version"
)

// RemoteFile is the server side view of one file
type RemoteFile struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	Mtime      int64  `json:"mtime"`
	Permission uint32 `json:"permission"`
	Version    int64  `json:"version"`
}

type ListResponse struct {
	Files []*RemoteFile `json:"files"`
}

type DeleteRequest struct {
	Root string `json:"root"`
	Path string `json:"path"`
}

type DeleteResponse struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted"`
}

type ServerKeyResponse struct {
	Key string `json:"key"`
}
