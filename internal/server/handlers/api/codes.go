package api

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST"
	CodeRateLimited    = "E_RATE_LIMITED"
	CodeInternalError  = "E_INTERNAL_ERROR"
	CodeAccessDenied   = "E_ACCESS_DENIED"

	// Auth errors
	CodeAuthInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS" // token missing, expired or malformed

	// File errors
	CodeFileNotFound       = "E_FILE_NOT_FOUND"
	CodeFileInvalidPath    = "E_FILE_INVALID_PATH"
	CodeFileListFailed     = "E_FILE_LIST_FAILED"
	CodeFileUploadFailed   = "E_FILE_UPLOAD_FAILED"
	CodeFileDownloadFailed = "E_FILE_DOWNLOAD_FAILED"
	CodeFileDeleteFailed   = "E_FILE_DELETE_FAILED"

	// Key errors
	CodeKeyUnavailable = "E_KEY_UNAVAILABLE" // no master key configured
)
