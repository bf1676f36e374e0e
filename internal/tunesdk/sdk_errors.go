package tunesdk

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL = errors.New("sdk: server url missing")
	ErrNoToken     = errors.New("sdk: access token missing")

	// ErrConnectivity marks failures worth retrying later: network errors, 5xx, rate limits
	ErrConnectivity = errors.New("sdk: remote unreachable")
	ErrNotFound     = errors.New("sdk: file not found")
	ErrUnauthorized = errors.New("sdk: unauthorized")
	ErrIntegrity    = errors.New("sdk: transfer size mismatch")
)

const (
	CodeInvalidRequest = "E_INVALID_REQUEST"
	CodeRateLimited    = "E_RATE_LIMITED"
	CodeInternalError  = "E_INTERNAL_ERROR"
	CodeAccessDenied   = "E_ACCESS_DENIED"
	CodeUnknownError   = "E_UNKNOWN_ERR"

	CodeAuthInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS"

	CodeFileNotFound       = "E_FILE_NOT_FOUND"
	CodeFileInvalidPath    = "E_FILE_INVALID_PATH"
	CodeFileListFailed     = "E_FILE_LIST_FAILED"
	CodeFileUploadFailed   = "E_FILE_UPLOAD_FAILED"
	CodeFileDownloadFailed = "E_FILE_DOWNLOAD_FAILED"
	CodeFileDeleteFailed   = "E_FILE_DELETE_FAILED"

	CodeKeyUnavailable = "E_KEY_UNAVAILABLE"
)

// APIError is the JSON error body returned by the server
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Status  int    `json:"-"`
}

func NewAPIError(code, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// Is maps error codes onto the sentinel errors callers branch on
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == CodeFileNotFound || (e.Code == "" && e.Status == http.StatusNotFound)
	case ErrUnauthorized:
		return e.Code == CodeAuthInvalidCredentials || e.Code == CodeAccessDenied ||
			e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrConnectivity:
		return e.Code == CodeRateLimited || e.Code == CodeInternalError ||
			e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
	}
	return false
}

// apiErrorFromStatus is used when the body is not a JSON APIError
func apiErrorFromStatus(status int, body string) *APIError {
	code := CodeUnknownError
	switch {
	case status == http.StatusNotFound:
		code = CodeFileNotFound
	case status == http.StatusUnauthorized:
		code = CodeAuthInvalidCredentials
	case status == http.StatusForbidden:
		code = CodeAccessDenied
	case status == http.StatusTooManyRequests:
		code = CodeRateLimited
	case status == http.StatusBadRequest:
		code = CodeInvalidRequest
	case status >= http.StatusInternalServerError:
		code = CodeInternalError
	}
	if body == "" {
		body = http.StatusText(status)
	}
	return &APIError{Code: code, Message: body, Status: status}
}

// handleAPIError turns transport failures and error responses into wrapped errors
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("sdk: %s: %w: %w", operation, ErrConnectivity, requestErr)
	}

	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Code != "" {
			apiErr.Status = resp.GetStatusCode()
			return fmt.Errorf("sdk: %s: %w", operation, apiErr)
		}
		return fmt.Errorf("sdk: %s: %w", operation, apiErrorFromStatus(resp.GetStatusCode(), resp.String()))
	}

	return nil
}
