package tunesdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/imroc/req/v3"
)

const (
	v1FilesList     = "/api/v1/files/list"
	v1FilesUpload   = "/api/v1/files/upload"
	v1FilesDownload = "/api/v1/files/download"
	v1FilesDelete   = "/api/v1/files/delete"
)

// List returns every remote file under prefix in root. The prefix is a directory,
// so "a" matches "a/x" but not "ab/x".
func (c *Client) List(ctx context.Context, root, prefix string) ([]*RemoteFile, error) {
	var apiResp ListResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("root", root).
		SetQueryParam("prefix", prefix).
		SetSuccessResult(&apiResp).
		Get(v1FilesList)

	if err := handleAPIError(resp, err, "list"); err != nil {
		return nil, err
	}
	return apiResp.Files, nil
}

type UploadParams struct {
	Root       string
	Path       string
	Body       io.Reader
	Mtime      int64
	Permission uint32
}

// UploadResult is the stored attributes plus the number of body bytes sent
type UploadResult struct {
	RemoteFile
	Sent int64
}

// Upload streams Body to the server. Streamed bodies cannot be replayed, so uploads are never retried.
func (c *Client) Upload(ctx context.Context, params *UploadParams) (*UploadResult, error) {
	body := &countingReader{r: params.Body, onRead: c.stats.onSend}

	var apiResp RemoteFile
	resp, err := c.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetQueryParam("root", params.Root).
		SetQueryParam("path", params.Path).
		SetQueryParam("mtime", strconv.FormatInt(params.Mtime, 10)).
		SetQueryParam("permission", strconv.FormatUint(uint64(params.Permission), 10)).
		SetContentType("application/octet-stream").
		SetBody(body).
		SetSuccessResult(&apiResp).
		Put(v1FilesUpload)

	if err := handleAPIError(resp, err, "upload"); err != nil {
		c.stats.setLastError(err)
		return nil, err
	}

	result := &UploadResult{RemoteFile: apiResp, Sent: body.n}
	if result.Size != result.Sent {
		return result, fmt.Errorf("sdk: upload %q: %w: sent %d, stored %d", params.Path, ErrIntegrity, result.Sent, result.Size)
	}
	return result, nil
}

// Download is an open remote file. The caller must Close it.
type Download struct {
	RemoteFile
	body *countingReadCloser
}

func (d *Download) Read(p []byte) (int, error) {
	return d.body.Read(p)
}

func (d *Download) Close() error {
	return d.body.Close()
}

// Received is the number of body bytes read so far
func (d *Download) Received() int64 {
	return d.body.Count()
}

// Verify reports ErrIntegrity when the bytes read differ from the advertised size
func (d *Download) Verify() error {
	if got := d.body.Count(); got != d.Size {
		return fmt.Errorf("sdk: download %q: %w: advertised %d, received %d", d.Path, ErrIntegrity, d.Size, got)
	}
	return nil
}

// Download opens a streaming download. Attributes come from the X-Tune-* headers.
func (c *Client) Download(ctx context.Context, root, path string) (*Download, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		DisableAutoReadResponse().
		SetQueryParam("root", root).
		SetQueryParam("path", path).
		Get(v1FilesDownload)

	if err != nil {
		return nil, fmt.Errorf("sdk: download: %w: %w", ErrConnectivity, err)
	}

	if resp.IsErrorState() {
		defer resp.Body.Close()
		return nil, fmt.Errorf("sdk: download: %w", readAPIError(resp))
	}

	file, err := remoteFileFromHeaders(path, resp.Header)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("sdk: download: %w", err)
	}

	return &Download{
		RemoteFile: *file,
		body: &countingReadCloser{
			countingReader: countingReader{r: resp.Body, onRead: c.stats.onRecv},
			closer:         resp.Body,
		},
	}, nil
}

// readAPIError decodes an error body that was not read automatically
func readAPIError(resp *req.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var apiErr APIError
	if err := jsonUnmarshal(data, &apiErr); err == nil && apiErr.Code != "" {
		apiErr.Status = resp.GetStatusCode()
		return &apiErr
	}
	return apiErrorFromStatus(resp.GetStatusCode(), string(data))
}

func remoteFileFromHeaders(path string, h http.Header) (*RemoteFile, error) {
	parse := func(name string) (int64, error) {
		v := h.Get(name)
		if v == "" {
			return 0, fmt.Errorf("missing header %s", name)
		}
		return strconv.ParseInt(v, 10, 64)
	}

	size, err := parse(HeaderFileSize)
	if err != nil {
		return nil, err
	}
	mtime, err := parse(HeaderFileMtime)
	if err != nil {
		return nil, err
	}
	perm, err := parse(HeaderFilePermission)
	if err != nil {
		return nil, err
	}
	ver, err := parse(HeaderFileVersion)
	if err != nil {
		return nil, err
	}

	return &RemoteFile{
		Path:       path,
		Size:       size,
		Mtime:      mtime,
		Permission: uint32(perm),
		Version:    ver,
	}, nil
}

// Delete removes a remote file. A file that is already gone is not an error.
func (c *Client) Delete(ctx context.Context, root, path string) (*DeleteResponse, error) {
	var apiResp DeleteResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&DeleteRequest{Root: root, Path: path}).
		SetSuccessResult(&apiResp).
		Post(v1FilesDelete)

	if err := handleAPIError(resp, err, "delete"); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &DeleteResponse{Path: path, Deleted: false}, nil
		}
		return nil, err
	}
	return &apiResp, nil
}
