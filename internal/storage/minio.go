package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tunebox/tunesync/internal/utils"
)

type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint" json:"endpoint"`
	AccessKey string `mapstructure:"access_key" json:"access_key"`
	SecretKey string `mapstructure:"secret_key" json:"secret_key"`
	Region    string `mapstructure:"region" json:"region,omitempty"`
	Secure    bool   `mapstructure:"secure" json:"secure"`
}

func (c *MinioConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("access_key and secret_key required")
	}
	return nil
}

// MinioBackend serves minio://bucket/key paths. Writes stream as multipart uploads.
type MinioBackend struct {
	client *minio.Client
}

func NewMinioBackend(client *minio.Client) *MinioBackend {
	return &MinioBackend{client: client}
}

func NewMinioBackendWithConfig(cfg *MinioConfig) (*MinioBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("minio config: %w", err)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return NewMinioBackend(client), nil
}

func (b *MinioBackend) Scheme() string {
	return SchemeMinio
}

func (b *MinioBackend) Open(ctx context.Context, p string, mode Mode) (File, error) {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeRead:
		obj, err := b.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, wrapMinioError(err)
		}
		// GetObject is lazy, Stat surfaces a missing key up front
		if _, err := obj.Stat(); err != nil {
			obj.Close()
			return nil, wrapMinioError(err)
		}
		return readOnly{obj}, nil

	case ModeWrite:
		pr, pw := io.Pipe()
		w := &minioWriter{pw: pw, done: make(chan error, 1)}
		go func() {
			_, err := b.client.PutObject(ctx, bucket, key, pr, -1, minio.PutObjectOptions{
				ContentType:  utils.DetectContentType(key),
				PartSize:     16 << 20,
				UserMetadata: objectMeta(time.Now().Unix(), defaultFilePerm),
			})
			pr.CloseWithError(err)
			w.done <- err
		}()
		return writeOnly{w}, nil
	}
	return nil, ErrBadMode
}

type minioWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *minioWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *minioWriter) Close() error {
	w.pw.Close()
	return <-w.done
}

func (b *MinioBackend) ScanDir(ctx context.Context, p string) ([]Info, error) {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return nil, err
	}

	var infos []Info
	for obj := range b.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:       dirPrefix(key),
		Recursive:    false,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, wrapMinioError(obj.Err)
		}
		if obj.Key == dirPrefix(key) {
			continue
		}
		if len(obj.Key) > 0 && obj.Key[len(obj.Key)-1] == '/' {
			infos = append(infos, dirInfo(obj.Key))
			continue
		}

		meta := map[string]string(obj.UserMetadata)
		if len(meta) == 0 {
			st, err := b.client.StatObject(ctx, bucket, obj.Key, minio.StatObjectOptions{})
			if err != nil {
				return nil, wrapMinioError(err)
			}
			meta = st.UserMetadata
		}
		infos = append(infos, objectInfo(obj.Key, obj.Size, obj.LastModified, meta))
	}

	if len(infos) == 0 && key != "" {
		return nil, fmt.Errorf("%w: minio://%s/%s", ErrNotFound, bucket, key)
	}
	return infos, nil
}

func (b *MinioBackend) FileInfo(ctx context.Context, p string) (*Info, error) {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return nil, err
	}
	if key == "" {
		info := dirInfo(bucket)
		return &info, nil
	}

	st, err := b.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		info := objectInfo(key, st.Size, st.LastModified, st.UserMetadata)
		return &info, nil
	}
	if err = wrapMinioError(err); !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	for obj := range b.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:  dirPrefix(key),
		MaxKeys: 1,
	}) {
		if obj.Err != nil {
			return nil, wrapMinioError(obj.Err)
		}
		dir := dirInfo(key)
		return &dir, nil
	}
	return nil, fmt.Errorf("%w: minio://%s/%s", ErrNotFound, bucket, key)
}

func (b *MinioBackend) Remove(ctx context.Context, p string) error {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	return wrapMinioError(b.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}))
}

func (b *MinioBackend) SetMtime(ctx context.Context, p string, mtime int64) error {
	return b.replaceMeta(ctx, p, func(info *Info) { info.Mtime = mtime })
}

func (b *MinioBackend) Chmod(ctx context.Context, p string, perm uint32) error {
	return b.replaceMeta(ctx, p, func(info *Info) { info.Permission = perm })
}

func (b *MinioBackend) replaceMeta(ctx context.Context, p string, update func(*Info)) error {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return err
	}
	info, err := b.FileInfo(ctx, p)
	if err != nil {
		return err
	}
	update(info)

	_, err = b.client.CopyObject(ctx,
		minio.CopyDestOptions{
			Bucket:          bucket,
			Object:          key,
			UserMetadata:    objectMeta(info.Mtime, info.Permission),
			ReplaceMetadata: true,
		},
		minio.CopySrcOptions{Bucket: bucket, Object: key},
	)
	return wrapMinioError(err)
}

func (b *MinioBackend) Rename(ctx context.Context, from, to string) error {
	srcBucket, srcKey, err := splitBucketKey(from)
	if err != nil {
		return err
	}
	dstBucket, dstKey, err := splitBucketKey(to)
	if err != nil {
		return err
	}

	_, err = b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dstBucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: srcBucket, Object: srcKey},
	)
	if err != nil {
		return wrapMinioError(err)
	}
	return b.Remove(ctx, from)
}

func (b *MinioBackend) MkdirAll(ctx context.Context, p string) error {
	_, _, err := splitBucketKey(p)
	return err
}

func wrapMinioError(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return errors.Join(ErrNotFound, err)
	}
	return err
}

var _ Backend = (*MinioBackend)(nil)
