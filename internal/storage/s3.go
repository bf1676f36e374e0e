package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/tunebox/tunesync/internal/utils"
)

type S3Config struct {
	Region        string `mapstructure:"region" json:"region"`
	AccessKey     string `mapstructure:"access_key" json:"access_key"`
	SecretKey     string `mapstructure:"secret_key" json:"secret_key"`
	Endpoint      string `mapstructure:"endpoint" json:"endpoint,omitempty"`
	UseAccelerate bool   `mapstructure:"use_accelerate" json:"use_accelerate,omitempty"`
}

func (c *S3Config) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("region required")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access_key required")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret_key required")
	}
	if c.Endpoint != "" {
		if u, err := url.Parse(c.Endpoint); err != nil || u.Host == "" {
			return fmt.Errorf("invalid endpoint URL %q", c.Endpoint)
		}
	}
	return nil
}

// S3Backend serves s3://bucket/key paths
type S3Backend struct {
	client *s3.Client
}

func NewS3Backend(client *s3.Client) *S3Backend {
	return &S3Backend{client: client}
}

func NewS3BackendWithConfig(ctx context.Context, cfg *S3Config) (*S3Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("s3 config: %w", err)
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		o.UseAccelerate = cfg.UseAccelerate
	})

	return NewS3Backend(client), nil
}

func (b *S3Backend) Scheme() string {
	return SchemeS3
}

func (b *S3Backend) Open(ctx context.Context, p string, mode Mode) (File, error) {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeRead:
		resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, wrapS3Error(err)
		}
		return readOnly{resp.Body}, nil

	case ModeWrite:
		spool, err := newSpoolFile(func(f *os.File, size int64) error {
			_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:        aws.String(bucket),
				Key:           aws.String(key),
				Body:          f,
				ContentLength: aws.Int64(size),
				ContentType:   aws.String(utils.DetectContentType(key)),
				Metadata:      objectMeta(time.Now().Unix(), defaultFilePerm),
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		return writeOnly{spool}, nil
	}
	return nil, ErrBadMode
}

func (b *S3Backend) ScanDir(ctx context.Context, p string) ([]Info, error) {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return nil, err
	}

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(dirPrefix(key)),
		Delimiter: aws.String("/"),
	})

	var infos []Info
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapS3Error(err)
		}
		for _, cp := range page.CommonPrefixes {
			infos = append(infos, dirInfo(aws.ToString(cp.Prefix)))
		}
		for _, obj := range page.Contents {
			objKey := aws.ToString(obj.Key)
			if objKey == dirPrefix(key) {
				continue
			}
			// listings carry no user metadata
			info, err := b.head(ctx, bucket, objKey)
			if err != nil {
				return nil, err
			}
			infos = append(infos, *info)
		}
	}

	if len(infos) == 0 && key != "" {
		return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
	}
	return infos, nil
}

func (b *S3Backend) FileInfo(ctx context.Context, p string) (*Info, error) {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return nil, err
	}
	if key == "" {
		info := dirInfo(bucket)
		return &info, nil
	}

	info, err := b.head(ctx, bucket, key)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// directories are implicit prefixes
	resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(dirPrefix(key)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, wrapS3Error(err)
	}
	if len(resp.Contents) == 0 {
		return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
	}
	dir := dirInfo(key)
	return &dir, nil
}

func (b *S3Backend) head(ctx context.Context, bucket, key string) (*Info, error) {
	resp, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapS3Error(err)
	}
	info := objectInfo(key, aws.ToInt64(resp.ContentLength), aws.ToTime(resp.LastModified), resp.Metadata)
	return &info, nil
}

func (b *S3Backend) Remove(ctx context.Context, p string) error {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return wrapS3Error(err)
}

func (b *S3Backend) SetMtime(ctx context.Context, p string, mtime int64) error {
	return b.replaceMeta(ctx, p, func(info *Info) { info.Mtime = mtime })
}

func (b *S3Backend) Chmod(ctx context.Context, p string, perm uint32) error {
	return b.replaceMeta(ctx, p, func(info *Info) { info.Permission = perm })
}

// replaceMeta copies an object onto itself with updated attributes
func (b *S3Backend) replaceMeta(ctx context.Context, p string, update func(*Info)) error {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return err
	}
	info, err := b.head(ctx, bucket, key)
	if err != nil {
		return err
	}
	update(info)

	_, err = b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(copySource(bucket, key)),
		MetadataDirective: types.MetadataDirectiveReplace,
		Metadata:          objectMeta(info.Mtime, info.Permission),
		ContentType:       aws.String(utils.DetectContentType(key)),
	})
	return wrapS3Error(err)
}

func (b *S3Backend) Rename(ctx context.Context, from, to string) error {
	srcBucket, srcKey, err := splitBucketKey(from)
	if err != nil {
		return err
	}
	dstBucket, dstKey, err := splitBucketKey(to)
	if err != nil {
		return err
	}

	_, err = b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(srcBucket, srcKey)),
	})
	if err != nil {
		return wrapS3Error(err)
	}
	return b.Remove(ctx, from)
}

// MkdirAll is a no-op, prefixes exist as soon as an object is written below them
func (b *S3Backend) MkdirAll(ctx context.Context, p string) error {
	_, _, err := splitBucketKey(p)
	return err
}

func copySource(bucket, key string) string {
	return (&url.URL{Path: bucket + "/" + key}).EscapedPath()
}

func wrapS3Error(err error) error {
	if err == nil {
		return nil
	}
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	var nsb *types.NoSuchBucket
	if errors.As(err, &nf) || errors.As(err, &nsk) || errors.As(err, &nsb) {
		return errors.Join(ErrNotFound, err)
	}
	return err
}

var _ Backend = (*S3Backend)(nil)
