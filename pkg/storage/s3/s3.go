// Package s3 uploads run outputs to S3 or an S3-compatible store.
package s3

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	nperrors "github.com/niksan004/nextport/pkg/errors"
)

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	Region string

	Bucket string

	// Prefix is prepended to every object key
	Prefix string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// UploadTimeout bounds a single object upload
	UploadTimeout time.Duration

	// Concurrency is the number of files uploaded in parallel
	Concurrency int
}

// DefaultConfig returns sensible defaults for S3 configuration.
func DefaultConfig(bucket, region string) Config {
	return Config{
		Bucket:        bucket,
		Region:        region,
		UploadTimeout: 5 * time.Minute,
		Concurrency:   4,
	}
}

// putAPI is the part of the S3 API the uploader needs.
type putAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client uploads files to one bucket.
type Client struct {
	cfg Config
	api putAPI
}

// NewClient creates a new S3 client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, nperrors.InvalidConfig("upload.bucket", cfg.Bucket)
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nperrors.Wrap(err, nperrors.CodeUpload, "load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newClient(cfg, client), nil
}

func newClient(cfg Config, api putAPI) *Client {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 5 * time.Minute
	}
	return &Client{cfg: cfg, api: api}
}

// Bucket returns the target bucket name.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// Object describes one uploaded file.
type Object struct {
	Path string
	Key  string
	Size int64
}

// URI returns the s3:// location of the object.
func (o Object) URI(bucket string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, o.Key)
}

// ObjectKey builds the key of file under prefix and runID.
func ObjectKey(prefix, runID, file string) string {
	return strings.TrimPrefix(path.Join(prefix, runID, filepath.Base(file)), "/")
}

// Upload puts the file at localPath under key.
func (c *Client) Upload(ctx context.Context, key, localPath string) (Object, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return Object{}, nperrors.Wrap(err, nperrors.CodeUpload, "open upload file").WithContext("path", localPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Object{}, nperrors.Wrap(err, nperrors.CodeUpload, "stat upload file").WithContext("path", localPath)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(localPath)),
	})
	if err != nil {
		return Object{}, nperrors.Wrap(err, nperrors.CodeUpload, "put object").
			WithContext("bucket", c.cfg.Bucket).
			WithContext("key", key)
	}
	return Object{Path: localPath, Key: key, Size: info.Size()}, nil
}

// UploadFiles uploads files under <prefix>/<runID>/, Concurrency at a time.
// The result keeps the order of files.
func (c *Client) UploadFiles(ctx context.Context, runID string, files []string) ([]Object, error) {
	objects := make([]Object, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			obj, err := c.Upload(ctx, ObjectKey(c.cfg.Prefix, runID, file), file)
			if err != nil {
				return err
			}
			objects[i] = obj
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return objects, nil
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
