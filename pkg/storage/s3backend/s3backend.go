// Package s3backend implements a storage backend on Amazon S3 or any
// S3-compatible object store.
//
// Writers buffer one blob in memory before the PUT; blobs written by the
// store layer are physical object parts, so the buffer is bounded by the
// configured chunk size.
package s3backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cumulusfs/cumulus/pkg/storage"
)

// Config holds the connection settings for one S3 backend.
type Config struct {
	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	Endpoint string `mapstructure:"endpoint"`

	// Region is the bucket region (required by the SDK even for
	// compatible stores; "auto" works for most of them).
	Region string `mapstructure:"region"`

	// Bucket is the bucket name. Required.
	Bucket string `mapstructure:"bucket"`

	// AccessKeyID and SecretAccessKey select static credentials. When
	// both are empty the SDK's default credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// KeyPrefix is prepended to every blob key.
	KeyPrefix string `mapstructure:"key_prefix"`

	// ForcePathStyle switches to path-style addressing, needed by MinIO
	// and most self-hosted stores.
	ForcePathStyle bool `mapstructure:"force_path_style"`
}

// S3Backend stores blobs as S3 objects.
type S3Backend struct {
	name    string
	intents storage.Intent
	client  *s3.Client
	bucket  string
	prefix  string
}

// New builds the S3 client and verifies bucket access.
func New(ctx context.Context, name string, intents storage.Intent, cfg Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend %s: bucket is required", name)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	b := &S3Backend{
		name:    name,
		intents: intents,
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.KeyPrefix,
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}
	return b, nil
}

func (b *S3Backend) Name() string            { return b.name }
func (b *S3Backend) Intents() storage.Intent { return b.intents }

func (b *S3Backend) objectKey(key string) string {
	return b.prefix + key
}

func (b *S3Backend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return out.Body, nil
}

// s3Writer buffers the blob and uploads it on Close.
type s3Writer struct {
	ctx context.Context
	b   *S3Backend
	key string
	buf bytes.Buffer
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	_, err := w.b.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.b.bucket),
		Key:    aws.String(w.b.objectKey(w.key)),
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", w.key, err)
	}
	return nil
}

func (b *S3Backend) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &s3Writer{ctx: ctx, b: b, key: key}, nil
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head %s: %w", key, err)
	}
	return true, nil
}

func (b *S3Backend) Rename(ctx context.Context, oldKey, newKey string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(b.objectKey(newKey)),
		CopySource: aws.String(b.bucket + "/" + b.objectKey(oldKey)),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", oldKey, err)
	}
	return b.Delete(ctx, oldKey)
}

func (b *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.objectKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, (*obj.Key)[len(b.prefix):])
		}
	}
	return keys, nil
}
