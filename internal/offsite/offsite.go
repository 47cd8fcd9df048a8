// Package offsite copies backup and export files to an S3 compatible bucket
// (AWS S3 or MinIO) and fetches them back for restore.
package offsite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"eduitraya/internal/log"
)

var ErrNotConfigured = errors.New("offsite bucket not configured")

const defaultRegion = "us-east-1"

// Config selects the bucket. Credentials come from the default AWS chain
// (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, shared config, ...).
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional; set for MinIO and other S3 compatible stores
	Prefix   string
	// PathStyle addresses objects as endpoint/bucket/key.
	PathStyle bool
}

// Object describes one stored file.
type Object struct {
	Key          string
	Name         string
	Size         int64
	LastModified time.Time
}

// Store reads and writes objects under one bucket prefix.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
	logger *log.Logger
}

// New builds an S3 client from cfg.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *s3.Client, bucket, prefix string, logger *log.Logger) *Store {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: log.OrDiscard(logger).WithComponent(log.ComponentStorage),
	}
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Key maps a file name to its object key.
func (s *Store) Key(name string) string {
	return s.prefix + path.Base(name)
}

// Upload stores body under name and returns the object key.
func (s *Store) Upload(ctx context.Context, name string, body io.Reader, contentType string) (string, error) {
	key := s.Key(name)
	input := &s3.PutObjectInput{Bucket: &s.bucket, Key: &key, Body: body}
	if contentType != "" {
		input.ContentType = &contentType
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.logFailure(ctx, log.OpSave, key, err)
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.InfoContext(ctx, "Uploaded file",
		log.NewFields().
			WithOperation(log.OpSave).
			WithStorage("s3", key).ToSlice()...)
	return key, nil
}

// Download opens the object stored under name, which may be a bare file
// name or a full key. The caller closes the reader.
func (s *Store) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	key := name
	if !strings.HasPrefix(name, s.prefix) || s.prefix == "" {
		key = s.Key(name)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		s.logFailure(ctx, log.OpLoad, key, err)
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return out.Body, nil
}

// List returns the objects under the prefix whose names start with
// namePrefix, newest first.
func (s *Store) List(ctx context.Context, namePrefix string) ([]Object, error) {
	prefix := s.prefix + namePrefix
	var objects []Object
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: &prefix})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			s.logFailure(ctx, log.OpLoad, prefix, err)
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			objects = append(objects, Object{
				Key:          key,
				Name:         strings.TrimPrefix(key, s.prefix),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	slices.SortStableFunc(objects, func(a, b Object) int {
		if c := b.LastModified.Compare(a.LastModified); c != 0 {
			return c
		}
		return strings.Compare(b.Key, a.Key)
	})
	return objects, nil
}

func (s *Store) logFailure(ctx context.Context, op, key string, err error) {
	s.logger.ErrorContext(ctx, "Offsite storage request failed",
		log.NewFields().
			WithOperation(op).
			WithStorage("s3", key).
			WithErrorType(log.ErrorTypeNetwork).
			WithError(err).ToSlice()...)
}
