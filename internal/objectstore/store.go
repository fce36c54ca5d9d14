// Package objectstore is the key-addressed binary store described in
// spec §4.8: an S3-protocol client (works against Cloudflare R2, MinIO, or
// AWS S3 itself) plus the deterministic key generators every other
// component relies on for artifact addressing.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config carries the mandatory connection settings. Absence of Bucket or
// Region is a startup error per spec §4.8 ("Configuration is mandatory —
// absence is a startup error, not silently defaulted").
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // empty means AWS default endpoint resolution
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string // optional CDN/public base, else presigned GET is used
}

func (c Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("objectstore: bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("objectstore: region is required")
	}
	return nil
}

// Store wraps an S3 client with the upload/presign surface the pipeline
// needs.
type Store struct {
	client *s3.Client
	cfg    Config
}

// New constructs a Store, failing fast if mandatory configuration is
// missing, mirroring the teacher's R2Client constructor.
func New(cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opts := s3.Options{
		Region: cfg.Region,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	return &Store{client: s3.New(opts), cfg: cfg}, nil
}

// UploadBuffer uploads an in-memory buffer under key.
func (s *Store) UploadBuffer(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("objectstore: put object %q: %w", key, err)
	}
	return nil
}

// UploadStream uploads from a reader of unknown length under key.
func (s *Store) UploadStream(ctx context.Context, key string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("objectstore: read stream for %q: %w", key, err)
	}
	return s.UploadBuffer(ctx, key, data, contentType)
}

// GetObject retrieves an object's bytes.
func (s *Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: get object %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("objectstore: read object %q: %w", key, err)
	}
	return data, nil
}

// GetPresignedPutURL returns a time-limited upload URL for key.
func (s *Store) GetPresignedPutURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	presign := s3.NewPresignClient(s.client)
	req, err := presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("objectstore: presign put %q: %w", key, err)
	}
	return req.URL, nil
}

// GetPresignedGetURL returns a time-limited read URL for key. When a
// PublicBaseURL is configured it is used instead (manifest readers still
// get a working URL, it's just not an expiring one).
func (s *Store) GetPresignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s.cfg.PublicBaseURL != "" {
		return fmt.Sprintf("%s/%s", s.cfg.PublicBaseURL, key), nil
	}

	presign := s3.NewPresignClient(s.client)
	req, err := presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("objectstore: presign get %q: %w", key, err)
	}
	return req.URL, nil
}

// DeleteObject removes an object. jobstore.PruneTerminal deletes job rows
// only and does not call this.
func (s *Store) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	return err
}
