// Package archive uploads activity log exports to R2 (or any S3-compatible
// bucket) and hands out short-lived download links.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/educode/educode/internal/activity"
	"github.com/educode/educode/internal/config"
)

// DefaultURLExpiry is how long a download link stays valid.
const DefaultURLExpiry = 15 * time.Minute

var (
	ErrEmptyExport       = errors.New("export is empty")
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// objectPutter is the subset of *s3.Client used by the service.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// getPresigner is the subset of *s3.PresignClient used by the service.
type getPresigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Config holds the bucket connection settings.
type Config struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	// URLExpiry defaults to DefaultURLExpiry.
	URLExpiry time.Duration
}

// ConfigFrom builds an archive Config from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		BucketName:      cfg.R2BucketName,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey,
		Endpoint:        cfg.R2Endpoint,
	}
}

// Result describes an archived export.
type Result struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service stores exports in a bucket.
type Service struct {
	client    objectPutter
	presigner getPresigner
	bucket    string
	urlExpiry time.Duration
	timeNow   func() time.Time
}

// NewService creates an archive service for the given bucket.
func NewService(cfg Config) (*Service, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = DefaultURLExpiry
	}

	client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &Service{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.BucketName,
		urlExpiry: cfg.URLExpiry,
		timeNow:   time.Now,
	}, nil
}

// Bucket returns the bucket exports are written to.
func (s *Service) Bucket() string {
	return s.bucket
}

// ObjectKey returns a unique key for an export created at t.
// Pattern: activity-logs/YYYY/MM/DD/<uuid>.<format>
func ObjectKey(format activity.ExportFormat, t time.Time) (string, error) {
	if format != activity.ExportFormatCSV && format != activity.ExportFormatJSON {
		return "", ErrUnsupportedFormat
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate object id: %w", err)
	}
	return fmt.Sprintf("activity-logs/%s/%s.%s", t.UTC().Format("2006/01/02"), id, format), nil
}

// Archive uploads data and returns a presigned GET URL for it.
func (s *Service) Archive(ctx context.Context, data []byte, format activity.ExportFormat) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrEmptyExport
	}

	now := s.timeNow()
	key, err := ObjectKey(format, now)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(format.ContentType()),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload export: %w", err)
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.urlExpiry
	})
	if err != nil {
		return nil, fmt.Errorf("failed to presign download: %w", err)
	}

	return &Result{
		Key:       key,
		URL:       req.URL,
		ExpiresAt: now.Add(s.urlExpiry),
	}, nil
}
