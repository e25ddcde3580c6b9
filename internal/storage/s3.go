// Package storage uploads profile images to an S3-compatible object store.
// Only the resulting URL is kept by the caller; no image bytes are stored
// locally.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrTimeout is returned when the object store does not answer in time.
var ErrTimeout = errors.New("image store timed out")

// Object is an image to store.
type Object struct {
	Key         string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ImageStore stores objects and returns their public URL.
type ImageStore interface {
	Put(ctx context.Context, obj Object) (string, error)
}

// S3Config configures an S3ImageStore.
type S3Config struct {
	Endpoint      string // empty for AWS, set for MinIO, R2 and friends
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
	Timeout       time.Duration
}

// S3ImageStore puts objects into a single bucket.
type S3ImageStore struct {
	client  *s3.Client
	bucket  string
	baseURL string
	timeout time.Duration
}

// NewS3ImageStore builds the S3 client. SDK retries are disabled: a failed
// upload surfaces to the caller immediately.
func NewS3ImageStore(ctx context.Context, cfg S3Config) (*S3ImageStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket must be set")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("upload timeout must be positive")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		o.Retryer = aws.NopRetryer{}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3ImageStore{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: publicBaseURL(cfg),
		timeout: cfg.Timeout,
	}, nil
}

// Put uploads obj and returns the URL it can be fetched from.
func (s *S3ImageStore) Put(ctx context.Context, obj Object) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(obj.Key),
		Body:        obj.Body,
		ContentType: aws.String(obj.ContentType),
	}
	if obj.Size > 0 {
		input.ContentLength = aws.Int64(obj.Size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("put %s: %w", obj.Key, ErrTimeout)
		}
		return "", fmt.Errorf("put %s: %w", obj.Key, err)
	}
	return s.baseURL + "/" + escapeKey(obj.Key), nil
}

func publicBaseURL(cfg S3Config) string {
	switch {
	case cfg.PublicBaseURL != "":
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	case cfg.Endpoint != "":
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
