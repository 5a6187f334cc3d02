// Package s3kv stores blobs as objects in an S3 compatible bucket, which
// lets a device back its queue up off-device.
package s3kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/surrealdb/surrealtodo/pkg/kv"
)

type Config struct {
	Bucket string
	// Prefix is prepended to every key, e.g. "devices/phone-1/".
	Prefix   string
	Region   string
	Endpoint string // For S3-compatible services (MinIO, etc.)

	// Static credentials; leave empty to use the default AWS chain.
	AccessKeyID     string
	SecretAccessKey string

	UsePathStyle bool
}

type Store struct {
	client *s3.Client
	cfg    Config
}

var _ kv.Store = (*Store)(nil)

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3kv: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3kv: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &Store{client: client, cfg: cfg}, nil
}

func (s *Store) objectKey(key string) *string {
	return aws.String(s.cfg.Prefix + key)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    s.objectKey(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("s3kv: get object %q: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("s3kv: read body %q: %w", key, err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    s.objectKey(key),
		Body:   bytes.NewReader(value),
	})
	if err != nil {
		return fmt.Errorf("s3kv: put object %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    s.objectKey(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3kv: delete object %q: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	return strings.Contains(err.Error(), "StatusCode: 404")
}
