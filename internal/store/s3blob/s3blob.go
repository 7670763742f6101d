// Package s3blob stores uploaded images in S3-compatible object storage
// (MinIO in the docker-compose setup). Buckets are expected to exist and
// allow anonymous reads so PublicURL works without presigning.
package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Config struct {
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
	// PublicBase overrides the URL prefix for PublicURL; defaults to
	// BaseEndpoint path-style addressing.
	PublicBase string
}

type Store struct {
	uploader   *manager.Uploader
	endpoint   string
	publicBase string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
		o.UsePathStyle = true
	})

	publicBase := cfg.PublicBase
	if publicBase == "" {
		publicBase = cfg.BaseEndpoint
	}
	return &Store{
		uploader:   manager.NewUploader(client),
		endpoint:   cfg.BaseEndpoint,
		publicBase: strings.TrimRight(publicBase, "/"),
	}, nil
}

func (s *Store) Upload(ctx context.Context, bucket, key string, data []byte) error {
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("uploading %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) PublicURL(bucket, key string) string {
	escaped := url.PathEscape(key)
	escaped = strings.ReplaceAll(escaped, "%2F", "/")
	return fmt.Sprintf("%s/%s/%s", s.publicBase, bucket, escaped)
}
