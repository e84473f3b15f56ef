package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"
)

// S3Config configures the default Cloud implementation. Host/Port, when
// set, point at an S3-compatible endpoint (MinIO, localstack) rather than
// AWS itself.
type S3Config struct {
	Bucket          string
	Region          string
	Host            string
	Port            int
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
}

// S3Cloud is the default Cloud implementation, backed by the AWS SDK's S3
// client with optional custom-endpoint and path-style support so the same
// code targets AWS, MinIO, or localstack.
type S3Cloud struct {
	client *s3.Client
	bucket string
}

// NewS3Cloud builds an S3Cloud from cfg, loading credentials from the
// static fields when both are set and falling back to the default AWS
// credential chain otherwise.
func NewS3Cloud(ctx context.Context, cfg S3Config) (*S3Cloud, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("backup: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Host != "" {
			scheme := "https"
			if cfg.Port != 0 && cfg.Port != 443 {
				scheme = "http"
			}
			endpoint := fmt.Sprintf("%s://%s", scheme, cfg.Host)
			if cfg.Port != 0 {
				endpoint = fmt.Sprintf("%s:%d", endpoint, cfg.Port)
			}
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Cloud{client: client, bucket: cfg.Bucket}, nil
}

func (c *S3Cloud) Upload(ctx context.Context, key string, data []byte) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("backup: upload %q: %w", key, err)
	}
	return nil
}

func (c *S3Cloud) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("backup: download %q: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("backup: read %q: %w", key, err)
	}
	return data, nil
}

func (c *S3Cloud) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("backup: list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

func (c *S3Cloud) Delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("backup: delete %q: %w", key, err)
	}
	return nil
}

// ErrNotFound is returned by Download when key does not exist.
var ErrNotFound = errors.New("backup: object not found")

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
