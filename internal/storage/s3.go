package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the parameters of an S3-compatible document location
// (AWS S3 or MinIO).
type S3Config struct {
	Bucket          string
	Key             string
	Region          string
	Endpoint        string // optional; enables a custom endpoint
	PathStyle       bool
	AccessKeyID     string // optional; falls back to the default credentials chain
	SecretAccessKey string
	Timeout         time.Duration
}

// S3 implements Provider with one object in a bucket.
type S3 struct {
	client  *s3.Client
	bucket  string
	key     string
	timeout time.Duration
}

// NewS3 builds an S3 provider. optFns are applied to the client options
// after the configured endpoint settings.
func NewS3(ctx context.Context, cfg S3Config, optFns ...func(*s3.Options)) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: s3 bucket required")
	}
	if cfg.Key == "" {
		return nil, errors.New("storage: s3 key required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, append([]func(*s3.Options){func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	}}, optFns...)...)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &S3{client: client, bucket: cfg.Bucket, key: cfg.Key, timeout: timeout}, nil
}

// Location returns the s3:// URI of the document.
func (s *S3) Location() string { return "s3://" + s.bucket + "/" + s.key }

// Read downloads the document.
func (s *S3) Read() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &s.key})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("storage: read %s: %w", s.Location(), fs.ErrNotExist)
		}
		return nil, fmt.Errorf("storage: read %s: %w", s.Location(), err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: read body: %w", err)
	}
	return data, nil
}

// Write uploads content in a single PutObject, which S3 applies atomically.
func (s *S3) Write(content []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &s.key,
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", s.Location(), err)
	}
	return nil
}

// MoveAside copies the object to "<key>.<tag>[-N]" and deletes the original.
func (s *S3) MoveAside(tag string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	base := s.key + "." + tag
	target := base
	for i := 1; ; i++ {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &target})
		if err != nil {
			if isNotFound(err) {
				break
			}
			return "", fmt.Errorf("storage: head backup: %w", err)
		}
		target = base + "-" + strconv.Itoa(i)
	}

	source := s.bucket + "/" + url.PathEscape(s.key)
	if _, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &s.bucket,
		Key:        &target,
		CopySource: &source,
	}); err != nil {
		return "", fmt.Errorf("storage: copy to backup: %w", err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &s.key}); err != nil {
		return "", fmt.Errorf("storage: delete original: %w", err)
	}
	return "s3://" + s.bucket + "/" + target, nil
}

func isNotFound(err error) bool {
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
