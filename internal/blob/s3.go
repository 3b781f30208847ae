package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/roomvault/roomvault/internal/errs"
)

// S3Options configures access to an S3-compatible blob mirror.
type S3Options struct {
	Endpoint        string // custom endpoint for S3-compatible stores; empty for AWS
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// s3API is the subset of the S3 client used here, extracted for tests.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher reads blobs from an S3-compatible mirror of the permanent store,
// keyed by the same content address.
type S3Fetcher struct {
	client s3API
	bucket string
}

var _ Fetcher = (*S3Fetcher)(nil)

// NewS3Fetcher builds the S3 client with static credentials and path-style
// addressing (required by most S3-compatible stores).
func NewS3Fetcher(ctx context.Context, o S3Options) (*S3Fetcher, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(o.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(opt *s3.Options) {
		if o.Endpoint != "" {
			opt.BaseEndpoint = aws.String(o.Endpoint)
		}
		opt.UsePathStyle = true
	})
	return &S3Fetcher{client: client, bucket: o.Bucket}, nil
}

// Fetch downloads the object stored under storageRef.
func (f *S3Fetcher) Fetch(ctx context.Context, storageRef string) ([]byte, error) {
	if storageRef == "" {
		return nil, fmt.Errorf("%w: empty storage ref", errs.ErrFetch)
	}
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(storageRef),
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: s3 fetch: %v", errs.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrFetch, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errs.ErrFetch, err)
	}
	return data, nil
}
