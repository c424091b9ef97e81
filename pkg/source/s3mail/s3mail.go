// Package s3mail implements source.Source over a mail archive stored in S3,
// one object per message (the layout produced by SES inbound delivery).
//
// Object keys are listed once per (prefix, query) pair and cached for the
// lifetime of the Archive; S3 lists keys in lexicographic order, so offsets
// into the cached listing are stable for the duration of a scan.
package s3mail

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds configuration for the S3 mail archive.
type Config struct {
	// Bucket is the S3 bucket holding the archive.
	Bucket string

	// Prefix is the key prefix under which messages live, e.g. "inbound/".
	Prefix string

	// FetchConcurrency is the number of concurrent GetObject calls per page.
	// Default: 8.
	FetchConcurrency int

	// HeaderRangeBytes is how many leading bytes of each object to request.
	// Message headers fit comfortably in the default 64 KiB; bodies are
	// never needed.
	HeaderRangeBytes int64
}

// DefaultConfig returns a default configuration for the given bucket/prefix.
func DefaultConfig(bucket, prefix string) Config {
	return Config{
		Bucket:           bucket,
		Prefix:           prefix,
		FetchConcurrency: 8,
		HeaderRangeBytes: 64 * 1024,
	}
}

// Validate checks configuration values.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("Bucket is required")
	}
	if c.FetchConcurrency < 0 {
		return fmt.Errorf("FetchConcurrency must be non-negative, got %d", c.FetchConcurrency)
	}
	if c.HeaderRangeBytes < 0 {
		return fmt.Errorf("HeaderRangeBytes must be non-negative, got %d", c.HeaderRangeBytes)
	}
	return nil
}

// s3API is the subset of the S3 client used by the archive. Tests provide
// a fake; production uses *s3.Client.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewClient creates an S3 client using default AWS configuration.
func NewClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// NewClientWithConfig creates an S3 client with a custom AWS config.
func NewClientWithConfig(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg)
}
