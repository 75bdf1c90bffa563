package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"vendorgrid/internal/ingestion/models"
)

// ObjectLocation is a bucket/key pair parsed from s3:// or gs:// URLs.
type ObjectLocation struct {
	Bucket string
	Key    string
}

// ParseObjectURL splits scheme://bucket/key.
func ParseObjectURL(raw string) (ObjectLocation, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ObjectLocation{}, err
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return ObjectLocation{}, fmt.Errorf("object url %q needs a bucket and a key", raw)
	}
	return ObjectLocation{Bucket: u.Host, Key: key}, nil
}

// S3Config configures the S3 fetcher.
type S3Config struct {
	Region   string
	Endpoint string // Optional custom endpoint (MinIO, LocalStack)
}

// S3Fetcher reads registry drops from S3 buckets.
type S3Fetcher struct {
	client *s3.Client
}

// NewS3Fetcher loads the default AWS credential chain.
func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Fetcher{client: client}, nil
}

func (f *S3Fetcher) Schemes() []string { return []string{"s3"} }

func (f *S3Fetcher) Fetch(ctx context.Context, cfg *models.SourceConfig) (io.ReadCloser, error) {
	loc, err := ParseObjectURL(cfg.URL)
	if err != nil {
		return nil, Unsupported(cfg.ID, "invalid s3 url", err)
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.EffectiveFetchTimeout())
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		cancel()
		return nil, Unavailable(cfg.ID, "s3 get "+loc.Bucket+"/"+loc.Key, err)
	}
	return &cancelOnClose{ReadCloser: out.Body, cancel: cancel}, nil
}

// GCSFetcher reads registry drops from Google Cloud Storage.
type GCSFetcher struct {
	client *storage.Client
}

// NewGCSFetcher uses application default credentials.
func NewGCSFetcher(ctx context.Context) (*GCSFetcher, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSFetcher{client: client}, nil
}

func (f *GCSFetcher) Schemes() []string { return []string{"gs"} }

func (f *GCSFetcher) Fetch(ctx context.Context, cfg *models.SourceConfig) (io.ReadCloser, error) {
	loc, err := ParseObjectURL(cfg.URL)
	if err != nil {
		return nil, Unsupported(cfg.ID, "invalid gs url", err)
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.EffectiveFetchTimeout())
	r, err := f.client.Bucket(loc.Bucket).Object(loc.Key).NewReader(ctx)
	if err != nil {
		cancel()
		e := Unavailable(cfg.ID, "gcs get "+loc.Bucket+"/"+loc.Key, err)
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			e.Retryable = false
		}
		return nil, e
	}
	return &cancelOnClose{ReadCloser: r, cancel: cancel}, nil
}

func (f *GCSFetcher) Close() error {
	return f.client.Close()
}
