package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store implements Store against an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

// NewS3Store wraps an existing S3 client and bucket name.
func NewS3Store(client *s3.Client, bucket string, logger *slog.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		logger: logger,
	}
}

// EnsureContainer creates the bucket if absent. A bucket we already own is
// not an error.
func (s *S3Store) EnsureContainer(ctx context.Context) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: &s.bucket,
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("blob: failed to create bucket %q: %w", s.bucket, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &name,
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("blob: failed to check existence of %q: %w", name, err)
	}
	return true, nil
}

func (s *S3Store) Properties(ctx context.Context, name string) (Properties, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &name,
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return Properties{}, ErrNotFound
		}
		return Properties{}, fmt.Errorf("blob: failed to get properties of %q: %w", name, err)
	}

	props := Properties{Metadata: head.Metadata}
	if head.LastModified != nil {
		props.LastModified = *head.LastModified
	}
	return props, nil
}

func (s *S3Store) ListPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	var entries []Entry

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("blob: failed to list prefix %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			entry := Entry{Name: *obj.Key}
			if obj.LastModified != nil {
				entry.LastModified = *obj.LastModified
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *S3Store) Download(ctx context.Context, name, destPath string) error {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &name,
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return ErrNotFound
		}
		return fmt.Errorf("blob: failed to download %q: %w", name, err)
	}
	defer result.Body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("blob: failed to create download target: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, result.Body); err != nil {
		return fmt.Errorf("blob: failed to write download of %q: %w", name, err)
	}
	return nil
}

func (s *S3Store) Upload(ctx context.Context, name, srcPath string, metadata map[string]string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("blob: failed to open upload source: %w", err)
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   &s.bucket,
		Key:      &name,
		Body:     f,
		Metadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("blob: failed to upload %q: %w", name, err)
	}
	return nil
}
