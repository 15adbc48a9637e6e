package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/airfuse/airfuse/internal/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// BlobAPI is the slice of the S3 client the blob-backed store uses.
type BlobAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps one JSON blob per location in an object store. It fits
// multi-node deployments sharing a cache bucket; the scheduler's
// one-pipeline-per-location guarantee makes the read-modify-write safe.
type S3Store struct {
	client BlobAPI
	bucket string
}

// NewS3Store creates a blob-backed history store.
func NewS3Store(client BlobAPI, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Append implements Store with a get-merge-put cycle on the blob.
func (s *S3Store) Append(ctx context.Context, locationID string, entry types.HourlyEntry) error {
	entries, err := s.read(ctx, locationID)
	if err != nil {
		return err
	}
	entries = merge(entries, entry)

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding history blob: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(locationID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("writing history blob: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *S3Store) Load(ctx context.Context, locationID string) ([]types.HourlyEntry, error) {
	return s.read(ctx, locationID)
}

// Close implements Store.
func (s *S3Store) Close() error { return nil }

func (s *S3Store) read(ctx context.Context, locationID string) ([]types.HourlyEntry, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(locationID)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading history blob: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading history blob body: %w", err)
	}
	var entries []types.HourlyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding history blob: %w", err)
	}
	return entries, nil
}

func (s *S3Store) key(locationID string) string {
	return "history/" + locationID + ".json"
}
