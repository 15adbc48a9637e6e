package history

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeBlobStore is an in-memory BlobAPI double.
type fakeBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (f *fakeBlobStore) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeBlobStore) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	store := NewS3Store(newFakeBlobStore(), "test-bucket")
	defer store.Close()
	storeContract(t, store)
}

func TestS3StoreKeyLayout(t *testing.T) {
	fake := newFakeBlobStore()
	store := NewS3Store(fake, "test-bucket")

	if err := store.Append(context.Background(), "40.7128_-74.0060", entryAt(testHour, 12.0)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, ok := fake.blobs["history/40.7128_-74.0060.json"]; !ok {
		t.Errorf("blob keys = %v, want history/40.7128_-74.0060.json", keysOf(fake.blobs))
	}
}

func keysOf(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
