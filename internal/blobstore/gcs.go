package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStore implements Store on a Cloud Storage bucket. The object ETag is
// the content fingerprint.
type GCSStore struct {
	client     *storage.Client
	bucket     *storage.BucketHandle
	bucketName string
}

// NewGCSStore creates a store backed by the named bucket. Credentials come
// from the ambient environment.
func NewGCSStore(ctx context.Context, bucketName string) (*GCSStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name must not be empty")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &GCSStore{
		client:     client,
		bucket:     client.Bucket(bucketName),
		bucketName: bucketName,
	}, nil
}

// Upload writes the blob, overwriting any existing object under the key.
func (s *GCSStore) Upload(ctx context.Context, key string, content []byte, contentType string, metadata map[string]string) (*UploadResult, error) {
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata

	if _, err := w.Write(content); err != nil {
		w.Close()
		return nil, fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize object %s: %w", key, err)
	}

	attrs, err := s.bucket.Object(key).Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("read object attrs %s: %w", key, err)
	}

	return &UploadResult{
		URL:         s.objectURL(key),
		Fingerprint: normalizeFingerprint(attrs.Etag),
	}, nil
}

// Download reads the full blob content.
func (s *GCSStore) Download(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	defer r.Close()

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return content, nil
}

// List returns every object key in the bucket.
func (s *GCSStore) List(ctx context.Context) ([]string, error) {
	var keys []string
	it := s.bucket.Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", s.bucketName, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// Delete removes the blob.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotFound
	}
	return err
}

// Properties fetches blob attributes including the content fingerprint.
func (s *GCSStore) Properties(ctx context.Context, key string) (*Properties, error) {
	attrs, err := s.bucket.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read object attrs %s: %w", key, err)
	}

	return &Properties{
		Fingerprint: normalizeFingerprint(attrs.Etag),
		Key:         key,
		ContentType: attrs.ContentType,
		Size:        attrs.Size,
		URL:         s.objectURL(key),
		Metadata:    attrs.Metadata,
	}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) objectURL(key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, key)
}
