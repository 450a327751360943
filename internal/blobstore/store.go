// Package blobstore provides object-store access for document blobs.
//
// A Store is a thin capability wrapper over a single container of blobs;
// it holds no authoritative state of its own. Every blob version carries a
// content fingerprint (the store's ETag or a content hash) which the worker
// uses as its deduplication key.
package blobstore

import (
	"context"
	"errors"
	"strings"

	"github.com/docstream/docstream/internal/observability"
)

// ErrNotFound indicates the requested blob does not exist.
var ErrNotFound = errors.New("blob not found")

// UploadResult describes a stored blob version.
type UploadResult struct {
	URL         string
	Fingerprint string
}

// Properties describes a blob as reported by the store.
type Properties struct {
	Fingerprint string
	Key         string
	ContentType string
	Size        int64
	URL         string
	Metadata    map[string]string
}

// Store is the object-store capability used by the API and the worker.
type Store interface {
	Upload(ctx context.Context, key string, content []byte, contentType string, metadata map[string]string) (*UploadResult, error)
	Download(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, key string) error
	Properties(ctx context.Context, key string) (*Properties, error)
}

// FindUnprocessed lists every PDF blob whose fingerprint is not in known.
// Blobs whose properties cannot be fetched, or whose fingerprint is empty,
// are logged and skipped rather than reported as errors.
func FindUnprocessed(ctx context.Context, store Store, known map[string]struct{}, logger *observability.Logger) ([]*Properties, error) {
	keys, err := store.List(ctx)
	if err != nil {
		return nil, err
	}

	var result []*Properties
	for _, key := range keys {
		if !strings.HasSuffix(strings.ToLower(key), ".pdf") {
			continue
		}

		props, err := store.Properties(ctx, key)
		if err != nil {
			logger.Warn().Str("key", key).Err(err).Msg("Skipping blob: properties unavailable")
			continue
		}
		if props.Fingerprint == "" {
			logger.Warn().Str("key", key).Msg("Skipping blob: empty fingerprint")
			continue
		}
		if _, processed := known[props.Fingerprint]; processed {
			continue
		}

		logger.Info().Str("key", key).Str("fingerprint", props.Fingerprint).Msg("Found unprocessed PDF")
		result = append(result, props)
	}

	return result, nil
}

// normalizeFingerprint strips the surrounding quotes some stores put
// around ETag values.
func normalizeFingerprint(etag string) string {
	return strings.Trim(etag, `"`)
}
