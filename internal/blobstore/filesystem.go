package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const metaSuffix = ".meta.json"

// FilesystemStore implements Store on a local directory. The SHA-256 of
// the content is the fingerprint, so an unchanged blob keeps a stable
// fingerprint across restarts. Content type and metadata live in a JSON
// sidecar next to each blob.
type FilesystemStore struct {
	root string
}

type blobMeta struct {
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewFilesystemStore creates the root directory if needed.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if root == "" {
		return nil, fmt.Errorf("root directory must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FilesystemStore{root: root}, nil
}

// Upload writes the blob and its sidecar, overwriting existing files.
func (s *FilesystemStore) Upload(ctx context.Context, key string, content []byte, contentType string, metadata map[string]string) (*UploadResult, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("write blob %s: %w", key, err)
	}

	meta, err := json.Marshal(blobMeta{ContentType: contentType, Metadata: metadata})
	if err != nil {
		return nil, fmt.Errorf("marshal blob metadata: %w", err)
	}
	if err := os.WriteFile(path+metaSuffix, meta, 0o644); err != nil {
		return nil, fmt.Errorf("write blob metadata %s: %w", key, err)
	}

	return &UploadResult{
		URL:         "file://" + path,
		Fingerprint: contentFingerprint(content),
	}, nil
}

// Download reads the full blob content.
func (s *FilesystemStore) Download(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return content, nil
}

// List returns every blob key in the store.
func (s *FilesystemStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list blob root: %w", err)
	}

	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), metaSuffix) {
			continue
		}
		keys = append(keys, e.Name())
	}
	return keys, nil
}

// Delete removes the blob and its sidecar.
func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	os.Remove(path + metaSuffix)
	return nil
}

// Properties stats the blob and hashes its content for the fingerprint.
func (s *FilesystemStore) Properties(ctx context.Context, key string) (*Properties, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}

	meta := blobMeta{}
	if raw, err := os.ReadFile(path + metaSuffix); err == nil {
		json.Unmarshal(raw, &meta)
	}

	return &Properties{
		Fingerprint: contentFingerprint(content),
		Key:         key,
		ContentType: meta.ContentType,
		Size:        int64(len(content)),
		URL:         "file://" + path,
		Metadata:    meta.Metadata,
	}, nil
}

func (s *FilesystemStore) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) {
		return "", fmt.Errorf("invalid blob key: %q", key)
	}
	return filepath.Join(s.root, key), nil
}

func contentFingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
