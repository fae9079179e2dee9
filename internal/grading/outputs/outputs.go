// Package outputs stores the captured stdout and stderr of setup and test commands.
package outputs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"autograde/internal/common/storage"
	appErr "autograde/pkg/errors"
)

const (
	BackendLocal  = "local"
	BackendObject = "object"

	compressedSuffix = ".zst"
	contentType      = "application/zstd"
)

// Store persists output streams by key. Open on a missing key returns an
// OutputNotFound error.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Truncate leaves an empty stream under key.
	Truncate(ctx context.Context, key string) error
}

// Config selects the backend.
type Config struct {
	Backend string `yaml:"backend"`
	Root    string `yaml:"root"`
	Bucket  string `yaml:"bucket"`
}

// New builds the configured store. objects may be nil for the local backend.
func New(cfg Config, objects storage.ObjectStorage) (Store, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		if cfg.Root == "" {
			return nil, appErr.ValidationError("root", "required for local outputs")
		}
		return NewLocalStore(cfg.Root), nil
	case BackendObject:
		if objects == nil || cfg.Bucket == "" {
			return nil, appErr.ValidationError("bucket", "object storage and bucket required")
		}
		return NewObjectStore(objects, cfg.Bucket)
	default:
		return nil, appErr.ValidationError("backend", "unknown outputs backend "+cfg.Backend)
	}
}

// Item is one stream to store.
type Item struct {
	Key    string
	Reader io.Reader
	Size   int64
}

// PutAll stores the items concurrently.
func PutAll(ctx context.Context, store Store, items ...Item) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		item := item
		g.Go(func() error {
			return store.Put(gctx, item.Key, item.Reader, item.Size)
		})
	}
	return g.Wait()
}

// LocalStore keeps outputs as plain files under a root directory.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", appErr.ValidationError("key", "invalid output key")
	}
	return filepath.Join(s.root, clean), nil
}

func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "create output dir failed")
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "create output file failed")
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		return appErr.Wrapf(err, appErr.StorageError, "write output file failed")
	}
	if err := file.Close(); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "close output file failed")
	}
	return nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	target, err := s.path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, appErr.Wrapf(err, appErr.OutputNotFound, "output %s not found", key)
		}
		return nil, appErr.Wrapf(err, appErr.StorageError, "open output file failed")
	}
	return file, nil
}

func (s *LocalStore) Truncate(ctx context.Context, key string) error {
	return s.Put(ctx, key, bytes.NewReader(nil), 0)
}

// ObjectStore keeps outputs zstd-compressed in object storage.
type ObjectStore struct {
	storage storage.ObjectStorage
	bucket  string
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

func NewObjectStore(objects storage.ObjectStorage, bucket string) (*ObjectStore, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "create zstd encoder failed")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "create zstd decoder failed")
	}
	return &ObjectStore{storage: objects, bucket: bucket, enc: enc, dec: dec}, nil
}

func (s *ObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "read output failed")
	}
	compressed := s.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	if err := s.storage.PutObject(ctx, s.bucket, key+compressedSuffix, bytes.NewReader(compressed), int64(len(compressed)), contentType); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "upload output %s failed", key)
	}
	return nil
}

func (s *ObjectStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.storage.GetObject(ctx, s.bucket, key+compressedSuffix)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, appErr.Wrapf(err, appErr.OutputNotFound, "output %s not found", key)
		}
		return nil, appErr.Wrapf(err, appErr.StorageError, "download output %s failed", key)
	}
	defer reader.Close()

	compressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "read output %s failed", key)
	}
	raw, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "decompress output %s failed", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *ObjectStore) Truncate(ctx context.Context, key string) error {
	return s.Put(ctx, key, bytes.NewReader(nil), 0)
}
