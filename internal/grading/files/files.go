// Package files resolves submission and instructor files from object storage.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"autograde/internal/common/storage"
	"autograde/internal/grading/model"
	"autograde/internal/grading/sandbox"
	appErr "autograde/pkg/errors"
)

// Resolver is what the orchestrator needs from the file layer.
type Resolver interface {
	SubmissionFiles(ctx context.Context, sub *model.Submission, patterns []string) ([]sandbox.File, error)
	InstructorFiles(ctx context.Context, files []model.InstructorFile) ([]sandbox.File, error)
	OpenInstructorFile(ctx context.Context, file model.InstructorFile) (io.ReadCloser, error)
	// InstructorFilePath returns an absolute local path to the file's content.
	InstructorFilePath(ctx context.Context, file model.InstructorFile) (string, error)
}

// Config locates files in the bucket and the local cache.
type Config struct {
	Bucket   string `yaml:"bucket"`
	CacheDir string `yaml:"cacheDir"`
}

// Store is a Resolver backed by object storage, with instructor files cached on disk.
type Store struct {
	storage  storage.ObjectStorage
	bucket   string
	cacheDir string
	mu       sync.Mutex
}

var _ Resolver = (*Store)(nil)

func NewStore(objects storage.ObjectStorage, cfg Config) *Store {
	return &Store{storage: objects, bucket: cfg.Bucket, cacheDir: cfg.CacheDir}
}

// SubmissionKey is the object key of a submitted file.
func SubmissionKey(submissionID int64, name string) string {
	return fmt.Sprintf("submissions/%d/files/%s", submissionID, name)
}

// InstructorKey is the object key of an instructor file.
func InstructorKey(file model.InstructorFile) string {
	return fmt.Sprintf("projects/%d/instructor_files/%s", file.ProjectID, file.Name)
}

func (s *Store) SubmissionFiles(ctx context.Context, sub *model.Submission, patterns []string) ([]sandbox.File, error) {
	names := sub.MatchFiles(patterns)
	out := make([]sandbox.File, 0, len(names))
	for _, name := range names {
		f, err := s.objectFile(ctx, SubmissionKey(sub.ID, name), name)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *Store) InstructorFiles(ctx context.Context, files []model.InstructorFile) ([]sandbox.File, error) {
	out := make([]sandbox.File, 0, len(files))
	for _, file := range files {
		f, err := s.objectFile(ctx, InstructorKey(file), file.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *Store) objectFile(ctx context.Context, key, name string) (sandbox.File, error) {
	stat, err := s.storage.StatObject(ctx, s.bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return sandbox.File{}, appErr.Wrapf(err, appErr.NotFound, "file %s not found", name)
		}
		return sandbox.File{}, appErr.Wrapf(err, appErr.StorageError, "stat %s failed", key)
	}
	return sandbox.File{
		Name: name,
		Size: stat.SizeBytes,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return s.storage.GetObject(ctx, s.bucket, key)
		},
	}, nil
}

func (s *Store) OpenInstructorFile(ctx context.Context, file model.InstructorFile) (io.ReadCloser, error) {
	path, err := s.InstructorFilePath(ctx, file)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "open cached instructor file failed")
	}
	return f, nil
}

// InstructorFilePath downloads the file into the cache on first use.
func (s *Store) InstructorFilePath(ctx context.Context, file model.InstructorFile) (string, error) {
	name := filepath.Base(file.Name)
	if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, "..") {
		return "", appErr.ValidationError("name", "invalid instructor file name")
	}
	target, err := filepath.Abs(filepath.Join(s.cacheDir, fmt.Sprintf("project_%d", file.ProjectID), fmt.Sprintf("%d_%s", file.ID, name)))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "resolve cache path failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "create cache dir failed")
	}

	reader, err := s.storage.GetObject(ctx, s.bucket, InstructorKey(file))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", appErr.Wrapf(err, appErr.NotFound, "instructor file %s not found", file.Name)
		}
		return "", appErr.Wrapf(err, appErr.StorageError, "download instructor file failed")
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(filepath.Dir(target), name+".tmp-*")
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "create temp file failed")
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", appErr.Wrapf(err, appErr.StorageError, "write instructor file failed")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", appErr.Wrapf(err, appErr.StorageError, "close temp file failed")
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return "", appErr.Wrapf(err, appErr.StorageError, "move instructor file failed")
	}
	return target, nil
}
