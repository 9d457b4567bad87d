package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystemStore stores file bytes on the local filesystem, one file per handle.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureReady creates the storage directory if it doesn't exist.
func (s *FileSystemStore) EnsureReady(ctx context.Context) error {
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", s.basePath, err)
	}
	return nil
}

// Put writes data to a temporary file and renames it into place, so a
// handle never refers to partial content. Returns the number of bytes written.
func (s *FileSystemStore) Put(ctx context.Context, data io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	handle := newHandle()
	tmp, err := os.CreateTemp(s.basePath, ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := io.Copy(tmp, data)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.filePath(handle)); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("failed to commit file: %w", err)
	}

	return handle, n, nil
}

// Open returns a reader for the stored bytes.
func (s *FileSystemStore) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	if err := validHandle(handle); err != nil {
		return nil, err
	}

	f, err := os.Open(s.filePath(handle))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file %s: %w", handle, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Delete removes the stored file. Deleting a missing handle is not an error.
func (s *FileSystemStore) Delete(ctx context.Context, handle string) error {
	if err := validHandle(handle); err != nil {
		return err
	}

	filePath := s.filePath(handle)
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

// Exists reports whether bytes are stored under handle.
func (s *FileSystemStore) Exists(ctx context.Context, handle string) (bool, error) {
	if err := validHandle(handle); err != nil {
		return false, err
	}

	if _, err := os.Stat(s.filePath(handle)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

// List returns every stored object. Temporary files and foreign names are skipped.
func (s *FileSystemStore) List(ctx context.Context) ([]Object, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	var objects []Object
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || validHandle(entry.Name()) != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // removed since ReadDir
		}
		objects = append(objects, Object{
			Handle:  entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return objects, nil
}

func (s *FileSystemStore) filePath(handle string) string {
	return filepath.Join(s.basePath, handle)
}
