package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a handle has no stored bytes.
var ErrNotFound = errors.New("object not found")

// ErrInvalidHandle is returned for handles this package did not issue.
var ErrInvalidHandle = errors.New("invalid storage handle")

// Store defines the interface for byte storage backends. Handles are opaque
// to callers and are generated by Put.
type Store interface {
	Put(ctx context.Context, data io.Reader) (handle string, n int64, err error)
	Open(ctx context.Context, handle string) (io.ReadCloser, error)
	Delete(ctx context.Context, handle string) error
	Exists(ctx context.Context, handle string) (bool, error)
	List(ctx context.Context) ([]Object, error)
	EnsureReady(ctx context.Context) error
}

// Object describes one stored blob.
type Object struct {
	Handle  string
	Size    int64
	ModTime time.Time
}

func newHandle() string {
	return uuid.NewString()
}

func validHandle(handle string) error {
	if _, err := uuid.Parse(handle); err != nil {
		return ErrInvalidHandle
	}
	return nil
}
