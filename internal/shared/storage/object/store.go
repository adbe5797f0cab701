package object

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned by Open when no object exists at the key.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey is returned by Open for a key the store can never serve.
	ErrInvalidKey = errors.New("invalid storage key")
)

// ObjectStore defines the contract for saving and retrieving raw uploads.
// Save returns the storage key, the byte count, and the sniffed content type.
type ObjectStore interface {
	Save(ctx context.Context, ownerID string, fileName string, r io.Reader) (storageKey string, sizeBytes int64, sniffedType string, err error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
}

// ReadAll opens storageKey and returns its full contents.
func ReadAll(ctx context.Context, store ObjectStore, storageKey string) ([]byte, error) {
	body, err := store.Open(ctx, storageKey)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}
