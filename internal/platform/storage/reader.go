package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
)

const defaultMaxObjectBytes = 1 << 20

// Reader loads small configuration objects from Cloud Storage.
type Reader struct {
	client   *gcs.Client
	maxBytes int64
}

// ReaderOption customises reader behaviour.
type ReaderOption func(*Reader)

// WithMaxObjectBytes caps the number of bytes read from a single object.
func WithMaxObjectBytes(limit int64) ReaderOption {
	return func(r *Reader) {
		if limit > 0 {
			r.maxBytes = limit
		}
	}
}

// NewReader constructs a Reader backed by the provided Cloud Storage client.
func NewReader(client *gcs.Client, opts ...ReaderOption) (*Reader, error) {
	if client == nil {
		return nil, errors.New("storage reader: client is required")
	}
	reader := &Reader{client: client, maxBytes: defaultMaxObjectBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(reader)
		}
	}
	return reader, nil
}

// ReadObject returns the object contents, failing when it exceeds the configured limit.
func (r *Reader) ReadObject(ctx context.Context, location Location) ([]byte, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("storage reader: client is not initialised")
	}
	rc, err := r.client.Bucket(location.Bucket).Object(location.Object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("storage reader: %s not found: %w", location, err)
		}
		return nil, fmt.Errorf("storage reader: open %s: %w", location, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("storage reader: read %s: %w", location, err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("storage reader: %s exceeds %d bytes", location, r.maxBytes)
	}
	return data, nil
}

// Close releases the underlying client.
func (r *Reader) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
