// Package objectstore abstracts the blob store backing capability URLs.
// The core depends only on this interface; the concrete implementation
// (filesystem for local dev/tests, a cloud blob service in production) is
// pluggable.
package objectstore

import (
	"context"
	"time"
)

// Store issues and validates time-limited URLs against a blob path.
type Store interface {
	// IssueUploadURL mints a write-and-create-only URL bound to blobPath and
	// contentType, valid until expiresAt.
	IssueUploadURL(ctx context.Context, blobPath, contentType string, expiresAt time.Time) (string, error)

	// IssueDownloadURL mints a read-only URL for blobPath, valid for ttl.
	IssueDownloadURL(ctx context.Context, blobPath string, ttl time.Duration) (string, error)

	// Stat returns the size in bytes of the object at blobPath, or an error
	// satisfying errors.Is(err, ErrNotFound) if it does not exist.
	Stat(ctx context.Context, blobPath string) (int64, error)
}
