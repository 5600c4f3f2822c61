// Package storage provides object storage for the engagement archive.
//
// Implementations:
// - LocalStorage: file system storage for development and single hosts
// - R2Storage: Cloudflare R2 (S3-compatible) storage for production
//
// Archive batches are write-once: a key is never overwritten unless the
// caller asks for it explicitly.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage defines the object store used by the archive.
//
// All methods are context-aware for timeout and cancellation support.
type Storage interface {
	// Put stores data at key. Returns ErrKeyExists if the key is taken and
	// opts.Overwrite is false.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get retrieves the data at key. The caller must close the reader.
	// Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// List returns the objects whose keys start with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// =============================================================================
// Data Types
// =============================================================================

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType is the MIME type of the object. If empty it is derived
	// from the key's extension.
	ContentType string

	// Overwrite allows replacing an existing object at the same key.
	Overwrite bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where objects are stored.
	// Example: "./data/archive"
	BasePath string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// Region is required by the AWS SDK. R2 accepts "auto".
	Region string

	// Endpoint overrides the account endpoint, e.g. for an S3-compatible
	// server in tests.
	Endpoint string
}

const (
	// ProviderLocal identifies the local filesystem storage provider.
	ProviderLocal = "local"

	// ProviderR2 identifies the Cloudflare R2 storage provider.
	ProviderR2 = "r2"
)

// =============================================================================
// Key Generation Helpers
// =============================================================================

// ArchivePrefix returns the key prefix holding the archive batches of one UTC
// day. Format: engagement/{yyyy}/{mm}/{dd}/
func ArchivePrefix(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("engagement/%04d/%02d/%02d/", t.Year(), int(t.Month()), t.Day())
}

// ArchiveKey generates the key for one archive batch.
// Example: "engagement/2026/06/15/01J0Q3T9S6V8ZK1XW6QY3R2M4N.ndjson"
func ArchiveKey(t time.Time, batchID string) string {
	return ArchivePrefix(t) + batchID + ExtNDJSON
}
