package assetstore

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrAssetNotFound indicates an asset was not found
	ErrAssetNotFound = errors.New("asset not found")

	// ErrVersionNotFound indicates a version was not found for the given asset
	ErrVersionNotFound = errors.New("version not found")

	// ErrBlobNotFound indicates no blob exists for a content hash
	ErrBlobNotFound = errors.New("blob not found")

	// ErrNoCurrentVersion indicates the asset has no uploads yet
	ErrNoCurrentVersion = errors.New("asset has no current version")

	// ErrHashMismatch indicates stored bytes no longer hash to their
	// recorded digest. Treated as data corruption: not retryable, needs
	// operator attention.
	ErrHashMismatch = errors.New("content hash mismatch")
)

// AssetError represents an error related to asset operations
type AssetError struct {
	AssetID uuid.UUID
	Op      string
	Err     error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset operation %s failed for asset %s: %v", e.Op, e.AssetID, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// VersionError represents an error related to version operations
type VersionError struct {
	AssetID   uuid.UUID
	VersionID uuid.UUID
	Op        string
	Err       error
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("version operation %s failed for version %s of asset %s: %v", e.Op, e.VersionID, e.AssetID, e.Err)
}

func (e *VersionError) Unwrap() error {
	return e.Err
}

// StorageError represents a physical I/O failure in a blob store. The
// enclosed operation is idempotent at the hash level, so callers may retry
// the whole upload or download.
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
