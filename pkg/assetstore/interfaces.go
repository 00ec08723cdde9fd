package assetstore

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// BlobStore defines the interface for physical byte storage backends.
// Keys are derived from content hashes by the content store; backends
// never interpret them beyond treating them as opaque paths.
//
// All implementations must make Write atomic (a partially transferred
// stream is never observable through Open) and must make Write and Delete
// idempotent: writing an already-present key or deleting an absent one is
// a no-op, not an error.
type BlobStore interface {
	// Write stores the full byte stream under the given key
	Write(ctx context.Context, key string, reader io.Reader) error

	// Open returns a stream of the bytes stored under key
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether bytes are stored under key
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the bytes stored under key
	Delete(ctx context.Context, key string) error
}

// Repository defines the interface for asset, version and blob metadata
// persistence. It backs all three metadata components: the asset registry,
// the append-only version ledger, and the content store's blob rows.
type Repository interface {
	// Asset registry operations
	CreateAsset(ctx context.Context, asset *Asset) error
	GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error)
	UpdateAsset(ctx context.Context, asset *Asset) error
	ListAssets(ctx context.Context) ([]*Asset, error)

	// SetCurrentVersionHash atomically moves the asset's current pointer.
	SetCurrentVersionHash(ctx context.Context, assetID uuid.UUID, contentHash string) error

	// CascadeDeleteAsset removes the asset and all its versions,
	// decrementing the blob refcount once per removed version. The whole
	// cascade is atomic: on failure the asset and its versions remain
	// intact. It returns the content hashes whose refcount reached zero.
	CascadeDeleteAsset(ctx context.Context, assetID uuid.UUID) ([]string, error)

	// Version ledger operations. The ledger is append-only: content
	// fields are never updated, only Notes may be amended.
	CreateVersion(ctx context.Context, version *Version) error
	GetVersion(ctx context.Context, assetID, versionID uuid.UUID) (*Version, error)
	ListVersions(ctx context.Context, assetID uuid.UUID) ([]*Version, error)
	UpdateVersionNotes(ctx context.Context, assetID, versionID uuid.UUID, notes string) (*Version, error)

	// LatestVersionByHash returns the most recent version of the asset
	// carrying the given content hash.
	LatestVersionByHash(ctx context.Context, assetID uuid.UUID, contentHash string) (*Version, error)

	// Blob row operations (content store metadata). Refcounts are only
	// ever adjusted through IncBlobRef/DecBlobRef.
	CreateBlob(ctx context.Context, blob *Blob) error
	GetBlob(ctx context.Context, contentHash string) (*Blob, error)
	IncBlobRef(ctx context.Context, contentHash string) error
	DecBlobRef(ctx context.Context, contentHash string) (int64, error)
	ListUnreferencedBlobs(ctx context.Context) ([]*Blob, error)

	// DeleteBlobIfUnreferenced removes the blob row only while its
	// refcount is still zero, reporting whether it did.
	DeleteBlobIfUnreferenced(ctx context.Context, contentHash string) (bool, error)
}

// AuditSink receives structured events for every mutating operation.
// Delivery is fire-and-forget from the service's perspective: a non-nil
// error is logged and discarded, never propagated to the caller.
type AuditSink interface {
	Record(ctx context.Context, event *AuditEvent) error
}
