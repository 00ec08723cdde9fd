package assetstore

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Service defines the main interface for the asset versioning store. It is
// the only surface callers invoke; it composes the content store, version
// ledger and asset registry and enforces the cross-component invariants.
type Service interface {
	// Asset operations
	CreateAsset(ctx context.Context, req CreateAssetRequest) (*Asset, error)
	GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error)
	UpdateAsset(ctx context.Context, req UpdateAssetRequest) (*Asset, error)
	ListAssets(ctx context.Context) ([]*Asset, error)
	DeleteAsset(ctx context.Context, id uuid.UUID, actor Actor) error

	// Version operations
	UploadVersion(ctx context.Context, req UploadVersionRequest) (*Version, error)
	GetVersion(ctx context.Context, assetID, versionID uuid.UUID) (*Version, error)
	ListVersions(ctx context.Context, assetID uuid.UUID) ([]*Version, error)
	UpdateVersionNotes(ctx context.Context, req UpdateVersionNotesRequest) (*Version, error)
	Rollback(ctx context.Context, req RollbackRequest) (*Asset, error)

	// GetCurrentVersion resolves the asset's current pointer to a version
	// record. When several versions share the current hash it returns the
	// most recent one.
	GetCurrentVersion(ctx context.Context, assetID uuid.UUID) (*Version, error)

	// Download operations. The returned stream is read from the content
	// store; callers own closing it.
	Download(ctx context.Context, assetID, versionID uuid.UUID) (io.ReadCloser, *Version, error)
	DownloadCurrent(ctx context.Context, assetID uuid.UUID) (io.ReadCloser, *Version, error)

	// SweepBlobs physically removes blobs whose refcount has reached
	// zero. Intended to run out-of-band; returns the number removed.
	SweepBlobs(ctx context.Context) (int, error)
}
