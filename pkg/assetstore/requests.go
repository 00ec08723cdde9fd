package assetstore

import (
	"io"

	"github.com/google/uuid"
)

// Request/Response DTOs

// CreateAssetRequest contains parameters for creating a new asset
type CreateAssetRequest struct {
	Name        string
	Description string
	Tags        []string
	Actor       Actor
}

// UpdateAssetRequest contains parameters for editing asset metadata.
// Nil fields are left unchanged.
type UpdateAssetRequest struct {
	AssetID     uuid.UUID
	Name        *string
	Description *string
	Tags        *[]string
	Actor       Actor
}

// UploadVersionRequest contains parameters for uploading a new version of
// an asset. Reader is consumed in full; the content hash is always
// computed server-side, never taken from the caller.
type UploadVersionRequest struct {
	AssetID          uuid.UUID
	Reader           io.Reader
	OriginalFilename string
	MediaType        string
	Notes            string
	Actor            Actor
}

// RollbackRequest contains parameters for pointing an asset back at an
// earlier version. No bytes move; only the current pointer.
type RollbackRequest struct {
	AssetID   uuid.UUID
	VersionID uuid.UUID
	Actor     Actor
}

// UpdateVersionNotesRequest contains parameters for amending a version's
// notes, the only mutable version field.
type UpdateVersionNotesRequest struct {
	AssetID   uuid.UUID
	VersionID uuid.UUID
	Notes     string
	Actor     Actor
}
