package assetstore

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded for mutating operations.
const (
	AuditActionCreateAsset        = "CREATE_ASSET"
	AuditActionUpdateAsset        = "UPDATE_ASSET"
	AuditActionDeleteAsset        = "DELETE_ASSET"
	AuditActionUploadVersion      = "UPLOAD_VERSION"
	AuditActionRollbackVersion    = "ROLLBACK_VERSION"
	AuditActionUpdateVersionNotes = "UPDATE_VERSION_NOTES"
)

// Resource types referenced by audit events.
const (
	ResourceTypeFileAsset   = "file_asset"
	ResourceTypeFileVersion = "file_version"
)

// Roles understood by the HTTP layer. The core never checks them; they
// travel with the actor for audit purposes only.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// Asset represents a logical document: a 3D model, slicer profile or
// G-code file that accumulates immutable versions over time.
//
// CurrentVersionHash is empty until the first upload. When set it always
// equals the ContentHash of some Version belonging to this asset; the
// versioning service is the only writer of this field.
type Asset struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	Tags               []string  `json:"tags,omitempty"`
	CurrentVersionHash string    `json:"current_version_hash,omitempty"`
	CreatedBy          uuid.UUID `json:"created_by"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Version is the immutable record of one upload event. Only Notes may be
// amended after creation; ContentHash, AssetID and the file metadata never
// change.
//
// Seq is a per-asset monotonically increasing sequence assigned by the
// repository, giving version history a total order independent of clock
// resolution.
type Version struct {
	ID               uuid.UUID `json:"id"`
	AssetID          uuid.UUID `json:"asset_id"`
	Seq              int64     `json:"seq"`
	ContentHash      string    `json:"content_hash"`
	ByteSize         int64     `json:"byte_size"`
	OriginalFilename string    `json:"original_filename"`
	MediaType        string    `json:"media_type,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	CreatedBy        uuid.UUID `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
}

// Blob is the metadata row for one physical content-addressed object.
// Many versions (across many assets) may reference the same blob; RefCount
// tracks how many live Version rows point at ContentHash. Bytes are only
// eligible for physical deletion once RefCount reaches zero.
type Blob struct {
	ContentHash string    `json:"content_hash"`
	ByteSize    int64     `json:"byte_size"`
	RefCount    int64     `json:"ref_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Actor identifies the pre-authorized caller of a mutating operation.
// Authorization happens in the HTTP layer; the core only records who acted.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role string    `json:"role,omitempty"`
}

// AuditEvent is the structured record emitted for every mutating
// operation. Delivery is fire-and-forget: a failing sink never fails the
// operation that produced the event.
type AuditEvent struct {
	ID           uuid.UUID              `json:"id"`
	ActorID      uuid.UUID              `json:"actor_id"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   uuid.UUID              `json:"resource_id"`
	Details      map[string]interface{} `json:"details,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}
