package assetstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// service implements the Service interface
type service struct {
	repo         Repository
	contentStore *ContentStore
	auditSink    AuditSink
	logger       *slog.Logger
	assetLocks   *lockMap
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the metadata repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repo = repo
	}
}

// WithContentStore sets the content store for the service
func WithContentStore(cs *ContentStore) Option {
	return func(s *service) {
		s.contentStore = cs
	}
}

// WithAuditSink sets the audit sink for the service
func WithAuditSink(sink AuditSink) Option {
	return func(s *service) {
		s.auditSink = sink
	}
}

// WithLogger sets the logger used for audit delivery failures
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		assetLocks: newLockMap(),
	}

	for _, option := range options {
		option(s)
	}

	if s.repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.contentStore == nil {
		return nil, fmt.Errorf("content store is required")
	}
	if s.auditSink == nil {
		s.auditSink = NewNoopAuditSink()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

// audit emits an event to the sink. Delivery is fire-and-forget: failures
// are logged and never propagated to the caller.
func (s *service) audit(ctx context.Context, actor Actor, action, resourceType string, resourceID uuid.UUID, details map[string]interface{}) {
	event := &AuditEvent{
		ID:           uuid.New(),
		ActorID:      actor.ID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.auditSink.Record(ctx, event); err != nil {
		s.logger.Error("audit event delivery failed",
			"action", action,
			"resource_type", resourceType,
			"resource_id", resourceID,
			"error", err)
	}
}

// Asset operations

func (s *service) CreateAsset(ctx context.Context, req CreateAssetRequest) (*Asset, error) {
	now := time.Now().UTC()
	asset := &Asset{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		CreatedBy:   req.Actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.CreateAsset(ctx, asset); err != nil {
		return nil, &AssetError{AssetID: asset.ID, Op: "create", Err: err}
	}

	s.audit(ctx, req.Actor, AuditActionCreateAsset, ResourceTypeFileAsset, asset.ID, map[string]interface{}{
		"name": asset.Name,
	})
	return asset, nil
}

func (s *service) GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error) {
	return s.repo.GetAsset(ctx, id)
}

func (s *service) UpdateAsset(ctx context.Context, req UpdateAssetRequest) (*Asset, error) {
	asset, err := s.repo.GetAsset(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		asset.Name = *req.Name
	}
	if req.Description != nil {
		asset.Description = *req.Description
	}
	if req.Tags != nil {
		asset.Tags = *req.Tags
	}
	asset.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateAsset(ctx, asset); err != nil {
		return nil, &AssetError{AssetID: asset.ID, Op: "update", Err: err}
	}

	s.audit(ctx, req.Actor, AuditActionUpdateAsset, ResourceTypeFileAsset, asset.ID, map[string]interface{}{
		"name": asset.Name,
	})
	return asset, nil
}

func (s *service) ListAssets(ctx context.Context) ([]*Asset, error) {
	return s.repo.ListAssets(ctx)
}

func (s *service) DeleteAsset(ctx context.Context, id uuid.UUID, actor Actor) error {
	s.assetLocks.Lock(id.String())
	defer s.assetLocks.Unlock(id.String())

	released, err := s.repo.CascadeDeleteAsset(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			return err
		}
		return &AssetError{AssetID: id, Op: "delete", Err: err}
	}

	// Physical removal of blobs that just hit refcount zero. Failures are
	// tolerated: the rows are gone or still sweepable, and the sweep
	// retries idempotently.
	for _, contentHash := range released {
		if _, err := s.contentStore.RemoveIfUnreferenced(ctx, contentHash); err != nil {
			s.logger.Warn("deferred blob removal to sweep",
				"content_hash", contentHash,
				"error", err)
		}
	}

	s.audit(ctx, actor, AuditActionDeleteAsset, ResourceTypeFileAsset, id, map[string]interface{}{
		"released_blobs": len(released),
	})
	return nil
}

// Version operations

func (s *service) UploadVersion(ctx context.Context, req UploadVersionRequest) (*Version, error) {
	asset, err := s.repo.GetAsset(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}

	blob, err := s.contentStore.Put(ctx, req.Reader)
	if err != nil {
		return nil, &AssetError{AssetID: asset.ID, Op: "upload", Err: err}
	}

	if err := s.contentStore.IncRef(ctx, blob.ContentHash); err != nil {
		return nil, &AssetError{AssetID: asset.ID, Op: "upload", Err: err}
	}

	version := &Version{
		ID:               uuid.New(),
		AssetID:          asset.ID,
		ContentHash:      blob.ContentHash,
		ByteSize:         blob.ByteSize,
		OriginalFilename: req.OriginalFilename,
		MediaType:        req.MediaType,
		Notes:            req.Notes,
		CreatedBy:        req.Actor.ID,
		CreatedAt:        time.Now().UTC(),
	}

	// The ledger append and the current-pointer update are serialized per
	// asset so the pointer always reflects the last completed upload.
	s.assetLocks.Lock(asset.ID.String())
	defer s.assetLocks.Unlock(asset.ID.String())

	if err := s.repo.CreateVersion(ctx, version); err != nil {
		// Compensate the incref so a failed append never leaks a
		// reference; the original error propagates.
		if derr := s.contentStore.DecRef(ctx, blob.ContentHash); derr != nil {
			s.logger.Error("compensating decref failed",
				"content_hash", blob.ContentHash,
				"error", derr)
		}
		return nil, &AssetError{AssetID: asset.ID, Op: "upload", Err: err}
	}

	if err := s.repo.SetCurrentVersionHash(ctx, asset.ID, blob.ContentHash); err != nil {
		// The version row exists and holds its reference; the pointer
		// stays on the previous upload, so the asset invariant holds.
		return nil, &AssetError{AssetID: asset.ID, Op: "upload", Err: err}
	}

	s.audit(ctx, req.Actor, AuditActionUploadVersion, ResourceTypeFileAsset, asset.ID, map[string]interface{}{
		"content_hash": blob.ContentHash,
		"byte_size":    blob.ByteSize,
	})
	return version, nil
}

func (s *service) GetVersion(ctx context.Context, assetID, versionID uuid.UUID) (*Version, error) {
	return s.repo.GetVersion(ctx, assetID, versionID)
}

func (s *service) ListVersions(ctx context.Context, assetID uuid.UUID) ([]*Version, error) {
	if _, err := s.repo.GetAsset(ctx, assetID); err != nil {
		return nil, err
	}
	return s.repo.ListVersions(ctx, assetID)
}

func (s *service) UpdateVersionNotes(ctx context.Context, req UpdateVersionNotesRequest) (*Version, error) {
	version, err := s.repo.UpdateVersionNotes(ctx, req.AssetID, req.VersionID, req.Notes)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, req.Actor, AuditActionUpdateVersionNotes, ResourceTypeFileVersion, version.ID, map[string]interface{}{
		"asset_id": req.AssetID.String(),
	})
	return version, nil
}

func (s *service) Rollback(ctx context.Context, req RollbackRequest) (*Asset, error) {
	version, err := s.repo.GetVersion(ctx, req.AssetID, req.VersionID)
	if err != nil {
		return nil, err
	}

	// Pointer move only: no new version row, no content store traffic.
	s.assetLocks.Lock(req.AssetID.String())
	defer s.assetLocks.Unlock(req.AssetID.String())

	if err := s.repo.SetCurrentVersionHash(ctx, req.AssetID, version.ContentHash); err != nil {
		return nil, &AssetError{AssetID: req.AssetID, Op: "rollback", Err: err}
	}

	asset, err := s.repo.GetAsset(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, req.Actor, AuditActionRollbackVersion, ResourceTypeFileAsset, asset.ID, map[string]interface{}{
		"version_id":   version.ID.String(),
		"content_hash": version.ContentHash,
	})
	return asset, nil
}

func (s *service) GetCurrentVersion(ctx context.Context, assetID uuid.UUID) (*Version, error) {
	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset.CurrentVersionHash == "" {
		return nil, ErrNoCurrentVersion
	}
	// Several versions may share the current hash; the most recent one
	// wins.
	return s.repo.LatestVersionByHash(ctx, assetID, asset.CurrentVersionHash)
}

// Download operations

func (s *service) Download(ctx context.Context, assetID, versionID uuid.UUID) (io.ReadCloser, *Version, error) {
	version, err := s.repo.GetVersion(ctx, assetID, versionID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.contentStore.Open(ctx, version.ContentHash)
	if err != nil {
		return nil, nil, &VersionError{AssetID: assetID, VersionID: versionID, Op: "download", Err: err}
	}
	return rc, version, nil
}

func (s *service) DownloadCurrent(ctx context.Context, assetID uuid.UUID) (io.ReadCloser, *Version, error) {
	version, err := s.GetCurrentVersion(ctx, assetID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.contentStore.Open(ctx, version.ContentHash)
	if err != nil {
		return nil, nil, &VersionError{AssetID: assetID, VersionID: version.ID, Op: "download", Err: err}
	}
	return rc, version, nil
}

func (s *service) SweepBlobs(ctx context.Context) (int, error) {
	return s.contentStore.Sweep(ctx)
}
