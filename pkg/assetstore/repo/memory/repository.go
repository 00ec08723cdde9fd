package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Arinfaead/FilaDB/pkg/assetstore"
)

// Repository implements assetstore.Repository using in-memory storage.
// A single mutex guards all maps, which also makes the cascade delete
// atomic.
type Repository struct {
	mu              sync.RWMutex
	assets          map[uuid.UUID]*assetstore.Asset
	versions        map[uuid.UUID]*assetstore.Version
	versionsByAsset map[uuid.UUID][]uuid.UUID
	blobs           map[string]*assetstore.Blob
	nextSeq         map[uuid.UUID]int64
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		assets:          make(map[uuid.UUID]*assetstore.Asset),
		versions:        make(map[uuid.UUID]*assetstore.Version),
		versionsByAsset: make(map[uuid.UUID][]uuid.UUID),
		blobs:           make(map[string]*assetstore.Blob),
		nextSeq:         make(map[uuid.UUID]int64),
	}
}

func copyAsset(a *assetstore.Asset) *assetstore.Asset {
	assetCopy := *a
	if a.Tags != nil {
		assetCopy.Tags = append([]string(nil), a.Tags...)
	}
	return &assetCopy
}

// Asset registry operations

func (r *Repository) CreateAsset(ctx context.Context, asset *assetstore.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.assets[asset.ID] = copyAsset(asset)
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*assetstore.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, exists := r.assets[id]
	if !exists {
		return nil, assetstore.ErrAssetNotFound
	}
	return copyAsset(asset), nil
}

func (r *Repository) UpdateAsset(ctx context.Context, asset *assetstore.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[asset.ID]; !exists {
		return assetstore.ErrAssetNotFound
	}
	r.assets[asset.ID] = copyAsset(asset)
	return nil
}

func (r *Repository) ListAssets(ctx context.Context) ([]*assetstore.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*assetstore.Asset, 0, len(r.assets))
	for _, asset := range r.assets {
		result = append(result, copyAsset(asset))
	}

	// Sort by created_at descending
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *Repository) SetCurrentVersionHash(ctx context.Context, assetID uuid.UUID, contentHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, exists := r.assets[assetID]
	if !exists {
		return assetstore.ErrAssetNotFound
	}
	asset.CurrentVersionHash = contentHash
	asset.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) CascadeDeleteAsset(ctx context.Context, assetID uuid.UUID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[assetID]; !exists {
		return nil, assetstore.ErrAssetNotFound
	}

	// One decref per version row; a hash shared by several versions of
	// this asset is decremented once per row, not once per hash.
	var released []string
	for _, versionID := range r.versionsByAsset[assetID] {
		version := r.versions[versionID]
		blob, exists := r.blobs[version.ContentHash]
		if !exists {
			return nil, fmt.Errorf("blob %s missing during cascade: %w", version.ContentHash, assetstore.ErrBlobNotFound)
		}
		blob.RefCount--
		if blob.RefCount == 0 {
			released = append(released, blob.ContentHash)
		}
		delete(r.versions, versionID)
	}

	delete(r.versionsByAsset, assetID)
	delete(r.nextSeq, assetID)
	delete(r.assets, assetID)
	return released, nil
}

// Version ledger operations

func (r *Repository) CreateVersion(ctx context.Context, version *assetstore.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[version.AssetID]; !exists {
		return assetstore.ErrAssetNotFound
	}

	r.nextSeq[version.AssetID]++
	version.Seq = r.nextSeq[version.AssetID]

	versionCopy := *version
	r.versions[version.ID] = &versionCopy
	r.versionsByAsset[version.AssetID] = append(r.versionsByAsset[version.AssetID], version.ID)
	return nil
}

func (r *Repository) GetVersion(ctx context.Context, assetID, versionID uuid.UUID) (*assetstore.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, exists := r.versions[versionID]
	if !exists || version.AssetID != assetID {
		// A version belonging to another asset is reported as not found
		// rather than leaking its existence.
		return nil, assetstore.ErrVersionNotFound
	}
	versionCopy := *version
	return &versionCopy, nil
}

func (r *Repository) ListVersions(ctx context.Context, assetID uuid.UUID) ([]*assetstore.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.versionsByAsset[assetID]
	result := make([]*assetstore.Version, 0, len(ids))
	for _, versionID := range ids {
		versionCopy := *r.versions[versionID]
		result = append(result, &versionCopy)
	}

	// Newest first
	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq > result[j].Seq
	})
	return result, nil
}

func (r *Repository) UpdateVersionNotes(ctx context.Context, assetID, versionID uuid.UUID, notes string) (*assetstore.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	version, exists := r.versions[versionID]
	if !exists || version.AssetID != assetID {
		return nil, assetstore.ErrVersionNotFound
	}
	version.Notes = notes
	versionCopy := *version
	return &versionCopy, nil
}

func (r *Repository) LatestVersionByHash(ctx context.Context, assetID uuid.UUID, contentHash string) (*assetstore.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *assetstore.Version
	for _, versionID := range r.versionsByAsset[assetID] {
		version := r.versions[versionID]
		if version.ContentHash != contentHash {
			continue
		}
		if latest == nil || version.Seq > latest.Seq {
			latest = version
		}
	}
	if latest == nil {
		return nil, assetstore.ErrVersionNotFound
	}
	versionCopy := *latest
	return &versionCopy, nil
}

// Blob row operations

func (r *Repository) CreateBlob(ctx context.Context, blob *assetstore.Blob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Insert-or-ignore: a concurrent writer of identical content wins
	// and the existing row stands.
	if _, exists := r.blobs[blob.ContentHash]; exists {
		return nil
	}
	blobCopy := *blob
	r.blobs[blob.ContentHash] = &blobCopy
	return nil
}

func (r *Repository) GetBlob(ctx context.Context, contentHash string) (*assetstore.Blob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	blob, exists := r.blobs[contentHash]
	if !exists {
		return nil, assetstore.ErrBlobNotFound
	}
	blobCopy := *blob
	return &blobCopy, nil
}

func (r *Repository) IncBlobRef(ctx context.Context, contentHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	blob, exists := r.blobs[contentHash]
	if !exists {
		return assetstore.ErrBlobNotFound
	}
	blob.RefCount++
	return nil
}

func (r *Repository) DecBlobRef(ctx context.Context, contentHash string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	blob, exists := r.blobs[contentHash]
	if !exists {
		return 0, assetstore.ErrBlobNotFound
	}
	if blob.RefCount == 0 {
		return 0, fmt.Errorf("blob %s refcount underflow", contentHash)
	}
	blob.RefCount--
	return blob.RefCount, nil
}

func (r *Repository) ListUnreferencedBlobs(ctx context.Context) ([]*assetstore.Blob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*assetstore.Blob
	for _, blob := range r.blobs {
		if blob.RefCount == 0 {
			blobCopy := *blob
			result = append(result, &blobCopy)
		}
	}
	return result, nil
}

func (r *Repository) DeleteBlobIfUnreferenced(ctx context.Context, contentHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	blob, exists := r.blobs[contentHash]
	if !exists || blob.RefCount > 0 {
		return false, nil
	}
	delete(r.blobs, contentHash)
	return true, nil
}
