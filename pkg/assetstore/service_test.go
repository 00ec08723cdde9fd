package assetstore_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	mathrand "math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arinfaead/FilaDB/pkg/assetstore"
	"github.com/Arinfaead/FilaDB/pkg/assetstore/repo/memory"
	memorystorage "github.com/Arinfaead/FilaDB/pkg/assetstore/storage/memory"
)

type testEnv struct {
	svc     assetstore.Service
	repo    assetstore.Repository
	backend *memorystorage.Backend
	sink    *memory.AuditSink
	actor   assetstore.Actor
}

func setupTestService(t *testing.T) *testEnv {
	t.Helper()
	return setupTestServiceWithRepo(t, memory.New())
}

func setupTestServiceWithRepo(t *testing.T, repo assetstore.Repository) *testEnv {
	t.Helper()

	backend := memorystorage.New()
	sink := memory.NewAuditSink()
	cs := assetstore.NewContentStore(repo, backend, assetstore.WithSweepMinAge(0))

	svc, err := assetstore.New(
		assetstore.WithRepository(repo),
		assetstore.WithContentStore(cs),
		assetstore.WithAuditSink(sink),
	)
	require.NoError(t, err)
	require.NotNil(t, svc)

	return &testEnv{
		svc:     svc,
		repo:    repo,
		backend: backend,
		sink:    sink,
		actor:   assetstore.Actor{ID: uuid.New(), Role: assetstore.RoleEditor},
	}
}

func (e *testEnv) createAsset(t *testing.T, name string) *assetstore.Asset {
	t.Helper()
	asset, err := e.svc.CreateAsset(context.Background(), assetstore.CreateAssetRequest{
		Name:  name,
		Actor: e.actor,
	})
	require.NoError(t, err)
	return asset
}

func (e *testEnv) upload(t *testing.T, assetID uuid.UUID, data []byte, filename string) *assetstore.Version {
	t.Helper()
	version, err := e.svc.UploadVersion(context.Background(), assetstore.UploadVersionRequest{
		AssetID:          assetID,
		Reader:           bytes.NewReader(data),
		OriginalFilename: filename,
		Actor:            e.actor,
	})
	require.NoError(t, err)
	return version
}

func (e *testEnv) blobRefCount(t *testing.T, contentHash string) int64 {
	t.Helper()
	blob, err := e.repo.GetBlob(context.Background(), contentHash)
	require.NoError(t, err)
	return blob.RefCount
}

func TestServiceCreation(t *testing.T) {
	repo := memory.New()
	cs := assetstore.NewContentStore(repo, memorystorage.New())

	tests := []struct {
		name        string
		options     []assetstore.Option
		expectError bool
	}{
		{
			name:        "no options should fail",
			options:     []assetstore.Option{},
			expectError: true,
		},
		{
			name: "missing content store should fail",
			options: []assetstore.Option{
				assetstore.WithRepository(repo),
			},
			expectError: true,
		},
		{
			name: "repository and content store should succeed",
			options: []assetstore.Option{
				assetstore.WithRepository(repo),
				assetstore.WithContentStore(cs),
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := assetstore.New(tt.options...)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func TestAssetOperations(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	t.Run("CreateAsset", func(t *testing.T) {
		asset, err := env.svc.CreateAsset(ctx, assetstore.CreateAssetRequest{
			Name:        "benchy",
			Description: "calibration boat",
			Tags:        []string{"calibration", "pla"},
			Actor:       env.actor,
		})
		assert.NoError(t, err)
		assert.NotNil(t, asset)
		assert.Equal(t, "benchy", asset.Name)
		assert.Equal(t, []string{"calibration", "pla"}, asset.Tags)
		assert.Empty(t, asset.CurrentVersionHash)
		assert.Equal(t, env.actor.ID, asset.CreatedBy)
		assert.False(t, asset.CreatedAt.IsZero())
	})

	t.Run("GetAsset", func(t *testing.T) {
		created := env.createAsset(t, "voron mount")

		retrieved, err := env.svc.GetAsset(ctx, created.ID)
		assert.NoError(t, err)
		assert.Equal(t, created.ID, retrieved.ID)
		assert.Equal(t, created.Name, retrieved.Name)
	})

	t.Run("GetAsset_NotFound", func(t *testing.T) {
		asset, err := env.svc.GetAsset(ctx, uuid.New())
		assert.ErrorIs(t, err, assetstore.ErrAssetNotFound)
		assert.Nil(t, asset)
	})

	t.Run("UpdateAsset", func(t *testing.T) {
		created := env.createAsset(t, "old name")

		newName := "new name"
		newTags := []string{"petg"}
		updated, err := env.svc.UpdateAsset(ctx, assetstore.UpdateAssetRequest{
			AssetID: created.ID,
			Name:    &newName,
			Tags:    &newTags,
			Actor:   env.actor,
		})
		assert.NoError(t, err)
		assert.Equal(t, "new name", updated.Name)
		assert.Equal(t, []string{"petg"}, updated.Tags)
		// Untouched fields survive
		assert.Equal(t, created.Description, updated.Description)
	})

	t.Run("ListAssets", func(t *testing.T) {
		env := setupTestService(t)
		for i := 0; i < 3; i++ {
			env.createAsset(t, fmt.Sprintf("asset %d", i+1))
		}

		assets, err := env.svc.ListAssets(ctx)
		assert.NoError(t, err)
		assert.Len(t, assets, 3)
	})
}

func TestUploadVersion(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	t.Run("FirstUploadSetsCurrent", func(t *testing.T) {
		asset := env.createAsset(t, "benchy")
		data := []byte("solid model v1")

		version, err := env.svc.UploadVersion(ctx, assetstore.UploadVersionRequest{
			AssetID:          asset.ID,
			Reader:           bytes.NewReader(data),
			OriginalFilename: "benchy.stl",
			MediaType:        "model/stl",
			Notes:            "initial",
			Actor:            env.actor,
		})
		require.NoError(t, err)

		assert.Equal(t, assetstore.HashBytes(data), version.ContentHash)
		assert.Equal(t, int64(len(data)), version.ByteSize)
		assert.Equal(t, int64(1), version.Seq)
		assert.Equal(t, "benchy.stl", version.OriginalFilename)

		reloaded, err := env.svc.GetAsset(ctx, asset.ID)
		require.NoError(t, err)
		assert.Equal(t, version.ContentHash, reloaded.CurrentVersionHash)
		assert.Equal(t, int64(1), env.blobRefCount(t, version.ContentHash))
	})

	t.Run("CurrentTracksLastUpload", func(t *testing.T) {
		asset := env.createAsset(t, "mount")

		var last *assetstore.Version
		for i := 0; i < 5; i++ {
			last = env.upload(t, asset.ID, []byte(fmt.Sprintf("revision %d", i)), "mount.stl")
		}

		reloaded, err := env.svc.GetAsset(ctx, asset.ID)
		require.NoError(t, err)
		assert.Equal(t, last.ContentHash, reloaded.CurrentVersionHash)
		assert.Equal(t, int64(5), last.Seq)
	})

	t.Run("UploadToMissingAsset", func(t *testing.T) {
		_, err := env.svc.UploadVersion(ctx, assetstore.UploadVersionRequest{
			AssetID:          uuid.New(),
			Reader:           bytes.NewReader([]byte("orphan")),
			OriginalFilename: "orphan.gcode",
			Actor:            env.actor,
		})
		assert.ErrorIs(t, err, assetstore.ErrAssetNotFound)
	})

	t.Run("ListVersionsNewestFirst", func(t *testing.T) {
		asset := env.createAsset(t, "profile")
		for i := 0; i < 3; i++ {
			env.upload(t, asset.ID, []byte(fmt.Sprintf("profile %d", i)), "profile.ini")
		}

		versions, err := env.svc.ListVersions(ctx, asset.ID)
		require.NoError(t, err)
		require.Len(t, versions, 3)
		assert.Equal(t, int64(3), versions[0].Seq)
		assert.Equal(t, int64(2), versions[1].Seq)
		assert.Equal(t, int64(1), versions[2].Seq)
	})
}

func TestDedupAcrossAssets(t *testing.T) {
	env := setupTestService(t)

	data := []byte("shared gcode payload")
	assetA := env.createAsset(t, "asset a")
	assetB := env.createAsset(t, "asset b")

	versionA := env.upload(t, assetA.ID, data, "a.gcode")
	versionB := env.upload(t, assetB.ID, data, "b.gcode")

	assert.Equal(t, versionA.ContentHash, versionB.ContentHash)
	assert.NotEqual(t, versionA.ID, versionB.ID)
	assert.Equal(t, int64(2), env.blobRefCount(t, versionA.ContentHash))
	// Exactly one physical blob
	assert.Equal(t, 1, env.backend.Len())
}

func TestRollback(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	asset := env.createAsset(t, "benchy")
	v1 := env.upload(t, asset.ID, []byte("v1"), "benchy.stl")
	v2 := env.upload(t, asset.ID, []byte("v2"), "benchy.stl")

	t.Run("PointerMovesBack", func(t *testing.T) {
		rolled, err := env.svc.Rollback(ctx, assetstore.RollbackRequest{
			AssetID:   asset.ID,
			VersionID: v1.ID,
			Actor:     env.actor,
		})
		require.NoError(t, err)
		assert.Equal(t, v1.ContentHash, rolled.CurrentVersionHash)

		// No new version row
		versions, err := env.svc.ListVersions(ctx, asset.ID)
		require.NoError(t, err)
		assert.Len(t, versions, 2)
	})

	t.Run("Idempotent", func(t *testing.T) {
		before, err := env.svc.ListVersions(ctx, asset.ID)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			rolled, err := env.svc.Rollback(ctx, assetstore.RollbackRequest{
				AssetID:   asset.ID,
				VersionID: v1.ID,
				Actor:     env.actor,
			})
			require.NoError(t, err)
			assert.Equal(t, v1.ContentHash, rolled.CurrentVersionHash)
		}

		after, err := env.svc.ListVersions(ctx, asset.ID)
		require.NoError(t, err)
		assert.Len(t, after, len(before))
	})

	t.Run("ForeignVersionRejected", func(t *testing.T) {
		other := env.createAsset(t, "other")
		_, err := env.svc.Rollback(ctx, assetstore.RollbackRequest{
			AssetID:   other.ID,
			VersionID: v2.ID,
			Actor:     env.actor,
		})
		assert.ErrorIs(t, err, assetstore.ErrVersionNotFound)
	})
}

func TestGetCurrentVersion(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	t.Run("EmptyAsset", func(t *testing.T) {
		asset := env.createAsset(t, "empty")
		_, err := env.svc.GetCurrentVersion(ctx, asset.ID)
		assert.ErrorIs(t, err, assetstore.ErrNoCurrentVersion)
	})

	t.Run("ResolvesLatestDuplicateHash", func(t *testing.T) {
		// Two uploads of identical bytes share a hash; the current
		// pointer resolves to the newer version row.
		asset := env.createAsset(t, "dup")
		data := []byte("identical bytes")
		first := env.upload(t, asset.ID, data, "one.stl")
		second := env.upload(t, asset.ID, data, "two.stl")
		require.Equal(t, first.ContentHash, second.ContentHash)

		current, err := env.svc.GetCurrentVersion(ctx, asset.ID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, current.ID)
	})
}

func TestDownloadRoundTrip(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	large := make([]byte, 10*1024*1024)
	mathrand.New(mathrand.NewSource(42)).Read(large)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"binary", []byte{0x00, 0xff, 0xfe, 0x01, 0x80, 0x7f}},
		{"ten megabytes", large},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset := env.createAsset(t, tt.name)
			uploaded := env.upload(t, asset.ID, tt.data, "payload.bin")

			rc, version, err := env.svc.Download(ctx, asset.ID, uploaded.ID)
			require.NoError(t, err)
			defer rc.Close()

			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, tt.data, got)
			assert.Equal(t, uploaded.ID, version.ID)
			assert.Equal(t, int64(len(tt.data)), version.ByteSize)
		})
	}
}

func TestUpdateVersionNotes(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	asset := env.createAsset(t, "annotated")
	version := env.upload(t, asset.ID, []byte("bytes"), "a.stl")

	updated, err := env.svc.UpdateVersionNotes(ctx, assetstore.UpdateVersionNotesRequest{
		AssetID:   asset.ID,
		VersionID: version.ID,
		Notes:     "tuned retraction",
		Actor:     env.actor,
	})
	require.NoError(t, err)
	assert.Equal(t, "tuned retraction", updated.Notes)

	// Content fields untouched
	assert.Equal(t, version.ContentHash, updated.ContentHash)
	assert.Equal(t, version.Seq, updated.Seq)

	_, err = env.svc.UpdateVersionNotes(ctx, assetstore.UpdateVersionNotesRequest{
		AssetID:   uuid.New(),
		VersionID: version.ID,
		Notes:     "cross-asset",
		Actor:     env.actor,
	})
	assert.ErrorIs(t, err, assetstore.ErrVersionNotFound)
}

func TestDeleteAsset(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	t.Run("RefcountConservation", func(t *testing.T) {
		// Asset A has three versions sharing one hash; asset B holds a
		// fourth reference to the same bytes. Deleting A drops the
		// refcount by 3, not to zero.
		data := []byte("shared across assets")
		assetA := env.createAsset(t, "a")
		assetB := env.createAsset(t, "b")

		var contentHash string
		for i := 0; i < 3; i++ {
			contentHash = env.upload(t, assetA.ID, data, "a.gcode").ContentHash
		}
		env.upload(t, assetB.ID, data, "b.gcode")
		require.Equal(t, int64(4), env.blobRefCount(t, contentHash))

		require.NoError(t, env.svc.DeleteAsset(ctx, assetA.ID, env.actor))

		assert.Equal(t, int64(1), env.blobRefCount(t, contentHash))
		// Bytes still present for asset B
		rc, _, err := env.svc.DownloadCurrent(ctx, assetB.ID)
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("LastReferenceRemovesBlob", func(t *testing.T) {
		asset := env.createAsset(t, "solo")
		version := env.upload(t, asset.ID, []byte("solo bytes"), "solo.stl")

		require.NoError(t, env.svc.DeleteAsset(ctx, asset.ID, env.actor))

		_, err := env.repo.GetBlob(ctx, version.ContentHash)
		assert.ErrorIs(t, err, assetstore.ErrBlobNotFound)
		exists, err := env.backend.Exists(ctx, assetstore.BlobKey(version.ContentHash))
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("NotFound", func(t *testing.T) {
		err := env.svc.DeleteAsset(ctx, uuid.New(), env.actor)
		assert.ErrorIs(t, err, assetstore.ErrAssetNotFound)
	})
}

// TestLifecycle walks the full create/upload/rollback/delete sequence.
func TestLifecycle(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	asset := env.createAsset(t, "lifecycle")

	v1 := env.upload(t, asset.ID, []byte("v1"), "f.stl")
	h1 := v1.ContentHash
	reloaded, err := env.svc.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, h1, reloaded.CurrentVersionHash)

	v2 := env.upload(t, asset.ID, []byte("v2"), "f.stl")
	h2 := v2.ContentHash
	reloaded, err = env.svc.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, h2, reloaded.CurrentVersionHash)

	_, err = env.svc.Rollback(ctx, assetstore.RollbackRequest{
		AssetID:   asset.ID,
		VersionID: v1.ID,
		Actor:     env.actor,
	})
	require.NoError(t, err)
	reloaded, err = env.svc.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, h1, reloaded.CurrentVersionHash)

	require.NoError(t, env.svc.DeleteAsset(ctx, asset.ID, env.actor))

	_, err = env.repo.GetBlob(ctx, h1)
	assert.ErrorIs(t, err, assetstore.ErrBlobNotFound)
	_, err = env.repo.GetBlob(ctx, h2)
	assert.ErrorIs(t, err, assetstore.ErrBlobNotFound)

	_, _, err = env.svc.DownloadCurrent(ctx, asset.ID)
	assert.ErrorIs(t, err, assetstore.ErrAssetNotFound)
}

// failingRepo injects a ledger failure to exercise the compensating
// decref.
type failingRepo struct {
	*memory.Repository
	failAppend bool
}

func (r *failingRepo) CreateVersion(ctx context.Context, version *assetstore.Version) error {
	if r.failAppend {
		return errors.New("ledger unavailable")
	}
	return r.Repository.CreateVersion(ctx, version)
}

func TestUploadCompensation(t *testing.T) {
	repo := &failingRepo{Repository: memory.New()}
	env := setupTestServiceWithRepo(t, repo)
	ctx := context.Background()

	asset := env.createAsset(t, "comp")
	data := []byte("will fail to append")

	// Seed the blob with one legitimate reference from another asset so
	// the compensation effect is observable.
	other := env.createAsset(t, "other")
	env.upload(t, other.ID, data, "o.stl")
	contentHash := assetstore.HashBytes(data)
	require.Equal(t, int64(1), env.blobRefCount(t, contentHash))

	repo.failAppend = true
	_, err := env.svc.UploadVersion(ctx, assetstore.UploadVersionRequest{
		AssetID:          asset.ID,
		Reader:           bytes.NewReader(data),
		OriginalFilename: "c.stl",
		Actor:            env.actor,
	})
	require.Error(t, err)
	repo.failAppend = false

	// The incref was compensated and the pointer never moved.
	assert.Equal(t, int64(1), env.blobRefCount(t, contentHash))
	reloaded, err := env.svc.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.CurrentVersionHash)
}

func TestConcurrentUploads(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	t.Run("SameAssetDistinctContent", func(t *testing.T) {
		asset := env.createAsset(t, "contended")

		const workers = 8
		hashes := make([]string, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				version, err := env.svc.UploadVersion(ctx, assetstore.UploadVersionRequest{
					AssetID:          asset.ID,
					Reader:           bytes.NewReader([]byte(fmt.Sprintf("content %d", i))),
					OriginalFilename: "c.stl",
					Actor:            env.actor,
				})
				if err == nil {
					hashes[i] = version.ContentHash
				}
			}(i)
		}
		wg.Wait()

		versions, err := env.svc.ListVersions(ctx, asset.ID)
		require.NoError(t, err)
		require.Len(t, versions, workers)

		// Sequence numbers are a gapless total order.
		seen := make(map[int64]bool)
		for _, v := range versions {
			seen[v.Seq] = true
		}
		assert.Len(t, seen, workers)

		// The pointer lands on one of the completed uploads.
		reloaded, err := env.svc.GetAsset(ctx, asset.ID)
		require.NoError(t, err)
		assert.Contains(t, hashes, reloaded.CurrentVersionHash)

		for _, h := range hashes {
			assert.Equal(t, int64(1), env.blobRefCount(t, h))
		}
	})

	t.Run("IdenticalContentConverges", func(t *testing.T) {
		data := []byte("identical concurrent payload")
		assetA := env.createAsset(t, "conv a")
		assetB := env.createAsset(t, "conv b")

		const workers = 8
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			assetID := assetA.ID
			if i%2 == 1 {
				assetID = assetB.ID
			}
			go func(assetID uuid.UUID) {
				defer wg.Done()
				_, err := env.svc.UploadVersion(ctx, assetstore.UploadVersionRequest{
					AssetID:          assetID,
					Reader:           bytes.NewReader(data),
					OriginalFilename: "same.stl",
					Actor:            env.actor,
				})
				assert.NoError(t, err)
			}(assetID)
		}
		wg.Wait()

		contentHash := assetstore.HashBytes(data)
		assert.Equal(t, int64(workers), env.blobRefCount(t, contentHash))
	})
}

func TestAuditTrail(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	asset := env.createAsset(t, "audited")
	version := env.upload(t, asset.ID, []byte("bytes"), "a.stl")
	_, err := env.svc.Rollback(ctx, assetstore.RollbackRequest{
		AssetID:   asset.ID,
		VersionID: version.ID,
		Actor:     env.actor,
	})
	require.NoError(t, err)
	require.NoError(t, env.svc.DeleteAsset(ctx, asset.ID, env.actor))

	var actions []string
	for _, event := range env.sink.Events() {
		actions = append(actions, event.Action)
		assert.Equal(t, env.actor.ID, event.ActorID)
	}
	assert.Equal(t, []string{
		assetstore.AuditActionCreateAsset,
		assetstore.AuditActionUploadVersion,
		assetstore.AuditActionRollbackVersion,
		assetstore.AuditActionDeleteAsset,
	}, actions)

	upload := env.sink.Events()[1]
	assert.Equal(t, assetstore.ResourceTypeFileAsset, upload.ResourceType)
	assert.Equal(t, asset.ID, upload.ResourceID)
	assert.Equal(t, version.ContentHash, upload.Details["content_hash"])
	assert.Equal(t, int64(5), upload.Details["byte_size"])
}
