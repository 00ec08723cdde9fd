package assetstore_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arinfaead/FilaDB/pkg/assetstore"
	"github.com/Arinfaead/FilaDB/pkg/assetstore/repo/memory"
	fsstorage "github.com/Arinfaead/FilaDB/pkg/assetstore/storage/fs"
	memorystorage "github.com/Arinfaead/FilaDB/pkg/assetstore/storage/memory"
)

func TestBlobKey(t *testing.T) {
	contentHash := assetstore.HashBytes([]byte("benchy"))
	key := assetstore.BlobKey(contentHash)
	assert.Equal(t, contentHash[0:2]+"/"+contentHash[2:4]+"/"+contentHash, key)
}

func TestContentStorePut(t *testing.T) {
	ctx := context.Background()

	t.Run("StoresAndRegisters", func(t *testing.T) {
		repo := memory.New()
		backend := memorystorage.New()
		cs := assetstore.NewContentStore(repo, backend)

		data := []byte("layer by layer")
		blob, err := cs.Put(ctx, bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, assetstore.HashBytes(data), blob.ContentHash)
		assert.Equal(t, int64(len(data)), blob.ByteSize)
		assert.Equal(t, int64(0), blob.RefCount)

		exists, err := backend.Exists(ctx, assetstore.BlobKey(blob.ContentHash))
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("IdenticalBytesYieldOneBlob", func(t *testing.T) {
		repo := memory.New()
		backend := memorystorage.New()
		cs := assetstore.NewContentStore(repo, backend)

		data := []byte("same bytes twice")
		first, err := cs.Put(ctx, bytes.NewReader(data))
		require.NoError(t, err)
		second, err := cs.Put(ctx, bytes.NewReader(data))
		require.NoError(t, err)

		assert.Equal(t, first.ContentHash, second.ContentHash)
		assert.Equal(t, 1, backend.Len())
	})

	t.Run("InterruptedStreamLeavesNothing", func(t *testing.T) {
		repo := memory.New()
		backend := memorystorage.New()
		cs := assetstore.NewContentStore(repo, backend)

		broken := io.MultiReader(
			bytes.NewReader([]byte("partial")),
			&failingReader{err: errors.New("connection reset")},
		)
		_, err := cs.Put(ctx, broken)
		require.Error(t, err)

		assert.Equal(t, 0, backend.Len())
		blobs, err := repo.ListUnreferencedBlobs(ctx)
		require.NoError(t, err)
		assert.Empty(t, blobs)
	})
}

func TestContentStoreOpen(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	backend := memorystorage.New()
	cs := assetstore.NewContentStore(repo, backend)

	data := []byte("printable bytes")
	blob, err := cs.Put(ctx, bytes.NewReader(data))
	require.NoError(t, err)

	t.Run("RoundTrip", func(t *testing.T) {
		rc, err := cs.Open(ctx, blob.ContentHash)
		require.NoError(t, err)
		defer rc.Close()

		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("UnknownHash", func(t *testing.T) {
		_, err := cs.Open(ctx, assetstore.HashBytes([]byte("never stored")))
		assert.ErrorIs(t, err, assetstore.ErrBlobNotFound)
	})
}

func TestContentStoreRefcounts(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	backend := memorystorage.New()
	cs := assetstore.NewContentStore(repo, backend)

	blob, err := cs.Put(ctx, bytes.NewReader([]byte("counted")))
	require.NoError(t, err)

	require.NoError(t, cs.IncRef(ctx, blob.ContentHash))
	require.NoError(t, cs.IncRef(ctx, blob.ContentHash))

	t.Run("RemoveRefusedWhileReferenced", func(t *testing.T) {
		removed, err := cs.RemoveIfUnreferenced(ctx, blob.ContentHash)
		require.NoError(t, err)
		assert.False(t, removed)

		current, err := repo.GetBlob(ctx, blob.ContentHash)
		require.NoError(t, err)
		assert.Equal(t, int64(2), current.RefCount)
	})

	t.Run("RemoveSucceedsAtZero", func(t *testing.T) {
		require.NoError(t, cs.DecRef(ctx, blob.ContentHash))
		require.NoError(t, cs.DecRef(ctx, blob.ContentHash))

		removed, err := cs.RemoveIfUnreferenced(ctx, blob.ContentHash)
		require.NoError(t, err)
		assert.True(t, removed)

		_, err = repo.GetBlob(ctx, blob.ContentHash)
		assert.ErrorIs(t, err, assetstore.ErrBlobNotFound)
		assert.Equal(t, 0, backend.Len())
	})

	t.Run("DecRefBelowZeroFails", func(t *testing.T) {
		orphan, err := cs.Put(ctx, bytes.NewReader([]byte("never referenced")))
		require.NoError(t, err)
		assert.Error(t, cs.DecRef(ctx, orphan.ContentHash))
	})
}

func TestContentStoreSweep(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	backend := memorystorage.New()

	t.Run("RemovesUnreferenced", func(t *testing.T) {
		cs := assetstore.NewContentStore(repo, backend, assetstore.WithSweepMinAge(0))

		kept, err := cs.Put(ctx, bytes.NewReader([]byte("kept")))
		require.NoError(t, err)
		require.NoError(t, cs.IncRef(ctx, kept.ContentHash))
		_, err = cs.Put(ctx, bytes.NewReader([]byte("orphan one")))
		require.NoError(t, err)
		_, err = cs.Put(ctx, bytes.NewReader([]byte("orphan two")))
		require.NoError(t, err)

		removed, err := cs.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		_, err = repo.GetBlob(ctx, kept.ContentHash)
		assert.NoError(t, err)
		assert.Equal(t, 1, backend.Len())
	})

	t.Run("GracePeriodSparesFreshBlobs", func(t *testing.T) {
		cs := assetstore.NewContentStore(memory.New(), memorystorage.New(),
			assetstore.WithSweepMinAge(time.Hour))

		fresh, err := cs.Put(ctx, bytes.NewReader([]byte("just uploaded")))
		require.NoError(t, err)

		removed, err := cs.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed)

		_, err = cs.Open(ctx, fresh.ContentHash)
		assert.NoError(t, err)
	})
}

func TestContentStoreVerify(t *testing.T) {
	ctx := context.Background()
	baseDir := t.TempDir()
	backend, err := fsstorage.New(fsstorage.Config{BaseDir: baseDir})
	require.NoError(t, err)
	repo := memory.New()
	cs := assetstore.NewContentStore(repo, backend,
		assetstore.WithBackendName("fs"),
		assetstore.WithSpoolDir(t.TempDir()))

	data := []byte("bytes to be corrupted")
	blob, err := cs.Put(ctx, bytes.NewReader(data))
	require.NoError(t, err)

	t.Run("IntactBlobPasses", func(t *testing.T) {
		assert.NoError(t, cs.Verify(ctx, blob.ContentHash))
	})

	t.Run("CorruptionDetected", func(t *testing.T) {
		path := filepath.Join(baseDir, filepath.FromSlash(assetstore.BlobKey(blob.ContentHash)))
		require.NoError(t, os.WriteFile(path, []byte("flipped bits"), 0o644))

		err := cs.Verify(ctx, blob.ContentHash)
		assert.ErrorIs(t, err, assetstore.ErrHashMismatch)
	})
}

type failingReader struct {
	err error
}

func (r *failingReader) Read([]byte) (int, error) {
	return 0, r.err
}
