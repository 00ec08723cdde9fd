package assetstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// BlobKey derives the physical storage key for a content hash. Two levels
// of sharding by hash prefix bound per-directory fan-out on filesystem
// backends; S3 treats the slashes as plain key structure.
func BlobKey(contentHash string) string {
	return contentHash[0:2] + "/" + contentHash[2:4] + "/" + contentHash
}

// HashBytes returns the lowercase hex SHA-256 digest of b. Exposed for
// callers that want to predict a blob's identity, e.g. in tests.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ContentStore maps content hashes to single physical blobs. It is a pure
// dedup layer: it knows nothing about assets or versions, only hashes,
// bytes and reference counts. Blob metadata rows live in the Repository;
// bytes live in the BlobStore backend.
type ContentStore struct {
	repo        Repository
	backend     BlobStore
	backendName string
	spoolDir    string
	sweepMinAge time.Duration
	hashLocks   *lockMap
}

// ContentStoreOption configures a ContentStore.
type ContentStoreOption func(*ContentStore)

// WithBackendName sets the backend name reported in storage errors.
func WithBackendName(name string) ContentStoreOption {
	return func(cs *ContentStore) {
		cs.backendName = name
	}
}

// WithSpoolDir sets the directory incoming uploads are spooled to while
// their hash is computed. Defaults to the OS temp directory.
func WithSpoolDir(dir string) ContentStoreOption {
	return func(cs *ContentStore) {
		cs.spoolDir = dir
	}
}

// WithSweepMinAge sets the minimum age a zero-reference blob must reach
// before Sweep removes it. The grace period keeps the sweep from racing an
// upload that sits between Put and IncRef.
func WithSweepMinAge(age time.Duration) ContentStoreOption {
	return func(cs *ContentStore) {
		cs.sweepMinAge = age
	}
}

// NewContentStore creates a content store over the given metadata
// repository and physical backend.
func NewContentStore(repo Repository, backend BlobStore, opts ...ContentStoreOption) *ContentStore {
	cs := &ContentStore{
		repo:        repo,
		backend:     backend,
		backendName: "default",
		sweepMinAge: 5 * time.Minute,
		hashLocks:   newLockMap(),
	}
	for _, opt := range opts {
		opt(cs)
	}
	return cs
}

// Put stores the full byte stream and returns the blob it now lives in.
//
// The stream is spooled to a temp file while the SHA-256 digest is
// computed, so no lock is held during the transfer and an interrupted
// stream leaves nothing behind. Only then, under a per-hash lock, the
// blob row is looked up: a hit skips the physical write entirely, a miss
// writes the bytes to the sharded key and creates the row with refcount
// zero. The caller owns the subsequent IncRef.
func (cs *ContentStore) Put(ctx context.Context, reader io.Reader) (*Blob, error) {
	spool, err := os.CreateTemp(cs.spoolDir, "assetstore-spool-*")
	if err != nil {
		return nil, &StorageError{Backend: cs.backendName, Op: "spool", Err: err}
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(spool, hasher), reader)
	if err != nil {
		return nil, &StorageError{Backend: cs.backendName, Op: "spool", Err: err}
	}
	contentHash := hex.EncodeToString(hasher.Sum(nil))

	cs.hashLocks.Lock(contentHash)
	defer cs.hashLocks.Unlock(contentHash)

	blob, err := cs.repo.GetBlob(ctx, contentHash)
	if err == nil {
		// Dedup hit: trust the prior write, leave existing bytes untouched.
		return blob, nil
	}
	if !errors.Is(err, ErrBlobNotFound) {
		return nil, err
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, &StorageError{Backend: cs.backendName, Op: "spool", Err: err}
	}
	key := BlobKey(contentHash)
	if err := cs.backend.Write(ctx, key, spool); err != nil {
		return nil, &StorageError{Backend: cs.backendName, Key: key, Op: "write", Err: err}
	}

	blob = &Blob{
		ContentHash: contentHash,
		ByteSize:    size,
		RefCount:    0,
		CreatedAt:   time.Now().UTC(),
	}
	if err := cs.repo.CreateBlob(ctx, blob); err != nil {
		return nil, fmt.Errorf("failed to register blob %s: %w", contentHash, err)
	}
	return blob, nil
}

// Open returns a restartable stream of the bytes stored for the hash.
func (cs *ContentStore) Open(ctx context.Context, contentHash string) (io.ReadCloser, error) {
	if _, err := cs.repo.GetBlob(ctx, contentHash); err != nil {
		return nil, err
	}
	key := BlobKey(contentHash)
	rc, err := cs.backend.Open(ctx, key)
	if err != nil {
		return nil, &StorageError{Backend: cs.backendName, Key: key, Op: "open", Err: err}
	}
	return rc, nil
}

// IncRef atomically increments the blob's reference count.
func (cs *ContentStore) IncRef(ctx context.Context, contentHash string) error {
	cs.hashLocks.Lock(contentHash)
	defer cs.hashLocks.Unlock(contentHash)
	return cs.repo.IncBlobRef(ctx, contentHash)
}

// DecRef atomically decrements the blob's reference count. Reaching zero
// makes the blob eligible for the sweep; physical deletion is deferred so
// the caller never blocks on storage I/O.
func (cs *ContentStore) DecRef(ctx context.Context, contentHash string) error {
	cs.hashLocks.Lock(contentHash)
	defer cs.hashLocks.Unlock(contentHash)
	_, err := cs.repo.DecBlobRef(ctx, contentHash)
	return err
}

// RemoveIfUnreferenced deletes the blob row and its bytes, but only while
// the refcount is still zero. Both halves are idempotent; a physical
// delete failure leaves the bytes for a later sweep of the same hash.
func (cs *ContentStore) RemoveIfUnreferenced(ctx context.Context, contentHash string) (bool, error) {
	cs.hashLocks.Lock(contentHash)
	defer cs.hashLocks.Unlock(contentHash)

	removed, err := cs.repo.DeleteBlobIfUnreferenced(ctx, contentHash)
	if err != nil || !removed {
		return false, err
	}
	key := BlobKey(contentHash)
	if err := cs.backend.Delete(ctx, key); err != nil {
		return true, &StorageError{Backend: cs.backendName, Key: key, Op: "delete", Err: err}
	}
	return true, nil
}

// Sweep removes all zero-reference blobs older than the configured grace
// period and returns how many it removed.
func (cs *ContentStore) Sweep(ctx context.Context) (int, error) {
	blobs, err := cs.repo.ListUnreferencedBlobs(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-cs.sweepMinAge)
	removed := 0
	for _, blob := range blobs {
		if blob.CreatedAt.After(cutoff) {
			continue
		}
		ok, err := cs.RemoveIfUnreferenced(ctx, blob.ContentHash)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// Verify re-hashes the stored bytes for the hash and returns
// ErrHashMismatch if they no longer match. A mismatch means on-disk
// corruption and is never retryable.
func (cs *ContentStore) Verify(ctx context.Context, contentHash string) error {
	rc, err := cs.Open(ctx, contentHash)
	if err != nil {
		return err
	}
	defer rc.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, rc); err != nil {
		return &StorageError{Backend: cs.backendName, Key: BlobKey(contentHash), Op: "verify", Err: err}
	}
	if got := hex.EncodeToString(hasher.Sum(nil)); got != contentHash {
		return fmt.Errorf("blob %s hashes to %s: %w", contentHash, got, ErrHashMismatch)
	}
	return nil
}
