package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Arinfaead/FilaDB/pkg/assetstore"
)

// DB is the subset of pgxpool.Pool the repository needs. Transactions are
// required for the cascade delete, so plain pgx.Tx does not satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository implements assetstore.Repository using PostgreSQL
type Repository struct {
	db DB
}

// New creates a new PostgreSQL repository
func New(db DB) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with a connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Asset registry operations

func (r *Repository) CreateAsset(ctx context.Context, asset *assetstore.Asset) error {
	query := `
		INSERT INTO file_asset (
			id, name, description, tags, current_version_hash,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		asset.ID, asset.Name, asset.Description, asset.Tags,
		asset.CurrentVersionHash, asset.CreatedBy, asset.CreatedAt, asset.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}
	return nil
}

func scanAsset(row pgx.Row) (*assetstore.Asset, error) {
	var asset assetstore.Asset
	var currentHash *string
	err := row.Scan(&asset.ID, &asset.Name, &asset.Description, &asset.Tags,
		&currentHash, &asset.CreatedBy, &asset.CreatedAt, &asset.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assetstore.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to scan asset: %w", err)
	}
	if currentHash != nil {
		asset.CurrentVersionHash = *currentHash
	}
	return &asset, nil
}

const assetColumns = `id, name, description, tags, current_version_hash, created_by, created_at, updated_at`

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*assetstore.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM file_asset WHERE id = $1`
	return scanAsset(r.db.QueryRow(ctx, query, id))
}

func (r *Repository) UpdateAsset(ctx context.Context, asset *assetstore.Asset) error {
	query := `
		UPDATE file_asset
		SET name = $2, description = $3, tags = $4, updated_at = $5
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		asset.ID, asset.Name, asset.Description, asset.Tags, asset.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return assetstore.ErrAssetNotFound
	}
	return nil
}

func (r *Repository) ListAssets(ctx context.Context) ([]*assetstore.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM file_asset ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var result []*assetstore.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, asset)
	}
	return result, rows.Err()
}

func (r *Repository) SetCurrentVersionHash(ctx context.Context, assetID uuid.UUID, contentHash string) error {
	query := `
		UPDATE file_asset
		SET current_version_hash = NULLIF($2, ''), updated_at = $3
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, assetID, contentHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set current version hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return assetstore.ErrAssetNotFound
	}
	return nil
}

func (r *Repository) CascadeDeleteAsset(ctx context.Context, assetID uuid.UUID) ([]string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin cascade: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row lock on the asset serializes the cascade against concurrent
	// uploads touching the same asset row.
	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT true FROM file_asset WHERE id = $1 FOR UPDATE`, assetID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assetstore.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to lock asset: %w", err)
	}

	// One decrement per version row referencing the hash.
	rows, err := tx.Query(ctx, `
		UPDATE blob b
		SET reference_count = b.reference_count - v.refs
		FROM (
			SELECT content_hash, COUNT(*) AS refs
			FROM file_version
			WHERE asset_id = $1
			GROUP BY content_hash
		) v
		WHERE b.content_hash = v.content_hash
		RETURNING b.content_hash, b.reference_count`, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrement blob refs: %w", err)
	}

	var released []string
	for rows.Next() {
		var contentHash string
		var refCount int64
		if err := rows.Scan(&contentHash, &refCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan blob ref: %w", err)
		}
		if refCount < 0 {
			rows.Close()
			return nil, fmt.Errorf("blob %s refcount underflow", contentHash)
		}
		if refCount == 0 {
			released = append(released, contentHash)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to decrement blob refs: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM file_version WHERE asset_id = $1`, assetID); err != nil {
		return nil, fmt.Errorf("failed to delete versions: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM file_asset WHERE id = $1`, assetID); err != nil {
		return nil, fmt.Errorf("failed to delete asset: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit cascade: %w", err)
	}
	return released, nil
}

// Version ledger operations

const versionColumns = `id, asset_id, seq, content_hash, byte_size, original_filename, media_type, notes, created_by, created_at`

func scanVersion(row pgx.Row) (*assetstore.Version, error) {
	var version assetstore.Version
	err := row.Scan(&version.ID, &version.AssetID, &version.Seq, &version.ContentHash,
		&version.ByteSize, &version.OriginalFilename, &version.MediaType,
		&version.Notes, &version.CreatedBy, &version.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assetstore.ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}
	return &version, nil
}

func (r *Repository) CreateVersion(ctx context.Context, version *assetstore.Version) error {
	// The per-asset sequence comes from the ledger itself. The service
	// serializes appends per asset; the unique (asset_id, seq) constraint
	// backs that up across processes.
	query := `
		INSERT INTO file_version (
			id, asset_id, seq, content_hash, byte_size,
			original_filename, media_type, notes, created_by, created_at
		) VALUES (
			$1, $2,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM file_version WHERE asset_id = $2),
			$3, $4, $5, $6, $7, $8, $9
		)
		RETURNING seq`

	err := r.db.QueryRow(ctx, query,
		version.ID, version.AssetID, version.ContentHash, version.ByteSize,
		version.OriginalFilename, version.MediaType, version.Notes,
		version.CreatedBy, version.CreatedAt).Scan(&version.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return assetstore.ErrAssetNotFound
		}
		return fmt.Errorf("failed to create version: %w", err)
	}
	return nil
}

func (r *Repository) GetVersion(ctx context.Context, assetID, versionID uuid.UUID) (*assetstore.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM file_version WHERE id = $1 AND asset_id = $2`
	return scanVersion(r.db.QueryRow(ctx, query, versionID, assetID))
}

func (r *Repository) ListVersions(ctx context.Context, assetID uuid.UUID) ([]*assetstore.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM file_version WHERE asset_id = $1 ORDER BY seq DESC`

	rows, err := r.db.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var result []*assetstore.Version
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, version)
	}
	return result, rows.Err()
}

func (r *Repository) UpdateVersionNotes(ctx context.Context, assetID, versionID uuid.UUID, notes string) (*assetstore.Version, error) {
	query := `
		UPDATE file_version SET notes = $3
		WHERE id = $1 AND asset_id = $2
		RETURNING ` + versionColumns

	return scanVersion(r.db.QueryRow(ctx, query, versionID, assetID, notes))
}

func (r *Repository) LatestVersionByHash(ctx context.Context, assetID uuid.UUID, contentHash string) (*assetstore.Version, error) {
	query := `
		SELECT ` + versionColumns + ` FROM file_version
		WHERE asset_id = $1 AND content_hash = $2
		ORDER BY seq DESC
		LIMIT 1`

	return scanVersion(r.db.QueryRow(ctx, query, assetID, contentHash))
}

// Blob row operations

func (r *Repository) CreateBlob(ctx context.Context, blob *assetstore.Blob) error {
	// Insert-or-ignore backs the content store's atomic
	// exists-check-and-create across processes.
	query := `
		INSERT INTO blob (content_hash, byte_size, reference_count, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (content_hash) DO NOTHING`

	_, err := r.db.Exec(ctx, query, blob.ContentHash, blob.ByteSize, blob.RefCount, blob.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create blob: %w", err)
	}
	return nil
}

func (r *Repository) GetBlob(ctx context.Context, contentHash string) (*assetstore.Blob, error) {
	query := `SELECT content_hash, byte_size, reference_count, created_at FROM blob WHERE content_hash = $1`

	var blob assetstore.Blob
	err := r.db.QueryRow(ctx, query, contentHash).Scan(
		&blob.ContentHash, &blob.ByteSize, &blob.RefCount, &blob.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assetstore.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return &blob, nil
}

func (r *Repository) IncBlobRef(ctx context.Context, contentHash string) error {
	query := `UPDATE blob SET reference_count = reference_count + 1 WHERE content_hash = $1`

	tag, err := r.db.Exec(ctx, query, contentHash)
	if err != nil {
		return fmt.Errorf("failed to increment blob ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return assetstore.ErrBlobNotFound
	}
	return nil
}

func (r *Repository) DecBlobRef(ctx context.Context, contentHash string) (int64, error) {
	query := `
		UPDATE blob SET reference_count = reference_count - 1
		WHERE content_hash = $1 AND reference_count > 0
		RETURNING reference_count`

	var refCount int64
	err := r.db.QueryRow(ctx, query, contentHash).Scan(&refCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the blob is missing or its refcount is already zero.
			if _, gerr := r.GetBlob(ctx, contentHash); gerr != nil {
				return 0, gerr
			}
			return 0, fmt.Errorf("blob %s refcount underflow", contentHash)
		}
		return 0, fmt.Errorf("failed to decrement blob ref: %w", err)
	}
	return refCount, nil
}

func (r *Repository) ListUnreferencedBlobs(ctx context.Context) ([]*assetstore.Blob, error) {
	query := `SELECT content_hash, byte_size, reference_count, created_at FROM blob WHERE reference_count = 0`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unreferenced blobs: %w", err)
	}
	defer rows.Close()

	var result []*assetstore.Blob
	for rows.Next() {
		var blob assetstore.Blob
		if err := rows.Scan(&blob.ContentHash, &blob.ByteSize, &blob.RefCount, &blob.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blob: %w", err)
		}
		result = append(result, &blob)
	}
	return result, rows.Err()
}

func (r *Repository) DeleteBlobIfUnreferenced(ctx context.Context, contentHash string) (bool, error) {
	query := `DELETE FROM blob WHERE content_hash = $1 AND reference_count = 0`

	tag, err := r.db.Exec(ctx, query, contentHash)
	if err != nil {
		return false, fmt.Errorf("failed to delete blob: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
