// Package assetstore provides a content-addressed versioning store for
// file assets with pluggable repository and blob storage backends.
//
// It exposes a single Service interface that orchestrates asset creation,
// version upload/download, rollback and cascade deletion over three
// internal components: a dedup ContentStore keyed by SHA-256 content hash,
// an append-only version ledger, and an asset registry holding the
// "current" pointer. Implementations of repositories (memory, Postgres)
// and blob stores (memory, filesystem, S3) are provided under subpackages.
//
// # Identity
//
// Assets carry logical identity; blobs carry physical identity (the hash
// of their bytes). Many versions, across many assets, may share one blob;
// the content store reference-counts blobs so deleting one asset never
// removes bytes still referenced by another.
package assetstore
