package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/Arinfaead/FilaDB/pkg/assetstore"
)

// AssetHandler handles HTTP requests for the asset versioning store
type AssetHandler struct {
	service assetstore.Service
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(service assetstore.Service) *AssetHandler {
	return &AssetHandler{service: service}
}

// Routes returns the routes for assets. Mutating routes require the
// editor or admin role; reads only need an identified actor.
func (h *AssetHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListAssets)
	r.Get("/{id}", h.GetAsset)
	r.Get("/{id}/versions", h.ListVersions)
	r.Get("/{id}/versions/{versionID}", h.GetVersion)
	r.Get("/{id}/versions/{versionID}/download", h.DownloadVersion)
	r.Get("/{id}/download", h.DownloadCurrent)

	r.Group(func(r chi.Router) {
		r.Use(RequireEditor)
		r.Post("/", h.CreateAsset)
		r.Patch("/{id}", h.UpdateAsset)
		r.Delete("/{id}", h.DeleteAsset)
		r.Post("/{id}/versions", h.UploadVersion)
		r.Patch("/{id}/versions/{versionID}/notes", h.UpdateVersionNotes)
		r.Post("/{id}/versions/{versionID}/rollback", h.Rollback)
	})

	return r
}

// CreateAssetRequest is the request body for creating an asset
type CreateAssetRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// AssetResponse is the response body for an asset
type AssetResponse struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	Tags               []string  `json:"tags,omitempty"`
	CurrentVersionHash string    `json:"current_version_hash,omitempty"`
	CreatedBy          string    `json:"created_by"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// VersionResponse is the response body for a version
type VersionResponse struct {
	ID               string    `json:"id"`
	AssetID          string    `json:"asset_id"`
	Seq              int64     `json:"seq"`
	ContentHash      string    `json:"content_hash"`
	ByteSize         int64     `json:"byte_size"`
	OriginalFilename string    `json:"original_filename"`
	MediaType        string    `json:"media_type,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	CreatedBy        string    `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
}

func toAssetResponse(asset *assetstore.Asset) AssetResponse {
	return AssetResponse{
		ID:                 asset.ID.String(),
		Name:               asset.Name,
		Description:        asset.Description,
		Tags:               asset.Tags,
		CurrentVersionHash: asset.CurrentVersionHash,
		CreatedBy:          asset.CreatedBy.String(),
		CreatedAt:          asset.CreatedAt,
		UpdatedAt:          asset.UpdatedAt,
	}
}

func toVersionResponse(version *assetstore.Version) VersionResponse {
	return VersionResponse{
		ID:               version.ID.String(),
		AssetID:          version.AssetID.String(),
		Seq:              version.Seq,
		ContentHash:      version.ContentHash,
		ByteSize:         version.ByteSize,
		OriginalFilename: version.OriginalFilename,
		MediaType:        version.MediaType,
		Notes:            version.Notes,
		CreatedBy:        version.CreatedBy.String(),
		CreatedAt:        version.CreatedAt,
	}
}

// respondError maps service errors onto HTTP status codes
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assetstore.ErrAssetNotFound),
		errors.Is(err, assetstore.ErrVersionNotFound),
		errors.Is(err, assetstore.ErrBlobNotFound),
		errors.Is(err, assetstore.ErrNoCurrentVersion):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, assetstore.ErrHashMismatch):
		http.Error(w, "stored content failed verification", http.StatusInternalServerError)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func urlUUID(r *http.Request, param string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, param))
}

// CreateAsset creates a new empty asset
func (h *AssetHandler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req CreateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	actor, _ := ActorFromContext(r.Context())
	asset, err := h.service.CreateAsset(r.Context(), assetstore.CreateAssetRequest{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Actor:       actor,
	})
	if err != nil {
		slog.Error("Failed to create asset", "name", req.Name, "error", err)
		respondError(w, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toAssetResponse(asset))
}

// GetAsset returns one asset
func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	assetID, err := urlUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid asset ID", http.StatusBadRequest)
		return
	}

	asset, err := h.service.GetAsset(r.Context(), assetID)
	if err != nil {
		respondError(w, err)
		return
	}
	render.JSON(w, r, toAssetResponse(asset))
}

// ListAssets returns all assets, newest first
func (h *AssetHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.service.ListAssets(r.Context())
	if err != nil {
		slog.Error("Failed to list assets", "error", err)
		respondError(w, err)
		return
	}

	result := make([]AssetResponse, 0, len(assets))
	for _, asset := range assets {
		result = append(result, toAssetResponse(asset))
	}
	render.JSON(w, r, result)
}

// UpdateAssetRequest is the request body for editing asset metadata
type UpdateAssetRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// UpdateAsset edits asset name, description or tags
func (h *AssetHandler) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	assetID, err := urlUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid asset ID", http.StatusBadRequest)
		return
	}

	var req UpdateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	actor, _ := ActorFromContext(r.Context())
	asset, err := h.service.UpdateAsset(r.Context(), assetstore.UpdateAssetRequest{
		AssetID:     assetID,
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Actor:       actor,
	})
	if err != nil {
		slog.Error("Failed to update asset", "asset_id", assetID, "error", err)
		respondError(w, err)
		return
	}
	render.JSON(w, r, toAssetResponse(asset))
}

// DeleteAsset removes the asset and every version it owns
func (h *AssetHandler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	assetID, err := urlUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid asset ID", http.StatusBadRequest)
		return
	}

	actor, _ := ActorFromContext(r.Context())
	if err := h.service.DeleteAsset(r.Context(), assetID, actor); err != nil {
		slog.Error("Failed to delete asset", "asset_id", assetID, "error", err)
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadVersion uploads a new version of the asset. The body is either a
// multipart form with a "file" part or the raw bytes with a "filename"
// query parameter. Notes ride along as a form value or query parameter.
func (h *AssetHandler) UploadVersion(w http.ResponseWriter, r *http.Request) {
	assetID, err := urlUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid asset ID", http.StatusBadRequest)
		return
	}

	var reader io.Reader
	var filename, mediaType, notes string

	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(contentType, "multipart/") {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file part", http.StatusBadRequest)
			return
		}
		defer file.Close()
		reader = file
		filename = header.Filename
		mediaType = header.Header.Get("Content-Type")
		notes = r.FormValue("notes")
	} else {
		reader = r.Body
		filename = r.URL.Query().Get("filename")
		mediaType = contentType
		notes = r.URL.Query().Get("notes")
	}
	if filename == "" {
		http.Error(w, "filename is required", http.StatusBadRequest)
		return
	}

	actor, _ := ActorFromContext(r.Context())
	version, err := h.service.UploadVersion(r.Context(), assetstore.UploadVersionRequest{
		AssetID:          assetID,
		Reader:           reader,
		OriginalFilename: filename,
		MediaType:        mediaType,
		Notes:            notes,
		Actor:            actor,
	})
	if err != nil {
		slog.Error("Failed to upload version", "asset_id", assetID, "filename", filename, "error", err)
		respondError(w, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toVersionResponse(version))
}

// ListVersions returns the asset's version history, newest first
func (h *AssetHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	assetID, err := urlUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid asset ID", http.StatusBadRequest)
		return
	}

	versions, err := h.service.ListVersions(r.Context(), assetID)
	if err != nil {
		respondError(w, err)
		return
	}

	result := make([]VersionResponse, 0, len(versions))
	for _, version := range versions {
		result = append(result, toVersionResponse(version))
	}
	render.JSON(w, r, result)
}

// GetVersion returns one version of the asset
func (h *AssetHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	assetID, err := urlUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid asset ID", http.StatusBadRequest)
		return
	}
	versionID, err := urlUUID(r, "versionID")
	if err != nil {
		http.Error(w, "invalid version ID", http.StatusBadRequest)
		return
	}

	version, err := h.service.GetVersion(r.Context(), assetID, versionID)
	if err != nil {
		respondError(w, err)
		return
	}
	render.JSON(w, r, toVersionResponse(version))
}

// UpdateVersionNotesRequest is the request body for amending notes
type UpdateVersionNotesRequest struct {
	Notes string `json:"notes"`
}

// UpdateVersionNotes amends the notes on a version
func (h *AssetHandler) UpdateVersionNotes(w http.ResponseWriter, r *http.Request) {
	assetID, err := urlUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid asset ID", http.StatusBadRequest)
		return
	}
	versionID, err := urlUUID(r, "versionID")
	if err != nil {
		http.Error(w, "invalid version ID", http.StatusBadRequest)
		return
	}

	var req UpdateVersionNotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	actor, _ := ActorFromContext(r.Context())
	version, err := h.service.UpdateVersionNotes(r.Context(), assetstore.UpdateVersionNotesRequest{
		AssetID:   assetID,
		VersionID: versionID,
		Notes:     req.Notes,
		Actor:     actor,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	render.JSON(w, r, toVersionResponse(version))
}

// Rollback points the asset back at an earlier version
func (h *AssetHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	assetID, err := urlUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid asset ID", http.StatusBadRequest)
		return
	}
	versionID, err := urlUUID(r, "versionID")
	if err != nil {
		http.Error(w, "invalid version ID", http.StatusBadRequest)
		return
	}

	actor, _ := ActorFromContext(r.Context())
	asset, err := h.service.Rollback(r.Context(), assetstore.RollbackRequest{
		AssetID:   assetID,
		VersionID: versionID,
		Actor:     actor,
	})
	if err != nil {
		slog.Error("Failed to rollback", "asset_id", assetID, "version_id", versionID, "error", err)
		respondError(w, err)
		return
	}
	render.JSON(w, r, toAssetResponse(asset))
}

// DownloadVersion streams the bytes of one version
func (h *AssetHandler) DownloadVersion(w http.ResponseWriter, r *http.Request) {
	assetID, err := urlUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid asset ID", http.StatusBadRequest)
		return
	}
	versionID, err := urlUUID(r, "versionID")
	if err != nil {
		http.Error(w, "invalid version ID", http.StatusBadRequest)
		return
	}

	rc, version, err := h.service.Download(r.Context(), assetID, versionID)
	if err != nil {
		respondError(w, err)
		return
	}
	defer rc.Close()
	h.streamVersion(w, rc, version)
}

// DownloadCurrent streams the bytes of the asset's current version
func (h *AssetHandler) DownloadCurrent(w http.ResponseWriter, r *http.Request) {
	assetID, err := urlUUID(r, "id")
	if err != nil {
		http.Error(w, "invalid asset ID", http.StatusBadRequest)
		return
	}

	rc, version, err := h.service.DownloadCurrent(r.Context(), assetID)
	if err != nil {
		respondError(w, err)
		return
	}
	defer rc.Close()
	h.streamVersion(w, rc, version)
}

func (h *AssetHandler) streamVersion(w http.ResponseWriter, rc io.Reader, version *assetstore.Version) {
	mediaType := version.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", strconv.FormatInt(version.ByteSize, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", version.OriginalFilename))
	w.Header().Set("X-Content-Hash", version.ContentHash)

	if _, err := io.Copy(w, rc); err != nil {
		// Headers are gone; all we can do is log the broken transfer.
		slog.Error("Failed to stream version", "version_id", version.ID, "error", err)
	}
}
