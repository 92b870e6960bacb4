package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/httputil"
	"github.com/platinummonkey/docmeter/pkg/middleware"
)

// FileHandlers handles user file requests
type FileHandlers struct {
	files FileService
}

// NewFileHandlers creates a new FileHandlers
func NewFileHandlers(files FileService) *FileHandlers {
	return &FileHandlers{files: files}
}

// RegisterRoutes registers file routes on the authenticated /api router
func (h *FileHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/files", h.CreateFile).Methods(http.MethodPost)
	router.HandleFunc("/files", h.ListFiles).Methods(http.MethodGet)
	router.HandleFunc("/files/download", h.DownloadURL).Methods(http.MethodGet)
}

// CreateFile issues a presigned upload URL and records the file
func (h *FileHandlers) CreateFile(w http.ResponseWriter, r *http.Request) {
	var req CreateFileRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, r, apperr.Validation("Operation arguments validation failed: %v", err))
		return
	}

	upload, err := h.files.Create(r.Context(), middleware.CurrentUser(r), req.FileType, req.Name)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, upload)
}

// ListFiles returns the caller's files, newest first
func (h *FileHandlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	list, err := h.files.List(r.Context(), middleware.CurrentUser(r))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// DownloadURL returns a presigned download URL for one of the caller's files
func (h *FileHandlers) DownloadURL(w http.ResponseWriter, r *http.Request) {
	url, err := h.files.DownloadURL(r.Context(), middleware.CurrentUser(r), r.URL.Query().Get("key"))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, DownloadURLResponse{URL: url})
}
