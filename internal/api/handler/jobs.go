package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/kiranshivaraju/clipforge/internal/api/middleware"
	"github.com/kiranshivaraju/clipforge/internal/api/response"
	"github.com/kiranshivaraju/clipforge/internal/jobs"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

const maxBodyBytes = 64 << 10

// JobCommands is the write side the job handlers call.
type JobCommands interface {
	RequestUploadSlot(ctx context.Context, ownerID, filename, contentType, profile string) (*jobs.UploadSlot, error)
	ConfirmUpload(ctx context.Context, ownerID string, jobID uuid.UUID, storageKey string) (*models.VideoInfo, error)
	Rerun(ctx context.Context, ownerID string, jobID uuid.UUID, profile string) (*models.Job, error)
	DeleteJob(ctx context.Context, ownerID string, jobID uuid.UUID) error
	RequestDownloadURL(ctx context.Context, ownerID string, jobID uuid.UUID, fileType string) (*jobs.DownloadURL, error)
}

// JobQueries is the read side the job handlers call.
type JobQueries interface {
	ListJobs(ctx context.Context, ownerID string) ([]jobs.JobView, error)
	GetJob(ctx context.Context, ownerID string, jobID uuid.UUID) (*jobs.JobView, error)
	ListAllJobs(ctx context.Context) ([]jobs.JobView, error)
}

// Jobs serves the /api/v1/jobs endpoints.
type Jobs struct {
	cmd   JobCommands
	query JobQueries
}

func NewJobs(cmd JobCommands, query JobQueries) *Jobs {
	return &Jobs{cmd: cmd, query: query}
}

type uploadURLRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Profile     string `json:"profile"`
}

// UploadURL handles POST /api/v1/jobs/upload-url.
func (h *Jobs) UploadURL(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req uploadURLRequest
	if !decode(w, r, &req, false) {
		return
	}
	if req.Filename == "" || req.ContentType == "" {
		response.Error(w, http.StatusBadRequest, jobs.CodeValidation,
			"filename and content_type are required", nil)
		return
	}

	slot, err := h.cmd.RequestUploadSlot(r.Context(), owner, req.Filename, req.ContentType, req.Profile)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, slot)
}

type uploadCompleteRequest struct {
	JobID      string `json:"job_id"`
	StorageKey string `json:"storage_key"`
}

type uploadCompleteResponse struct {
	JobID     uuid.UUID         `json:"job_id"`
	Status    models.JobStatus  `json:"status"`
	VideoInfo *models.VideoInfo `json:"video_info"`
}

// UploadComplete handles POST /api/v1/jobs/upload-complete. The transcode
// continues after the response is written.
func (h *Jobs) UploadComplete(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req uploadCompleteRequest
	if !decode(w, r, &req, false) {
		return
	}
	if req.JobID == "" || req.StorageKey == "" {
		response.Error(w, http.StatusBadRequest, jobs.CodeValidation,
			"job_id and storage_key are required", nil)
		return
	}
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		response.Error(w, http.StatusBadRequest, jobs.CodeValidation, "job_id must be a UUID", nil)
		return
	}

	info, err := h.cmd.ConfirmUpload(r.Context(), owner, jobID, req.StorageKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Accepted(w, uploadCompleteResponse{
		JobID:     jobID,
		Status:    models.JobStatusProcessing,
		VideoInfo: info,
	})
}

// List handles GET /api/v1/jobs.
func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	views, err := h.query.ListJobs(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.List(w, views)
}

// Get handles GET /api/v1/jobs/{jobID}.
func (h *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	v, err := h.query.GetJob(r.Context(), owner, jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, v)
}

type downloadURLRequest struct {
	FileType string `json:"file_type"`
}

// DownloadURL handles POST /api/v1/jobs/{jobID}/download-url. The body is
// optional; file_type defaults to the original upload.
func (h *Jobs) DownloadURL(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	var req downloadURLRequest
	if !decode(w, r, &req, true) {
		return
	}

	d, err := h.cmd.RequestDownloadURL(r.Context(), owner, jobID, req.FileType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, d)
}

type rerunRequest struct {
	Profile string `json:"profile"`
}

// Rerun handles PUT /api/v1/jobs/{jobID}.
func (h *Jobs) Rerun(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	var req rerunRequest
	if !decode(w, r, &req, true) {
		return
	}

	job, err := h.cmd.Rerun(r.Context(), owner, jobID, req.Profile)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Accepted(w, job)
}

// Delete handles DELETE /api/v1/jobs/{jobID}.
func (h *Jobs) Delete(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	if err := h.cmd.DeleteJob(r.Context(), owner, jobID); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

// ListAll handles GET /api/v1/admin/jobs.
func (h *Jobs) ListAll(w http.ResponseWriter, r *http.Request) {
	views, err := h.query.ListAllJobs(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.List(w, views)
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
	}
	return owner, ok
}

// jobIDParam parses the {jobID} path segment. A malformed ID names no job.
func jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusNotFound, jobs.CodeNotFound, "Job not found", nil)
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
	return false
}

// writeError maps the job error taxonomy onto HTTP statuses. Internal
// errors are logged and never echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := jobs.Kind(err)
	switch code {
	case jobs.CodeNotConfigured:
		response.Error(w, http.StatusServiceUnavailable, code, "Video processing is not configured", nil)
	case jobs.CodeNotFound:
		response.Error(w, http.StatusNotFound, code, "Job not found", nil)
	case jobs.CodeConflict:
		response.Error(w, http.StatusConflict, code, err.Error(), nil)
	case jobs.CodeValidation:
		response.Error(w, http.StatusBadRequest, code, err.Error(), nil)
	case jobs.CodeUpstream:
		slog.Warn("upstream failure", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusBadGateway, code, "A storage or media service failed; retry later", nil)
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, code, "An unexpected error occurred", nil)
	}
}
