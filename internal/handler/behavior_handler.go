package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-counsel-api/internal/dto"
	"github.com/noah-isme/sma-counsel-api/internal/models"
	appErrors "github.com/noah-isme/sma-counsel-api/pkg/errors"
	"github.com/noah-isme/sma-counsel-api/pkg/response"
	"github.com/noah-isme/sma-counsel-api/pkg/storage"
)

type behaviorService interface {
	ResolveTargets(ctx context.Context, teacherID string, req dto.BehaviorBatchRequest) ([]models.StudentGroup, error)
	Stream(ctx context.Context, teacherID string, targets []models.StudentGroup, mode models.EvidenceMode, model string) (<-chan models.DraftResult, error)
	StartBatch(ctx context.Context, teacherID string, req dto.BehaviorBatchRequest) (*dto.BatchStartResponse, error)
	Progress(ctx context.Context, teacherID string) (*models.BatchProgress, error)
	ListDrafts(ctx context.Context, teacherID string) ([]models.BehaviorDraft, error)
	UpdateContent(ctx context.Context, teacherID, studentKey string, req dto.UpdateDraftRequest) (*models.BehaviorDraft, error)
	RegenerateOne(ctx context.Context, teacherID, studentKey string, req dto.RegenerateDraftRequest) (*models.BehaviorDraft, error)
}

type draftExporter interface {
	ExportDrafts(ctx context.Context, teacherID string, req dto.DraftExportRequest) (*dto.DraftExportResponse, error)
	ResolveDownload(token string) (*os.File, *storage.SignedFile, error)
}

// BehaviorHandler exposes behavior-record draft endpoints.
type BehaviorHandler struct {
	service  behaviorService
	exporter draftExporter
}

// NewBehaviorHandler constructs the handler.
func NewBehaviorHandler(svc behaviorService, exporter draftExporter) *BehaviorHandler {
	return &BehaviorHandler{service: svc, exporter: exporter}
}

// StartBatch godoc
// @Summary Queue a draft batch
// @Description Validates the batch and generates drafts in the background.
// @Tags Behavior
// @Accept json
// @Produce json
// @Param payload body dto.BehaviorBatchRequest true "Batch"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /behavior/batches [post]
func (h *BehaviorHandler) StartBatch(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	var req dto.BehaviorBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	res, err := h.service.StartBatch(c.Request.Context(), teacherID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, res)
}

// StreamBatch godoc
// @Summary Run a draft batch as a server-sent event stream
// @Description Emits one "draft" event per finished student, then a "done" event with the final progress.
// @Tags Behavior
// @Accept json
// @Produce text/event-stream
// @Param payload body dto.BehaviorBatchRequest true "Batch"
// @Success 200 {string} string "event stream"
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /behavior/batches/stream [post]
func (h *BehaviorHandler) StreamBatch(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	var req dto.BehaviorBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	targets, err := h.service.ResolveTargets(c.Request.Context(), teacherID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	results, err := h.service.Stream(c.Request.Context(), teacherID, targets, req.Mode, req.Model)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	var last *models.BatchProgress
	for result := range results {
		progress := result.Progress
		last = &progress
		response.Event(c, "draft", result, result.Err)
	}
	if c.Request.Context().Err() != nil {
		return
	}
	response.Event(c, "done", last, nil)
}

// Progress godoc
// @Summary Latest batch progress
// @Tags Behavior
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /behavior/progress [get]
func (h *BehaviorHandler) Progress(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	progress, err := h.service.Progress(c.Request.Context(), teacherID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progress, nil)
}

// ListDrafts godoc
// @Summary List drafts
// @Tags Behavior
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /behavior/drafts [get]
func (h *BehaviorHandler) ListDrafts(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	drafts, err := h.service.ListDrafts(c.Request.Context(), teacherID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, drafts, nil, map[string]interface{}{"total": len(drafts)})
}

// UpdateDraft godoc
// @Summary Replace draft content
// @Description Stores edited text verbatim; edits are not revalidated.
// @Tags Behavior
// @Accept json
// @Produce json
// @Param key path string true "Student key"
// @Param payload body dto.UpdateDraftRequest true "Content"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /behavior/drafts/{key} [put]
func (h *BehaviorHandler) UpdateDraft(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	draft, err := h.service.UpdateContent(c.Request.Context(), teacherID, c.Param("key"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil)
}

// RegenerateDraft godoc
// @Summary Regenerate one student's draft
// @Tags Behavior
// @Accept json
// @Produce json
// @Param key path string true "Student key"
// @Param payload body dto.RegenerateDraftRequest true "Options"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /behavior/drafts/{key}/regenerate [post]
func (h *BehaviorHandler) RegenerateDraft(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	var req dto.RegenerateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	draft, err := h.service.RegenerateOne(c.Request.Context(), teacherID, c.Param("key"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil)
}

// Export godoc
// @Summary Export drafts
// @Tags Behavior
// @Accept json
// @Produce json
// @Param payload body dto.DraftExportRequest true "Format"
// @Success 200 {object} response.Envelope
// @Router /behavior/exports [post]
func (h *BehaviorHandler) Export(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	var req dto.DraftExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	res, err := h.exporter.ExportDrafts(c.Request.Context(), teacherID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Download godoc
// @Summary Download an exported file
// @Tags Behavior
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /export/{token} [get]
func (h *BehaviorHandler) Download(c *gin.Context) {
	file, signed, err := h.exporter.ResolveDownload(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export"))
		return
	}
	filename := path.Base(signed.Path)
	c.DataFromReader(http.StatusOK, info.Size(), contentTypeFor(filename), file, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filename),
		"Cache-Control":       "no-store",
	})
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
