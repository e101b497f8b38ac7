package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-counsel-api/internal/models"
	"github.com/noah-isme/sma-counsel-api/internal/service"
	appErrors "github.com/noah-isme/sma-counsel-api/pkg/errors"
	"github.com/noah-isme/sma-counsel-api/pkg/response"
)

type consultationService interface {
	List(ctx context.Context, teacherID string, req service.ConsultationListRequest) ([]models.Consultation, *models.Pagination, error)
	Get(ctx context.Context, teacherID, id string) (*models.Consultation, error)
	Create(ctx context.Context, teacherID string, req service.CreateConsultationRequest) (*models.Consultation, error)
	Update(ctx context.Context, teacherID, id string, req service.UpdateConsultationRequest) (*models.Consultation, error)
	Delete(ctx context.Context, teacherID, id string) error
	StudentGroups(ctx context.Context, teacherID string, selected map[string][]string) ([]models.StudentGroup, error)
	Summarize(ctx context.Context, teacherID string, req service.SummarizeRequest) (*service.SummarizeResponse, error)
	DeleteStudent(ctx context.Context, teacherID, studentKey string) (int64, error)
	Stats(ctx context.Context, teacherID string) (*models.ConsultationStats, error)
}

// ConsultationHandler exposes consultation record endpoints.
type ConsultationHandler struct {
	service consultationService
}

// NewConsultationHandler constructs the handler.
func NewConsultationHandler(svc consultationService) *ConsultationHandler {
	return &ConsultationHandler{service: svc}
}

// List godoc
// @Summary List consultation records
// @Tags Consultations
// @Produce json
// @Param date query string false "YYYY-MM-DD"
// @Param student_id query string false "Student ID"
// @Param search query string false "Free text"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /consultations [get]
func (h *ConsultationHandler) List(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	var req service.ConsultationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	records, pagination, err := h.service.List(c.Request.Context(), teacherID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// Get godoc
// @Summary Get consultation record
// @Tags Consultations
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /consultations/{id} [get]
func (h *ConsultationHandler) Get(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	record, err := h.service.Get(c.Request.Context(), teacherID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Create godoc
// @Summary Create consultation record
// @Tags Consultations
// @Accept json
// @Produce json
// @Param payload body service.CreateConsultationRequest true "Record"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /consultations [post]
func (h *ConsultationHandler) Create(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	var req service.CreateConsultationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.service.Create(c.Request.Context(), teacherID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Update godoc
// @Summary Update consultation record
// @Tags Consultations
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param payload body service.UpdateConsultationRequest true "Record"
// @Success 200 {object} response.Envelope
// @Router /consultations/{id} [put]
func (h *ConsultationHandler) Update(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	var req service.UpdateConsultationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.service.Update(c.Request.Context(), teacherID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Delete godoc
// @Summary Delete consultation record
// @Tags Consultations
// @Param id path string true "Record ID"
// @Success 204
// @Router /consultations/{id} [delete]
func (h *ConsultationHandler) Delete(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), teacherID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Summarize godoc
// @Summary Summarize one consultation note
// @Description Tidies a note with the completion backend. With consultation_id the result is stored on the record.
// @Tags Consultations
// @Accept json
// @Produce json
// @Param payload body service.SummarizeRequest true "Note"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /consultations/summarize [post]
func (h *ConsultationHandler) Summarize(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	var req service.SummarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	res, err := h.service.Summarize(c.Request.Context(), teacherID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Students godoc
// @Summary List students with consultation records
// @Tags Consultations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *ConsultationHandler) Students(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	groups, err := h.service.StudentGroups(c.Request.Context(), teacherID, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, groups, nil, map[string]interface{}{"total": len(groups)})
}

// DeleteStudent godoc
// @Summary Delete every record of one student
// @Tags Consultations
// @Produce json
// @Param key path string true "Student key (id::name)"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{key} [delete]
func (h *ConsultationHandler) DeleteStudent(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	key := c.Param("key")
	deleted, err := h.service.DeleteStudent(c.Request.Context(), teacherID, key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"student_key": key, "deleted": deleted}, nil)
}

// Stats godoc
// @Summary Dashboard counts for the teacher's records
// @Tags Consultations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /consultations/stats [get]
func (h *ConsultationHandler) Stats(c *gin.Context) {
	teacherID, ok := teacherFromContext(c)
	if !ok {
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), teacherID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
