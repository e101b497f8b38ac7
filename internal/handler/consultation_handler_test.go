package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-counsel-api/internal/models"
	"github.com/noah-isme/sma-counsel-api/internal/service"
	appErrors "github.com/noah-isme/sma-counsel-api/pkg/errors"
)

type consultationServiceMock struct {
	lastTeacher string
	lastList    service.ConsultationListRequest
	lastCreate  service.CreateConsultationRequest
	summarize   *service.SummarizeResponse
	lastKey     string
	err         error
}

func (m *consultationServiceMock) List(ctx context.Context, teacherID string, req service.ConsultationListRequest) ([]models.Consultation, *models.Pagination, error) {
	m.lastTeacher = teacherID
	m.lastList = req
	return []models.Consultation{{ID: "c1"}}, &models.Pagination{Page: 2, PageSize: 5, TotalCount: 6}, m.err
}

func (m *consultationServiceMock) Get(ctx context.Context, teacherID, id string) (*models.Consultation, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Consultation{ID: id, TeacherID: teacherID}, nil
}

func (m *consultationServiceMock) Create(ctx context.Context, teacherID string, req service.CreateConsultationRequest) (*models.Consultation, error) {
	m.lastCreate = req
	return &models.Consultation{ID: "new", TeacherID: teacherID, StudentName: req.StudentName}, nil
}

func (m *consultationServiceMock) Update(ctx context.Context, teacherID, id string, req service.UpdateConsultationRequest) (*models.Consultation, error) {
	return &models.Consultation{ID: id}, m.err
}

func (m *consultationServiceMock) Delete(ctx context.Context, teacherID, id string) error {
	return m.err
}

func (m *consultationServiceMock) StudentGroups(ctx context.Context, teacherID string, selected map[string][]string) ([]models.StudentGroup, error) {
	return []models.StudentGroup{{StudentKey: "S1::김민수"}, {StudentKey: "S2::이서연"}}, nil
}

func (m *consultationServiceMock) Summarize(ctx context.Context, teacherID string, req service.SummarizeRequest) (*service.SummarizeResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.summarize, nil
}

func (m *consultationServiceMock) DeleteStudent(ctx context.Context, teacherID, studentKey string) (int64, error) {
	m.lastTeacher = teacherID
	m.lastKey = studentKey
	if m.err != nil {
		return 0, m.err
	}
	return 2, nil
}

func (m *consultationServiceMock) Stats(ctx context.Context, teacherID string) (*models.ConsultationStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.ConsultationStats{
		ConsultationTotals: models.ConsultationTotals{Total: 3, AISummaryCount: 1, StudentCount: 2},
		Monthly:            []models.MonthlyCount{{Month: "2024-03", Label: "3월", Count: 3}},
	}, nil
}

func TestConsultationHandlerRequiresTeacher(t *testing.T) {
	handler := NewConsultationHandler(&consultationServiceMock{})
	c, w := newJSONContext(t, http.MethodGet, "/consultations", nil)
	handler.List(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConsultationHandlerListBindsQuery(t *testing.T) {
	svc := &consultationServiceMock{}
	handler := NewConsultationHandler(svc)
	c, w := newJSONContext(t, http.MethodGet, "/consultations?date=2024-03-05&search=career&page=2&page_size=5", nil)
	withTeacher(c)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "teacher-1", svc.lastTeacher)
	assert.Equal(t, "2024-03-05", svc.lastList.Date)
	assert.Equal(t, 2, svc.lastList.Page)
	pagination := decodeEnvelope(t, w)["pagination"].(map[string]interface{})
	assert.Equal(t, float64(6), pagination["total_count"])
}

func TestConsultationHandlerCreate(t *testing.T) {
	svc := &consultationServiceMock{}
	handler := NewConsultationHandler(svc)
	c, w := newJSONContext(t, http.MethodPost, "/consultations", map[string]string{
		"date": "2024-03-05", "time": "14:30", "student_name": "김민수", "original_content": "내용",
	})
	withTeacher(c)

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "김민수", svc.lastCreate.StudentName)

	c, w = newJSONContext(t, http.MethodPost, "/consultations", "not-json")
	withTeacher(c)
	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConsultationHandlerGetNotFound(t *testing.T) {
	handler := NewConsultationHandler(&consultationServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "consultation not found")})
	c, w := newJSONContext(t, http.MethodGet, "/consultations/c1", nil)
	c.Params = gin.Params{{Key: "id", Value: "c1"}}
	withTeacher(c)

	handler.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConsultationHandlerDelete(t *testing.T) {
	handler := NewConsultationHandler(&consultationServiceMock{})
	c, w := newJSONContext(t, http.MethodDelete, "/consultations/c1", nil)
	c.Params = gin.Params{{Key: "id", Value: "c1"}}
	withTeacher(c)

	handler.Delete(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestConsultationHandlerSummarize(t *testing.T) {
	handler := NewConsultationHandler(&consultationServiceMock{summarize: &service.SummarizeResponse{Summary: "정리함.", Saved: true, ConsultationID: "c1"}})
	c, w := newJSONContext(t, http.MethodPost, "/consultations/summarize", service.SummarizeRequest{ConsultationID: "c1"})
	withTeacher(c)

	handler.Summarize(c)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "정리함.", data["summary"])
	assert.Equal(t, true, data["saved"])

	disabled := NewConsultationHandler(&consultationServiceMock{err: appErrors.ErrFeatureDisabled})
	c, w = newJSONContext(t, http.MethodPost, "/consultations/summarize", service.SummarizeRequest{Content: "x"})
	withTeacher(c)
	disabled.Summarize(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConsultationHandlerStudents(t *testing.T) {
	handler := NewConsultationHandler(&consultationServiceMock{})
	c, w := newJSONContext(t, http.MethodGet, "/students", nil)
	withTeacher(c)

	handler.Students(c)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	assert.Len(t, body["data"], 2)
	assert.Equal(t, float64(2), body["meta"].(map[string]interface{})["total"])
}

func TestConsultationHandlerDeleteStudent(t *testing.T) {
	svc := &consultationServiceMock{}
	handler := NewConsultationHandler(svc)
	c, w := newJSONContext(t, http.MethodDelete, "/students/S1::kim", nil)
	c.Params = gin.Params{{Key: "key", Value: "S1::김민수"}}
	withTeacher(c)

	handler.DeleteStudent(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "teacher-1", svc.lastTeacher)
	assert.Equal(t, "S1::김민수", svc.lastKey)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["deleted"])

	missing := NewConsultationHandler(&consultationServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "student not found")})
	c, w = newJSONContext(t, http.MethodDelete, "/students/S9::x", nil)
	c.Params = gin.Params{{Key: "key", Value: "S9::x"}}
	withTeacher(c)
	missing.DeleteStudent(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConsultationHandlerStats(t *testing.T) {
	handler := NewConsultationHandler(&consultationServiceMock{})
	c, w := newJSONContext(t, http.MethodGet, "/consultations/stats", nil)
	withTeacher(c)

	handler.Stats(c)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["total_consultations"])
	assert.Equal(t, float64(1), data["ai_summary_count"])
	assert.Equal(t, float64(2), data["student_count"])
	monthly := data["monthly"].([]interface{})
	require.Len(t, monthly, 1)
	assert.Equal(t, "3월", monthly[0].(map[string]interface{})["label"])
}
