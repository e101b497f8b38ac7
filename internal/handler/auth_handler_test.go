package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-counsel-api/internal/middleware"
	"github.com/noah-isme/sma-counsel-api/internal/models"
	appErrors "github.com/noah-isme/sma-counsel-api/pkg/errors"
)

type authServiceMock struct {
	loginErr  error
	lastLogin models.LoginRequest
	status    *models.LockStatus
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.lastLogin = req
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &models.LoginResponse{AccessToken: "token", ExpiresIn: 3600}, nil
}

func (m *authServiceMock) CheckLock(ctx context.Context, req models.LockCheckRequest) (*models.LockStatus, error) {
	return m.status, nil
}

func (m *authServiceMock) RecordFailure(ctx context.Context, req models.LockCheckRequest) (*models.LockStatus, error) {
	return m.status, nil
}

func newJSONContext(t *testing.T, method, target string, payload interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var body []byte
	switch v := payload.(type) {
	case nil:
	case string:
		body = []byte(v)
	default:
		var err error
		body, err = json.Marshal(v)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func withTeacher(c *gin.Context) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "teacher-1", Email: "t@example.com", Role: models.RoleTeacher})
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuthHandlerLogin(t *testing.T) {
	svc := &authServiceMock{}
	handler := NewAuthHandler(svc)
	c, w := newJSONContext(t, http.MethodPost, "/auth/login", models.LoginRequest{Email: "t@example.com", Password: "pw"})
	c.Request.Header.Set("User-Agent", "test-agent")

	handler.Login(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test-agent", svc.lastLogin.UserAgent)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "token", data["access_token"])
}

func TestAuthHandlerLoginLockedCarriesStatus(t *testing.T) {
	status := &models.LockStatus{IsLocked: true, FailedAttempts: 10}
	handler := NewAuthHandler(&authServiceMock{loginErr: appErrors.WithDetails(appErrors.ErrAccountLocked, status)})
	c, w := newJSONContext(t, http.MethodPost, "/auth/login", models.LoginRequest{Email: "t@example.com", Password: "pw"})

	handler.Login(c)
	require.Equal(t, http.StatusLocked, w.Code)
	errBody := decodeEnvelope(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "ACCOUNT_LOCKED", errBody["code"])
	details := errBody["details"].(map[string]interface{})
	assert.Equal(t, true, details["is_locked"])
	assert.Equal(t, float64(0), details["remaining_attempts"])
}

func TestAuthHandlerInvalidBody(t *testing.T) {
	handler := NewAuthHandler(&authServiceMock{})
	for _, fn := range []func(*gin.Context){handler.Login, handler.CheckLock, handler.RecordFailure} {
		c, w := newJSONContext(t, http.MethodPost, "/auth", "{")
		fn(c)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
}

func TestAuthHandlerCheckLock(t *testing.T) {
	handler := NewAuthHandler(&authServiceMock{status: &models.LockStatus{FailedAttempts: 2, RemainingAttempts: 8}})
	c, w := newJSONContext(t, http.MethodPost, "/auth/check-lock", models.LockCheckRequest{Email: "t@example.com"})

	handler.CheckLock(c)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(8), data["remaining_attempts"])
}

func TestAuthHandlerMe(t *testing.T) {
	handler := NewAuthHandler(&authServiceMock{})
	c, w := newJSONContext(t, http.MethodGet, "/auth/me", nil)
	handler.Me(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newJSONContext(t, http.MethodGet, "/auth/me", nil)
	withTeacher(c)
	handler.Me(c)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "teacher-1", data["id"])
}
