package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-counsel-api/internal/models"
	appErrors "github.com/noah-isme/sma-counsel-api/pkg/errors"
	"github.com/noah-isme/sma-counsel-api/pkg/response"
)

type authService interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
	CheckLock(ctx context.Context, req models.LockCheckRequest) (*models.LockStatus, error)
	RecordFailure(ctx context.Context, req models.LockCheckRequest) (*models.LockStatus, error)
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service authService
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc authService) *AuthHandler {
	return &AuthHandler{service: svc}
}

// Login godoc
// @Summary Authenticate teacher
// @Description Authenticate by email and password. Repeated failures lock the account.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// CheckLock godoc
// @Summary Check account lock
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LockCheckRequest true "Email"
// @Success 200 {object} response.Envelope
// @Router /auth/check-lock [post]
func (h *AuthHandler) CheckLock(c *gin.Context) {
	var req models.LockCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	status, err := h.service.CheckLock(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// RecordFailure godoc
// @Summary Record a failed sign-in
// @Description Used by clients that authenticate against an external identity provider.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LockCheckRequest true "Email"
// @Success 200 {object} response.Envelope
// @Router /auth/record-failure [post]
func (h *AuthHandler) RecordFailure(c *gin.Context) {
	var req models.LockCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	status, err := h.service.RecordFailure(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Me godoc
// @Summary Get current teacher
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	response.JSON(c, http.StatusOK, models.UserInfo{
		ID:       claims.UserID,
		Email:    claims.Email,
		FullName: claims.FullName,
		Role:     claims.Role,
	}, nil)
}
