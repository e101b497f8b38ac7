package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-counsel-api/pkg/llm"
	"github.com/noah-isme/sma-counsel-api/pkg/response"
)

type defaultModeler interface {
	DefaultModel() string
}

// ModelHandler lists the completion models teachers may pick from.
type ModelHandler struct {
	catalog  *llm.Catalog
	defaults defaultModeler
}

// NewModelHandler constructs the handler. defaults reports the model used for blank requests;
// when nil the catalog default is advertised.
func NewModelHandler(catalog *llm.Catalog, defaults defaultModeler) *ModelHandler {
	return &ModelHandler{catalog: catalog, defaults: defaults}
}

// List godoc
// @Summary List available models
// @Tags Models
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /models [get]
func (h *ModelHandler) List(c *gin.Context) {
	models := []llm.ModelInfo{}
	defaultModel := ""
	if h.catalog != nil {
		models = h.catalog.Models
		defaultModel = h.catalog.Default()
	}
	if h.defaults != nil {
		if configured := h.defaults.DefaultModel(); configured != "" {
			defaultModel = configured
		}
	}
	response.JSON(c, http.StatusOK, models, nil, map[string]interface{}{"default": defaultModel})
}
