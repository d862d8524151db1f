// Package handlers implements C9's HTTP handlers: the OpenAI/Anthropic
// client-facing endpoints and the admin surface.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// supportedModels is the static id list GET /v1/models advertises (spec
// §4.9); the proxy passes whatever model string the client sends straight
// through to upstream's model_config.base, so this list is informational
// rather than enforced.
var supportedModels = []string{
	"auto",
	"claude-4.5-sonnet",
	"claude-4-sonnet",
	"claude-4-opus",
	"gpt-5",
	"gemini-2.5-pro",
	"o3",
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsHandler serves GET /v1/models.
type ModelsHandler struct{}

// NewModelsHandler constructs a ModelsHandler.
func NewModelsHandler() *ModelsHandler {
	return &ModelsHandler{}
}

// ListModels handles GET /v1/models in the OpenAI list shape.
func (h *ModelsHandler) ListModels(c *gin.Context) {
	now := time.Now().Unix()
	data := make([]modelEntry, 0, len(supportedModels))
	for _, id := range supportedModels {
		data = append(data, modelEntry{ID: id, Object: "model", Created: now, OwnedBy: "warp"})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}
