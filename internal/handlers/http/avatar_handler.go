package http

import (
	"errors"
	"net/http"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
	"telecare/pkg/validation"

	"github.com/gin-gonic/gin"
)

// AvatarHandler fronts the text-to-video service for clients that render the
// avatar clip themselves.
type AvatarHandler struct {
	generator ports.AvatarGenerator
}

func NewAvatarHandler(generator ports.AvatarGenerator) *AvatarHandler {
	return &AvatarHandler{generator: generator}
}

func (h *AvatarHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/avatar/talks", h.GenerateTalk)
}

func (h *AvatarHandler) GenerateTalk(c *gin.Context) {
	var req struct {
		Text       string `json:"text" binding:"required"`
		AvatarType string `json:"avatar_type"`
		Voice      string `json:"voice"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateAvatarScript(req.Text); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.generator.Generate(c.Request.Context(), ports.AvatarRequest{
		Text:       req.Text,
		AvatarType: req.AvatarType,
		Voice:      req.Voice,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAvatarUnavailable) {
			// Clients fall back to browser speech synthesis on 503.
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "avatar service unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video_url": result.VideoURL,
	})
}
