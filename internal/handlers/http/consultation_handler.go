package http

import (
	"net/http"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
	"telecare/internal/infrastructure/middleware"
	"telecare/pkg/utils"
	"telecare/pkg/validation"

	"github.com/gin-gonic/gin"
)

// ConsultationHandler serves the REST surface for creating and inspecting
// consultation rooms. The actual call runs over the WebSocket relay; these
// endpoints only mint room ids and tokens and expose membership.
type ConsultationHandler struct {
	registry  ports.Registry
	validator *middleware.TokenValidator
}

func NewConsultationHandler(registry ports.Registry, validator *middleware.TokenValidator) *ConsultationHandler {
	return &ConsultationHandler{
		registry:  registry,
		validator: validator,
	}
}

func (h *ConsultationHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/consultations", h.CreateConsultation)
	api.GET("/consultations/:id", h.GetConsultation)
	api.POST("/consultations/:id/tokens", h.IssueToken)
}

// CreateConsultation mints a fresh room and, when auth is enabled, a doctor
// token for it. The patient obtains a token through the tokens endpoint.
func (h *ConsultationHandler) CreateConsultation(c *gin.Context) {
	var req struct {
		DoctorID string `json:"doctor_id" binding:"required,min=1,max=100"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateUserID(req.DoctorID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID := domain.RoomID(utils.NewRoomID())

	resp := gin.H{"room_id": roomID}
	if h.validator != nil {
		token, err := h.validator.Issue(domain.UserID(req.DoctorID), domain.RoleDoctor, roomID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
			return
		}
		resp["token"] = token
	}

	c.JSON(http.StatusCreated, resp)
}

// GetConsultation reports room membership. Rooms exist only while occupied;
// an id nobody has joined yet reads as not found with zero participants.
func (h *ConsultationHandler) GetConsultation(c *gin.Context) {
	roomID := c.Param("id")
	if err := validation.ValidateRoomID(roomID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	participants := h.registry.Participants(domain.RoomID(roomID))
	if participants == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "consultation not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id":      roomID,
		"participants": participants,
	})
}

// IssueToken mints a join token for an existing or future room.
func (h *ConsultationHandler) IssueToken(c *gin.Context) {
	if h.validator == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "authentication is disabled"})
		return
	}

	roomID := c.Param("id")
	if err := validation.ValidateRoomID(roomID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req struct {
		UserID   string `json:"user_id" binding:"required,min=1,max=100"`
		UserType string `json:"user_type" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateUserID(req.UserID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := domain.Role(req.UserType)
	if role != domain.RoleDoctor && role != domain.RolePatient {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_type must be doctor or patient"})
		return
	}

	token, err := h.validator.Issue(domain.UserID(req.UserID), role, domain.RoomID(roomID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"room_id": roomID,
		"token":   token,
	})
}
