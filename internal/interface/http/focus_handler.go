package httpapi

import (
	"net/http"
	"time"

	dm "infodigest/internal/domain/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (s *Server) handleCreateFocus(c *gin.Context) {
	var body struct {
		Title       string          `json:"title"`
		Targets     []string        `json:"targets"`
		FocusPoints []dm.FocusPoint `json:"focusPoints"`
		ExpiresAt   string          `json:"expiresAt"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid body", "error_code": errCodeBadRequest})
		return
	}

	expiresAt, err := time.Parse(time.RFC3339, body.ExpiresAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid expiresAt, want RFC3339", "error_code": errCodeBadRequest})
		return
	}
	if !expiresAt.After(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "expiresAt must be in the future", "error_code": errCodeBadRequest})
		return
	}

	item := dm.FocusItem{
		ID:          uuid.NewString(),
		UserID:      c.GetString("userID"),
		Title:       body.Title,
		Targets:     body.Targets,
		FocusPoints: body.FocusPoints,
		Status:      dm.FocusMonitoring,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}
	if err := item.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error(), "error_code": errCodeBadRequest})
		return
	}

	if err := s.rules.CreateFocus(c.Request.Context(), item); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "create focus failed", "error_code": errCodeInternal})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "focus": toFocusView(item)})
}

func (s *Server) handleListFocus(c *gin.Context) {
	items, err := s.rules.ListFocusByUser(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "list focus failed", "error_code": errCodeInternal})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "focus": toFocusViews(items), "count": len(items)})
}

func (s *Server) handleCancelFocus(c *gin.Context) {
	if err := s.rules.CancelFocus(c.Request.Context(), c.Param("id"), c.GetString("userID")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "focus not found", "error_code": errCodeNotFound})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
