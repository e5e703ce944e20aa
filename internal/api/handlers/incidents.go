package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

func (h *Handler) ListIncidents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	list, err := h.store.GetIncidents(c.GetString("org_id"), limit)
	if err != nil {
		h.logger.Error("Failed to list incidents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": list})
}

func (h *Handler) GetIncident(c *gin.Context) {
	incident, err := h.store.GetIncident(c.Param("id"), c.GetString("org_id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
			return
		}
		h.logger.Error("Failed to get incident", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	events, err := h.store.GetIncidentEvents(incident.ID)
	if err != nil {
		h.logger.Error("Failed to get incident events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incident": incident, "events": events})
}

func (h *Handler) AcknowledgeIncident(c *gin.Context) {
	err := h.incidents.Acknowledge(c.Param("id"), c.GetString("org_id"), c.GetString("user_email"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

type CommentRequest struct {
	Comment string `json:"comment" binding:"required,min=1,max=4000"`
}

func (h *Handler) CommentIncident(c *gin.Context) {
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.incidents.AddComment(c.Param("id"), c.GetString("org_id"), c.GetString("user_email"), req.Comment)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
			return
		}
		h.logger.Error("Failed to add incident comment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "added"})
}
