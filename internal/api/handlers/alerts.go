package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

type CreatePolicyRequest struct {
	Name               string             `json:"name" binding:"required,min=1,max=255"`
	Conditions         db.AlertConditions `json:"conditions"`
	Channels           []string           `json:"channels"`
	CooldownMinutes    int                `json:"cooldown_minutes" binding:"min=0,max=1440"`
	Monitors           []string           `json:"monitors" binding:"required,min=1"`
	EscalationPolicyID *string            `json:"escalation_policy_id"`
	OncallRotationID   *string            `json:"oncall_rotation_id"`
}

// validate enforces what the binding tags cannot express: a policy must
// have somewhere to deliver, either channels or an on-call rotation.
func (r *CreatePolicyRequest) validate() error {
	if len(r.Channels) == 0 && r.OncallRotationID == nil {
		return errors.New("policy needs at least one channel or an oncall rotation")
	}
	return nil
}

func (h *Handler) CreateAlertPolicy(c *gin.Context) {
	var req CreatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy := &db.AlertPolicy{
		ID:                 uuid.New().String(),
		OrgID:              c.GetString("org_id"),
		Name:               req.Name,
		Conditions:         req.Conditions,
		Channels:           db.StringSlice(req.Channels),
		CooldownMinutes:    req.CooldownMinutes,
		Monitors:           db.StringSlice(req.Monitors),
		EscalationPolicyID: req.EscalationPolicyID,
		OncallRotationID:   req.OncallRotationID,
		CreatedAt:          h.now(),
	}

	if err := h.store.CreateAlertPolicy(policy); err != nil {
		h.logger.Error("Failed to create alert policy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusCreated, policy)
}

func (h *Handler) ListAlertPolicies(c *gin.Context) {
	policies, err := h.store.GetAlertPoliciesByOrg(c.GetString("org_id"))
	if err != nil {
		h.logger.Error("Failed to list alert policies", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

func (h *Handler) UpdateAlertPolicy(c *gin.Context) {
	policy, err := h.store.GetAlertPolicy(c.Param("id"), c.GetString("org_id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Policy not found"})
			return
		}
		h.logger.Error("Failed to get alert policy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var req CreatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy.Name = req.Name
	policy.Conditions = req.Conditions
	policy.Channels = db.StringSlice(req.Channels)
	policy.CooldownMinutes = req.CooldownMinutes
	policy.Monitors = db.StringSlice(req.Monitors)
	policy.EscalationPolicyID = req.EscalationPolicyID
	policy.OncallRotationID = req.OncallRotationID

	if err := h.store.UpdateAlertPolicy(policy); err != nil {
		h.logger.Error("Failed to update alert policy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, policy)
}

func (h *Handler) DeleteAlertPolicy(c *gin.Context) {
	if err := h.store.DeleteAlertPolicy(c.Param("id"), c.GetString("org_id")); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Policy not found"})
			return
		}
		h.logger.Error("Failed to delete alert policy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

type CreateChannelRequest struct {
	Name   string   `json:"name" binding:"required,min=1,max=255"`
	Type   string   `json:"type" binding:"required,oneof=webhook slack discord telegram email"`
	Config db.JSONB `json:"config" binding:"required"`
}

func (h *Handler) CreateChannel(c *gin.Context) {
	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	channel := &db.NotificationChannel{
		ID:        uuid.New().String(),
		OrgID:     c.GetString("org_id"),
		Name:      req.Name,
		Type:      req.Type,
		Config:    req.Config,
		Enabled:   true,
		CreatedAt: h.now(),
	}

	if err := h.store.CreateChannel(channel); err != nil {
		h.logger.Error("Failed to create channel", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusCreated, channel)
}

func (h *Handler) ListChannels(c *gin.Context) {
	channels, err := h.store.GetChannelsByOrg(c.GetString("org_id"))
	if err != nil {
		h.logger.Error("Failed to list channels", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

func (h *Handler) DeleteChannel(c *gin.Context) {
	if err := h.store.DeleteChannel(c.Param("id"), c.GetString("org_id")); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Channel not found"})
			return
		}
		h.logger.Error("Failed to delete channel", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetAlertHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	history, err := h.store.GetAlertHistory(c.GetString("org_id"), limit, offset)
	if err != nil {
		h.logger.Error("Failed to get alert history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}
