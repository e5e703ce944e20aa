package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/db"
	"github.com/pulsegrid/pulsegrid/internal/probes"
)

type RegisterProbeRequest struct {
	Name   string `json:"name" binding:"required,min=1,max=255"`
	Region string `json:"region" binding:"required,min=1,max=64"`
}

// RegisterProbe mints a new probe. The token appears in this response and
// nowhere else; only its hash is stored.
func (h *Handler) RegisterProbe(c *gin.Context) {
	var req RegisterProbeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	probe, token, err := h.probes.Register(c.GetString("org_id"), req.Name, req.Region)
	if err != nil {
		h.logger.Error("Failed to register probe", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"probe": probe, "token": token})
}

func (h *Handler) ListProbes(c *gin.Context) {
	list, err := h.store.GetProbesByOrg(c.GetString("org_id"))
	if err != nil {
		h.logger.Error("Failed to list probes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"probes": list})
}

type UpdateProbeRequest struct {
	Name     *string `json:"name"`
	Region   *string `json:"region"`
	Disabled *bool   `json:"disabled"`
}

func (h *Handler) UpdateProbe(c *gin.Context) {
	probe, err := h.store.GetProbe(c.Param("id"), c.GetString("org_id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Probe not found"})
			return
		}
		h.logger.Error("Failed to get probe", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var req UpdateProbeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name != nil {
		probe.Name = *req.Name
	}
	if req.Region != nil {
		probe.Region = *req.Region
	}
	if req.Disabled != nil {
		if *req.Disabled {
			probe.Status = db.ProbeDisabled
		} else if probe.Status == db.ProbeDisabled {
			probe.Status = db.ProbePending
		}
	}

	if err := h.store.UpdateProbe(probe); err != nil {
		h.logger.Error("Failed to update probe", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, probe)
}

func (h *Handler) DeleteProbe(c *gin.Context) {
	if err := h.store.DeleteProbe(c.Param("id"), c.GetString("org_id")); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Probe not found"})
			return
		}
		h.logger.Error("Failed to delete probe", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Agent endpoints. These authenticate with the probe's own token via
// middleware.ProbeAuth, never a user JWT.

type HeartbeatRequest struct {
	Metrics db.JSONB `json:"metrics"`
}

func (h *Handler) ProbeHeartbeat(c *gin.Context) {
	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	probe, err := h.probes.Heartbeat(c.GetString("probe_token"), req.Metrics)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid probe token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": probe.Status})
}

func (h *Handler) ProbeFetchJobs(c *gin.Context) {
	jobs, err := h.probes.FetchJobs(c.GetString("probe_token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid probe token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *Handler) ProbeSubmitResult(c *gin.Context) {
	var payload probes.ResultPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.probes.SubmitResult(c.Request.Context(), c.GetString("probe_token"), c.Param("id"), &payload)
	switch {
	case errors.Is(err, probes.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Job does not belong to this probe"})
	case err != nil:
		h.logger.Error("Failed to submit probe result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
	}
}
