package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

type CreateMonitorRequest struct {
	Name                string           `json:"name" binding:"required,min=1,max=255"`
	Type                string           `json:"type" binding:"required"`
	Target              string           `json:"target"`
	IntervalSeconds     int              `json:"interval_seconds" binding:"required,min=10,max=86400"`
	TimeoutMs           int              `json:"timeout_ms" binding:"required,min=100,max=300000"`
	Regions             []string         `json:"regions"`
	Config              db.MonitorConfig `json:"config"`
	DegradedThresholdMs int              `json:"degraded_threshold_ms"`
	DegradedAfterCount  int              `json:"degraded_after_count"`
	DownAfterCount      int              `json:"down_after_count"`
	CountDegradedAsDown bool             `json:"count_degraded_as_down"`
	RegionStrategy      string           `json:"region_strategy"`
	DependsOn           []string         `json:"depends_on"`
}

func (h *Handler) CreateMonitor(c *gin.Context) {
	var req CreateMonitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	monitorType := db.MonitorType(req.Type)
	if !validMonitorType(monitorType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown monitor type %q", req.Type)})
		return
	}
	if err := validateMonitorConfig(monitorType, req.Target, &req.Config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	strategy := db.RegionStrategy(req.RegionStrategy)
	if req.RegionStrategy == "" {
		strategy = db.StrategyAny
	} else if !validRegionStrategy(strategy) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown region strategy %q", req.RegionStrategy)})
		return
	}

	monitor := &db.Monitor{
		ID:                  uuid.New().String(),
		OrgID:               c.GetString("org_id"),
		Name:                req.Name,
		Type:                monitorType,
		Target:              req.Target,
		IntervalSeconds:     req.IntervalSeconds,
		TimeoutMs:           req.TimeoutMs,
		Regions:             db.StringSlice(req.Regions),
		Config:              req.Config,
		DegradedThresholdMs: req.DegradedThresholdMs,
		DegradedAfterCount:  req.DegradedAfterCount,
		DownAfterCount:      req.DownAfterCount,
		CountDegradedAsDown: req.CountDegradedAsDown,
		RegionStrategy:      strategy,
		DependsOn:           db.StringSlice(req.DependsOn),
		Status:              db.MonitorPending,
		NextCheckAt:         h.now(),
		CreatedAt:           h.now(),
		UpdatedAt:           h.now(),
		CreatedBy:           c.GetString("user_email"),
	}

	// Passive monitors are addressed by their push token, minted here.
	if monitor.Passive() && monitor.Config.PushToken == "" {
		monitor.Config.PushToken = newPushToken()
	}

	if err := h.store.CreateMonitor(monitor); err != nil {
		h.logger.Error("Failed to create monitor", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusCreated, monitor)
}

func (h *Handler) ListMonitors(c *gin.Context) {
	monitors, err := h.store.GetMonitorsByOrg(c.GetString("org_id"))
	if err != nil {
		h.logger.Error("Failed to list monitors", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"monitors": monitors})
}

func (h *Handler) GetMonitor(c *gin.Context) {
	monitor, err := h.store.GetMonitor(c.Param("id"), c.GetString("org_id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Monitor not found"})
			return
		}
		h.logger.Error("Failed to get monitor", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, monitor)
}

type UpdateMonitorRequest struct {
	Name                *string           `json:"name"`
	Target              *string           `json:"target"`
	IntervalSeconds     *int              `json:"interval_seconds"`
	TimeoutMs           *int              `json:"timeout_ms"`
	Regions             *[]string         `json:"regions"`
	Config              *db.MonitorConfig `json:"config"`
	DegradedThresholdMs *int              `json:"degraded_threshold_ms"`
	DegradedAfterCount  *int              `json:"degraded_after_count"`
	DownAfterCount      *int              `json:"down_after_count"`
	CountDegradedAsDown *bool             `json:"count_degraded_as_down"`
	RegionStrategy      *string           `json:"region_strategy"`
	Paused              *bool             `json:"paused"`
}

func (h *Handler) UpdateMonitor(c *gin.Context) {
	monitor, err := h.store.GetMonitor(c.Param("id"), c.GetString("org_id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Monitor not found"})
			return
		}
		h.logger.Error("Failed to get monitor", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var req UpdateMonitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name != nil {
		monitor.Name = *req.Name
	}
	if req.Target != nil {
		monitor.Target = *req.Target
	}
	if req.IntervalSeconds != nil {
		monitor.IntervalSeconds = *req.IntervalSeconds
	}
	if req.TimeoutMs != nil {
		monitor.TimeoutMs = *req.TimeoutMs
	}
	if req.Regions != nil {
		monitor.Regions = db.StringSlice(*req.Regions)
	}
	if req.Config != nil {
		if err := validateMonitorConfig(monitor.Type, monitor.Target, req.Config); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// The push token survives config replacement; rotating it would
		// silently break deployed heartbeat senders.
		if monitor.Passive() && req.Config.PushToken == "" {
			req.Config.PushToken = monitor.Config.PushToken
		}
		monitor.Config = *req.Config
	}
	if req.DegradedThresholdMs != nil {
		monitor.DegradedThresholdMs = *req.DegradedThresholdMs
	}
	if req.DegradedAfterCount != nil {
		monitor.DegradedAfterCount = *req.DegradedAfterCount
	}
	if req.DownAfterCount != nil {
		monitor.DownAfterCount = *req.DownAfterCount
	}
	if req.CountDegradedAsDown != nil {
		monitor.CountDegradedAsDown = *req.CountDegradedAsDown
	}
	if req.RegionStrategy != nil {
		strategy := db.RegionStrategy(*req.RegionStrategy)
		if !validRegionStrategy(strategy) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown region strategy %q", *req.RegionStrategy)})
			return
		}
		monitor.RegionStrategy = strategy
	}
	pauseToggled := false
	if req.Paused != nil && *req.Paused != monitor.Paused {
		pauseToggled = true
		monitor.Paused = *req.Paused
		if monitor.Paused {
			monitor.Status = db.MonitorPaused
		} else {
			// Status is re-derived from results once checks resume.
			monitor.Status = db.MonitorPending
		}
	}
	monitor.UpdatedAt = h.now()

	if err := h.store.UpdateMonitor(monitor); err != nil {
		h.logger.Error("Failed to update monitor", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if pauseToggled {
		// General updates never touch the status column; the pause
		// lifecycle transition is the one exception.
		if err := h.store.SetMonitorStatus(monitor.ID, monitor.Status); err != nil {
			h.logger.Error("Failed to persist monitor status", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if h.announcer != nil {
			h.announcer.PublishMaintenance(c.Request.Context(), monitor, monitor.Paused)
		}
	}
	c.JSON(http.StatusOK, monitor)
}

func (h *Handler) DeleteMonitor(c *gin.Context) {
	if err := h.store.DeleteMonitor(c.Param("id"), c.GetString("org_id")); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Monitor not found"})
			return
		}
		h.logger.Error("Failed to delete monitor", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// TriggerCheck runs a monitor immediately, outside its schedule.
func (h *Handler) TriggerCheck(c *gin.Context) {
	monitor, err := h.store.GetMonitor(c.Param("id"), c.GetString("org_id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Monitor not found"})
			return
		}
		h.logger.Error("Failed to get monitor", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if monitor.Passive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Passive monitors cannot be checked on demand"})
		return
	}

	if err := h.runner.CheckNow(c.Request.Context(), monitor.ID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
}

func (h *Handler) GetMonitorHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	results, err := h.store.GetCheckHistory(c.Param("id"), c.GetString("org_id"), limit)
	if err != nil {
		h.logger.Error("Failed to get check history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func validMonitorType(t db.MonitorType) bool {
	for _, known := range db.AllMonitorTypes {
		if t == known {
			return true
		}
	}
	return false
}

func validRegionStrategy(s db.RegionStrategy) bool {
	return s == db.StrategyAny || s == db.StrategyQuorum || s == db.StrategyAll
}

// validateMonitorConfig enforces the per-type config union at the
// boundary so the pipeline never sees a malformed shape.
func validateMonitorConfig(t db.MonitorType, target string, cfg *db.MonitorConfig) error {
	switch t {
	case db.MonitorTypeHTTP, db.MonitorTypeHTTPS, db.MonitorTypeWebsocket, db.MonitorTypeGRPC, db.MonitorTypePagespeed:
		if target == "" {
			return fmt.Errorf("%s monitors require a target URL", t)
		}
	case db.MonitorTypeTCP, db.MonitorTypeUDP, db.MonitorTypeSMTP, db.MonitorTypeIMAP,
		db.MonitorTypePOP3, db.MonitorTypeSSH, db.MonitorTypeFTP, db.MonitorTypeLDAP,
		db.MonitorTypeNTP, db.MonitorTypeSNMP:
		if target == "" {
			return fmt.Errorf("%s monitors require a target host", t)
		}
		if cfg.Port <= 0 || cfg.Port > 65535 {
			return fmt.Errorf("%s monitors require a valid port", t)
		}
	case db.MonitorTypePing, db.MonitorTypeSSL, db.MonitorTypeDomain:
		if target == "" {
			return fmt.Errorf("%s monitors require a target host", t)
		}
	case db.MonitorTypeDNS:
		if target == "" {
			return errors.New("dns monitors require a target name")
		}
		if cfg.RecordType == "" {
			return errors.New("dns monitors require a record_type")
		}
	case db.MonitorTypePostgres, db.MonitorTypeMySQL, db.MonitorTypeMongoDB, db.MonitorTypeRedis:
		if target == "" {
			return fmt.Errorf("%s monitors require a target host", t)
		}
		if cfg.Port <= 0 || cfg.Port > 65535 {
			return fmt.Errorf("%s monitors require a valid port", t)
		}
	case db.MonitorTypeRabbitMQ, db.MonitorTypeKafka, db.MonitorTypeMQTT:
		if target == "" {
			return fmt.Errorf("%s monitors require a target host", t)
		}
		if cfg.Port <= 0 || cfg.Port > 65535 {
			return fmt.Errorf("%s monitors require a valid port", t)
		}
	case db.MonitorTypeHeartbeat:
		if cfg.ExpectedPeriodSeconds <= 0 {
			return errors.New("heartbeat monitors require expected_period_seconds")
		}
	case db.MonitorTypePromRemoteWrite:
		if cfg.SLI == nil {
			return errors.New("prometheus_remote_write monitors require sli thresholds")
		}
	}

	if cfg.SLI != nil {
		if c := cfg.SLI.Comparison; c != "" && c != "gte" && c != "lte" {
			return fmt.Errorf("sli comparison must be gte or lte, got %q", c)
		}
	}
	return nil
}

func newPushToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return uuid.New().String()
	}
	return "push_" + hex.EncodeToString(buf)
}
