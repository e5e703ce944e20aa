package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pulsegrid/pulsegrid/internal/classify"
	"github.com/pulsegrid/pulsegrid/internal/db"
)

// Push endpoints are unauthenticated beyond the token in the path, so
// each token gets its own limiter.
var pushLimiters = cache.New(10*time.Minute, 30*time.Minute)

func limiterFor(token string) *rate.Limiter {
	if v, ok := pushLimiters.Get(token); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Every(time.Second), 10)
	pushLimiters.SetDefault(token, l)
	return l
}

// HeartbeatPing ingests a passive heartbeat push. The sender reports its
// own outcome; a missing status means the ping itself is the signal.
func (h *Handler) HeartbeatPing(c *gin.Context) {
	token := c.Param("token")
	if !limiterFor(token).Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
		return
	}

	monitor, err := h.store.GetMonitorByPushToken(token)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown token"})
			return
		}
		h.logger.Error("Failed to resolve push token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if monitor.Type != db.MonitorTypeHeartbeat {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown token"})
		return
	}

	status := db.StatusSuccess
	errorMessage := ""
	switch c.Query("status") {
	case "", "up", "ok", "complete":
	case "down", "fail":
		status = db.StatusFailure
		errorMessage = "sender reported failure"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be up or down"})
		return
	}
	if code := c.Query("exit_code"); code != "" && code != "0" {
		status = db.StatusFailure
		errorMessage = "sender exited with code " + code
	}

	durationMs := 0
	if d := c.Query("duration"); d != "" {
		if parsed, err := strconv.Atoi(d); err == nil && parsed >= 0 {
			durationMs = parsed
		}
	}

	payload := db.JSONB{}
	if c.Request.ContentLength > 0 {
		var meta map[string]interface{}
		if err := c.ShouldBindJSON(&meta); err == nil {
			payload["metadata"] = meta
		}
	}

	result := &db.CheckResult{
		ID:             uuid.New().String(),
		MonitorID:      monitor.ID,
		OrgID:          monitor.OrgID,
		Region:         "push",
		Status:         status,
		ResponseTimeMs: durationMs,
		ErrorMessage:   errorMessage,
		Payload:        payload,
		CreatedAt:      h.now(),
	}

	if err := h.ingestor.Ingest(c.Request.Context(), monitor, result); err != nil {
		h.logger.Error("Failed to ingest heartbeat", zap.Error(err), zap.String("monitor_id", monitor.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RemoteWrite ingests a Prometheus remote-write payload for a passive
// monitor. Every sample is evaluated against the monitor's SLI
// thresholds; the newest sample decides the classified result.
func (h *Handler) RemoteWrite(c *gin.Context) {
	token := c.Param("token")
	if !limiterFor(token).Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
		return
	}

	monitor, err := h.store.GetMonitorByPushToken(token)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown token"})
			return
		}
		h.logger.Error("Failed to resolve push token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if monitor.Type != db.MonitorTypePromRemoteWrite {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown token"})
		return
	}

	compressed, err := io.ReadAll(io.LimitReader(c.Request.Body, 4<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Body is not snappy-encoded"})
		return
	}

	var req prompb.WriteRequest
	if err := req.Unmarshal(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid remote write payload"})
		return
	}

	latest, sampleCount := latestSample(&req)
	if sampleCount == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No samples in payload"})
		return
	}

	status := classify.EvaluateSLI(latest, monitor.Config.SLI)
	result := &db.CheckResult{
		ID:        uuid.New().String(),
		MonitorID: monitor.ID,
		OrgID:     monitor.OrgID,
		Region:    "push",
		Status:    status,
		Payload:   db.JSONB{"samples": sampleCount},
		CreatedAt: h.now(),
	}
	if latest != nil {
		result.Payload["value"] = *latest
	}

	if err := h.ingestor.Ingest(c.Request.Context(), monitor, result); err != nil {
		h.logger.Error("Failed to ingest remote write", zap.Error(err), zap.String("monitor_id", monitor.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "samples": sampleCount})
}

// latestSample picks the newest sample across all series.
func latestSample(req *prompb.WriteRequest) (*float64, int) {
	var latest *float64
	var latestTs int64
	count := 0
	for _, ts := range req.Timeseries {
		for _, s := range ts.Samples {
			count++
			if latest == nil || s.Timestamp >= latestTs {
				v := s.Value
				latest = &v
				latestTs = s.Timestamp
			}
		}
	}
	return latest, count
}
