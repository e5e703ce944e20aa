package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

// Collector owns every Prometheus series the platform exports. Services
// hold one shared instance and call the Record* helpers.
type Collector struct {
	checkDuration *prometheus.HistogramVec
	checkUp       *prometheus.GaugeVec
	checksTotal   *prometheus.CounterVec

	queueDepth  *prometheus.GaugeVec
	jobsClaimed *prometheus.CounterVec
	jobsLeased  *prometheus.CounterVec

	probeHeartbeats *prometheus.CounterVec

	incidentsTotal   *prometheus.CounterVec
	incidentDuration *prometheus.HistogramVec

	notificationsSent   *prometheus.CounterVec
	notificationsFailed *prometheus.CounterVec
	notificationLatency *prometheus.HistogramVec
	escalationSteps     *prometheus.CounterVec
}

func NewCollector() *Collector {
	return &Collector{
		checkDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsegrid_check_duration_seconds",
				Help:    "Duration of check executions in seconds",
				Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"org_id", "monitor_id", "type", "region"},
		),

		checkUp: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulsegrid_check_up",
				Help: "Whether the last check succeeded (1) or not (0)",
			},
			[]string{"org_id", "monitor_id", "type", "region"},
		),

		checksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsegrid_checks_total",
				Help: "Total number of classified check results",
			},
			[]string{"org_id", "monitor_id", "type", "region", "status"},
		),

		queueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulsegrid_queue_depth",
				Help: "Number of jobs waiting in a protocol queue",
			},
			[]string{"queue"},
		),

		jobsClaimed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsegrid_scheduler_claims_total",
				Help: "Monitors claimed by scheduler ticks",
			},
			[]string{"type"},
		),

		jobsLeased: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsegrid_probe_jobs_leased_total",
				Help: "Jobs handed to probes, including redeliveries",
			},
			[]string{"region"},
		),

		probeHeartbeats: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsegrid_probe_heartbeats_total",
				Help: "Heartbeats received from probes",
			},
			[]string{"region"},
		),

		incidentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsegrid_incidents_total",
				Help: "Incidents opened",
			},
			[]string{"org_id", "severity"},
		),

		incidentDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsegrid_incident_duration_minutes",
				Help:    "Time from incident open to resolve in minutes",
				Buckets: []float64{1, 5, 15, 30, 60, 180, 720, 1440},
			},
			[]string{"org_id", "severity"},
		),

		notificationsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsegrid_notifications_sent_total",
				Help: "Notifications delivered successfully",
			},
			[]string{"org_id", "channel_type"},
		),

		notificationsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsegrid_notifications_failed_total",
				Help: "Notification deliveries that errored",
			},
			[]string{"org_id", "channel_type"},
		),

		notificationLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsegrid_notification_latency_seconds",
				Help:    "Time spent delivering a notification",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"org_id", "channel_type"},
		),

		escalationSteps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsegrid_escalation_steps_fired_total",
				Help: "Escalation steps fired",
			},
			[]string{"org_id"},
		),
	}
}

func (c *Collector) RecordCheck(monitor *db.Monitor, result *db.CheckResult) {
	labels := prometheus.Labels{
		"org_id":     monitor.OrgID,
		"monitor_id": monitor.ID,
		"type":       string(monitor.Type),
		"region":     result.Region,
	}

	c.checkDuration.With(labels).Observe(float64(result.ResponseTimeMs) / 1000)

	up := 0.0
	if result.Status == db.StatusSuccess {
		up = 1.0
	}
	c.checkUp.With(labels).Set(up)

	c.checksTotal.With(prometheus.Labels{
		"org_id":     monitor.OrgID,
		"monitor_id": monitor.ID,
		"type":       string(monitor.Type),
		"region":     result.Region,
		"status":     string(result.Status),
	}).Inc()
}

func (c *Collector) SetQueueDepth(queue string, depth int64) {
	c.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (c *Collector) RecordClaim(monitorType db.MonitorType) {
	c.jobsClaimed.WithLabelValues(string(monitorType)).Inc()
}

func (c *Collector) RecordJobLeased(region string) {
	c.jobsLeased.WithLabelValues(region).Inc()
}

func (c *Collector) RecordHeartbeat(region string) {
	c.probeHeartbeats.WithLabelValues(region).Inc()
}

func (c *Collector) RecordIncidentOpened(incident *db.Incident) {
	c.incidentsTotal.WithLabelValues(incident.OrgID, incident.Severity).Inc()
}

func (c *Collector) RecordIncidentResolved(incident *db.Incident) {
	if incident.ResolvedAt == nil {
		return
	}
	minutes := incident.ResolvedAt.Sub(incident.StartedAt).Minutes()
	c.incidentDuration.WithLabelValues(incident.OrgID, incident.Severity).Observe(minutes)
}

func (c *Collector) RecordNotification(orgID, channelType string, err error, latency time.Duration) {
	c.notificationLatency.WithLabelValues(orgID, channelType).Observe(latency.Seconds())
	if err != nil {
		c.notificationsFailed.WithLabelValues(orgID, channelType).Inc()
		return
	}
	c.notificationsSent.WithLabelValues(orgID, channelType).Inc()
}

func (c *Collector) RecordEscalationStep(orgID string) {
	c.escalationSteps.WithLabelValues(orgID).Inc()
}
