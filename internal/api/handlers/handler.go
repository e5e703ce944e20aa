package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/db"
	"github.com/pulsegrid/pulsegrid/internal/incidents"
	"github.com/pulsegrid/pulsegrid/internal/probes"
)

// Store is the repository surface the HTTP handlers touch. *db.Repository
// satisfies it; tests plug in memory fakes.
type Store interface {
	CreateMonitor(m *db.Monitor) error
	GetMonitor(id, orgID string) (*db.Monitor, error)
	GetMonitorsByOrg(orgID string) ([]*db.Monitor, error)
	GetMonitorByPushToken(token string) (*db.Monitor, error)
	UpdateMonitor(m *db.Monitor) error
	SetMonitorStatus(id string, status db.MonitorStatus) error
	DeleteMonitor(id, orgID string) error
	GetCheckHistory(monitorID, orgID string, limit int) ([]*db.CheckResult, error)

	GetProbe(id, orgID string) (*db.Probe, error)
	GetProbesByOrg(orgID string) ([]*db.Probe, error)
	UpdateProbe(p *db.Probe) error
	DeleteProbe(id, orgID string) error

	CreateAlertPolicy(p *db.AlertPolicy) error
	GetAlertPolicy(id, orgID string) (*db.AlertPolicy, error)
	GetAlertPoliciesByOrg(orgID string) ([]*db.AlertPolicy, error)
	UpdateAlertPolicy(p *db.AlertPolicy) error
	DeleteAlertPolicy(id, orgID string) error
	CreateChannel(c *db.NotificationChannel) error
	GetChannelsByOrg(orgID string) ([]*db.NotificationChannel, error)
	DeleteChannel(id, orgID string) error
	GetAlertHistory(orgID string, limit, offset int) ([]*db.AlertHistory, error)

	GetIncidents(orgID string, limit int) ([]*db.Incident, error)
	GetIncident(id, orgID string) (*db.Incident, error)
	GetIncidentEvents(incidentID string) ([]*db.IncidentEvent, error)
}

// CheckRunner triggers an immediate execution through the scheduler's
// claim path.
type CheckRunner interface {
	CheckNow(ctx context.Context, monitorID string) error
}

// Ingestor feeds classified results into the status engine.
type Ingestor interface {
	Ingest(ctx context.Context, monitor *db.Monitor, result *db.CheckResult) error
}

// Announcer pushes maintenance window events out to live subscribers.
// *broadcast.Broadcaster satisfies it.
type Announcer interface {
	PublishMaintenance(ctx context.Context, monitor *db.Monitor, started bool)
}

type Handler struct {
	store     Store
	probes    *probes.Service
	incidents *incidents.Service
	runner    CheckRunner
	ingestor  Ingestor
	announcer Announcer
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler wires the HTTP surface. announcer may be nil when no live
// feed is attached.
func NewHandler(store Store, probeSvc *probes.Service, incidentSvc *incidents.Service, runner CheckRunner, ingestor Ingestor, announcer Announcer, logger *zap.Logger) *Handler {
	return &Handler{
		store:     store,
		probes:    probeSvc,
		incidents: incidentSvc,
		runner:    runner,
		ingestor:  ingestor,
		announcer: announcer,
		logger:    logger,
		now:       time.Now,
	}
}
